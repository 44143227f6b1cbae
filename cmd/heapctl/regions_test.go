package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/objalloc"
)

func Test_Regions_Evacuate(t *testing.T) {
	resetGlobals(t, true)
	f := defaultRegionsFlags()
	out, err := captureOutput(t, func() error { return runRegions(f) })
	require.NoError(t, err, "output: %s", out)

	res := decodeJSON[regionsResult](t, out)
	require.Equal(t, "evacuate", res.Mode)
	require.Equal(t, f.objects, res.Allocated)
	require.Equal(t, res.Survivors, res.Moved)
	require.Positive(t, res.Before.Eden)
	require.Zero(t, res.After.Eden)
	require.Positive(t, res.After.Old)
	require.Equal(t, res.Before.Eden, res.Regions)
}

func Test_Regions_Promote(t *testing.T) {
	resetGlobals(t, true)
	f := defaultRegionsFlags()
	f.promote = true
	out, err := captureOutput(t, func() error { return runRegions(f) })
	require.NoError(t, err, "output: %s", out)

	res := decodeJSON[regionsResult](t, out)
	require.Equal(t, "promote", res.Mode)
	require.Zero(t, res.Moved)
	require.Equal(t, res.Before.Eden, res.Regions)
	require.Zero(t, res.After.Eden)
	require.Equal(t, res.Before.Eden+res.Before.Old, res.After.Old)
	require.Positive(t, res.After.GarbageBytes)
}

func Test_Regions_NeedsG1(t *testing.T) {
	resetGlobals(t, false)
	f := defaultRegionsFlags()
	f.kind = "gen"
	_, err := captureOutput(t, func() error { return runRegions(f) })
	require.ErrorIs(t, err, objalloc.ErrNotRegionBased)
}

func Test_Regions_TextReport(t *testing.T) {
	resetGlobals(t, false)
	f := defaultRegionsFlags()
	out, err := captureOutput(t, func() error { return runRegions(f) })
	require.NoError(t, err)
	require.Contains(t, out, "Before:")
	require.Contains(t, out, "After:")
	require.Contains(t, out, "Region size: 256.0 KB")
}
