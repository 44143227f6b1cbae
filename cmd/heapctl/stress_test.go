package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Stress_AllKinds(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		mutate func(*stressFlags)
	}{
		{name: "nogen", kind: "nogen"},
		{name: "gen", kind: "gen"},
		{name: "g1", kind: "g1"},
		{name: "nogen pygote", kind: "nogen", mutate: func(f *stressFlags) { f.pygote = true }},
		{name: "gen fixed tlab", kind: "gen", mutate: func(f *stressFlags) { f.fixedTLAB = true }},
		{name: "g1 crossing map", kind: "g1", mutate: func(f *stressFlags) { f.crossingMap = true }},
		{name: "g1 no garbage", kind: "g1", mutate: func(f *stressFlags) { f.garbage = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t, true)
			f := defaultStressFlags(tt.kind)
			if tt.mutate != nil {
				tt.mutate(f)
			}

			out, err := captureOutput(t, func() error { return runStress(f) })
			require.NoError(t, err, "output: %s", out)

			res := decodeJSON[stressResult](t, out)
			require.Equal(t, tt.kind, res.Kind)
			require.Equal(t, uint64(f.rounds*f.threads*f.ops), res.Allocated+res.Failed)
			require.Zero(t, res.Failed)
			require.Positive(t, res.Live)
			require.NotEmpty(t, res.Spaces.Spaces)
			if tt.kind == "gen" {
				require.Positive(t, res.Released)
			}
			if tt.kind == "g1" {
				require.Positive(t, res.Moved)
			}
		})
	}
}

func Test_Stress_TextReport(t *testing.T) {
	resetGlobals(t, false)
	f := defaultStressFlags("gen")
	out, err := captureOutput(t, func() error { return runStress(f) })
	require.NoError(t, err)
	require.Contains(t, out, "Stress: gen heap, 3 rounds x 3 threads x 400 ops (seed 1)")
	require.Contains(t, out, "alloc bytes")
	require.Contains(t, out, "total")
}

func Test_Stress_SameSeedSameResult(t *testing.T) {
	resetGlobals(t, true)
	run := func() stressResult {
		f := defaultStressFlags("nogen")
		f.threads = 1
		out, err := captureOutput(t, func() error { return runStress(f) })
		require.NoError(t, err)
		return decodeJSON[stressResult](t, out)
	}
	a, b := run(), run()
	require.Equal(t, a.Allocated, b.Allocated)
	require.Equal(t, a.Dropped, b.Dropped)
	require.Equal(t, a.Live, b.Live)
}

func Test_Stress_BadFlags(t *testing.T) {
	resetGlobals(t, false)
	tests := []struct {
		name   string
		mutate func(*stressFlags)
	}{
		{"unknown kind", func(f *stressFlags) { f.kind = "cms" }},
		{"bad language", func(f *stressFlags) { f.lang = "!!" }},
		{"tiny objects", func(f *stressFlags) { f.maxSize = 8 }},
		{"tlab above region", func(f *stressFlags) { f.maxTLABKB = 1024 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultStressFlags("nogen")
			tt.mutate(f)
			_, err := captureOutput(t, func() error { return runStress(f) })
			require.Error(t, err)
		})
	}
}
