//go:build unix

package vmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveIsZeroed(t *testing.T) {
	data, cleanup, err := Reserve(4 * 4096)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cleanup())
		require.NoError(t, cleanup(), "double unmap must be a no-op")
	}()

	require.Len(t, data, 4*4096)
	for i := range data {
		require.Zero(t, data[i], "byte %d not zero", i)
	}
}

func TestReleaseZeroFills(t *testing.T) {
	data, cleanup, err := Reserve(2 * 4096)
	require.NoError(t, err)
	defer cleanup() //nolint:errcheck // test cleanup

	for i := range data {
		data[i] = 0xAB
	}
	require.NoError(t, Release(data[4096:]))

	require.Equal(t, byte(0xAB), data[4095], "first page must be untouched")
	for i := 4096; i < len(data); i++ {
		require.Zero(t, data[i], "released byte %d not zero", i)
	}
}

func TestReserveRejectsBadSize(t *testing.T) {
	_, _, err := Reserve(0)
	require.Error(t, err)
}
