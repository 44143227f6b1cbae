package mem

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/internal/format"
)

func Test_Space_Accessors(t *testing.T) {
	sp, err := NewSpace(3 * format.PageSize)
	require.NoError(t, err)
	defer sp.Close() //nolint:errcheck // test cleanup

	require.Equal(t, SpaceBase, sp.Base())
	require.Equal(t, uint64(3*format.PageSize), sp.Size())
	require.True(t, sp.Contains(sp.Base()))
	require.False(t, sp.Contains(sp.End()))
	require.False(t, sp.Contains(Null))
	require.True(t, sp.ContainsRange(sp.Base(), sp.Size()))
	require.True(t, sp.ContainsRange(sp.End(), 0))
	require.False(t, sp.ContainsRange(sp.End().Sub(8), 16))
	require.False(t, sp.ContainsRange(sp.Base().Add(8), ^uint64(0)))

	a := sp.Base().Add(64)
	sp.WriteU64(a, 0xDEADBEEFCAFEF00D)
	require.Equal(t, uint64(0xDEADBEEFCAFEF00D), sp.ReadU64(a))
	require.Equal(t, uint32(0xCAFEF00D), sp.ReadU32(a))

	sp.Copy(a.Add(8), a, 8)
	require.Equal(t, uint64(0xDEADBEEFCAFEF00D), sp.ReadU64(a.Add(8)))

	sp.Zero(a, 16)
	require.Zero(t, sp.ReadU64(a))
	require.Zero(t, sp.ReadU64(a.Add(8)))
}

func Test_Space_OutOfRangePanics(t *testing.T) {
	sp, err := NewSpace(format.PageSize)
	require.NoError(t, err)
	defer sp.Close() //nolint:errcheck // test cleanup

	require.Panics(t, func() { sp.ReadU64(sp.End().Add(^uint64(3))) })
	require.Panics(t, func() { sp.ReadU64(sp.End()) })
	require.Panics(t, func() { sp.ReadU64(Null) })
	require.Panics(t, func() { sp.Bytes(sp.Base(), sp.Size()+1) })
}

func Test_Space_Release(t *testing.T) {
	sp, err := NewSpace(4 * format.PageSize)
	require.NoError(t, err)
	defer sp.Close() //nolint:errcheck // test cleanup

	sp.Fill(sp.Base(), sp.Size(), 0xAB)
	// only the whole page in the middle is released
	require.NoError(t, sp.Release(sp.Base().Add(8), 3*format.PageSize-16))

	require.Equal(t, byte(0xAB), sp.Bytes(sp.Base().Add(format.PageSize-1), 1)[0])
	require.Zero(t, sp.ReadU64(sp.Base().Add(format.PageSize)))
	require.Zero(t, sp.ReadU64(sp.Base().Add(2*format.PageSize)))
	require.Equal(t, byte(0xAB), sp.Bytes(sp.Base().Add(3*format.PageSize), 1)[0])
}

func Test_NewSpace_BadSize(t *testing.T) {
	_, err := NewSpace(0)
	require.True(t, errors.Is(err, ErrBadSize))
}

func Test_AlignmentOf(t *testing.T) {
	tests := []struct {
		n    uint64
		want Alignment
	}{
		{0, Align8},
		{1, Align8},
		{8, Align8},
		{9, Align16},
		{64, Align64},
		{4096, Align4K},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, AlignmentOf(tt.n), "n=%d", tt.n)
	}
	require.Equal(t, uint64(256), Align256.Bytes())
}
