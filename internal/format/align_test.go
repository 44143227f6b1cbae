package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_AlignUpDown(t *testing.T) {
	tests := []struct {
		n, align, up, down uint64
	}{
		{0, 8, 0, 0},
		{1, 8, 8, 0},
		{8, 8, 8, 8},
		{9, 16, 16, 0},
		{4097, PageSize, 2 * PageSize, PageSize},
	}
	for _, tt := range tests {
		require.Equal(t, tt.up, AlignUp(tt.n, tt.align), "AlignUp(%d, %d)", tt.n, tt.align)
		require.Equal(t, tt.down, AlignDown(tt.n, tt.align), "AlignDown(%d, %d)", tt.n, tt.align)
	}
	require.Equal(t, uint64(PageSize), AlignPage(1))
	require.Equal(t, uint64(16), AlignObject(9))
	require.True(t, IsAligned(64, 16))
	require.False(t, IsAligned(65, 16))
}

func Test_Log2(t *testing.T) {
	require.Equal(t, uint(0), Log2Ceil(1))
	require.Equal(t, uint(3), Log2Ceil(8))
	require.Equal(t, uint(4), Log2Ceil(9))
	require.Equal(t, uint(3), Log2Floor(15))
	require.True(t, IsPowerOfTwo(256))
	require.False(t, IsPowerOfTwo(0))
	require.False(t, IsPowerOfTwo(12))
}

func Test_Encoding(t *testing.T) {
	b := make([]byte, 16)
	PutU32(b, 0, 0xdeadbeef)
	PutU64(b, 8, 1<<40+7)
	require.Equal(t, uint32(0xdeadbeef), ReadU32(b, 0))
	require.Equal(t, uint64(1<<40+7), ReadU64(b, 8))
	require.Equal(t, byte(0xef), b[0])
}
