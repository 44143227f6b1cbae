package region

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/freelist"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/format"
)

func Test_Nonmovable_RequestLargerThanRegion(t *testing.T) {
	f := newFixture(t, 16*format.MB)
	nm := NewNonmovableAllocator(f.space, freelist.DefaultConfig())
	require.NotEqual(t, mem.Null, nm.Alloc(256, mem.DefaultAlignment))
	require.Equal(t, 1, f.space.RegionCount())
	pooled := f.pool.Count()

	payload := uint64(testRegionSize - freelist.PoolHeaderSize - freelist.HeaderSize)
	require.True(t, nm.CanHold(payload, mem.DefaultAlignment))
	require.False(t, nm.CanHold(payload+8, mem.DefaultAlignment))
	require.False(t, nm.CanHold(payload, mem.Align4K))

	for i := 0; i < 5; i++ {
		require.Equal(t, mem.Null, nm.Alloc(65500, mem.DefaultAlignment))
		require.Equal(t, mem.Null, nm.Alloc(payload, mem.Align4K))
	}
	require.Equal(t, 1, f.space.RegionCount())
	require.Equal(t, pooled, f.pool.Count())
	require.NoError(t, nm.Verify())

	// The largest request that fits takes a fresh region of its own.
	obj := nm.Alloc(payload, mem.DefaultAlignment)
	require.NotEqual(t, mem.Null, obj)
	require.Equal(t, 2, f.space.RegionCount())
	require.True(t, nm.IsLive(obj))
	require.NoError(t, nm.Verify())
}
