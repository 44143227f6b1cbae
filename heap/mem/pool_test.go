package mem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/internal/format"
)

func Test_PoolManager_AllocFree(t *testing.T) {
	pm := newPM(t, 16*format.PageSize)

	p1 := pm.AllocPool(100, SpaceObject, AllocatorFreeList, "a")
	require.False(t, p1.IsNull())
	require.Equal(t, uint64(format.PageSize), p1.Size, "size rounds up to a page")
	require.True(t, p1.Mem.IsAligned(format.PageSize))

	p2 := pm.AllocPool(2*format.PageSize, SpaceHumongousObject, AllocatorHumongous, "b")
	require.False(t, p2.IsNull())
	require.False(t, MemRange{p1.Mem, p1.End()}.Overlaps(MemRange{p2.Mem, p2.End()}))
	require.Equal(t, uint64(3*format.PageSize), pm.Used())

	info, ok := pm.AllocatorInfo(p2.Mem.Add(format.PageSize + 8))
	require.True(t, ok)
	require.Equal(t, AllocatorHumongous, info.Type)
	require.Equal(t, "b", info.Owner)
	require.Equal(t, SpaceHumongousObject, pm.SpaceType(p2.Mem))

	pm.FreePool(p1)
	_, ok = pm.AllocatorInfo(p1.Mem)
	require.False(t, ok)
	require.Equal(t, SpaceUndefined, pm.SpaceType(p1.Mem))
	require.Equal(t, uint64(2*format.PageSize), pm.Used())

	pm.FreePool(p2)
	require.Zero(t, pm.Used())
	require.Equal(t, 0, pm.PoolCount())

	// everything coalesced back into one extent
	whole := pm.AllocPool(16*format.PageSize, SpaceObject, AllocatorRegion, nil)
	require.False(t, whole.IsNull())
	require.Equal(t, pm.Space().Base(), whole.Mem)
}

func Test_PoolManager_ZeroesPools(t *testing.T) {
	pm := newPM(t, 4*format.PageSize)

	p := pm.AllocPool(format.PageSize, SpaceObject, AllocatorFreeList, nil)
	pm.Space().Fill(p.Mem, p.Size, 0xFF)
	pm.FreePool(p)

	p = pm.AllocPool(format.PageSize, SpaceObject, AllocatorFreeList, nil)
	for _, b := range pm.Space().Bytes(p.Mem, p.Size) {
		require.Zero(t, b)
	}
}

func Test_PoolManager_Aligned(t *testing.T) {
	pm := newPM(t, 64*format.PageSize)

	_ = pm.AllocPool(format.PageSize, SpaceObject, AllocatorFreeList, nil)
	p := pm.AllocPoolAligned(16*format.PageSize, 16*format.PageSize, SpaceObject, AllocatorRegion, nil)
	require.False(t, p.IsNull())
	require.True(t, p.Mem.IsAligned(16*format.PageSize))

	// the gap left in front of the aligned pool is still usable
	q := pm.AllocPool(format.PageSize, SpaceObject, AllocatorFreeList, nil)
	require.False(t, q.IsNull())
	require.Less(t, q.Mem, p.Mem)
}

func Test_PoolManager_Exhaustion(t *testing.T) {
	pm := newPM(t, 8*format.PageSize)
	pm.SetLimit(4 * format.PageSize)
	require.Equal(t, uint64(4*format.PageSize), pm.Limit())

	require.False(t, pm.AllocPool(4*format.PageSize, SpaceObject, AllocatorFreeList, nil).IsNull())
	require.True(t, pm.AllocPool(format.PageSize, SpaceObject, AllocatorFreeList, nil).IsNull())
	require.True(t, pm.AllocPool(0, SpaceObject, AllocatorFreeList, nil).IsNull())
	require.Equal(t, uint64(4*format.PageSize), pm.Peak())
}

func Test_PoolManager_FreeUnknownPanics(t *testing.T) {
	pm := newPM(t, 4*format.PageSize)
	p := pm.AllocPool(2*format.PageSize, SpaceObject, AllocatorFreeList, nil)

	require.Panics(t, func() { pm.FreePool(Pool{Mem: p.Mem, Size: format.PageSize}) })
}

func Test_PoolManager_Arena(t *testing.T) {
	pm := newPM(t, 4*format.PageSize)

	a := pm.AllocArena(format.PageSize, SpaceObject, AllocatorBumpPointer, nil)
	require.NotNil(t, a)

	p := a.Alloc(24, Align8)
	require.Equal(t, a.Start(), p)
	q := a.Alloc(8, Align64)
	require.True(t, q.IsAligned(64))
	require.True(t, a.Contains(q))
	require.False(t, a.Contains(a.Cur()))
	require.Equal(t, q.Add(8).Diff(a.Start()), a.OccupiedSize())

	require.Equal(t, Null, a.Alloc(format.PageSize, Align8))
	a.Reset()
	require.Zero(t, a.OccupiedSize())
	require.Equal(t, a.Start(), a.Alloc(format.PageSize, Align8))

	pm.FreeArena(a)
	require.Zero(t, pm.Used())
}

func newPM(t *testing.T, size uint64) *PoolManager {
	t.Helper()
	sp, err := NewSpace(size)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sp.Close()) })
	return NewPoolManager(sp)
}
