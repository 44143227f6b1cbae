package runslots

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/memtest"
	"github.com/joshuapare/gcheap/internal/format"
)

func newTestAllocator(t *testing.T) (*Allocator, *mem.PoolManager) {
	t.Helper()
	pm := memtest.NewPoolManager(t, 16*format.MB)
	return New(pm.Space(), DefaultConfig()), pm
}

func addPool(t *testing.T, a *Allocator, pm *mem.PoolManager) mem.Pool {
	t.Helper()
	p := pm.AllocPoolAligned(DefaultPoolSize, RunSize, mem.SpaceObject, mem.AllocatorRunSlots, a)
	require.False(t, p.IsNull())
	require.NoError(t, a.AddMemoryPool(p.Mem, p.Size))
	return p
}

func Test_ClassOf(t *testing.T) {
	tests := []struct {
		size  uint64
		align mem.Alignment
		cls   int
		slot  uint64
		ok    bool
	}{
		{1, mem.Align8, 0, 8, true},
		{8, mem.Align8, 0, 8, true},
		{9, mem.Align8, 1, 16, true},
		{100, mem.Align8, 4, 128, true},
		{8, mem.Align64, 3, 64, true},
		{256, mem.Align8, 5, 256, true},
		{257, mem.Align8, 0, 0, false},
		{8, mem.Align512, 0, 0, false},
	}
	for _, tt := range tests {
		cls, slot, ok := classOf(tt.size, tt.align)
		require.Equal(t, tt.ok, ok, "size=%d", tt.size)
		if ok {
			require.Equal(t, tt.cls, cls, "size=%d", tt.size)
			require.Equal(t, tt.slot, slot, "size=%d", tt.size)
		}
	}
}

func Test_Alloc_AllClasses(t *testing.T) {
	a, pm := newTestAllocator(t)
	addPool(t, a, pm)

	for size := uint64(1); size <= MaxSize; size++ {
		p := a.Alloc(size, mem.DefaultAlignment)
		require.NotEqual(t, mem.Null, p, "size=%d", size)
		_, slot, _ := classOf(size, mem.DefaultAlignment)
		require.True(t, p.IsAligned(slot), "slot %v not aligned to %d", p, slot)
		require.True(t, a.IsLive(p))
		require.Equal(t, slot, a.ObjectSize(p))
	}
	require.Equal(t, mem.Null, a.Alloc(MaxSize+1, mem.DefaultAlignment))
	require.NoError(t, a.Verify())
	require.Equal(t, numClasses, a.Stats().ActiveRuns)
}

func Test_Alloc_ExhaustAndReuse(t *testing.T) {
	a, pm := newTestAllocator(t)
	addPool(t, a, pm)
	sp := pm.Space()

	var objs []mem.Addr
	for {
		p := a.Alloc(64, mem.DefaultAlignment)
		if p == mem.Null {
			break
		}
		memtest.FillPattern(sp, p, 64, byte(len(objs)))
		objs = append(objs, p)
	}
	require.Len(t, objs, DefaultPoolSize/64)
	require.Equal(t, 0, a.Stats().ActiveRuns, "all runs are full")
	require.NoError(t, a.Verify())

	for i, p := range objs {
		require.True(t, memtest.CheckPattern(sp, p, 64, byte(i)))
	}

	// empty the first run completely, the rest only partially
	for i, p := range objs {
		if p < objs[0].Add(RunSize) || i%2 == 0 {
			a.Free(p)
		}
	}
	require.NoError(t, a.Verify())
	st := a.Stats()
	require.Equal(t, 1, st.FreeRuns)

	// a free run is reused for another class
	p := a.Alloc(200, mem.DefaultAlignment)
	require.Equal(t, objs[0], p)
	for _, b := range sp.Bytes(p, 256) {
		require.Zero(t, b)
	}
	require.Equal(t, 1, a.Stats().RunsReused)
	require.NoError(t, a.Verify())
}

func Test_Collect_IsLive(t *testing.T) {
	a, pm := newTestAllocator(t)
	addPool(t, a, pm)
	addPool(t, a, pm)

	var objs []mem.Addr
	for i := range 5000 {
		p := a.Alloc(uint64(8+i%120), mem.DefaultAlignment)
		require.NotEqual(t, mem.Null, p)
		objs = append(objs, p)
	}
	dead := func(p mem.Addr) bool { return (uint64(p)/8)%3 == 0 }
	a.Collect(func(obj mem.Addr) mem.ObjectStatus {
		if dead(obj) {
			return mem.ObjectDead
		}
		return mem.ObjectAlive
	})

	alive := 0
	for _, p := range objs {
		require.Equal(t, !dead(p), a.IsLive(p), "obj %v", p)
		if !dead(p) {
			alive++
		}
	}
	n := 0
	a.IterateOverObjects(func(mem.Addr) { n++ })
	require.Equal(t, alive, n)
	require.NoError(t, a.Verify())
}

func Test_IterateOverObjectsInRange(t *testing.T) {
	a, pm := newTestAllocator(t)
	p := addPool(t, a, pm)

	var objs []mem.Addr
	for range 1000 {
		objs = append(objs, a.Alloc(32, mem.DefaultAlignment))
	}
	left, right := p.Mem.Add(1000), p.Mem.Add(3000)
	var want, got []mem.Addr
	for _, o := range objs {
		if o >= left && o <= right {
			want = append(want, o)
		}
	}
	a.IterateOverObjectsInRange(func(o mem.Addr) { got = append(got, o) }, left, right)
	require.Equal(t, want, got)
}

func Test_ContainObject(t *testing.T) {
	a, pm := newTestAllocator(t)
	foreign := pm.AllocPool(DefaultPoolSize, mem.SpaceObject, mem.AllocatorFreeList, nil)

	addPool(t, a, pm)
	p := a.Alloc(16, mem.DefaultAlignment)
	require.True(t, a.ContainObject(p))
	require.False(t, a.ContainObject(foreign.Mem))

	a.Free(foreign.Mem) // logged and ignored
	require.True(t, a.IsLive(p))

	a.Free(p)
	require.False(t, a.IsLive(p))
	require.Panics(t, func() { a.Free(p) })
}

func Test_Free_InteriorPointer(t *testing.T) {
	a, pm := newTestAllocator(t)
	addPool(t, a, pm)
	p := a.Alloc(64, mem.DefaultAlignment)
	require.NotEqual(t, mem.Null, p)
	r := a.runs[p.AlignDown(RunSize)]

	require.Panics(t, func() { a.Free(p.Add(8)) })
	require.Equal(t, 1, r.used)
	require.Equal(t, mem.Null, r.freeHead)
	require.True(t, r.test(r.index(p)))
}

func Test_VisitAndRemovePools(t *testing.T) {
	a, pm := newTestAllocator(t)
	addPool(t, a, pm)
	addPool(t, a, pm)

	p := a.Alloc(64, mem.DefaultAlignment)
	var removed []mem.Addr
	a.VisitAndRemoveFreePools(func(start mem.Addr, size uint64) {
		removed = append(removed, start)
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.Len(t, removed, 1, "only the untouched pool is free")
	require.True(t, a.ContainObject(p))

	a.Free(p)
	a.VisitAndRemoveFreePools(func(start mem.Addr, size uint64) {
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.False(t, a.ContainObject(p))
	require.Zero(t, pm.Used())

	addPool(t, a, pm)
	require.NotEqual(t, mem.Null, a.Alloc(64, mem.DefaultAlignment))
	n := 0
	a.VisitAndRemoveAllPools(func(start mem.Addr, size uint64) {
		n++
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.Equal(t, 1, n)
	require.Zero(t, a.AllocatedBytes())
	require.NoError(t, a.Verify())
}

func Test_TrimUnused(t *testing.T) {
	a, pm := newTestAllocator(t)
	addPool(t, a, pm)

	var objs []mem.Addr
	for range 2 * RunSize / 128 {
		objs = append(objs, a.Alloc(128, mem.DefaultAlignment))
	}
	keep := objs[len(objs)-1]
	pm.Space().WriteU64(keep, 0xFEED)
	for _, o := range objs[:len(objs)-1] {
		if o < keep.AlignDown(RunSize) {
			a.Free(o)
		}
	}
	require.Equal(t, 1, a.Stats().FreeRuns)

	require.NoError(t, a.TrimUnused(context.Background(), pm))
	st := a.Stats()
	require.Equal(t, uint64(DefaultPoolSize-RunSize), st.TrimmedBytes, "free run plus uncarved tail")
	require.Equal(t, uint64(0xFEED), pm.Space().ReadU64(keep))
	require.NoError(t, a.Verify())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, errors.Is(a.TrimUnused(ctx, pm), context.Canceled))
}

func Test_AddMemoryPool_Errors(t *testing.T) {
	a, pm := newTestAllocator(t)
	p := pm.AllocPoolAligned(DefaultPoolSize, RunSize, mem.SpaceObject, mem.AllocatorRunSlots, a)

	require.True(t, errors.Is(a.AddMemoryPool(p.Mem.Add(8), RunSize), ErrPoolTooSmall))
	require.NoError(t, a.AddMemoryPool(p.Mem, p.Size))
	require.True(t, errors.Is(a.AddMemoryPool(p.Mem.Add(RunSize), RunSize), ErrPoolOverlap))
}

func Test_Alloc_Concurrent(t *testing.T) {
	a, pm := newTestAllocator(t)
	for range 8 {
		addPool(t, a, pm)
	}

	var wg sync.WaitGroup
	results := make([][]mem.Addr, 8)
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 3000 {
				p := a.Alloc(uint64(8<<(i%6)), mem.DefaultAlignment)
				if p == mem.Null {
					t.Errorf("allocation %d failed", i)
					return
				}
				results[g] = append(results[g], p)
				if i%3 == 0 {
					a.Free(results[g][0])
					results[g] = results[g][1:]
				}
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[mem.Addr]bool)
	for _, rs := range results {
		for _, p := range rs {
			require.False(t, seen[p], "slot %v handed out twice", p)
			seen[p] = true
			require.True(t, a.IsLive(p))
		}
	}
	require.NoError(t, a.Verify())
}
