package freelist

import (
	"sort"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/memtest"
	"github.com/joshuapare/gcheap/internal/format"
)

func newTestAllocator(t *testing.T, cfg Config) (*Allocator, *mem.PoolManager) {
	t.Helper()
	pm := memtest.NewPoolManager(t, 16*format.MB)
	return New(pm.Space(), cfg), pm
}

func addPool(t *testing.T, a *Allocator, pm *mem.PoolManager, size uint64) mem.Pool {
	t.Helper()
	p := pm.AllocPool(size, mem.SpaceObject, mem.AllocatorFreeList, a)
	require.False(t, p.IsNull())
	require.NoError(t, a.AddMemoryPool(p.Mem, p.Size))
	return p
}

func Test_Alloc_Basic(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	require.Equal(t, mem.Null, a.Alloc(64, mem.DefaultAlignment), "no pool yet")
	addPool(t, a, pm, DefaultPoolSize)

	p := a.Alloc(100, mem.DefaultAlignment)
	require.NotEqual(t, mem.Null, p)
	require.True(t, p.IsAligned(format.ObjectAlignment))
	require.True(t, a.IsLive(p))
	require.True(t, a.ContainObject(p))
	require.Equal(t, uint64(104), a.AllocatedBytes())
	require.NoError(t, a.Verify())

	a.Free(p)
	require.False(t, a.IsLive(p))
	require.Zero(t, a.AllocatedBytes())
	require.NoError(t, a.Verify())

	st := a.Stats()
	require.Equal(t, 1, st.FreeBlocks, "freed block merged back into the pool")
	require.Equal(t, uint64(DefaultPoolSize-PoolHeaderSize-HeaderSize), st.FreeBytes)
}

func Test_Alloc_SizeLimits(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	addPool(t, a, pm, DefaultPoolSize)

	require.Equal(t, mem.Null, a.Alloc(MaxSize, mem.DefaultAlignment))
	require.NotEqual(t, mem.Null, a.Alloc(MaxSize-8, mem.DefaultAlignment))

	p := a.Alloc(1, mem.DefaultAlignment)
	require.NotEqual(t, mem.Null, p)
	h := a.headerOf(p)
	require.Equal(t, uint64(MinSize), h.objectSize())
}

func Test_AllocateTheWholePoolFreeAndAllocateAgain(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	addPool(t, a, pm, MinPoolSize)

	fill := func() []mem.Addr {
		var objs []mem.Addr
		for {
			p := a.Alloc(MinSize, mem.DefaultAlignment)
			if p == mem.Null {
				return objs
			}
			objs = append(objs, p)
		}
	}

	first := fill()
	require.NotEmpty(t, first)
	require.NoError(t, a.Verify())
	for _, p := range first {
		a.Free(p)
	}
	require.NoError(t, a.Verify())

	second := fill()
	require.Len(t, second, len(first))
	require.NoError(t, a.Verify())
}

func Test_AlignTest(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	addPool(t, a, pm, DefaultPoolSize)

	const blockSize = 512
	var blocks [4]mem.Addr
	for i := range blocks {
		blocks[i] = a.Alloc(blockSize, mem.DefaultAlignment)
		require.NotEqual(t, mem.Null, blocks[i])
	}
	a.Free(blocks[0])
	a.Free(blocks[2])

	aligned := a.Alloc(64, mem.Align256)
	require.NotEqual(t, mem.Null, aligned)
	require.True(t, aligned.IsAligned(256))
	require.True(t, aligned >= blocks[0] && aligned < blocks[1], "aligned object reuses the first hole")
	require.NoError(t, a.Verify())

	a.Free(aligned)
	require.NoError(t, a.Verify())

	small := a.Alloc(32, mem.DefaultAlignment)
	require.NotEqual(t, mem.Null, small)
	require.Equal(t, blocks[0], small)
	require.NotEqual(t, aligned, small, "padding must not survive the free")
	require.NoError(t, a.Verify())
}

func Test_Alloc_AlignmentRoundTrip(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	for range 4 {
		addPool(t, a, pm, DefaultPoolSize)
	}
	sp := pm.Space()

	type live struct {
		p    mem.Addr
		size uint64
		seed byte
	}
	var objs []live
	seed := byte(1)
	for _, size := range []uint64{8, 16, 24, 100, 256, 1000, 4096, 10000} {
		for align := mem.Align8; align <= mem.Align1K; align++ {
			p := a.Alloc(size, align)
			require.NotEqual(t, mem.Null, p, "size=%d align=%d", size, align.Bytes())
			require.True(t, p.IsAligned(align.Bytes()), "size=%d align=%d p=%v", size, align.Bytes(), p)
			for _, b := range sp.Bytes(p, size) {
				require.Zero(t, b)
			}
			memtest.FillPattern(sp, p, size, seed)
			objs = append(objs, live{p, size, seed})
			seed++
		}
	}
	require.NoError(t, a.Verify())

	// free every other object and check the survivors were not touched
	for i := 0; i < len(objs); i += 2 {
		a.Free(objs[i].p)
	}
	require.NoError(t, a.Verify())
	for i := 1; i < len(objs); i += 2 {
		o := objs[i]
		require.True(t, memtest.CheckPattern(sp, o.p, o.size, o.seed), "object %d at %v corrupted", i, o.p)
		require.True(t, a.IsLive(o.p))
	}
}

func Test_Alloc_NoOverlap(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	addPool(t, a, pm, DefaultPoolSize)

	var ranges []mem.MemRange
	for i := uint64(0); ; i++ {
		size := 16 + (i*37)%700
		p := a.Alloc(size, mem.Alignment(3+i%4))
		if p == mem.Null {
			break
		}
		ranges = append(ranges, mem.MemRange{Start: p, End: p.Add(size)})
	}
	require.Greater(t, len(ranges), 100)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	for i := 1; i < len(ranges); i++ {
		require.False(t, ranges[i-1].Overlaps(ranges[i]), "%v overlaps %v", ranges[i-1], ranges[i])
	}
}

func Test_Collect_IsLive(t *testing.T) {
	rec := &memtest.Recorder{}
	cfg := DefaultConfig()
	cfg.Stats = rec
	a, pm := newTestAllocator(t, cfg)
	addPool(t, a, pm, DefaultPoolSize)

	var objs []mem.Addr
	for range 1000 {
		p := a.Alloc(48, mem.DefaultAlignment)
		require.NotEqual(t, mem.Null, p)
		objs = append(objs, p)
	}
	dead := make(map[mem.Addr]bool)
	for i, p := range objs {
		if i%3 == 0 {
			dead[p] = true
		}
	}

	a.Collect(func(obj mem.Addr) mem.ObjectStatus {
		if dead[obj] {
			return mem.ObjectDead
		}
		return mem.ObjectAlive
	})

	for _, p := range objs {
		require.Equal(t, !dead[p], a.IsLive(p), "obj %v", p)
	}
	require.NoError(t, a.Verify())
	require.Equal(t, 1000, rec.AllocatedN)
	require.Equal(t, len(dead), rec.FreedN)

	count := 0
	a.IterateOverObjects(func(mem.Addr) { count++ })
	require.Equal(t, len(objs)-len(dead), count)
}

func Test_Collect_EverythingDead(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	addPool(t, a, pm, DefaultPoolSize)
	addPool(t, a, pm, DefaultPoolSize)

	for i := range 2000 {
		require.NotEqual(t, mem.Null, a.Alloc(uint64(16+i%200), mem.Alignment(3+i%3)))
	}
	a.Collect(mem.AlwaysDead)
	require.Zero(t, a.AllocatedBytes())
	require.NoError(t, a.Verify())
	require.Equal(t, 2, a.Stats().FreeBlocks)
}

func Test_ContainObject(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	other := pm.AllocPool(DefaultPoolSize, mem.SpaceObject, mem.AllocatorFreeList, nil)
	require.False(t, a.ContainObject(other.Mem.Add(64)), "before AddMemoryPool")

	p := addPool(t, a, pm, DefaultPoolSize)
	obj := a.Alloc(64, mem.DefaultAlignment)
	require.True(t, a.ContainObject(obj))
	require.False(t, a.ContainObject(other.Mem.Add(64)))
	require.False(t, a.ContainObject(mem.Null))

	a.Free(obj)
	a.VisitAndRemoveFreePools(func(start mem.Addr, size uint64) {
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.False(t, a.ContainObject(obj), "pool returned to the OS")
	require.Zero(t, pm.SpaceType(p.Mem))
}

func Test_Free_ForeignIgnored(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	addPool(t, a, pm, DefaultPoolSize)
	p := a.Alloc(64, mem.DefaultAlignment)

	a.Free(pm.Space().Base().Add(pm.Space().Size() - 64))
	require.True(t, a.IsLive(p))
	require.NoError(t, a.Verify())

	a.Free(p)
	require.Panics(t, func() { a.Free(p) }, "double free")
}

func Test_VisitAndRemovePools(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	p1 := addPool(t, a, pm, DefaultPoolSize)
	addPool(t, a, pm, DefaultPoolSize)

	// pools are searched best-fit, so fill the first one explicitly
	var objs []mem.Addr
	for {
		o := a.Alloc(4096, mem.DefaultAlignment)
		if o == mem.Null {
			break
		}
		objs = append(objs, o)
	}
	for _, o := range objs {
		if !p1.Contains(o) {
			a.Free(o)
		}
	}

	var freed []mem.Addr
	a.VisitAndRemoveFreePools(func(start mem.Addr, size uint64) {
		freed = append(freed, start)
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.Len(t, freed, 1)
	require.NotEqual(t, p1.Mem, freed[0])
	require.Len(t, a.Pools(), 1)
	require.NoError(t, a.Verify())

	var all []mem.Addr
	a.VisitAndRemoveAllPools(func(start mem.Addr, size uint64) {
		all = append(all, start)
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.Equal(t, []mem.Addr{p1.Mem}, all)
	require.Empty(t, a.Pools())
	require.Zero(t, pm.Used())
	require.NoError(t, a.Verify())
}

func Test_AddMemoryPool_Errors(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	p := pm.AllocPool(DefaultPoolSize, mem.SpaceObject, mem.AllocatorFreeList, a)

	require.True(t, errors.Is(a.AddMemoryPool(p.Mem, MinPoolSize-8), ErrPoolTooSmall))
	require.True(t, errors.Is(a.AddMemoryPool(p.Mem.Add(4), MinPoolSize), ErrPoolUnaligned))
	require.NoError(t, a.AddMemoryPool(p.Mem, p.Size))
	require.True(t, errors.Is(a.AddMemoryPool(p.Mem.Add(format.PageSize), MinPoolSize), ErrPoolOverlap))
}

func Test_IterateOverObjectsInRange(t *testing.T) {
	sp := memtest.NewPoolManager(t, 16*format.MB)
	cm := crossing.New(sp.Space().Base(), sp.Space().Size())
	cfg := DefaultConfig()
	cfg.CrossingMap = cm
	a := New(sp.Space(), cfg)
	p := addPool(t, a, sp, DefaultPoolSize)

	var objs []mem.Addr
	for range 500 {
		objs = append(objs, a.Alloc(200, mem.DefaultAlignment))
	}

	left := p.Mem.Add(3 * crossing.DefaultGranularity)
	right := left.Add(crossing.DefaultGranularity - 1)
	var want []mem.Addr
	for _, o := range objs {
		if o >= left && o <= right {
			want = append(want, o)
		}
	}
	require.NotEmpty(t, want)

	var got []mem.Addr
	a.IterateOverObjectsInRange(func(o mem.Addr) { got = append(got, o) }, left, right)
	require.Equal(t, want, got)

	// freeing through the visitor keeps the walk going
	a.IterateOverObjectsInRange(func(o mem.Addr) { a.Free(o) }, left, right)
	for _, o := range want {
		require.False(t, a.IsLive(o))
	}
	require.NoError(t, a.Verify())
}

func Test_Alloc_Concurrent(t *testing.T) {
	a, pm := newTestAllocator(t, DefaultConfig())
	for range 8 {
		addPool(t, a, pm, DefaultPoolSize)
	}
	sp := pm.Space()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			var mine []mem.Addr
			for i := range 2000 {
				size := uint64(16 + (i*13)%300)
				p := a.Alloc(size, mem.DefaultAlignment)
				if p == mem.Null {
					continue
				}
				memtest.FillPattern(sp, p, 16, seed)
				mine = append(mine, p)
				if i%2 == 1 {
					a.Free(mine[0])
					mine = mine[1:]
				}
			}
			for _, p := range mine {
				if !memtest.CheckPattern(sp, p, 16, seed) {
					t.Errorf("object %v overwritten", p)
				}
				a.Free(p)
			}
		}(byte(g * 31))
	}
	wg.Wait()

	require.Zero(t, a.AllocatedBytes())
	require.NoError(t, a.Verify())
}
