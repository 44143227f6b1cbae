package objalloc

import (
	"github.com/joshuapare/gcheap/heap/freelist"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/region"
	"github.com/joshuapare/gcheap/heap/tlab"
)

// RegionStats is a snapshot of a region-based heap.
type RegionStats struct {
	RegionSize      uint64 `json:"region_size"`
	Eden            int    `json:"eden"`
	Old             int    `json:"old"`
	Pinned          int    `json:"pinned"`
	NonMovable      int    `json:"non_movable"`
	Humongous       int    `json:"humongous"`
	EmptyYoung      int    `json:"empty_young"`
	EmptyTenured    int    `json:"empty_tenured"`
	YoungBytes      uint64 `json:"young_bytes"`
	TenuredBytes    uint64 `json:"tenured_bytes"`
	LiveBytes       uint64 `json:"live_bytes"`
	GarbageBytes    uint64 `json:"garbage_bytes"`
	PoolRegionCount int    `json:"pool_regions"`
}

// g1 keeps movable objects in eden and old regions, non-movable objects in
// a free list over dedicated regions, and humongous objects in regions of
// their own. All three spaces share one region pool.
type g1 struct {
	pool       *region.Pool
	objSpace   *region.Space
	nmSpace    *region.Space
	hSpace     *region.Space
	objects    *region.Allocator
	nonMovable *region.NonmovableAllocator
	humongous  *region.HumongousAllocator
}

func newG1(pm *mem.PoolManager, sizer mem.ObjectSizer, opts Options) *g1 {
	g := &g1{pool: region.NewPool(pm, opts.RegionSize)}
	cache := region.SpaceConfig{
		SpaceType:       mem.SpaceObject,
		MaxEmptyYoung:   opts.MaxEmptyRegions,
		MaxEmptyTenured: opts.MaxEmptyRegions,
	}
	g.objSpace = region.NewSpace(g.pool, cache, g)
	g.objects = region.NewAllocator(g.objSpace, region.Config{
		Sizer:         sizer,
		Stats:         opts.Stats,
		SpaceType:     mem.SpaceObject,
		MaxYoungBytes: opts.YoungSize,
	})

	cache.SpaceType = mem.SpaceNonMovableObject
	g.nmSpace = region.NewSpace(g.pool, cache, g)
	flCfg := freelist.DefaultConfig()
	flCfg.Stats, flCfg.SpaceType = opts.Stats, mem.SpaceNonMovableObject
	g.nonMovable = region.NewNonmovableAllocator(g.nmSpace, flCfg)

	g.hSpace = region.NewSpace(g.pool, region.SpaceConfig{SpaceType: mem.SpaceHumongousObject}, g)
	g.humongous = region.NewHumongousAllocator(g.hSpace, opts.Stats)
	return g
}

func (g *g1) Kind() Kind { return KindG1 }

// Alloc puts regular objects in eden and anything that cannot share a
// region in a humongous region.
func (g *g1) Alloc(size uint64, align mem.Alignment, pinned bool) mem.Addr {
	if size+align.Bytes() <= g.objects.MaxRegularSize() {
		return g.objects.Alloc(size, align, region.KindEden, pinned)
	}
	return g.humongous.Alloc(size, align)
}

func (g *g1) AllocNonMovable(size uint64, align mem.Alignment) mem.Addr {
	if g.nonMovable.CanHold(size, align) {
		return g.nonMovable.Alloc(size, align)
	}
	return g.humongous.Alloc(size, align)
}

// Free releases non-movable and humongous objects. Objects in eden and old
// regions are reclaimed by compaction.
func (g *g1) Free(obj mem.Addr) bool {
	switch {
	case g.nonMovable.ContainObject(obj):
		g.nonMovable.Free(obj)
	case g.humongous.ContainObject(obj):
		g.humongous.Free(obj)
	default:
		return g.objects.ContainObject(obj)
	}
	return true
}

func (g *g1) Collect(checker mem.DeathChecker, mode CollectMode) {
	checkCollectMode(mode)
	if mode == CollectMinor {
		return
	}
	g.nonMovable.Collect(checker)
	g.humongous.Collect(checker)
}

func (g *g1) IterateOverObjects(visit mem.ObjectVisitor) {
	g.objects.IterateOverObjects(visit)
	g.nonMovable.IterateOverObjects(visit)
	g.humongous.IterateOverObjects(visit)
}

func (g *g1) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	g.objects.IterateOverObjectsInRange(visit, left, right)
	g.nonMovable.IterateOverObjectsInRange(visit, left, right)
	g.humongous.IterateOverObjectsInRange(visit, left, right)
}

func (g *g1) ContainObject(obj mem.Addr) bool {
	return g.objects.ContainObject(obj) || g.nonMovable.ContainObject(obj) || g.humongous.ContainObject(obj)
}

func (g *g1) IsLive(obj mem.Addr) bool {
	return g.objects.IsLive(obj) || g.nonMovable.IsLive(obj) || g.humongous.IsLive(obj)
}

func (g *g1) CreateTLAB(size uint64) *tlab.TLAB { return g.objects.CreateTLAB(size) }
func (g *g1) MaxTLABSize() uint64               { return g.pool.RegionSize() }

func (g *g1) HasYoungSpace() bool                    { return true }
func (g *g1) IsObjectInYoungSpace(obj mem.Addr) bool { return g.objects.IsInYoungSpace(obj) }
func (g *g1) YoungBytes() uint64                     { return g.objSpace.YoungBytes() }

// IsObjectInNonMovableSpace reports whether obj is a non-movable or
// humongous object. Humongous regions are never evacuated.
func (g *g1) IsObjectInNonMovableSpace(obj mem.Addr) bool {
	return g.nonMovable.ContainObject(obj) || g.humongous.ContainObject(obj)
}

func (g *g1) ResetYoungAllocator() { g.objects.ResetYoungAllocator(region.ImmediateReturn) }

func (g *g1) AllocatedBytes() uint64 {
	return g.objects.AllocatedBytes() + g.nonMovable.AllocatedBytes() + g.humongous.AllocatedBytes()
}

func (g *g1) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	g.objects.VisitAndRemoveFreePools(fn)
	g.nonMovable.VisitAndRemoveFreePools(fn)
	g.humongous.VisitAndRemoveFreePools(fn)
}

func (g *g1) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	g.objects.VisitAndRemoveAllPools(fn)
	g.nonMovable.VisitAndRemoveAllPools(fn)
	g.humongous.VisitAndRemoveAllPools(fn)
}

// compact evacuates the regions flagged from into regions flagged to and
// frees the emptied ones. It returns how many regions were freed.
func (g *g1) compact(from, to region.Flags, useMarked bool, checker mem.DeathChecker, moved mem.MoveHandler) int {
	evacuated := g.objects.CompactAllSpecificRegions(from, to, useMarked, checker, moved)
	g.objects.ResetSeveralSpecificRegions(evacuated, region.NoRelease, region.ImmediateReturn)
	return len(evacuated)
}

// promoteYoung turns every eden region old in place.
func (g *g1) promoteYoung(checker mem.DeathChecker, alive mem.ObjectVisitor) int {
	young := g.objects.YoungRegions()
	for _, r := range young {
		g.objects.PromoteYoungRegion(r, checker, alive)
	}
	return len(young)
}

// pin raises or drops the pin count of a movable object. Non-movable and
// humongous objects never move and are accepted as they are.
func (g *g1) pin(obj mem.Addr, on bool) bool {
	if !g.objects.ContainObject(obj) {
		return g.IsObjectInNonMovableSpace(obj)
	}
	if on {
		g.objects.PinObject(obj)
	} else {
		g.objects.UnpinObject(obj)
	}
	return true
}

func (g *g1) regionStats() RegionStats {
	st := RegionStats{
		RegionSize:      g.pool.RegionSize(),
		YoungBytes:      g.objSpace.YoungBytes(),
		TenuredBytes:    g.objSpace.TenuredBytes(),
		PoolRegionCount: g.pool.Count(),
	}
	st.EmptyYoung, st.EmptyTenured = g.objSpace.EmptyRegions()
	g.objSpace.IterateRegions(func(r *region.Region) {
		switch {
		case r.HasFlag(region.FlagPinned):
			st.Pinned++
		case r.IsYoung():
			st.Eden++
		default:
			st.Old++
		}
		st.LiveBytes += r.LiveBytes()
		st.GarbageBytes += r.GarbageBytes()
	})
	st.NonMovable = g.nmSpace.RegionCount()
	st.Humongous = g.hSpace.RegionCount()
	return st
}
