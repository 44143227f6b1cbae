package objalloc

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/bump"
	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
	"github.com/joshuapare/gcheap/internal/logger"
)

// gen puts small movable objects in a bump-pointer young space and
// everything else in tenured and non-movable tiered spaces.
type gen struct {
	pm         *mem.PoolManager
	youngPool  mem.Pool
	young      *bump.Allocator
	youngMax   uint64
	tlabMax    uint64
	tenured    *tiered
	nonMovable *tiered
}

func newGen(pm *mem.PoolManager, sizer mem.ObjectSizer, cm *crossing.Map, opts Options) (*gen, error) {
	g := &gen{pm: pm, youngMax: opts.YoungObjectMaxSize}
	g.youngPool = pm.AllocPool(opts.YoungSize, mem.SpaceObject, mem.AllocatorBumpPointer, g)
	if g.youngPool.IsNull() {
		return nil, errors.Wrapf(ErrYoungSpace, "%d bytes", opts.YoungSize)
	}
	cfg := bump.Config{
		TLABsMaxCount: opts.TLABsMaxCount,
		Sizer:         sizer,
		CrossingMap:   cm,
		Stats:         opts.Stats,
		SpaceType:     mem.SpaceObject,
	}
	if opts.TLABsMaxCount > 0 {
		cfg.TLABSize = opts.MaxTLABSize
		g.tlabMax = opts.MaxTLABSize
	}
	young, err := bump.New(pm.Space(), g.youngPool, cfg)
	if err != nil {
		pm.FreePool(g.youngPool)
		return nil, errors.Wrap(err, "objalloc: young space")
	}
	g.young = young
	g.tenured = newTiered(pm, mem.SpaceObject, cm, opts)
	g.nonMovable = newTiered(pm, mem.SpaceNonMovableObject, cm, opts)
	return g, nil
}

func (g *gen) Kind() Kind { return KindGen }

// Alloc puts small objects in the young space. When it is full the request
// fails so the caller can run a young collection. Large and pinned objects
// are tenured at once.
func (g *gen) Alloc(size uint64, align mem.Alignment, pinned bool) mem.Addr {
	if !pinned && size+align.Bytes() <= g.youngMax {
		return g.young.Alloc(size, align)
	}
	return g.tenured.alloc(size, align)
}

func (g *gen) AllocNonMovable(size uint64, align mem.Alignment) mem.Addr {
	return g.nonMovable.alloc(size, align)
}

// Free releases a tenured or non-movable object. Young objects only go away
// with the whole young space.
func (g *gen) Free(obj mem.Addr) bool {
	if g.youngPool.Contains(obj) {
		logger.Debug("objalloc: free of young object ignored", "addr", obj)
		return true
	}
	return g.tenured.free(obj) || g.nonMovable.free(obj)
}

func (g *gen) Collect(checker mem.DeathChecker, mode CollectMode) {
	checkCollectMode(mode)
	if mode == CollectMinor {
		return
	}
	g.tenured.collect(checker)
	g.nonMovable.collect(checker)
}

func (g *gen) IterateOverObjects(visit mem.ObjectVisitor) {
	g.young.IterateOverObjects(visit)
	g.tenured.iterate(visit)
	g.nonMovable.iterate(visit)
}

func (g *gen) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	g.young.IterateOverObjectsInRange(visit, left, right)
	g.tenured.iterateInRange(visit, left, right)
	g.nonMovable.iterateInRange(visit, left, right)
}

func (g *gen) ContainObject(obj mem.Addr) bool {
	return g.young.ContainObject(obj) || g.tenured.contains(obj) || g.nonMovable.contains(obj)
}

func (g *gen) IsLive(obj mem.Addr) bool {
	return g.young.IsLive(obj) || g.tenured.isLive(obj) || g.nonMovable.isLive(obj)
}

func (g *gen) CreateTLAB(size uint64) *tlab.TLAB { return g.young.CreateNewTLAB(size) }
func (g *gen) MaxTLABSize() uint64               { return g.tlabMax }

func (g *gen) HasYoungSpace() bool                         { return true }
func (g *gen) IsObjectInYoungSpace(obj mem.Addr) bool      { return g.youngPool.Contains(obj) }
func (g *gen) IsObjectInNonMovableSpace(obj mem.Addr) bool { return g.nonMovable.owner(obj) != nil }
func (g *gen) ResetYoungAllocator()                        { g.young.Reset() }
func (g *gen) YoungBytes() uint64                          { return g.young.OccupiedSize() }

func (g *gen) AllocatedBytes() uint64 {
	return g.young.OccupiedSize() + g.tenured.allocatedBytes() + g.nonMovable.allocatedBytes()
}

func (g *gen) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	g.tenured.visitAndRemoveFreePools(fn)
	g.nonMovable.visitAndRemoveFreePools(fn)
}

func (g *gen) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	g.young.VisitAndRemoveAllPools(fn)
	g.tenured.visitAndRemoveAllPools(fn)
	g.nonMovable.visitAndRemoveAllPools(fn)
}
