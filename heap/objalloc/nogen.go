package objalloc

import (
	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
)

// noGen keeps every object in one tiered space. Nothing moves, so every
// object is non-movable and there is no young space.
type noGen struct {
	objects *tiered
}

func newNoGen(pm *mem.PoolManager, cm *crossing.Map, opts Options) *noGen {
	return &noGen{objects: newTiered(pm, mem.SpaceObject, cm, opts)}
}

func (s *noGen) Kind() Kind { return KindNoGen }

func (s *noGen) Alloc(size uint64, align mem.Alignment, _ bool) mem.Addr {
	return s.objects.alloc(size, align)
}

func (s *noGen) AllocNonMovable(size uint64, align mem.Alignment) mem.Addr {
	return s.objects.alloc(size, align)
}

func (s *noGen) Free(obj mem.Addr) bool { return s.objects.free(obj) }

// Collect sweeps the whole heap whatever the mode.
func (s *noGen) Collect(checker mem.DeathChecker, mode CollectMode) {
	checkCollectMode(mode)
	s.objects.collect(checker)
}

func (s *noGen) IterateOverObjects(visit mem.ObjectVisitor) { s.objects.iterate(visit) }

func (s *noGen) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	s.objects.iterateInRange(visit, left, right)
}

func (s *noGen) ContainObject(obj mem.Addr) bool { return s.objects.contains(obj) }
func (s *noGen) IsLive(obj mem.Addr) bool        { return s.objects.isLive(obj) }

func (s *noGen) CreateTLAB(uint64) *tlab.TLAB { return nil }
func (s *noGen) MaxTLABSize() uint64          { return 0 }

func (s *noGen) HasYoungSpace() bool                         { return false }
func (s *noGen) IsObjectInYoungSpace(mem.Addr) bool          { return false }
func (s *noGen) IsObjectInNonMovableSpace(obj mem.Addr) bool { return s.objects.contains(obj) }
func (s *noGen) AllocatedBytes() uint64                      { return s.objects.allocatedBytes() }
func (s *noGen) YoungBytes() uint64                          { return 0 }

func (s *noGen) ResetYoungAllocator() {}

func (s *noGen) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	s.objects.visitAndRemoveFreePools(fn)
}

func (s *noGen) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	s.objects.visitAndRemoveAllPools(fn)
}
