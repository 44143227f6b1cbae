package objalloc

import (
	"sync"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/freelist"
	"github.com/joshuapare/gcheap/heap/humongous"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/runslots"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// poolAllocator is an allocator that serves objects from pools it is given.
type poolAllocator interface {
	AddMemoryPool(start mem.Addr, size uint64) error
	Alloc(size uint64, align mem.Alignment) mem.Addr
	Free(obj mem.Addr)
	Collect(checker mem.DeathChecker)
	IterateOverObjects(visit mem.ObjectVisitor)
	IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr)
	ContainObject(obj mem.Addr) bool
	IsLive(obj mem.Addr) bool
	AllocatedBytes() uint64
	VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64))
	VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64))
}

// tier is one size class of a tiered space.
type tier struct {
	poolAllocator
	at        mem.AllocatorType
	poolAlign uint64
	// poolSize returns the pool needed to serve size bytes at align.
	poolSize func(size uint64, align mem.Alignment) uint64
}

const (
	tierRunSlots = iota
	tierFreeList
	tierHumongous
	numTiers
)

// tiered routes objects by size to a run-slots, a free-list and a humongous
// allocator. Each grows on demand with pools taken from the PoolManager and
// registered under the tiered space as owner.
type tiered struct {
	pm    *mem.PoolManager
	st    mem.SpaceType
	tiers [numTiers]tier
	grow  sync.Mutex
}

func newTiered(pm *mem.PoolManager, st mem.SpaceType, cm *crossing.Map, opts Options) *tiered {
	space := pm.Space()

	rsCfg := runslots.DefaultConfig()
	rsCfg.CrossingMap, rsCfg.Stats, rsCfg.SpaceType = cm, opts.Stats, st

	flCfg := freelist.DefaultConfig()
	flCfg.CrossingMap, flCfg.Stats, flCfg.SpaceType = cm, opts.Stats, st

	hCfg := humongous.DefaultConfig()
	hCfg.CrossingMap, hCfg.Stats = cm, opts.Stats
	if st == mem.SpaceNonMovableObject {
		hCfg.SpaceType = st
	}

	t := &tiered{pm: pm, st: st}
	t.tiers[tierRunSlots] = tier{
		poolAllocator: runslots.New(space, rsCfg),
		at:            mem.AllocatorRunSlots,
		poolAlign:     runslots.RunSize,
		poolSize:      func(uint64, mem.Alignment) uint64 { return opts.RunSlotsPoolSize },
	}
	t.tiers[tierFreeList] = tier{
		poolAllocator: freelist.New(space, flCfg),
		at:            mem.AllocatorFreeList,
		poolAlign:     format.PageSize,
		poolSize: func(size uint64, align mem.Alignment) uint64 {
			need := format.AlignPage(size + align.Bytes() + freelist.PoolHeaderSize + freelist.HeaderSize)
			return max(opts.FreeListPoolSize, need)
		},
	}
	t.tiers[tierHumongous] = tier{
		poolAllocator: humongous.New(space, hCfg),
		at:            mem.AllocatorHumongous,
		poolAlign:     format.PageSize,
		poolSize:      humongous.PoolSizeFor,
	}
	return t
}

// tierFor returns the tier serving size bytes at align, or nil when no
// tier can.
func (t *tiered) tierFor(size uint64, align mem.Alignment) *tier {
	switch {
	case size == 0:
		return nil
	case runslots.CanAlloc(size, align):
		return &t.tiers[tierRunSlots]
	case size < freelist.MaxSize:
		return &t.tiers[tierFreeList]
	case humongous.PoolSizeFor(size, align) != 0:
		return &t.tiers[tierHumongous]
	}
	return nil
}

// alloc serves the request, growing the tier by one pool if it is full.
func (t *tiered) alloc(size uint64, align mem.Alignment) mem.Addr {
	tr := t.tierFor(size, align)
	if tr == nil {
		return mem.Null
	}
	if obj := tr.Alloc(size, align); obj != mem.Null {
		return obj
	}

	t.grow.Lock()
	defer t.grow.Unlock()
	// Another goroutine may have grown the tier while we waited.
	if obj := tr.Alloc(size, align); obj != mem.Null {
		return obj
	}
	p := t.pm.AllocPoolAligned(tr.poolSize(size, align), tr.poolAlign, t.st, tr.at, t)
	if p.IsNull() {
		logger.Debug("objalloc: pool manager exhausted", "size", size, "allocator", tr.at, "space", t.st)
		return mem.Null
	}
	if err := tr.AddMemoryPool(p.Mem, p.Size); err != nil {
		logger.Warn("objalloc: pool rejected", "mem", p.Mem, "size", p.Size, "allocator", tr.at, "err", err)
		t.pm.FreePool(p)
		return mem.Null
	}
	return tr.Alloc(size, align)
}

// owner returns the tier whose pool holds obj, or nil.
func (t *tiered) owner(obj mem.Addr) *tier {
	info, ok := t.pm.AllocatorInfo(obj)
	if !ok || info.Owner != t {
		return nil
	}
	for i := range t.tiers {
		if t.tiers[i].at == info.Type {
			return &t.tiers[i]
		}
	}
	return nil
}

// free releases obj and reports whether it belonged to this space.
func (t *tiered) free(obj mem.Addr) bool {
	tr := t.owner(obj)
	if tr == nil {
		return false
	}
	tr.Free(obj)
	return true
}

func (t *tiered) collect(checker mem.DeathChecker) {
	for i := range t.tiers {
		t.tiers[i].Collect(checker)
	}
}

func (t *tiered) iterate(visit mem.ObjectVisitor) {
	for i := range t.tiers {
		t.tiers[i].IterateOverObjects(visit)
	}
}

func (t *tiered) iterateInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	for i := range t.tiers {
		t.tiers[i].IterateOverObjectsInRange(visit, left, right)
	}
}

func (t *tiered) contains(obj mem.Addr) bool {
	tr := t.owner(obj)
	return tr != nil && tr.ContainObject(obj)
}

func (t *tiered) isLive(obj mem.Addr) bool {
	tr := t.owner(obj)
	return tr != nil && tr.IsLive(obj)
}

func (t *tiered) allocatedBytes() uint64 {
	var n uint64
	for i := range t.tiers {
		n += t.tiers[i].AllocatedBytes()
	}
	return n
}

func (t *tiered) visitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	for i := range t.tiers {
		t.tiers[i].VisitAndRemoveFreePools(fn)
	}
}

func (t *tiered) visitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	for i := range t.tiers {
		t.tiers[i].VisitAndRemoveAllPools(fn)
	}
}
