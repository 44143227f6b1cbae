// Package humongous serves objects too large for the size-class allocators.
// Every object gets a whole page-aligned pool of its own, described by a
// small header in the pool's first bytes.
//
// Freed pools are kept for reuse. Up to MaxReservedPools of the largest are
// held on a reserved list; the rest go to an unbounded free list. When a
// reused pool is bigger than the object placed in it, the pages past the
// object are returned to the OS immediately.
package humongous

import (
	"slices"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

const (
	// MaxSize is the largest object the allocator accepts.
	MaxSize = 1 * format.GB

	// MaxReservedPools bounds the reserved list.
	MaxReservedPools = 2

	// MaxAlignment is the largest alignment that still fits the object in
	// the pool's first page after the header.
	MaxAlignment = format.PageSize - HeaderSize
)

// Config configures an Allocator.
type Config struct {
	CrossingMap *crossing.Map
	Stats       mem.StatsRecorder
	SpaceType   mem.SpaceType
}

// DefaultConfig returns the configuration used for humongous objects.
func DefaultConfig() Config {
	return Config{SpaceType: mem.SpaceHumongousObject}
}

// Stats is a snapshot of the allocator's pool accounting.
type Stats struct {
	OccupiedPools  int
	ReservedPools  int
	FreePools      int
	AllocatedBytes uint64
	ReleasedBytes  uint64
}

// Allocator is safe for concurrent use.
type Allocator struct {
	mu    sync.RWMutex
	space *mem.Space
	cm    *crossing.Map
	rec   mem.StatsRecorder
	st    mem.SpaceType

	pools    []mem.Pool // every registered pool, address ordered
	occupied map[mem.Addr]struct{}
	reserved []mem.Pool
	free     []mem.Pool

	allocated uint64
	released  uint64
}

// New returns an allocator with no pools.
func New(space *mem.Space, cfg Config) *Allocator {
	rec := cfg.Stats
	if rec == nil {
		rec = mem.NopStats{}
	}
	return &Allocator{
		space:    space,
		cm:       cfg.CrossingMap,
		rec:      rec,
		st:       cfg.SpaceType,
		occupied: make(map[mem.Addr]struct{}),
	}
}

func (a *Allocator) header(p mem.Addr) header { return header{s: a.space, p: p} }

// objectOffset returns where an object aligned to alignBytes starts in its pool.
func objectOffset(alignBytes uint64) uint64 {
	return format.AlignUp(HeaderSize, alignBytes)
}

// PoolSizeFor returns the pool size needed to hold one object of size bytes
// at align, or 0 when the request is outside the allocator's range.
func PoolSizeFor(size uint64, align mem.Alignment) uint64 {
	if size == 0 || size > MaxSize || align.Bytes() > MaxAlignment {
		return 0
	}
	return format.AlignPage(objectOffset(align.Bytes()) + format.AlignObject(size))
}

// AddMemoryPool registers a free pool. Both start and size must be page
// aligned.
func (a *Allocator) AddMemoryPool(start mem.Addr, size uint64) error {
	if !start.IsAligned(format.PageSize) || !format.IsAligned(size, format.PageSize) {
		return errors.Wrapf(ErrPoolUnaligned, "pool %v+%d", start, size)
	}
	if size == 0 {
		return errors.Wrapf(ErrPoolTooSmall, "pool %v", start)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := mem.Pool{Mem: start, Size: size}
	i := sort.Search(len(a.pools), func(i int) bool { return a.pools[i].End() > start })
	if i < len(a.pools) && a.pools[i].Mem < p.End() {
		return errors.Wrapf(ErrPoolOverlap, "pool %v+%d", start, size)
	}
	a.pools = slices.Insert(a.pools, i, p)
	a.header(start).init(size)
	a.parkLocked(p)

	logger.Debug("humongous: pool added", "mem", start, "size", size)
	return nil
}

// parkLocked puts an unoccupied pool on the reserved or free list. A full
// reserved list keeps its largest pools: p displaces the smallest reserved
// pool only when it is bigger.
func (a *Allocator) parkLocked(p mem.Pool) {
	if len(a.reserved) < MaxReservedPools {
		a.reserved = append(a.reserved, p)
		return
	}
	smallest := 0
	for i, r := range a.reserved {
		if r.Size < a.reserved[smallest].Size {
			smallest = i
		}
	}
	if p.Size > a.reserved[smallest].Size {
		a.free = append(a.free, a.reserved[smallest])
		a.reserved[smallest] = p
		return
	}
	a.free = append(a.free, p)
}

// takeBestFit removes and returns the smallest pool in *list of at least
// need bytes.
func takeBestFit(list *[]mem.Pool, need uint64) (mem.Pool, bool) {
	best := -1
	for i, p := range *list {
		if p.Size >= need && (best < 0 || p.Size < (*list)[best].Size) {
			best = i
		}
	}
	if best < 0 {
		return mem.NullPool, false
	}
	p := (*list)[best]
	*list = slices.Delete(*list, best, best+1)
	return p, true
}

// Alloc returns a zeroed object in a pool of its own, or mem.Null when the
// request is out of range or no registered pool is large enough. Callers
// grow the allocator with AddMemoryPool(PoolSizeFor(size, align)) and retry.
func (a *Allocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	need := PoolSizeFor(size, align)
	if need == 0 {
		return mem.Null
	}
	size = format.AlignObject(size)
	off := objectOffset(align.Bytes())

	a.mu.Lock()
	p, ok := takeBestFit(&a.reserved, need)
	if !ok {
		p, ok = takeBestFit(&a.free, need)
	}
	if !ok {
		a.mu.Unlock()
		logger.Debug("humongous: no pool fits", "size", size, "need", need)
		return mem.Null
	}
	h := a.header(p.Mem)
	h.setObject(off, size)
	a.occupied[p.Mem] = struct{}{}
	a.allocated += size
	if tail := p.Size - need; tail > 0 {
		// The tail pages stay part of the pool but hold nothing.
		if err := a.space.Release(p.Mem.Add(need), tail); err != nil {
			logger.Warn("humongous: page release failed", "mem", p.Mem.Add(need), "size", tail, "err", err)
		} else {
			a.released += tail
		}
	}
	a.mu.Unlock()

	obj := p.Mem.Add(off)
	a.space.Zero(obj, size)
	if a.cm != nil {
		a.cm.AddObject(obj, size)
	}
	a.rec.RecordAllocateObject(size, a.st)
	mem.Publish()
	return obj
}

// poolOfLocked returns the occupied pool whose object is obj.
func (a *Allocator) poolOfLocked(obj mem.Addr) (header, bool) {
	p := obj.AlignDown(format.PageSize)
	if _, ok := a.occupied[p]; !ok {
		return header{}, false
	}
	h := a.header(p)
	if h.object() != obj {
		return header{}, false
	}
	return h, true
}

// Free returns obj's pool to the reserved or free list. Freeing memory that
// is not a live object of this allocator is logged and ignored.
func (a *Allocator) Free(obj mem.Addr) {
	a.mu.Lock()
	h, ok := a.poolOfLocked(obj)
	if !ok {
		a.mu.Unlock()
		logger.Warn("humongous: free of foreign memory", "addr", obj)
		return
	}
	size := h.objSize()
	h.clearObject()
	delete(a.occupied, h.p)
	a.allocated -= size
	a.parkLocked(mem.Pool{Mem: h.p, Size: h.poolSize()})
	a.mu.Unlock()

	if a.cm != nil {
		a.cm.RemoveObject(obj, size, mem.Null)
	}
	a.rec.RecordFreeObject(size, a.st)
}

// objectsLocked returns the live objects in address order.
func (a *Allocator) objectsLocked(keep func(obj mem.Addr, size uint64) bool) []mem.Addr {
	var objs []mem.Addr
	for _, p := range a.pools {
		if _, ok := a.occupied[p.Mem]; !ok {
			continue
		}
		h := a.header(p.Mem)
		if keep == nil || keep(h.object(), h.objSize()) {
			objs = append(objs, h.object())
		}
	}
	return objs
}

// IterateOverObjects visits every live object. The visitor runs without the
// allocator lock held and may free the object it is given.
func (a *Allocator) IterateOverObjects(visit mem.ObjectVisitor) {
	a.mu.RLock()
	objs := a.objectsLocked(nil)
	a.mu.RUnlock()
	for _, obj := range objs {
		visit(obj)
	}
}

// IterateOverObjectsInRange visits every live object that overlaps
// [left, right].
func (a *Allocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	a.mu.RLock()
	objs := a.objectsLocked(func(obj mem.Addr, size uint64) bool {
		return obj <= right && obj.Add(size) > left
	})
	a.mu.RUnlock()
	for _, obj := range objs {
		visit(obj)
	}
}

// Collect frees every object checker reports dead.
func (a *Allocator) Collect(checker mem.DeathChecker) {
	a.IterateOverObjects(func(obj mem.Addr) {
		if checker(obj) == mem.ObjectDead {
			a.Free(obj)
		}
	})
}

// ContainObject reports whether obj is a live object of this allocator.
func (a *Allocator) ContainObject(obj mem.Addr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.poolOfLocked(obj)
	return ok
}

// IsLive reports whether obj is allocated. Every contained object is live
// until freed.
func (a *Allocator) IsLive(obj mem.Addr) bool { return a.ContainObject(obj) }

// ObjectSize returns the size recorded for obj, or 0 if obj is not live.
func (a *Allocator) ObjectSize(obj mem.Addr) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.poolOfLocked(obj); ok {
		return h.objSize()
	}
	return 0
}

// VisitAndRemoveAllPools unregisters every pool, live objects included, and
// hands each to fn.
func (a *Allocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	pools := a.pools
	a.pools = nil
	a.reserved, a.free = nil, nil
	clear(a.occupied)
	a.allocated = 0
	a.mu.Unlock()

	for _, p := range pools {
		fn(p.Mem, p.Size)
	}
}

// VisitAndRemoveFreePools unregisters every unoccupied pool and hands each
// to fn.
func (a *Allocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	parked := append(a.reserved, a.free...)
	a.reserved, a.free = nil, nil
	a.pools = slices.DeleteFunc(a.pools, func(p mem.Pool) bool {
		_, ok := a.occupied[p.Mem]
		return !ok
	})
	a.mu.Unlock()

	for _, p := range parked {
		fn(p.Mem, p.Size)
	}
}

// AllocatedBytes returns the bytes held by live objects.
func (a *Allocator) AllocatedBytes() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allocated
}

// Stats returns a snapshot of the pool accounting.
func (a *Allocator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{
		OccupiedPools:  len(a.occupied),
		ReservedPools:  len(a.reserved),
		FreePools:      len(a.free),
		AllocatedBytes: a.allocated,
		ReleasedBytes:  a.released,
	}
}
