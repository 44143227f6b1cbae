package runslots

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/trim"
	"github.com/joshuapare/gcheap/internal/logger"
)

// Config configures an Allocator.
type Config struct {
	CrossingMap *crossing.Map
	Stats       mem.StatsRecorder
	SpaceType   mem.SpaceType
}

// DefaultConfig returns the configuration used for regular objects.
func DefaultConfig() Config {
	return Config{SpaceType: mem.SpaceObject}
}

// pool is one registered extent and the runs carved from it so far.
type pool struct {
	mem.Pool
	firstRun mem.Addr
	nextRun  mem.Addr // next uncarved run
	runs     []*run
}

func (p *pool) uncarved() bool { return p.nextRun.Add(RunSize) <= p.End() }

// Stats holds allocator counters.
type Stats struct {
	AllocCalls    int
	AllocFailures int
	FreeCalls     int
	RunsCarved    int
	RunsReused    int
	ActiveRuns    int
	FreeRuns      int
	Pools         int
	TrimmedBytes  uint64
}

// Allocator serves objects of up to MaxSize bytes. It is safe for concurrent use.
type Allocator struct {
	mu    sync.RWMutex
	space *mem.Space
	cm    *crossing.Map
	rec   mem.StatsRecorder
	st    mem.SpaceType

	active [numClasses]runList
	free   runList
	runs   map[mem.Addr]*run
	pools  []*pool // address-ordered

	allocated uint64
	stats     Stats
}

// New returns an empty allocator over space.
func New(space *mem.Space, cfg Config) *Allocator {
	rec := cfg.Stats
	if rec == nil {
		rec = mem.NopStats{}
	}
	a := &Allocator{
		space: space,
		cm:    cfg.CrossingMap,
		rec:   rec,
		st:    cfg.SpaceType,
		free:  runList{kind: listFree},
		runs:  make(map[mem.Addr]*run),
	}
	for i := range a.active {
		a.active[i].kind = listActive
	}
	return a
}

// AddMemoryPool registers [start, start+size). Runs are carved from it on
// demand at RunSize-aligned addresses.
func (a *Allocator) AddMemoryPool(start mem.Addr, size uint64) error {
	p := &pool{Pool: mem.Pool{Mem: start, Size: size}}
	p.firstRun = start.AlignUp(RunSize)
	p.nextRun = p.firstRun
	if !p.uncarved() {
		return errors.Wrapf(ErrPoolTooSmall, "pool %v+%d", start, size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	i := sort.Search(len(a.pools), func(i int) bool { return a.pools[i].End() > start })
	if i < len(a.pools) && a.pools[i].Mem < p.End() {
		return errors.Wrapf(ErrPoolOverlap, "pool %v+%d", start, size)
	}
	a.pools = slices.Insert(a.pools, i, p)
	a.stats.Pools++
	logger.Debug("runslots: pool added", "mem", start, "size", size)
	return nil
}

// Alloc returns a zeroed slot that fits size bytes at align, or mem.Null.
func (a *Allocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	cls, slotSize, ok := classOf(size, align)
	if !ok {
		return mem.Null
	}

	a.mu.Lock()
	a.stats.AllocCalls++
	r := a.active[cls].pop()
	if r == nil {
		r = a.free.pop()
		if r != nil {
			a.stats.RunsReused++
		} else {
			r = a.carveRunLocked()
		}
		if r == nil {
			a.stats.AllocFailures++
			a.mu.Unlock()
			return mem.Null
		}
		r.mu.Lock()
		r.init(slotSize)
	} else {
		r.mu.Lock()
	}

	slot := r.popSlot(a.space)
	if !r.full() {
		a.active[cls].push(r)
	}
	r.mu.Unlock()
	a.allocated += slotSize
	a.mu.Unlock()

	a.space.Zero(slot, slotSize)
	if a.cm != nil {
		a.cm.AddObject(slot, slotSize)
	}
	a.rec.RecordAllocateObject(slotSize, a.st)
	mem.Publish()
	return slot
}

func (a *Allocator) carveRunLocked() *run {
	for _, p := range a.pools {
		if !p.uncarved() {
			continue
		}
		r := &run{start: p.nextRun, pool: p}
		p.nextRun = p.nextRun.Add(RunSize)
		p.runs = append(p.runs, r)
		a.runs[r.start] = r
		a.stats.RunsCarved++
		return r
	}
	return nil
}

// Free returns obj to its run. Freeing memory this allocator does not own is
// logged and ignored.
func (a *Allocator) Free(obj mem.Addr) {
	a.mu.Lock()
	size, ok := a.freeLocked(obj)
	a.mu.Unlock()
	if ok {
		a.rec.RecordFreeObject(size, a.st)
	}
}

func (a *Allocator) freeLocked(obj mem.Addr) (uint64, bool) {
	r := a.runs[obj.AlignDown(RunSize)]
	if r == nil {
		logger.Warn("runslots: free of foreign memory", "obj", obj)
		return 0, false
	}
	a.stats.FreeCalls++

	r.mu.Lock()
	defer r.mu.Unlock()
	wasFull := r.full()
	r.pushSlot(a.space, obj)
	if a.cm != nil {
		a.cm.RemoveObject(obj, r.slotSize, r.nextOccupied(obj.Add(r.slotSize)))
	}
	a.allocated -= r.slotSize

	cls, _, _ := classOf(r.slotSize, mem.DefaultAlignment)
	switch {
	case r.empty():
		if !wasFull {
			a.active[cls].remove(r)
		}
		a.free.push(r)
	case wasFull:
		a.active[cls].push(r)
	}
	return r.slotSize, true
}

// Collect frees every object checker reports dead.
func (a *Allocator) Collect(checker mem.DeathChecker) {
	a.IterateOverObjects(func(obj mem.Addr) {
		if checker(obj) == mem.ObjectDead {
			a.Free(obj)
		}
	})
}

func (a *Allocator) snapshotRuns(left, right mem.Addr) []*run {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*run
	for _, p := range a.pools {
		if p.Mem > right || p.End() <= left {
			continue
		}
		for _, r := range p.runs {
			if r.start <= right && r.end() > left {
				out = append(out, r)
			}
		}
	}
	return out
}

// IterateOverObjects calls visit for every allocated slot in address order.
// visit may Free the object it was given.
func (a *Allocator) IterateOverObjects(visit mem.ObjectVisitor) {
	a.IterateOverObjectsInRange(visit, mem.Null, ^mem.Addr(0))
}

// IterateOverObjectsInRange calls visit for every allocated slot in [left, right].
func (a *Allocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	for _, r := range a.snapshotRuns(left, right) {
		cur := left
		for {
			r.mu.Lock()
			obj := mem.Null
			if r.slotSize != 0 {
				obj = r.nextOccupied(cur)
			}
			r.mu.Unlock()
			if obj == mem.Null || obj > right {
				break
			}
			visit(obj)
			cur = obj.Add(1)
		}
	}
}

func (a *Allocator) findPoolLocked(addr mem.Addr) *pool {
	i := sort.Search(len(a.pools), func(i int) bool { return a.pools[i].End() > addr })
	if i < len(a.pools) && a.pools[i].Contains(addr) {
		return a.pools[i]
	}
	return nil
}

// ContainObject reports whether obj lies in one of the allocator's pools.
func (a *Allocator) ContainObject(obj mem.Addr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.findPoolLocked(obj) != nil
}

// IsLive reports whether obj is an allocated slot.
func (a *Allocator) IsLive(obj mem.Addr) bool {
	a.mu.RLock()
	r := a.runs[obj.AlignDown(RunSize)]
	a.mu.RUnlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotSize != 0 && r.isSlot(obj) && r.test(r.index(obj))
}

// ObjectSize returns the slot size of the run holding obj, or 0.
func (a *Allocator) ObjectSize(obj mem.Addr) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if r := a.runs[obj.AlignDown(RunSize)]; r != nil {
		return r.slotSize
	}
	return 0
}

// AllocatedBytes returns the bytes held by live slots.
func (a *Allocator) AllocatedBytes() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allocated
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.stats
	for i := range a.active {
		s.ActiveRuns += a.active[i].n
	}
	s.FreeRuns = a.free.n
	return s
}

// VisitPools calls fn for every registered pool in address order.
func (a *Allocator) VisitPools(fn func(start mem.Addr, size uint64)) {
	a.mu.RLock()
	pools := make([]mem.Pool, len(a.pools))
	for i, p := range a.pools {
		pools[i] = p.Pool
	}
	a.mu.RUnlock()
	for _, p := range pools {
		fn(p.Mem, p.Size)
	}
}

func (a *Allocator) removePoolLocked(p *pool) {
	for _, r := range p.runs {
		switch r.list {
		case listFree:
			a.free.remove(r)
		case listActive:
			cls, _, _ := classOf(r.slotSize, mem.DefaultAlignment)
			a.active[cls].remove(r)
		}
		a.allocated -= uint64(r.used) * r.slotSize
		delete(a.runs, r.start)
	}
	i := slices.Index(a.pools, p)
	a.pools = slices.Delete(a.pools, i, i+1)
	a.stats.Pools--
}

// VisitAndRemoveAllPools unregisters every pool and hands it to fn.
func (a *Allocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	pools := slices.Clone(a.pools)
	for _, p := range pools {
		a.removePoolLocked(p)
	}
	a.mu.Unlock()
	for _, p := range pools {
		fn(p.Mem, p.Size)
	}
}

// VisitAndRemoveFreePools unregisters every pool whose runs are all free and
// hands it to fn.
func (a *Allocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	var empty []*pool
	for _, p := range a.pools {
		if !slices.ContainsFunc(p.runs, func(r *run) bool { return r.list != listFree }) {
			empty = append(empty, p)
		}
	}
	for _, p := range empty {
		a.removePoolLocked(p)
	}
	a.mu.Unlock()
	for _, p := range empty {
		logger.Debug("runslots: free pool removed", "mem", p.Mem, "size", p.Size)
		fn(p.Mem, p.Size)
	}
}

// TrimUnused hands the pages of every fully free run, and of every pool tail
// not yet carved into runs, back to the OS. The runs stay registered. The
// allocator is locked for the duration so no run is reused mid-release.
func (a *Allocator) TrimUnused(ctx context.Context, rel trim.Releaser) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tr := trim.NewTracker(rel)
	for r := a.free.head; r != nil; r = r.next {
		// the free stack lives in the released pages
		r.mu.Lock()
		r.init(r.slotSize)
		r.mu.Unlock()
		tr.Add(r.start, RunSize)
	}
	for _, p := range a.pools {
		tr.Add(p.nextRun, p.End().Diff(p.nextRun))
	}
	err := tr.Flush(ctx)
	a.stats.TrimmedBytes += tr.Released()
	return err
}
