// Package pygote implements the allocator for objects shared across a fork.
//
// Before the fork objects come from a run-slots allocator. While forking the
// slots already owned are used up first, then objects are bump allocated from
// dedicated arenas whose liveness lives in side bitmaps. Once forked the run-slots state is frozen: its objects are copied
// into bitmaps as well, so later frees flip bits instead of writing the
// copy-on-write shared headers.
package pygote

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/joshuapare/gcheap/heap/bitmap"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/runslots"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// DefaultArenaSize is the size of each arena used while forking.
const DefaultArenaSize = 1 * format.MB

// Config configures an Allocator.
type Config struct {
	// Sizer reads object sizes for free accounting. Required.
	Sizer mem.ObjectSizer

	// PoolSize is the size of each pool added to the run-slots allocator.
	PoolSize uint64

	// ArenaSize is the size of each forking arena.
	ArenaSize uint64

	Stats mem.StatsRecorder
}

// trackedExtent is memory whose liveness is kept in a bitmap.
type trackedExtent struct {
	arena *mem.Arena // nil for run-slots pools
	live  *bitmap.Bitmap
}

// Allocator is safe for concurrent use.
type Allocator struct {
	mu    sync.RWMutex
	pm    *mem.PoolManager
	space *mem.Space
	cfg   Config
	rec   mem.StatsRecorder

	state    State
	rs       *runslots.Allocator
	rsPools  []mem.Pool
	extents  []trackedExtent // address ordered
	arenaCur *mem.Arena
}

// New returns an allocator in StateInit that draws pools from pm.
func New(pm *mem.PoolManager, cfg Config) (*Allocator, error) {
	if cfg.Sizer == nil {
		return nil, ErrNoSizer
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = runslots.DefaultPoolSize
	}
	if cfg.ArenaSize == 0 {
		cfg.ArenaSize = DefaultArenaSize
	}
	rec := cfg.Stats
	if rec == nil {
		rec = mem.NopStats{}
	}
	rsCfg := runslots.DefaultConfig()
	rsCfg.Stats = rec
	return &Allocator{
		pm:    pm,
		space: pm.Space(),
		cfg:   cfg,
		rec:   rec,
		rs:    runslots.New(pm.Space(), rsCfg),
	}, nil
}

// State returns the current state.
func (a *Allocator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// SetState advances the allocator. States only move forward; going back or
// staying put is an invariant violation. Entering StateForked snapshots the
// run-slots objects into bitmaps and returns the pages of unused runs to the
// OS.
func (a *Allocator) SetState(ctx context.Context, s State) error {
	a.mu.Lock()
	assert.That(s > a.state, "pygote: state %v -> %v", a.state, s)
	prev := a.state
	a.state = s
	if s == StateForked {
		a.arenaCur = nil
		a.trackRunSlotsLocked()
	}
	a.mu.Unlock()

	logger.Info("pygote: state changed", "from", prev, "to", s)
	if s == StateForked {
		return a.rs.TrimUnused(ctx, a.pm)
	}
	return nil
}

func (a *Allocator) trackRunSlotsLocked() {
	for _, p := range a.rsPools {
		live := bitmap.New(p.Mem, p.Size)
		a.rs.IterateOverObjectsInRange(live.Set, p.Mem, p.End().Sub(1))
		a.insertExtentLocked(trackedExtent{live: live})
	}
}

func (a *Allocator) insertExtentLocked(e trackedExtent) {
	i, _ := slices.BinarySearchFunc(a.extents, e.live.Begin(), func(x trackedExtent, addr mem.Addr) int {
		return cmp.Compare(x.live.Begin(), addr)
	})
	a.extents = slices.Insert(a.extents, i, e)
}

func (a *Allocator) extentOfLocked(addr mem.Addr) (trackedExtent, bool) {
	i, found := slices.BinarySearchFunc(a.extents, addr, func(x trackedExtent, addr mem.Addr) int {
		return cmp.Compare(x.live.Begin(), addr)
	})
	if !found {
		i--
	}
	if i < 0 || !a.extents[i].live.Covers(addr) {
		return trackedExtent{}, false
	}
	return a.extents[i], true
}

// Alloc returns a zeroed object or mem.Null. In StateInit the run-slots
// allocator is grown from the PoolManager as needed. In StateForking free
// run-slots are used first and arenas are taken from the PoolManager once
// those run out. StateForked allocates nothing.
func (a *Allocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateInit:
		return a.allocRunSlotsLocked(size, align)
	case StateForking:
		if obj := a.rs.Alloc(size, align); obj != mem.Null {
			return obj
		}
		return a.allocArenaLocked(size, align)
	case StateForked:
		return mem.Null
	}
	assert.Unreachable("pygote: state %d", a.state)
	return mem.Null
}

func (a *Allocator) allocRunSlotsLocked(size uint64, align mem.Alignment) mem.Addr {
	if obj := a.rs.Alloc(size, align); obj != mem.Null {
		return obj
	}
	if !runslots.CanAlloc(size, align) {
		return mem.Null
	}
	p := a.pm.AllocPoolAligned(a.cfg.PoolSize, runslots.RunSize, mem.SpaceObject, mem.AllocatorPygote, a)
	if p.IsNull() {
		return mem.Null
	}
	if err := a.rs.AddMemoryPool(p.Mem, p.Size); err != nil {
		logger.Warn("pygote: run-slots rejected pool", "mem", p.Mem, "err", err)
		a.pm.FreePool(p)
		return mem.Null
	}
	a.rsPools = append(a.rsPools, p)
	return a.rs.Alloc(size, align)
}

func (a *Allocator) allocArenaLocked(size uint64, align mem.Alignment) mem.Addr {
	size = format.AlignObject(size)
	if size == 0 {
		return mem.Null
	}
	var obj mem.Addr
	if a.arenaCur != nil {
		obj = a.arenaCur.Alloc(size, align)
	}
	if obj == mem.Null {
		arenaSize := max(a.cfg.ArenaSize, format.AlignPage(size+align.Bytes()))
		ar := a.pm.AllocArena(arenaSize, mem.SpaceObject, mem.AllocatorPygote, a)
		if ar == nil {
			return mem.Null
		}
		a.insertExtentLocked(trackedExtent{arena: ar, live: bitmap.New(ar.Start(), ar.Size())})
		a.arenaCur = ar
		logger.Debug("pygote: arena added", "mem", ar.Start(), "size", ar.Size())
		obj = ar.Alloc(size, align)
		assert.That(obj != mem.Null, "pygote: fresh arena of %d cannot hold %d", arenaSize, size)
	}
	e, _ := a.extentOfLocked(obj)
	e.live.Set(obj)
	a.space.Zero(obj, size)
	a.rec.RecordAllocateObject(size, mem.SpaceObject)
	mem.Publish()
	return obj
}

// CanAllocNonMovable reports whether Alloc could serve the request in the
// current state, given enough memory.
func (a *Allocator) CanAllocNonMovable(size uint64, align mem.Alignment) bool {
	switch a.State() {
	case StateInit:
		return runslots.CanAlloc(size, align)
	case StateForking:
		return size > 0
	}
	return false
}

// Free releases obj. Objects tracked by a bitmap have their bit cleared;
// others go back to the run-slots allocator.
func (a *Allocator) Free(obj mem.Addr) {
	a.mu.RLock()
	e, tracked := a.extentOfLocked(obj)
	a.mu.RUnlock()

	if !tracked {
		a.rs.Free(obj)
		return
	}
	if !e.live.AtomicTestAndClear(obj) {
		logger.Warn("pygote: free of dead or foreign object", "addr", obj)
		return
	}
	a.rec.RecordFreeObject(a.cfg.Sizer.ObjectSize(obj), mem.SpaceObject)
}

// Collect frees every object checker reports dead.
func (a *Allocator) Collect(checker mem.DeathChecker) {
	a.IterateOverObjects(func(obj mem.Addr) {
		if checker(obj) == mem.ObjectDead {
			a.Free(obj)
		}
	})
}

// IterateOverObjects visits every live object: run-slots objects first while
// they are not yet tracked, then every bitmap in address order.
func (a *Allocator) IterateOverObjects(visit mem.ObjectVisitor) {
	a.mu.RLock()
	forked := a.state == StateForked
	extents := slices.Clone(a.extents)
	a.mu.RUnlock()

	if !forked {
		a.rs.IterateOverObjects(visit)
	}
	for _, e := range extents {
		e.live.IterateOverMarked(visit)
	}
}

// ContainObject reports whether obj lies in memory owned by the allocator.
func (a *Allocator) ContainObject(obj mem.Addr) bool {
	a.mu.RLock()
	_, tracked := a.extentOfLocked(obj)
	a.mu.RUnlock()
	return tracked || a.rs.ContainObject(obj)
}

// IsLive reports whether obj is allocated.
func (a *Allocator) IsLive(obj mem.Addr) bool {
	a.mu.RLock()
	e, tracked := a.extentOfLocked(obj)
	a.mu.RUnlock()
	if tracked {
		return e.live.Test(obj)
	}
	return a.rs.IsLive(obj)
}

// VisitAndRemoveAllPools drops every pool and arena and hands each to fn.
func (a *Allocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	var arenas []*mem.Arena
	for _, e := range a.extents {
		if e.arena != nil {
			arenas = append(arenas, e.arena)
		}
	}
	a.extents = nil
	a.arenaCur = nil
	a.rsPools = nil
	a.mu.Unlock()

	a.rs.VisitAndRemoveAllPools(fn)
	for _, ar := range arenas {
		fn(ar.Start(), ar.Size())
	}
}

// TrimUnused returns the pages of unused runs to the OS.
func (a *Allocator) TrimUnused(ctx context.Context) error {
	return a.rs.TrimUnused(ctx, a.pm)
}
