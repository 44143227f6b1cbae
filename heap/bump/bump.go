// Package bump implements a bump-pointer allocator over one arena, with an
// optional tail reserved for thread-local allocation buffers.
//
// The arena is split once, at construction:
//
//	[ bump objects ... ->          |   <- TLABs carved downward ]
//	start                  limit                               end
//
// limit is end - TLABsMaxCount*TLABSize (never below start). Alloc never
// crosses limit and CreateNewTLAB never crosses the bump pointer, so the two
// never overlap. Nothing is ever freed individually; Reset empties the whole
// arena at once.
package bump

import (
	"sync"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// Config configures an Allocator.
type Config struct {
	// TLABsMaxCount is the number of TLABs that may exist at once (0 disables TLABs).
	TLABsMaxCount int

	// TLABSize is the largest TLAB CreateNewTLAB hands out.
	TLABSize uint64

	// Sizer reads object sizes for iteration. Required.
	Sizer mem.ObjectSizer

	CrossingMap *crossing.Map
	Stats       mem.StatsRecorder
	SpaceType   mem.SpaceType
}

// Allocator is a bump-pointer allocator. Alloc and CreateNewTLAB are
// serialised by one mutex; allocation inside a returned TLAB is not.
type Allocator struct {
	mu    sync.Mutex
	space *mem.Space
	pool  mem.Pool
	arena *mem.Arena
	cfg   Config
	rec   mem.StatsRecorder

	tlabs    []*tlab.TLAB
	tlabTail mem.Addr
}

// New returns an allocator over pool.
func New(space *mem.Space, pool mem.Pool, cfg Config) (*Allocator, error) {
	if cfg.Sizer == nil {
		return nil, ErrNoSizer
	}
	if (cfg.TLABsMaxCount == 0) != (cfg.TLABSize == 0) {
		return nil, ErrBadTLABConfig
	}
	cfg.TLABSize = format.AlignObject(cfg.TLABSize)
	rec := cfg.Stats
	if rec == nil {
		rec = mem.NopStats{}
	}
	a := &Allocator{
		space: space,
		pool:  pool,
		cfg:   cfg,
		rec:   rec,
	}
	a.initArena()
	if a.cfg.CrossingMap != nil {
		a.cfg.CrossingMap.InitializeForMemory(pool.Mem, pool.Size)
	}
	return a, nil
}

func (a *Allocator) initArena() {
	a.arena = mem.NewArena(a.pool.Mem, a.pool.Size)
	reserved := uint64(a.cfg.TLABsMaxCount) * a.cfg.TLABSize
	limit := a.pool.Mem
	if reserved < a.pool.Size {
		limit = a.pool.End().Sub(reserved)
	}
	a.arena.Shrink(limit)
	a.tlabTail = a.pool.End()
}

// Alloc returns a zeroed object, or mem.Null when the non-TLAB part of the
// arena is exhausted.
func (a *Allocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	size = format.AlignObject(size)
	if size == 0 {
		return mem.Null
	}
	a.mu.Lock()
	prev := a.arena.Cur()
	p := a.arena.Alloc(size, align)
	a.mu.Unlock()
	if p == mem.Null {
		return mem.Null
	}
	// Alignment gaps must read as zero for WalkObjects.
	a.space.Zero(prev, p.Add(size).Diff(prev))
	if a.cfg.CrossingMap != nil {
		a.cfg.CrossingMap.AddObject(p, size)
	}
	a.rec.RecordAllocateObject(size, a.cfg.SpaceType)
	mem.Publish()
	return p
}

// CreateNewTLAB carves a TLAB of size bytes from the arena tail. It returns
// nil when TLABsMaxCount TLABs exist already, when size exceeds TLABSize, or
// when the tail would run into bump-allocated memory.
func (a *Allocator) CreateNewTLAB(size uint64) *tlab.TLAB {
	size = format.AlignObject(size)
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.tlabs) >= a.cfg.TLABsMaxCount || size == 0 || size > a.cfg.TLABSize {
		return nil
	}
	if a.tlabTail.Diff(a.arena.Cur()) < size {
		return nil
	}
	start := a.tlabTail.Sub(size)
	t := tlab.New(a.space)
	t.Fill(start, size)
	a.tlabTail = start
	a.tlabs = append(a.tlabs, t)
	logger.Debug("bump: tlab created", "start", start, "size", size, "count", len(a.tlabs))
	return t
}

// Reset empties the arena and detaches every TLAB. The crossing map entries
// for the arena are dropped wholesale.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.tlabs {
		t.Reset()
	}
	a.tlabs = a.tlabs[:0]
	a.initArena()
	if cm := a.cfg.CrossingMap; cm != nil {
		cm.RemoveForMemory(a.pool.Mem, a.pool.Size)
		cm.InitializeForMemory(a.pool.Mem, a.pool.Size)
	}
}

// IterateOverObjects visits every bump-allocated object and then every object
// in each TLAB. Objects must have initialised headers.
func (a *Allocator) IterateOverObjects(visit mem.ObjectVisitor) {
	a.mu.Lock()
	start, cur := a.arena.Start(), a.arena.Cur()
	tlabs := make([]mem.MemRange, len(a.tlabs))
	for i, t := range a.tlabs {
		tlabs[i] = t.Range()
	}
	a.mu.Unlock()

	tlab.WalkObjects(a.cfg.Sizer, start, cur, visit)
	for _, r := range tlabs {
		tlab.WalkObjects(a.cfg.Sizer, r.Start, r.End, visit)
	}
}

// IterateOverObjectsInRange visits every object starting in [left, right].
// With a crossing map the bump part is entered at the first object the map
// records for the range.
func (a *Allocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	a.mu.Lock()
	start, cur := a.arena.Start(), a.arena.Cur()
	var tlabs []mem.MemRange
	for _, t := range a.tlabs {
		if r := t.Range(); r.Start <= right && r.End > left {
			tlabs = append(tlabs, r)
		}
	}
	a.mu.Unlock()

	inRange := func(obj mem.Addr) {
		if obj >= left && obj <= right {
			visit(obj)
		}
	}
	if left < cur && right >= start {
		from := start
		if cm := a.cfg.CrossingMap; cm != nil {
			if obj := cm.FindFirstObject(max(left, start), min(right, cur-1)); obj != mem.Null && obj >= start {
				from = obj
			}
		}
		tlab.WalkObjects(a.cfg.Sizer, from, min(cur, right.Add(1)), inRange)
	}
	for _, r := range tlabs {
		tlab.WalkObjects(a.cfg.Sizer, r.Start, min(r.End, right.Add(1)), inRange)
	}
}

// ContainObject reports whether obj was handed out by Alloc or by one of the
// current TLABs.
func (a *Allocator) ContainObject(obj mem.Addr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.arena.Contains(obj) {
		return true
	}
	for _, t := range a.tlabs {
		if t.Contains(obj) {
			return true
		}
	}
	return false
}

// IsLive reports whether obj is allocated. Bump objects live until Reset.
func (a *Allocator) IsLive(obj mem.Addr) bool { return a.ContainObject(obj) }

// VisitAndRemoveAllPools resets the allocator and hands its pool to fn. The
// allocator must not be used afterwards.
func (a *Allocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	a.Reset()
	fn(a.pool.Mem, a.pool.Size)
}

// TLABsCount returns the number of live TLABs.
func (a *Allocator) TLABsCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tlabs)
}

// OccupiedSize returns the bytes handed out by Alloc plus the bytes reserved
// by live TLABs.
func (a *Allocator) OccupiedSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.arena.OccupiedSize() + a.pool.End().Diff(a.tlabTail)
}

// MemRange returns the whole arena.
func (a *Allocator) MemRange() mem.MemRange {
	return mem.MemRange{Start: a.pool.Mem, End: a.pool.End()}
}
