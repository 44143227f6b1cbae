package objalloc

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/pygote"
	"github.com/joshuapare/gcheap/heap/region"
	"github.com/joshuapare/gcheap/heap/tlab"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// regionStrategy is implemented by strategies that keep objects in regions.
type regionStrategy interface {
	compact(from, to region.Flags, useMarked bool, checker mem.DeathChecker, moved mem.MoveHandler) int
	promoteYoung(checker mem.DeathChecker, alive mem.ObjectVisitor) int
	regionStats() RegionStats
	pin(obj mem.Addr, on bool) bool
}

// ObjectAllocator is the heap's allocation entry point. It is safe for
// concurrent use; a Thread and its TLAB belong to one goroutine.
type ObjectAllocator struct {
	pm       *mem.PoolManager
	space    *mem.Space
	opts     Options
	sizer    mem.ObjectSizer
	init     mem.ObjectInitializer // nil when the sizer cannot stamp headers
	strategy Strategy
	pygote   *pygote.Allocator
	cm       *crossing.Map
	threads  *Threads
	tlabs    tlabSizer
}

// New builds an allocator of kind over pm. sizer reads object sizes; if it
// also implements mem.ObjectInitializer, Allocate stamps headers with it.
func New(pm *mem.PoolManager, kind Kind, sizer mem.ObjectSizer, opts Options) (*ObjectAllocator, error) {
	if sizer == nil {
		return nil, ErrNoSizer
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Stats == nil {
		opts.Stats = mem.NopStats{}
	}
	if opts.HeapSize != 0 {
		pm.SetLimit(opts.HeapSize)
	}

	oa := &ObjectAllocator{
		pm:      pm,
		space:   pm.Space(),
		opts:    opts,
		sizer:   sizer,
		threads: newThreads(pm.Space(), opts.TLABSize),
	}
	oa.init, _ = sizer.(mem.ObjectInitializer)
	if opts.UseCrossingMap {
		oa.cm = crossing.New(oa.space.Base(), oa.space.Size())
	}

	switch kind {
	case KindNoGen:
		oa.strategy = newNoGen(pm, oa.cm, opts)
	case KindGen:
		g, err := newGen(pm, sizer, oa.cm, opts)
		if err != nil {
			return nil, err
		}
		oa.strategy = g
	case KindG1:
		oa.strategy = newG1(pm, sizer, opts)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%d", kind)
	}

	maxTLAB := min(opts.MaxTLABSize, oa.strategy.MaxTLABSize())
	oa.tlabs = tlabSizer{init: min(opts.TLABSize, maxTLAB), max: maxTLAB, adaptive: opts.AdaptiveTLAB}

	if opts.UsePygote {
		p, err := pygote.New(pm, pygote.Config{Sizer: sizer, PoolSize: opts.RunSlotsPoolSize, Stats: opts.Stats})
		if err != nil {
			return nil, errors.Wrap(err, "objalloc: pygote space")
		}
		oa.pygote = p
	}
	logger.Info("objalloc: heap ready", "kind", kind, "limit", pm.Limit(), "pygote", opts.UsePygote, "crossing_map", opts.UseCrossingMap)
	return oa, nil
}

func (oa *ObjectAllocator) Kind() Kind                    { return oa.strategy.Kind() }
func (oa *ObjectAllocator) Options() Options              { return oa.opts }
func (oa *ObjectAllocator) Threads() *Threads             { return oa.threads }
func (oa *ObjectAllocator) PoolManager() *mem.PoolManager { return oa.pm }

// Pygote returns the pygote space, or nil when it is disabled.
func (oa *ObjectAllocator) Pygote() *pygote.Allocator { return oa.pygote }

// CrossingMap returns the crossing map, or nil when it is disabled.
func (oa *ObjectAllocator) CrossingMap() *crossing.Map { return oa.cm }

// Allocate returns a zeroed movable object of size bytes, or mem.Null.
// When thread is given and the heap has a young space the request is served
// from the thread's TLAB, refilling it when it runs dry. Pinned objects and
// objects too big for a TLAB take the shared path.
func (oa *ObjectAllocator) Allocate(size uint64, align mem.Alignment, thread *Thread, init InitPolicy, pinned bool) mem.Addr {
	if size == 0 {
		return mem.Null
	}
	obj := mem.Null
	if thread != nil && !pinned {
		obj = oa.allocTLAB(size, align, thread)
	}
	if obj == mem.Null {
		obj = oa.strategy.Alloc(size, align, pinned)
	}
	return oa.initObject(obj, size, init)
}

// allocTLAB tries thread's TLAB. The TLAB is refilled only for objects
// small enough that a fresh one wastes at most half its size.
func (oa *ObjectAllocator) allocTLAB(size uint64, align mem.Alignment, thread *Thread) mem.Addr {
	if align != mem.DefaultAlignment || oa.tlabs.max == 0 {
		return mem.Null
	}
	obj := thread.tlab.Alloc(size)
	if obj == mem.Null {
		if format.AlignObject(size) > oa.tlabs.next(thread)/2 || oa.CreateNewTLAB(thread) == nil {
			return mem.Null
		}
		obj = thread.tlab.Alloc(size)
	}
	if obj != mem.Null {
		oa.opts.Stats.RecordAllocateObject(format.AlignObject(size), mem.SpaceObject)
	}
	return obj
}

func (oa *ObjectAllocator) initObject(obj mem.Addr, size uint64, init InitPolicy) mem.Addr {
	if obj != mem.Null && init == InitHeader && oa.init != nil {
		oa.init.InitObject(obj, size)
	}
	return obj
}

// AllocateNonMovable returns a zeroed object that will never move, or
// mem.Null. While the pygote space accepts objects it serves them.
func (oa *ObjectAllocator) AllocateNonMovable(size uint64, align mem.Alignment, init InitPolicy) mem.Addr {
	if size == 0 {
		return mem.Null
	}
	obj := mem.Null
	if oa.pygote != nil && oa.pygote.CanAllocNonMovable(size, align) {
		obj = oa.pygote.Alloc(size, align)
	}
	if obj == mem.Null {
		obj = oa.strategy.AllocNonMovable(size, align)
	}
	return oa.initObject(obj, size, init)
}

// ownedByPygote reports whether obj lies in memory the pygote space took
// from the PoolManager.
func (oa *ObjectAllocator) ownedByPygote(obj mem.Addr) bool {
	if oa.pygote == nil {
		return false
	}
	info, ok := oa.pm.AllocatorInfo(obj)
	return ok && info.Type == mem.AllocatorPygote
}

// Free releases obj. Young and region objects are reclaimed in bulk and
// are left alone. Addresses the heap does not own are logged and ignored.
func (oa *ObjectAllocator) Free(obj mem.Addr) {
	if oa.ownedByPygote(obj) {
		oa.pygote.Free(obj)
		return
	}
	if !oa.strategy.Free(obj) {
		logger.Warn("objalloc: free of foreign memory", "addr", obj, "kind", oa.Kind())
	}
}

// Collect frees every object checker reports dead in the spaces mode
// covers. An undefined mode is an invariant violation.
func (oa *ObjectAllocator) Collect(checker mem.DeathChecker, mode CollectMode) {
	checkCollectMode(mode)
	if oa.pygote != nil && (mode != CollectMinor || !oa.strategy.HasYoungSpace()) {
		oa.pygote.Collect(checker)
	}
	oa.strategy.Collect(checker, mode)
}

// IterateOverObjects visits every object in the heap.
func (oa *ObjectAllocator) IterateOverObjects(visit mem.ObjectVisitor) {
	if oa.pygote != nil {
		oa.pygote.IterateOverObjects(visit)
	}
	oa.strategy.IterateOverObjects(visit)
}

// IterateOverObjectsInRange visits every object starting in [left, right].
// Humongous objects that merely overlap the range are visited too.
func (oa *ObjectAllocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	if oa.pygote != nil {
		oa.pygote.IterateOverObjects(func(obj mem.Addr) {
			if obj >= left && obj <= right {
				visit(obj)
			}
		})
	}
	oa.strategy.IterateOverObjectsInRange(visit, left, right)
}

func (oa *ObjectAllocator) ContainObject(obj mem.Addr) bool {
	if oa.ownedByPygote(obj) {
		return oa.pygote.ContainObject(obj)
	}
	return oa.strategy.ContainObject(obj)
}

func (oa *ObjectAllocator) IsLive(obj mem.Addr) bool {
	if oa.ownedByPygote(obj) {
		return oa.pygote.IsLive(obj)
	}
	return oa.strategy.IsLive(obj)
}

// CreateNewTLAB gives thread a fresh TLAB sized by the TLAB policy and
// returns it, or returns nil and leaves the thread's TLAB alone.
func (oa *ObjectAllocator) CreateNewTLAB(thread *Thread) *tlab.TLAB {
	if oa.tlabs.max == 0 {
		return nil
	}
	size := oa.tlabs.next(thread)
	t := oa.strategy.CreateTLAB(size)
	if t == nil {
		logger.Debug("objalloc: tlab refused", "thread", thread.id, "size", size)
		return nil
	}
	oa.tlabs.retire(thread)
	thread.install(t)
	return t
}

func (oa *ObjectAllocator) HasYoungSpace() bool { return oa.strategy.HasYoungSpace() }

func (oa *ObjectAllocator) IsObjectInYoungSpace(obj mem.Addr) bool {
	return oa.strategy.IsObjectInYoungSpace(obj)
}

// IsObjectInNonMovableSpace reports whether obj can never move. Pygote
// objects count as non-movable.
func (oa *ObjectAllocator) IsObjectInNonMovableSpace(obj mem.Addr) bool {
	return oa.ownedByPygote(obj) || oa.strategy.IsObjectInNonMovableSpace(obj)
}

// ResetYoungAllocator drops every young object. Each thread's TLAB is
// retired first. Mutators must be stopped.
func (oa *ObjectAllocator) ResetYoungAllocator() {
	if !oa.strategy.HasYoungSpace() {
		return
	}
	oa.threads.Each(func(t *Thread) {
		oa.tlabs.retire(t)
		t.clearTLAB(oa.space)
	})
	oa.strategy.ResetYoungAllocator()
	logger.Debug("objalloc: young space reset", "kind", oa.Kind())
}

// CompactRegions evacuates the live objects of every region flagged from
// into regions flagged to and frees the emptied regions. Liveness comes
// from mark bitmaps when useMarked is set and from checker otherwise. It
// returns the number of regions freed. Compacting eden detaches every
// thread's TLAB. Mutators must be stopped.
func (oa *ObjectAllocator) CompactRegions(from, to region.Flags, useMarked bool, checker mem.DeathChecker, moved mem.MoveHandler) (int, error) {
	rs, ok := oa.strategy.(regionStrategy)
	if !ok {
		return 0, errors.Wrapf(ErrNotRegionBased, "compact on %v heap", oa.Kind())
	}
	if from&region.FlagEden != 0 {
		oa.threads.Each(func(t *Thread) {
			oa.tlabs.retire(t)
			t.clearTLAB(oa.space)
		})
	}
	return rs.compact(from, to, useMarked, checker, moved), nil
}

// PromoteYoungRegions turns every young region old without copying. With a
// checker each region's live bitmap is rebuilt and alive is called for
// every surviving object. It returns the number of regions promoted.
func (oa *ObjectAllocator) PromoteYoungRegions(checker mem.DeathChecker, alive mem.ObjectVisitor) (int, error) {
	rs, ok := oa.strategy.(regionStrategy)
	if !ok {
		return 0, errors.Wrapf(ErrNotRegionBased, "promote on %v heap", oa.Kind())
	}
	oa.threads.Each(func(t *Thread) { t.clearTLAB(oa.space) })
	return rs.promoteYoung(checker, alive), nil
}

// PinObject stops obj from moving until UnpinObject is called as often as
// PinObject was. Objects that never move, pygote ones included, need no pin.
func (oa *ObjectAllocator) PinObject(obj mem.Addr) error {
	return oa.setPinned(obj, true)
}

// UnpinObject releases one PinObject of obj.
func (oa *ObjectAllocator) UnpinObject(obj mem.Addr) error {
	return oa.setPinned(obj, false)
}

func (oa *ObjectAllocator) setPinned(obj mem.Addr, on bool) error {
	rs, ok := oa.strategy.(regionStrategy)
	if !ok {
		return errors.Wrapf(ErrNotRegionBased, "pin on %v heap", oa.Kind())
	}
	if oa.ownedByPygote(obj) {
		return nil
	}
	if !rs.pin(obj, on) {
		return errors.Wrapf(ErrForeignObject, "pin of %v", obj)
	}
	return nil
}

// RegionStats describes the regions of a region-based heap.
func (oa *ObjectAllocator) RegionStats() (RegionStats, error) {
	rs, ok := oa.strategy.(regionStrategy)
	if !ok {
		return RegionStats{}, errors.Wrapf(ErrNotRegionBased, "%v heap", oa.Kind())
	}
	return rs.regionStats(), nil
}

// VisitAndRemoveFreePools hands every pool that holds no object back to the
// PoolManager. fn, if set, sees each pool first.
func (oa *ObjectAllocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	oa.strategy.VisitAndRemoveFreePools(oa.returnPool(fn))
}

// TrimUnused gives the unused pages of the frozen pygote space back to the OS.
func (oa *ObjectAllocator) TrimUnused(ctx context.Context) error {
	if oa.pygote == nil || oa.pygote.State() != pygote.StateForked {
		return nil
	}
	return oa.pygote.TrimUnused(ctx)
}

// Close returns every pool, live objects included, to the PoolManager. The
// allocator must not be used afterwards.
func (oa *ObjectAllocator) Close() {
	oa.threads.Each(func(t *Thread) { t.clearTLAB(oa.space) })
	release := oa.returnPool(nil)
	oa.strategy.VisitAndRemoveAllPools(release)
	if oa.pygote != nil {
		oa.pygote.VisitAndRemoveAllPools(release)
	}
	logger.Info("objalloc: heap closed", "kind", oa.Kind(), "used", oa.pm.Used())
}

func (oa *ObjectAllocator) returnPool(fn func(start mem.Addr, size uint64)) func(start mem.Addr, size uint64) {
	return func(start mem.Addr, size uint64) {
		if fn != nil {
			fn(start, size)
		}
		oa.pm.FreePool(mem.Pool{Mem: start, Size: size})
	}
}

// Stats is a snapshot of heap occupancy.
type Stats struct {
	Kind           string `json:"kind"`
	Used           uint64 `json:"used"`
	Peak           uint64 `json:"peak"`
	Limit          uint64 `json:"limit"`
	Pools          int    `json:"pools"`
	AllocatedBytes uint64 `json:"allocated_bytes"`
	YoungBytes     uint64 `json:"young_bytes"`
	Threads        int    `json:"threads"`
	PygoteState    string `json:"pygote_state,omitempty"`
}

// Stats returns a snapshot of heap occupancy.
func (oa *ObjectAllocator) Stats() Stats {
	st := Stats{
		Kind:           oa.Kind().String(),
		Used:           oa.pm.Used(),
		Peak:           oa.pm.Peak(),
		Limit:          oa.pm.Limit(),
		Pools:          oa.pm.PoolCount(),
		AllocatedBytes: oa.strategy.AllocatedBytes(),
		YoungBytes:     oa.strategy.YoungBytes(),
		Threads:        oa.threads.Len(),
	}
	if oa.pygote != nil {
		st.PygoteState = oa.pygote.State().String()
	}
	return st
}
