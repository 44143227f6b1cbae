// Package region implements region-based allocation for a generational,
// moving collector.
//
// Memory is split into size-aligned regions handed out by a shared Pool. A
// Space groups the regions of one allocator and caches empty ones. The
// Allocator bump-allocates young objects into one shared eden region, old and
// pinned objects into short per-kind queues of regions, and gives oversized
// objects a region of their own. Compaction copies live objects out of a set
// of regions into fresh ones.
package region

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// Kind selects the generation an object is allocated into.
type Kind uint8

const (
	KindEden Kind = iota
	KindOld
)

func (k Kind) flag() Flags {
	if k == KindEden {
		return FlagEden
	}
	return FlagOld
}

// DefaultQueueLength bounds the old and pinned region queues.
const DefaultQueueLength = 4

// Config configures an Allocator.
type Config struct {
	// Sizer reads object sizes for iteration and compaction. Required.
	Sizer mem.ObjectSizer

	// QueueLength bounds the old and pinned region queues.
	QueueLength int

	// MaxYoungBytes caps the eden regions mutators may fill (0 for no cap).
	// Compaction into eden ignores it.
	MaxYoungBytes uint64

	Stats     mem.StatsRecorder
	SpaceType mem.SpaceType
}

// Allocator allocates objects into the regions of one Space. It is safe for
// concurrent use.
type Allocator struct {
	space *Space
	cfg   Config
	rec   mem.StatsRecorder

	regionLock sync.Mutex // serialises eden region replacement
	eden       atomic.Pointer[Region]

	queueMu     sync.Mutex
	oldQueue    []*Region
	pinnedQueue []*Region

	retainedMu sync.Mutex
	retained   []*Region // eden regions with room for more TLABs, by FreeBytes
}

// NewAllocator returns an allocator over space.
func NewAllocator(space *Space, cfg Config) *Allocator {
	assert.That(cfg.Sizer != nil, "region: allocator needs an object sizer")
	if cfg.QueueLength <= 0 {
		cfg.QueueLength = DefaultQueueLength
	}
	rec := cfg.Stats
	if rec == nil {
		rec = mem.NopStats{}
	}
	return &Allocator{space: space, cfg: cfg, rec: rec}
}

// Space returns the allocator's region space.
func (a *Allocator) Space() *Space { return a.space }

// MaxRegularSize is the largest object served from a shared region.
func (a *Allocator) MaxRegularSize() uint64 { return a.space.RegionSize() }

// Alloc returns a zeroed object in a region of kind, or mem.Null when no new
// region can be obtained. Pinned objects go to dedicated old regions whose
// pin count is raised. Objects above MaxRegularSize get a region of their own.
func (a *Allocator) Alloc(size uint64, align mem.Alignment, kind Kind, pinned bool) mem.Addr {
	size = format.AlignObject(size)
	if size == 0 {
		return mem.Null
	}
	var obj mem.Addr
	var r *Region
	switch {
	case size+align.Bytes() > a.MaxRegularSize():
		obj, r = a.allocLarge(size, align, kind)
	case pinned:
		obj, r = a.allocQueued(&a.pinnedQueue, size, align, FlagOld|FlagPinned)
	case kind == KindEden:
		obj, r = a.allocEden(size, align, true)
	default:
		obj, r = a.allocQueued(&a.oldQueue, size, align, FlagOld)
	}
	if obj == mem.Null {
		return mem.Null
	}
	if pinned {
		r.PinObject()
	}
	if live := r.LiveBitmap(); live != nil {
		live.Set(obj)
	}
	a.rec.RecordAllocateObject(size, a.cfg.SpaceType)
	mem.Publish()
	return obj
}

// youngFull reports whether another eden region would exceed MaxYoungBytes.
func (a *Allocator) youngFull() bool {
	limit := a.cfg.MaxYoungBytes
	return limit != 0 && a.space.YoungBytes()+a.space.RegionSize() > limit
}

func (a *Allocator) allocEden(size uint64, align mem.Alignment, bounded bool) (mem.Addr, *Region) {
	for {
		cur := a.eden.Load()
		if cur != nil {
			if obj := cur.AtomicAlloc(size, align); obj != mem.Null {
				return obj, cur
			}
		}
		a.regionLock.Lock()
		if a.eden.Load() != cur {
			// someone else replaced it
			a.regionLock.Unlock()
			continue
		}
		if bounded && a.youngFull() {
			a.regionLock.Unlock()
			return mem.Null, nil
		}
		r := a.space.NewRegion(a.space.RegionSize(), FlagEden)
		if r == nil {
			a.regionLock.Unlock()
			return mem.Null, nil
		}
		a.eden.Store(r)
		a.regionLock.Unlock()
	}
}

func (a *Allocator) allocQueued(queue *[]*Region, size uint64, align mem.Alignment, flags Flags) (mem.Addr, *Region) {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()
	for _, r := range *queue {
		if obj := r.AtomicAlloc(size, align); obj != mem.Null {
			return obj, r
		}
	}
	r := a.space.NewRegion(a.space.RegionSize(), flags)
	if r == nil {
		return mem.Null, nil
	}
	if len(*queue) >= a.cfg.QueueLength {
		*queue = slices.Delete(*queue, 0, 1)
	}
	*queue = append(*queue, r)
	return r.AtomicAlloc(size, align), r
}

func (a *Allocator) allocLarge(size uint64, align mem.Alignment, kind Kind) (mem.Addr, *Region) {
	r := a.space.NewRegion(RegionSize(size, a.space.RegionSize()), kind.flag()|FlagLargeObject)
	if r == nil {
		return mem.Null, nil
	}
	obj := r.Alloc(size, align)
	assert.That(obj == r.begin, "region: large object at %v in %v", obj, r)
	return obj, r
}

// CreateTLAB returns a TLAB of size bytes in young space. A retained region
// with just enough room is preferred, then the current eden region, then a
// fresh region. It returns nil when size exceeds the region size or no
// region can be obtained.
func (a *Allocator) CreateTLAB(size uint64) *tlab.TLAB {
	size = format.AlignObject(size)
	if size == 0 || size > a.space.RegionSize() {
		return nil
	}
	if t := a.tlabFromRetained(size); t != nil {
		return t
	}
	if cur := a.eden.Load(); cur != nil {
		if t := cur.CreateTLAB(size); t != nil {
			cur.AddFlag(FlagMixedTLAB)
			return t
		}
	}
	if a.youngFull() {
		return nil
	}
	r := a.space.NewRegion(a.space.RegionSize(), FlagEden|FlagTLAB)
	if r == nil {
		return nil
	}
	t := r.CreateTLAB(size)
	a.retain(r)
	logger.Debug("region: tlab region created", "region", r, "tlab", size)
	return t
}

func (a *Allocator) tlabFromRetained(size uint64) *tlab.TLAB {
	a.retainedMu.Lock()
	defer a.retainedMu.Unlock()
	i, _ := slices.BinarySearchFunc(a.retained, size, func(r *Region, n uint64) int {
		return cmp.Compare(r.FreeBytes(), n)
	})
	if i == len(a.retained) {
		return nil
	}
	r := a.retained[i]
	a.retained = slices.Delete(a.retained, i, i+1)
	t := r.CreateTLAB(size)
	assert.That(t != nil, "region: retained %v lost its room", r)
	a.retainLocked(r)
	return t
}

func (a *Allocator) retain(r *Region) {
	a.retainedMu.Lock()
	a.retainLocked(r)
	a.retainedMu.Unlock()
}

func (a *Allocator) retainLocked(r *Region) {
	free := r.FreeBytes()
	if free < format.ObjectAlignment {
		return
	}
	i, _ := slices.BinarySearchFunc(a.retained, free, func(r *Region, n uint64) int {
		return cmp.Compare(r.FreeBytes(), n)
	})
	a.retained = slices.Insert(a.retained, i, r)
}

// IterateOverObjects visits every object in every region.
func (a *Allocator) IterateOverObjects(visit mem.ObjectVisitor) {
	a.space.IterateRegions(func(r *Region) {
		r.IterateOverObjects(a.cfg.Sizer, visit)
	})
}

// IterateOverObjectsInRange visits every object that starts in [left, right].
func (a *Allocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	for _, r := range a.space.Regions(0) {
		if r.Top() <= left || r.begin > right {
			continue
		}
		r.IterateOverObjects(a.cfg.Sizer, func(obj mem.Addr) {
			if obj >= left && obj <= right {
				visit(obj)
			}
		})
	}
}

// ContainObject reports whether obj lies below Top in one of the space's regions.
func (a *Allocator) ContainObject(obj mem.Addr) bool {
	r := a.space.AddrToRegion(obj)
	return r != nil && obj < r.Top()
}

// PinObject keeps obj in place: its region is skipped by compaction and
// survives ResetYoungAllocator until every pin is released.
func (a *Allocator) PinObject(obj mem.Addr) {
	r := a.space.AddrToRegion(obj)
	assert.That(r != nil && obj < r.Top(), "region: pin of foreign object %v", obj)
	r.PinObject()
}

// UnpinObject releases one PinObject of obj.
func (a *Allocator) UnpinObject(obj mem.Addr) {
	r := a.space.AddrToRegion(obj)
	assert.That(r != nil && obj < r.Top(), "region: unpin of foreign object %v", obj)
	r.UnpinObject()
}

// IsLive reports whether obj is live. Regions with a live bitmap answer from
// it; in others every allocated object is live.
func (a *Allocator) IsLive(obj mem.Addr) bool {
	r := a.space.AddrToRegion(obj)
	if r == nil || obj >= r.Top() {
		return false
	}
	if live := r.LiveBitmap(); live != nil {
		return live.Test(obj)
	}
	return true
}

// IsInYoungSpace reports whether obj lies in an eden region.
func (a *Allocator) IsInYoungSpace(obj mem.Addr) bool {
	r := a.space.AddrToRegion(obj)
	return r != nil && r.IsYoung()
}

// YoungRegions returns the eden regions.
func (a *Allocator) YoungRegions() []*Region { return a.space.Regions(FlagEden) }

// AllocatedBytes returns the bytes below Top across all regions.
func (a *Allocator) AllocatedBytes() uint64 {
	var n uint64
	a.space.IterateRegions(func(r *Region) { n += r.AllocatedBytes() })
	return n
}

// PromoteYoungRegion turns r into an old region without copying. With a
// checker, r's live bitmap is rebuilt from the objects it reports alive and
// aliveHandler is called for each of them.
func (a *Allocator) PromoteYoungRegion(r *Region, checker mem.DeathChecker, aliveHandler mem.ObjectVisitor) {
	a.forgetRegion(r)
	if checker != nil {
		live := r.CreateLiveBitmap()
		var liveBytes uint64
		r.IterateOverObjects(a.cfg.Sizer, func(obj mem.Addr) {
			if checker(obj) != mem.ObjectAlive {
				return
			}
			live.Set(obj)
			liveBytes += format.AlignObject(a.cfg.Sizer.ObjectSize(obj))
			if aliveHandler != nil {
				aliveHandler(obj)
			}
		})
		r.SetLiveBytes(liveBytes)
	}
	a.space.PromoteYoungRegion(r)
}

// forgetRegion drops r from the current-region slots so nothing allocates
// into it any more.
func (a *Allocator) forgetRegion(r *Region) {
	a.regionLock.Lock()
	a.eden.CompareAndSwap(r, nil)
	a.regionLock.Unlock()

	a.queueMu.Lock()
	a.oldQueue = slices.DeleteFunc(a.oldQueue, func(x *Region) bool { return x == r })
	a.pinnedQueue = slices.DeleteFunc(a.pinnedQueue, func(x *Region) bool { return x == r })
	a.queueMu.Unlock()

	a.retainedMu.Lock()
	a.retained = slices.DeleteFunc(a.retained, func(x *Region) bool { return x == r })
	a.retainedMu.Unlock()
}

// ResetSeveralSpecificRegions frees the given regions.
func (a *Allocator) ResetSeveralSpecificRegions(regions []*Region, rp ReleasePolicy, op OSPagesPolicy) {
	for _, r := range regions {
		a.forgetRegion(r)
		a.space.FreeRegion(r, rp, op)
	}
}

// ResetAllSpecificRegions frees every region carrying flags.
func (a *Allocator) ResetAllSpecificRegions(flags Flags, rp ReleasePolicy, op OSPagesPolicy) {
	a.ResetSeveralSpecificRegions(a.space.Regions(flags), rp, op)
}

// ResetYoungAllocator frees every eden region into the empty cache. Eden
// regions holding pinned objects are promoted instead. TLABs handed out
// from them must already be detached from their threads.
func (a *Allocator) ResetYoungAllocator(op OSPagesPolicy) {
	a.ClearCurrentRegions()
	young := slices.DeleteFunc(a.space.Regions(FlagEden), func(r *Region) bool {
		if !r.HasPinnedObjects() {
			return false
		}
		a.space.PromoteYoungRegion(r)
		return true
	})
	a.ResetSeveralSpecificRegions(young, NoRelease, op)
}

// ClearCurrentRegions forgets the eden region, the queues and the retained
// TLAB regions. The regions themselves stay in the space.
func (a *Allocator) ClearCurrentRegions() {
	a.regionLock.Lock()
	a.eden.Store(nil)
	a.regionLock.Unlock()

	a.queueMu.Lock()
	a.oldQueue, a.pinnedQueue = nil, nil
	a.queueMu.Unlock()

	a.retainedMu.Lock()
	a.retained = nil
	a.retainedMu.Unlock()
}

// VisitAndRemoveFreePools hands the memory of every cached empty region to fn.
func (a *Allocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	a.space.VisitAndRemoveEmptyRegions(fn)
}

// VisitAndRemoveAllPools drops every region, live ones included, and hands
// its memory to fn.
func (a *Allocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	a.ClearCurrentRegions()
	for _, r := range a.space.Regions(0) {
		a.space.detachRegion(r)
		fn(r.begin, r.Size())
	}
	a.space.VisitAndRemoveEmptyRegions(fn)
}
