package region

import (
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/logger"
)

// HumongousAllocator gives every object a LARGE_OBJECT region sized to fit
// it. Freed regions go straight back to the pool.
type HumongousAllocator struct {
	space *Space
	rec   mem.StatsRecorder
	st    mem.SpaceType
}

// NewHumongousAllocator returns an allocator over space.
func NewHumongousAllocator(space *Space, rec mem.StatsRecorder) *HumongousAllocator {
	if rec == nil {
		rec = mem.NopStats{}
	}
	return &HumongousAllocator{space: space, rec: rec, st: mem.SpaceHumongousObject}
}

// Alloc returns a zeroed object at the start of a fresh region, or mem.Null.
func (h *HumongousAllocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	if size == 0 || align.Bytes() > h.space.RegionSize() {
		return mem.Null
	}
	r := h.space.NewRegion(RegionSize(size, h.space.RegionSize()), FlagOld|FlagLargeObject)
	if r == nil {
		return mem.Null
	}
	obj := r.Alloc(size, align)
	r.CreateLiveBitmap().Set(obj)
	h.rec.RecordAllocateObject(r.AllocatedBytes(), h.st)
	mem.Publish()
	return obj
}

func (h *HumongousAllocator) regionOf(obj mem.Addr) *Region {
	r := h.space.AddrToRegion(obj)
	if r == nil || r.IsEmpty() || r.begin != obj {
		return nil
	}
	return r
}

// Free returns obj's region to the pool. Foreign addresses are logged and
// ignored.
func (h *HumongousAllocator) Free(obj mem.Addr) {
	r := h.regionOf(obj)
	if r == nil {
		logger.Warn("region: humongous free of foreign memory", "addr", obj)
		return
	}
	size := r.AllocatedBytes()
	h.space.FreeRegion(r, Release, ImmediateReturn)
	h.rec.RecordFreeObject(size, h.st)
}

// Collect frees every object checker reports dead.
func (h *HumongousAllocator) Collect(checker mem.DeathChecker) {
	h.IterateOverObjects(func(obj mem.Addr) {
		if checker(obj) == mem.ObjectDead {
			h.Free(obj)
		}
	})
}

// IterateOverObjects visits every object in address order.
func (h *HumongousAllocator) IterateOverObjects(visit mem.ObjectVisitor) {
	for _, r := range h.space.Regions(FlagLargeObject) {
		if !r.IsEmpty() {
			visit(r.begin)
		}
	}
}

// IterateOverObjectsInRange visits every object that overlaps [left, right].
func (h *HumongousAllocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	for _, r := range h.space.Regions(FlagLargeObject) {
		if !r.IsEmpty() && r.begin <= right && r.Top() > left {
			visit(r.begin)
		}
	}
}

// ContainObject reports whether obj is an object of this allocator.
func (h *HumongousAllocator) ContainObject(obj mem.Addr) bool { return h.regionOf(obj) != nil }

// IsLive reports whether obj is live according to its region's live bitmap.
func (h *HumongousAllocator) IsLive(obj mem.Addr) bool {
	r := h.regionOf(obj)
	return r != nil && r.LiveBitmap().Test(obj)
}

// AllocatedBytes returns the bytes held by live objects.
func (h *HumongousAllocator) AllocatedBytes() uint64 {
	var n uint64
	for _, r := range h.space.Regions(FlagLargeObject) {
		n += r.AllocatedBytes()
	}
	return n
}

// VisitAndRemoveFreePools hands any cached empty region to fn.
func (h *HumongousAllocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	h.space.VisitAndRemoveEmptyRegions(fn)
}

// VisitAndRemoveAllPools drops every region and hands its memory to fn.
func (h *HumongousAllocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	for _, r := range h.space.Regions(0) {
		h.space.detachRegion(r)
		fn(r.begin, r.Size())
	}
	h.space.VisitAndRemoveEmptyRegions(fn)
}
