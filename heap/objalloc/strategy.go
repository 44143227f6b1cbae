package objalloc

import (
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
	"github.com/joshuapare/gcheap/internal/assert"
)

// Strategy places objects for one heap layout. The ObjectAllocator wraps it
// with the policy all layouts share.
type Strategy interface {
	Kind() Kind

	// Alloc places a movable object. pinned asks for an object that must
	// not move until it is unpinned.
	Alloc(size uint64, align mem.Alignment, pinned bool) mem.Addr
	AllocNonMovable(size uint64, align mem.Alignment) mem.Addr

	// Free releases obj and reports whether the strategy owns it.
	Free(obj mem.Addr) bool
	Collect(checker mem.DeathChecker, mode CollectMode)

	IterateOverObjects(visit mem.ObjectVisitor)
	IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr)
	ContainObject(obj mem.Addr) bool
	IsLive(obj mem.Addr) bool

	// CreateTLAB returns a TLAB of size bytes, or nil.
	CreateTLAB(size uint64) *tlab.TLAB
	// MaxTLABSize is the largest TLAB CreateTLAB can return (0 for none).
	MaxTLABSize() uint64

	HasYoungSpace() bool
	IsObjectInYoungSpace(obj mem.Addr) bool
	IsObjectInNonMovableSpace(obj mem.Addr) bool
	// ResetYoungAllocator empties the young space. TLABs carved from it
	// must already be detached from their threads.
	ResetYoungAllocator()

	AllocatedBytes() uint64
	YoungBytes() uint64

	VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64))
	VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64))
}

// checkCollectMode panics on modes Collect does not define.
func checkCollectMode(mode CollectMode) {
	switch mode {
	case CollectMinor, CollectMajor, CollectFull, CollectAll:
		return
	}
	assert.Unreachable("objalloc: collect mode %v (%d)", mode, uint8(mode))
}
