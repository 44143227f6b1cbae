package region

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/freelist"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
)

// NonmovableAllocator serves objects that must never move from a free list
// laid over NONMOVABLE regions. Each region keeps a live bitmap in step with
// allocation and free.
type NonmovableAllocator struct {
	space *Space
	fl    *freelist.Allocator
	grow  sync.Mutex
}

// NewNonmovableAllocator returns an allocator over space. cfg.CrossingMap is
// passed through to the free list.
func NewNonmovableAllocator(space *Space, cfg freelist.Config) *NonmovableAllocator {
	if cfg.SpaceType == mem.SpaceUndefined {
		cfg.SpaceType = mem.SpaceNonMovableObject
	}
	return &NonmovableAllocator{space: space, fl: freelist.New(space.pool.space, cfg)}
}

// CanHold reports whether a request of size bytes at align fits a region.
func (n *NonmovableAllocator) CanHold(size uint64, align mem.Alignment) bool {
	return freelist.PoolCanHold(n.space.RegionSize(), size, align)
}

// Alloc returns a zeroed object or mem.Null. A new region is added when the
// free list cannot serve the request and a fresh region could. Requests no
// region can hold fail without growing the space.
func (n *NonmovableAllocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	if !n.CanHold(size, align) {
		return mem.Null
	}
	obj := n.fl.Alloc(size, align)
	if obj == mem.Null {
		obj = n.allocGrow(size, align)
	}
	if obj == mem.Null {
		return mem.Null
	}
	n.space.AddrToRegion(obj).LiveBitmap().Set(obj)
	return obj
}

func (n *NonmovableAllocator) allocGrow(size uint64, align mem.Alignment) mem.Addr {
	n.grow.Lock()
	defer n.grow.Unlock()
	if obj := n.fl.Alloc(size, align); obj != mem.Null {
		return obj
	}
	r := n.space.NewRegion(n.space.RegionSize(), FlagOld|FlagNonMovable)
	if r == nil {
		return mem.Null
	}
	r.SetTop(r.End())
	r.CreateLiveBitmap()
	err := n.fl.AddMemoryPool(r.Begin(), r.Size())
	assert.That(err == nil, "region: nonmovable pool %v rejected: %v", r, err)
	obj := n.fl.Alloc(size, align)
	assert.That(obj != mem.Null, "region: fresh nonmovable region %v cannot hold %d bytes", r, size)
	return obj
}

// Free releases obj and clears its live bit.
func (n *NonmovableAllocator) Free(obj mem.Addr) {
	if r := n.space.AddrToRegion(obj); r != nil {
		if live := r.LiveBitmap(); live != nil && live.Covers(obj) {
			live.Clear(obj)
		}
	}
	n.fl.Free(obj)
}

// Collect frees every object checker reports dead.
func (n *NonmovableAllocator) Collect(checker mem.DeathChecker) {
	n.fl.IterateOverObjects(func(obj mem.Addr) {
		if checker(obj) == mem.ObjectDead {
			n.Free(obj)
		}
	})
}

func (n *NonmovableAllocator) IterateOverObjects(visit mem.ObjectVisitor) {
	n.fl.IterateOverObjects(visit)
}

func (n *NonmovableAllocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	n.fl.IterateOverObjectsInRange(visit, left, right)
}

func (n *NonmovableAllocator) ContainObject(obj mem.Addr) bool { return n.fl.ContainObject(obj) }

// IsLive answers from the region's live bitmap.
func (n *NonmovableAllocator) IsLive(obj mem.Addr) bool {
	r := n.space.AddrToRegion(obj)
	if r == nil {
		return false
	}
	live := r.LiveBitmap()
	return live != nil && live.Test(obj)
}

func (n *NonmovableAllocator) AllocatedBytes() uint64 { return n.fl.AllocatedBytes() }

// VisitAndRemoveFreePools drops every region that holds no object and hands
// its memory to fn.
func (n *NonmovableAllocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	n.fl.VisitAndRemoveFreePools(func(start mem.Addr, size uint64) {
		n.space.detachRegion(n.space.AddrToRegion(start))
		fn(start, size)
	})
}

// VisitAndRemoveAllPools drops every region and hands its memory to fn.
func (n *NonmovableAllocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	n.fl.VisitAndRemoveAllPools(func(start mem.Addr, size uint64) {
		n.space.detachRegion(n.space.AddrToRegion(start))
		fn(start, size)
	})
}

// Verify checks the free list and that every live bit marks an allocated object.
func (n *NonmovableAllocator) Verify() error {
	if err := n.fl.Verify(); err != nil {
		return err
	}
	objects := 0
	n.fl.IterateOverObjects(func(mem.Addr) { objects++ })
	marked := 0
	for _, r := range n.space.Regions(FlagNonMovable) {
		if live := r.LiveBitmap(); live != nil {
			marked += live.Count()
		}
	}
	if marked != objects {
		return errors.Newf("region: nonmovable live bitmaps mark %d objects, free list holds %d", marked, objects)
	}
	return nil
}
