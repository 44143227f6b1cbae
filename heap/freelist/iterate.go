package freelist

import (
	"slices"

	"github.com/joshuapare/gcheap/heap/mem"
)

// IterateOverObjects calls visit for every allocated object, pool by pool in
// address order. The allocator lock is held only while locating the next
// object, so visit may Free the object it was given, and only that one.
func (a *Allocator) IterateOverObjects(visit mem.ObjectVisitor) {
	a.mu.RLock()
	pools := slices.Clone(a.bins)
	a.mu.RUnlock()

	for _, p := range pools {
		a.iteratePool(p, p.Mem, p.End(), mem.Null, visit)
	}
}

// IterateOverObjectsInRange calls visit for every allocated object starting
// in [left, right]. With a crossing map the walk starts at the first object it
// records for the range instead of at the start of the pool.
func (a *Allocator) IterateOverObjectsInRange(visit mem.ObjectVisitor, left, right mem.Addr) {
	a.mu.RLock()
	var pools []mem.Pool
	for _, p := range a.bins {
		if p.Mem <= right && p.End() > left {
			pools = append(pools, p)
		}
	}
	a.mu.RUnlock()

	for _, p := range pools {
		start := mem.Null
		if a.cm != nil && p.Contains(left) {
			if obj := a.cm.FindFirstObject(left, right); obj != mem.Null && p.Contains(obj) {
				start = obj
			}
		}
		a.iteratePool(p, left, right, start, visit)
	}
}

// iteratePool walks the used blocks of p whose objects lie in [lo, hi].
// startObj, if not Null, is an object from which to begin the walk.
func (a *Allocator) iteratePool(p mem.Pool, lo, hi mem.Addr, startObj mem.Addr, visit mem.ObjectVisitor) {
	a.mu.RLock()
	if _, ok := a.findPoolLocked(p.Mem); !ok {
		a.mu.RUnlock()
		return
	}
	from := a.pool(p.Mem).firstBlock()
	if startObj != mem.Null {
		if b := a.headerOf(startObj); b.has(flagUsed) && b.object() == startObj {
			from = b.h
		}
	}
	h := a.nextUsedLocked(from, mem.Null)
	for h != mem.Null {
		blk := a.block(h)
		obj := blk.object()
		if obj > hi {
			break
		}
		prev := blk.prev()
		a.mu.RUnlock()

		if obj >= lo {
			visit(obj)
		}

		a.mu.RLock()
		// If visit freed obj its header may have merged into prev, which
		// stays valid, so resume from there.
		resume := h
		if prev != mem.Null {
			resume = prev
		}
		h = a.nextUsedLocked(resume, h)
	}
	a.mu.RUnlock()
}

// nextUsedLocked returns the first used header at or after from and strictly
// above after, or mem.Null at the end of the pool.
func (a *Allocator) nextUsedLocked(from, after mem.Addr) mem.Addr {
	for h := from; h != mem.Null; {
		b := a.block(h)
		if h > after && b.has(flagUsed) {
			return h
		}
		h = b.next()
	}
	return mem.Null
}
