package runslots

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/mem"
)

// Verify checks every run's slot accounting and list membership.
func (a *Allocator) Verify() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var allocated uint64
	for _, p := range a.pools {
		for _, r := range p.runs {
			r.mu.Lock()
			err := a.verifyRunLocked(r)
			allocated += uint64(r.used) * r.slotSize
			r.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	if allocated != a.allocated {
		return errors.Wrapf(ErrCorrupt, "allocated bytes %d, accounted %d", allocated, a.allocated)
	}
	return nil
}

func (a *Allocator) verifyRunLocked(r *run) error {
	if a.runs[r.start] != r {
		return errors.Wrapf(ErrCorrupt, "run %v missing from lookup", r.start)
	}
	if r.slotSize == 0 {
		return errors.Wrapf(ErrCorrupt, "run %v never initialised", r.start)
	}
	if n := r.countOccupied(); n != r.used {
		return errors.Wrapf(ErrCorrupt, "run %v has %d occupied slots, used %d", r.start, n, r.used)
	}

	stack := 0
	for s := r.freeHead; s != mem.Null; s = mem.Addr(a.space.ReadU64(s)) {
		if !r.isSlot(s) || s >= r.bumpNext || r.test(r.index(s)) {
			return errors.Wrapf(ErrCorrupt, "run %v free stack holds bad slot %v", r.start, s)
		}
		stack++
		if stack > r.capacity {
			return errors.Wrapf(ErrCorrupt, "run %v free stack loops", r.start)
		}
	}
	untouched := int(r.end().Diff(r.bumpNext) / r.slotSize)
	if stack+untouched+r.used != r.capacity {
		return errors.Wrapf(ErrCorrupt, "run %v: %d stacked + %d untouched + %d used != %d",
			r.start, stack, untouched, r.used, r.capacity)
	}

	cls, _, _ := classOf(r.slotSize, mem.DefaultAlignment)
	want := listActive
	switch {
	case r.empty():
		want = listFree
	case r.full():
		want = listNone
	}
	if r.list != want {
		return errors.Wrapf(ErrCorrupt, "run %v with %d/%d used is on %v list", r.start, r.used, r.capacity, r.list)
	}
	switch r.list {
	case listActive:
		if !a.active[cls].contains(r) {
			return errors.Wrapf(ErrCorrupt, "run %v not on active list %d", r.start, cls)
		}
	case listFree:
		if !a.free.contains(r) {
			return errors.Wrapf(ErrCorrupt, "run %v not on free list", r.start)
		}
	}
	return nil
}
