package trim

import (
	"context"
	"sort"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/format"
)

// defaultRangeCapacity is the pre-allocated capacity for pending ranges.
const defaultRangeCapacity = 64

// Releaser hands whole pages back to the OS. *mem.PoolManager implements it.
type Releaser interface {
	ReleasePages(addr mem.Addr, size uint64)
}

// Tracker accumulates unused ranges and releases them in one pass.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Tracker struct {
	rel      Releaser
	ranges   []mem.MemRange
	pageSize uint64
	released uint64
}

// NewTracker creates a tracker that releases through rel.
func NewTracker(rel Releaser) *Tracker {
	return &Tracker{
		rel:      rel,
		ranges:   make([]mem.MemRange, 0, defaultRangeCapacity),
		pageSize: format.PageSize,
	}
}

// Add records [addr, addr+size) as unused.
func (t *Tracker) Add(addr mem.Addr, size uint64) {
	if size == 0 {
		return
	}
	t.ranges = append(t.ranges, mem.MemRange{Start: addr, End: addr.Add(size)})
}

// Pending returns the number of recorded ranges.
func (t *Tracker) Pending() int { return len(t.ranges) }

// Released returns the total bytes released by all flushes so far.
func (t *Tracker) Released() uint64 { return t.released }

// Flush releases every recorded range and clears the tracker.
//
// If ctx is cancelled part way, the ranges already released stay released and
// the tracker is cleared anyway: unreleased pages are only a missed
// optimisation.
func (t *Tracker) Flush(ctx context.Context) error {
	if len(t.ranges) == 0 {
		return nil
	}
	defer t.Reset()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range t.coalesce() {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.rel.ReleasePages(r.Start, r.Size())
		t.released += r.Size()
	}
	return nil
}

// Reset drops all recorded ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// coalesce sorts and merges the recorded ranges, then shrinks each to whole pages.
func (t *Tracker) coalesce() []mem.MemRange {
	if len(t.ranges) == 0 {
		return nil
	}

	sorted := make([]mem.MemRange, len(t.ranges))
	copy(sorted, t.ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := make([]mem.MemRange, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start <= current.End {
			current.End = max(current.End, next.End)
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	out := merged[:0]
	for _, r := range merged {
		start := r.Start.AlignUp(t.pageSize)
		end := r.End.AlignDown(t.pageSize)
		if end > start {
			out = append(out, mem.MemRange{Start: start, End: end})
		}
	}
	return out
}
