package mem

import "github.com/joshuapare/gcheap/internal/format"

// Arena is a contiguous extent with a single bump pointer. It is not safe for
// concurrent use; owners serialise access.
type Arena struct {
	start Addr
	cur   Addr
	end   Addr
	next  *Arena
}

// NewArena returns an empty arena over [start, start+size).
func NewArena(start Addr, size uint64) *Arena {
	return &Arena{start: start, cur: start, end: start.Add(size)}
}

// Alloc bumps the pointer by size bytes aligned to align and returns the old
// aligned position, or Null when the arena is exhausted. Memory is not zeroed.
func (a *Arena) Alloc(size uint64, align Alignment) Addr {
	p := a.cur.AlignUp(align.Bytes())
	size = format.AlignObject(size)
	if p < a.cur || p > a.end || size > a.end.Diff(p) {
		return Null
	}
	a.cur = p.Add(size)
	return p
}

// Start returns the first address of the arena.
func (a *Arena) Start() Addr { return a.start }

// End returns the address one past the arena.
func (a *Arena) End() Addr { return a.end }

// Cur returns the bump pointer.
func (a *Arena) Cur() Addr { return a.cur }

// Size returns the arena capacity.
func (a *Arena) Size() uint64 { return a.end.Diff(a.start) }

// OccupiedSize returns the bytes below the bump pointer.
func (a *Arena) OccupiedSize() uint64 { return a.cur.Diff(a.start) }

// FreeSize returns the bytes above the bump pointer.
func (a *Arena) FreeSize() uint64 { return a.end.Diff(a.cur) }

// Contains reports whether addr was handed out by this arena.
func (a *Arena) Contains(addr Addr) bool { return addr >= a.start && addr < a.cur }

// InArena reports whether addr lies inside the arena's extent.
func (a *Arena) InArena(addr Addr) bool { return addr >= a.start && addr < a.end }

// Reset moves the bump pointer back to the start.
func (a *Arena) Reset() { a.cur = a.start }

// Shrink moves the end down to newEnd, which must lie between Cur and End.
// Bytes above newEnd are no longer part of the arena.
func (a *Arena) Shrink(newEnd Addr) bool {
	if newEnd < a.cur || newEnd > a.end {
		return false
	}
	a.end = newEnd
	return true
}

// Next returns the arena linked after a.
func (a *Arena) Next() *Arena { return a.next }

// LinkNext links n after a.
func (a *Arena) LinkNext(n *Arena) { a.next = n }

// Range returns the occupied range.
func (a *Arena) Range() MemRange { return MemRange{Start: a.start, End: a.cur} }
