// Package tlab implements thread-local allocation buffers: private bump
// ranges carved out of a bump arena or a region.
//
// A TLAB is owned by one goroutine at a time and is not synchronised. The
// whole buffer is zeroed when it is filled, so allocations from it need no
// further clearing.
package tlab

import (
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/format"
)

// TLAB is a bump range [Start, End) with its own pointer.
type TLAB struct {
	space *mem.Space
	start mem.Addr
	cur   mem.Addr
	end   mem.Addr
}

// New returns an empty TLAB over space. Alloc fails until it is filled.
func New(space *mem.Space) *TLAB {
	return &TLAB{space: space}
}

// Fill points the TLAB at [start, start+size) and zeroes it.
func (t *TLAB) Fill(start mem.Addr, size uint64) {
	t.space.Zero(start, size)
	t.start = start
	t.cur = start
	t.end = start.Add(size)
}

// Reset detaches the TLAB from its buffer.
func (t *TLAB) Reset() {
	t.start, t.cur, t.end = mem.Null, mem.Null, mem.Null
}

// Alloc returns size bytes at the default alignment, or mem.Null when the
// buffer is exhausted.
func (t *TLAB) Alloc(size uint64) mem.Addr {
	size = format.AlignObject(size)
	if size == 0 || size > t.end.Diff(t.cur) {
		return mem.Null
	}
	p := t.cur
	t.cur = t.cur.Add(size)
	mem.Publish()
	return p
}

func (t *TLAB) Start() mem.Addr { return t.start }
func (t *TLAB) End() mem.Addr   { return t.end }
func (t *TLAB) Cur() mem.Addr   { return t.cur }

// Size returns the buffer capacity.
func (t *TLAB) Size() uint64 { return t.end.Diff(t.start) }

// OccupiedSize returns the bytes handed out.
func (t *TLAB) OccupiedSize() uint64 { return t.cur.Diff(t.start) }

// FreeSize returns the bytes still available.
func (t *TLAB) FreeSize() uint64 { return t.end.Diff(t.cur) }

// IsEmpty reports whether the TLAB has no buffer.
func (t *TLAB) IsEmpty() bool { return t.start == mem.Null }

// Contains reports whether obj was handed out by this TLAB.
func (t *TLAB) Contains(obj mem.Addr) bool { return obj >= t.start && obj < t.cur }

// Range returns the occupied range.
func (t *TLAB) Range() mem.MemRange { return mem.MemRange{Start: t.start, End: t.cur} }

// IterateOverObjects walks the occupied range object by object.
func (t *TLAB) IterateOverObjects(sizer mem.ObjectSizer, visit mem.ObjectVisitor) {
	WalkObjects(sizer, t.start, t.cur, visit)
}

// WalkObjects visits the objects laid out back to back in [start, end),
// stepping by each object's aligned size. A zero word is an alignment gap
// and is skipped.
func WalkObjects(sizer mem.ObjectSizer, start, end mem.Addr, visit mem.ObjectVisitor) {
	for obj := start; obj < end; {
		size := sizer.ObjectSize(obj)
		if size == 0 {
			obj = obj.Add(format.ObjectAlignment)
			continue
		}
		visit(obj)
		obj = obj.Add(format.AlignObject(size))
	}
}
