// Package bitmap implements the mark and live bitmaps used by the region,
// pygote and nonmovable allocators: one bit per object-alignment granule over
// a fixed address range.
//
// Set, Clear and the test-and-set variants are atomic, so marking threads may
// share a bitmap. Iteration reads words atomically but takes no snapshot; a
// visitor may clear the bit it was called for.
package bitmap

import (
	"math/bits"
	"sync/atomic"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
)

const (
	granuleShift = format.LogObjectAlignment
	wordBits     = 64
)

// Bitmap covers [Begin, End) with one bit per 8-byte granule.
type Bitmap struct {
	begin mem.Addr
	size  uint64
	words []uint64
}

// New returns a cleared bitmap over [begin, begin+size).
func New(begin mem.Addr, size uint64) *Bitmap {
	granules := format.AlignUp(size, format.ObjectAlignment) >> granuleShift
	return &Bitmap{
		begin: begin,
		size:  size,
		words: make([]uint64, (granules+wordBits-1)/wordBits),
	}
}

// Begin returns the first covered address.
func (b *Bitmap) Begin() mem.Addr { return b.begin }

// End returns the address one past the covered range.
func (b *Bitmap) End() mem.Addr { return b.begin.Add(b.size) }

// Size returns the number of bytes covered.
func (b *Bitmap) Size() uint64 { return b.size }

// Covers reports whether addr lies in the covered range.
func (b *Bitmap) Covers(addr mem.Addr) bool { return addr >= b.begin && addr < b.End() }

func (b *Bitmap) index(addr mem.Addr) (word int, mask uint64) {
	assert.That(b.Covers(addr), "bitmap: %v outside [%v, %v)", addr, b.begin, b.End())
	g := addr.Diff(b.begin) >> granuleShift
	return int(g / wordBits), 1 << (g % wordBits)
}

func (b *Bitmap) addrOf(word int, bit int) mem.Addr {
	return b.begin.Add((uint64(word)*wordBits + uint64(bit)) << granuleShift)
}

// Set marks addr.
func (b *Bitmap) Set(addr mem.Addr) {
	w, m := b.index(addr)
	atomic.OrUint64(&b.words[w], m)
}

// Clear unmarks addr.
func (b *Bitmap) Clear(addr mem.Addr) {
	w, m := b.index(addr)
	atomic.AndUint64(&b.words[w], ^m)
}

// Test reports whether addr is marked.
func (b *Bitmap) Test(addr mem.Addr) bool {
	w, m := b.index(addr)
	return atomic.LoadUint64(&b.words[w])&m != 0
}

// AtomicTestAndSet marks addr and reports whether it was already marked.
func (b *Bitmap) AtomicTestAndSet(addr mem.Addr) bool {
	w, m := b.index(addr)
	return atomic.OrUint64(&b.words[w], m)&m != 0
}

// AtomicTestAndClear unmarks addr and reports whether it was marked.
func (b *Bitmap) AtomicTestAndClear(addr mem.Addr) bool {
	w, m := b.index(addr)
	return atomic.AndUint64(&b.words[w], ^m)&m != 0
}

// ClearAll unmarks every address.
func (b *Bitmap) ClearAll() {
	for i := range b.words {
		atomic.StoreUint64(&b.words[i], 0)
	}
}

// ClearRange unmarks every address in [start, end), clipped to the covered range.
func (b *Bitmap) ClearRange(start, end mem.Addr) {
	start, end = b.clip(start, end)
	for a := start; a < end; a = a.Add(format.ObjectAlignment) {
		w, m := b.index(a)
		if m == 1 && a.Add(wordBits*format.ObjectAlignment) <= end {
			atomic.StoreUint64(&b.words[w], 0)
			a = a.Add((wordBits - 1) * format.ObjectAlignment)
			continue
		}
		atomic.AndUint64(&b.words[w], ^m)
	}
}

func (b *Bitmap) clip(start, end mem.Addr) (mem.Addr, mem.Addr) {
	start = max(start, b.begin).AlignUp(format.ObjectAlignment)
	end = min(end, b.End())
	return start, end
}

// IterateOverMarked calls fn for each marked address in the covered range, in
// address order.
func (b *Bitmap) IterateOverMarked(fn func(mem.Addr)) {
	b.IterateOverMarkedInRange(b.begin, b.End(), fn)
}

// IterateOverMarkedInRange calls fn for each marked address in [start, end).
func (b *Bitmap) IterateOverMarkedInRange(start, end mem.Addr, fn func(mem.Addr)) {
	start, end = b.clip(start, end)
	for a := b.FindFirstMarked(start, end); a != mem.Null; a = b.FindFirstMarked(a.Add(format.ObjectAlignment), end) {
		fn(a)
	}
}

// FindFirstMarked returns the lowest marked address in [start, end), or mem.Null.
func (b *Bitmap) FindFirstMarked(start, end mem.Addr) mem.Addr {
	start, end = b.clip(start, end)
	if start >= end {
		return mem.Null
	}
	w, m := b.index(start)
	word := atomic.LoadUint64(&b.words[w]) &^ (m - 1)
	for {
		if word != 0 {
			a := b.addrOf(w, bits.TrailingZeros64(word))
			if a >= end {
				return mem.Null
			}
			return a
		}
		w++
		if w >= len(b.words) || b.addrOf(w, 0) >= end {
			return mem.Null
		}
		word = atomic.LoadUint64(&b.words[w])
	}
}

// Count returns the number of marked addresses.
func (b *Bitmap) Count() int {
	n := 0
	for i := range b.words {
		n += bits.OnesCount64(atomic.LoadUint64(&b.words[i]))
	}
	return n
}

// IsEmpty reports whether no address is marked.
func (b *Bitmap) IsEmpty() bool {
	for i := range b.words {
		if atomic.LoadUint64(&b.words[i]) != 0 {
			return false
		}
	}
	return true
}

// CopyFrom overwrites b with the bits of src, which must cover the same range.
func (b *Bitmap) CopyFrom(src *Bitmap) {
	assert.That(src.begin == b.begin && src.size == b.size,
		"bitmap: copy between different ranges [%v,+%d) and [%v,+%d)", src.begin, src.size, b.begin, b.size)
	for i := range b.words {
		atomic.StoreUint64(&b.words[i], atomic.LoadUint64(&src.words[i]))
	}
}

// Clone returns an independent copy of b.
func (b *Bitmap) Clone() *Bitmap {
	c := New(b.begin, b.size)
	c.CopyFrom(b)
	return c
}
