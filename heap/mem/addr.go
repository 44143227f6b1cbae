package mem

import (
	"fmt"

	"github.com/joshuapare/gcheap/internal/format"
)

// Addr is an address inside the managed Space.
type Addr uint64

// Null is the address returned by every allocator on failure.
const Null Addr = 0

// Add returns a+n.
func (a Addr) Add(n uint64) Addr { return a + Addr(n) }

// Sub returns a-n.
func (a Addr) Sub(n uint64) Addr { return a - Addr(n) }

// Diff returns a-b. The caller guarantees a >= b.
func (a Addr) Diff(b Addr) uint64 { return uint64(a - b) }

// AlignUp rounds a up to align (a power of two).
func (a Addr) AlignUp(align uint64) Addr { return Addr(format.AlignUp(uint64(a), align)) }

// AlignDown rounds a down to align (a power of two).
func (a Addr) AlignDown(align uint64) Addr { return Addr(format.AlignDown(uint64(a), align)) }

// IsAligned reports whether a is a multiple of align.
func (a Addr) IsAligned(align uint64) bool { return format.IsAligned(uint64(a), align) }

func (a Addr) String() string {
	if a == Null {
		return "null"
	}
	return fmt.Sprintf("%#x", uint64(a))
}

// Alignment is a power-of-two alignment stored as its log2.
type Alignment uint8

const (
	Align8    Alignment = 3
	Align16   Alignment = 4
	Align32   Alignment = 5
	Align64   Alignment = 6
	Align128  Alignment = 7
	Align256  Alignment = 8
	Align512  Alignment = 9
	Align1K   Alignment = 10
	Align2K   Alignment = 11
	Align4K   Alignment = 12
	AlignPage           = Align4K

	// DefaultAlignment is the object alignment every allocator guarantees.
	DefaultAlignment = Align8
)

// Bytes returns the alignment in bytes.
func (a Alignment) Bytes() uint64 { return 1 << a }

// AlignmentOf returns the smallest Alignment of at least n bytes, never below DefaultAlignment.
func AlignmentOf(n uint64) Alignment {
	l := format.Log2Ceil(n)
	if l < uint(DefaultAlignment) {
		return DefaultAlignment
	}
	return Alignment(l)
}

// MemRange is a half-open address range [Start, End).
type MemRange struct {
	Start Addr
	End   Addr
}

// Size returns the length of the range.
func (r MemRange) Size() uint64 { return r.End.Diff(r.Start) }

// Contains reports whether a lies inside the range.
func (r MemRange) Contains(a Addr) bool { return a >= r.Start && a < r.End }

// Overlaps reports whether r and o share at least one byte.
func (r MemRange) Overlaps(o MemRange) bool { return r.Start < o.End && o.Start < r.End }

func (r MemRange) String() string { return fmt.Sprintf("[%v, %v)", r.Start, r.End) }
