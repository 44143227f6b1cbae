// Package buf contains overflow-safe range helpers used when translating heap
// addresses into slices of the backing reservation.
package buf

import "math/bits"

// End returns off+n, with ok = false when the sum wraps around.
func End(off, n uint64) (uint64, bool) {
	end, carry := bits.Add64(off, n, 0)
	return end, carry == 0
}

// Slice returns b[off:off+n] with its capacity capped at n, or ok = false
// when the range does not fit in b.
func Slice(b []byte, off, n uint64) ([]byte, bool) {
	end, ok := End(off, n)
	if !ok || end > uint64(len(b)) {
		return nil, false
	}
	return b[off:end:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n uint64) bool {
	_, ok := Slice(b, off, n)
	return ok
}
