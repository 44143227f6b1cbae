package format

import "math/bits"

// Alignment utilities. Every alignment passed here must be a power of two.

// AlignUp returns n rounded up to the next multiple of align.
//
// Example:
//
//	AlignUp(1, 8)  = 8
//	AlignUp(8, 8)  = 8
//	AlignUp(9, 16) = 16
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// AlignDown returns n rounded down to a multiple of align.
func AlignDown(n, align uint64) uint64 {
	return n &^ (align - 1)
}

// IsAligned reports whether n is a multiple of align.
func IsAligned(n, align uint64) bool {
	return n&(align-1) == 0
}

// AlignObject rounds n up to ObjectAlignment.
func AlignObject(n uint64) uint64 {
	return (n + ObjectAlignmentMask) &^ ObjectAlignmentMask
}

// AlignPage rounds n up to PageSize.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n uint64) uint64 {
	return (n + PageMask) &^ PageMask
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Log2Ceil returns ceil(log2(n)). Log2Ceil(0) and Log2Ceil(1) are 0.
func Log2Ceil(n uint64) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len64(n - 1))
}

// Log2Floor returns floor(log2(n)) for n > 0.
func Log2Floor(n uint64) uint {
	return uint(bits.Len64(n)) - 1
}
