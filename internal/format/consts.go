// Package format holds the size, alignment and byte-order primitives shared by
// every allocator in the heap: page and object granularity, power-of-two
// alignment helpers, and little-endian accessors for headers that live inside
// managed memory.
package format

const (
	// KB, MB and GB are binary size units.
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

const (
	// PageSize is the OS page granularity used for pool carving and page release.
	PageSize = 4 * KB

	// PageMask masks the in-page part of an address.
	PageMask = PageSize - 1

	// LogObjectAlignment is log2 of the minimum object alignment.
	LogObjectAlignment = 3

	// ObjectAlignment is the minimum alignment (and size granularity) of every
	// object handed out by the heap. Bitmaps use one bit per ObjectAlignment bytes.
	ObjectAlignment = 1 << LogObjectAlignment

	// ObjectAlignmentMask masks the sub-alignment bits of an object address.
	ObjectAlignmentMask = ObjectAlignment - 1

	// WordSize is the size of a header word.
	WordSize = 8
)
