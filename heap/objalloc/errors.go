package objalloc

import "github.com/cockroachdb/errors"

var (
	// ErrNoSizer is returned by New when no object sizer is supplied.
	ErrNoSizer = errors.New("objalloc: object sizer required")

	// ErrInvalidOptions is the root of every Options validation failure.
	ErrInvalidOptions = errors.New("objalloc: invalid options")

	// ErrNotRegionBased is returned by region operations on a heap that has
	// no regions.
	ErrNotRegionBased = errors.New("objalloc: heap is not region based")

	// ErrForeignObject is returned when an address is not an object of the
	// heap.
	ErrForeignObject = errors.New("objalloc: not a heap object")

	// ErrUnknownKind is returned for an unrecognised heap kind.
	ErrUnknownKind = errors.New("objalloc: unknown heap kind")

	// ErrYoungSpace is returned by New when the young space cannot be reserved.
	ErrYoungSpace = errors.New("objalloc: cannot reserve young space")
)
