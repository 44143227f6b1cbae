package humongous

import "github.com/cockroachdb/errors"

var (
	// ErrPoolUnaligned indicates a pool that does not start and end on a page boundary.
	ErrPoolUnaligned = errors.New("humongous: pool not page aligned")

	// ErrPoolTooSmall indicates a pool smaller than one page.
	ErrPoolTooSmall = errors.New("humongous: pool too small")

	// ErrPoolOverlap indicates a pool overlapping one already registered.
	ErrPoolOverlap = errors.New("humongous: pool overlaps a registered pool")

	// ErrCorrupt indicates a pool header that disagrees with the allocator's records.
	ErrCorrupt = errors.New("humongous: corrupt pool header")
)
