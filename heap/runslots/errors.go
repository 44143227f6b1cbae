package runslots

import "github.com/cockroachdb/errors"

var (
	// ErrPoolTooSmall indicates a pool that cannot hold a single aligned run.
	ErrPoolTooSmall = errors.New("runslots: pool cannot hold a run")

	// ErrPoolOverlap indicates a pool overlapping one already registered.
	ErrPoolOverlap = errors.New("runslots: pool overlaps a registered pool")

	// ErrCorrupt indicates inconsistent run metadata.
	ErrCorrupt = errors.New("runslots: corrupt run")
)
