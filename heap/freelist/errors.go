package freelist

import "github.com/cockroachdb/errors"

var (
	// ErrPoolTooSmall indicates AddMemoryPool was given less than MinPoolSize bytes.
	ErrPoolTooSmall = errors.New("freelist: pool too small")

	// ErrPoolUnaligned indicates a pool not aligned to the object alignment.
	ErrPoolUnaligned = errors.New("freelist: pool not aligned")

	// ErrPoolOverlap indicates a pool overlapping one already registered.
	ErrPoolOverlap = errors.New("freelist: pool overlaps a registered pool")

	// ErrCorrupt indicates inconsistent block or pool headers.
	ErrCorrupt = errors.New("freelist: corrupt heap")
)
