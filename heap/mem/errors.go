package mem

import "github.com/cockroachdb/errors"

var (
	// ErrSpaceExhausted indicates that the reservation has no extent large enough.
	ErrSpaceExhausted = errors.New("mem: object space exhausted")

	// ErrBadSize indicates a zero, unaligned or overflowing size.
	ErrBadSize = errors.New("mem: bad size")

	// ErrUnknownPool indicates a pool that this PoolManager never handed out.
	ErrUnknownPool = errors.New("mem: unknown pool")
)
