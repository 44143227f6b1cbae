package bump

import "github.com/cockroachdb/errors"

var (
	// ErrNoSizer indicates a configuration without an object sizer.
	ErrNoSizer = errors.New("bump: object sizer required")

	// ErrBadTLABConfig indicates a TLAB count without a TLAB size or the reverse.
	ErrBadTLABConfig = errors.New("bump: inconsistent TLAB configuration")
)
