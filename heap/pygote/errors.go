package pygote

import "github.com/cockroachdb/errors"

// ErrNoSizer indicates a configuration without an object sizer.
var ErrNoSizer = errors.New("pygote: object sizer required")
