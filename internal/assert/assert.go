// Package assert turns broken internal invariants into immediate panics.
//
// Allocation failure is ordinary control flow (a Null address); a violated
// invariant means the heap metadata can no longer be trusted, and continuing
// would corrupt memory further.
package assert

import "github.com/cockroachdb/errors"

// That panics with an assertion failure when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}

// Unreachable panics unconditionally. Use it for switch arms the caller contract rules out.
func Unreachable(format string, args ...any) {
	panic(errors.AssertionFailedf("unreachable: "+format, args...))
}
