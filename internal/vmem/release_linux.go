//go:build linux

package vmem

import "golang.org/x/sys/unix"

// Release returns the physical pages behind b to the OS. b must be page aligned.
// On Linux MADV_DONTNEED on a private anonymous mapping zero-fills the range on
// next touch, so no explicit clear is needed.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
