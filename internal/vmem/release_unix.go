//go:build unix && !linux

package vmem

import "golang.org/x/sys/unix"

// Release zeroes b and advises the OS that its pages may be reclaimed lazily.
// MADV_FREE does not guarantee zero-fill, hence the explicit clear.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	clear(b)
	_ = unix.Madvise(b, unix.MADV_FREE)
	return nil
}
