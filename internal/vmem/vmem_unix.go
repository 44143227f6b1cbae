//go:build unix

// Package vmem reserves and releases the virtual memory behind the managed heap.
package vmem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Reserve maps size bytes of private, anonymous, zero-filled memory.
// The returned cleanup unmaps the reservation; calling it twice is a no-op.
func Reserve(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, errors.Newf("vmem: invalid reservation size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "vmem: mmap %d bytes", size)
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			return nil
		}
		return err
	}
	return data, cleanup, nil
}
