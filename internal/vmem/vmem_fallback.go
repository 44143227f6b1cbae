//go:build !unix

// Package vmem reserves and releases the virtual memory behind the managed heap.
package vmem

import "github.com/cockroachdb/errors"

// Reserve allocates size zeroed bytes on the Go heap when mmap is not available.
func Reserve(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, errors.Newf("vmem: invalid reservation size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}

// Release zeroes b; there are no pages to hand back.
func Release(b []byte) error {
	clear(b)
	return nil
}
