package mem

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/buf"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/vmem"
)

// SpaceBase is the address of the first byte of every Space.
const SpaceBase Addr = 1 << 32

// Space is one contiguous reservation of virtual memory. Every allocator
// address lives inside it. Accessors panic on out-of-range addresses.
type Space struct {
	base  Addr
	data  []byte
	unmap func() error
}

// NewSpace reserves size bytes, rounded up to a page.
func NewSpace(size uint64) (*Space, error) {
	if size == 0 {
		return nil, errors.Wrap(ErrBadSize, "empty space")
	}
	size = format.AlignPage(size)
	if size > uint64(SpaceBase) {
		return nil, errors.Wrapf(ErrBadSize, "space of %d bytes exceeds %d", size, uint64(SpaceBase))
	}
	data, unmap, err := vmem.Reserve(int(size))
	if err != nil {
		return nil, errors.Wrap(err, "reserve object space")
	}
	return &Space{base: SpaceBase, data: data, unmap: unmap}, nil
}

// Close returns the reservation to the OS. The Space must not be used afterwards.
func (s *Space) Close() error {
	s.data = nil
	return s.unmap()
}

// Base returns the first address of the space.
func (s *Space) Base() Addr { return s.base }

// End returns the address one past the last byte of the space.
func (s *Space) End() Addr { return s.base.Add(uint64(len(s.data))) }

// Size returns the reservation size in bytes.
func (s *Space) Size() uint64 { return uint64(len(s.data)) }

// Contains reports whether addr lies inside the space.
func (s *Space) Contains(addr Addr) bool { return addr >= s.base && addr < s.End() }

// ContainsRange reports whether [addr, addr+n) lies inside the space.
func (s *Space) ContainsRange(addr Addr, n uint64) bool {
	return addr >= s.base && buf.Has(s.data, addr.Diff(s.base), n)
}

// Bytes returns the n bytes at addr. The slice aliases managed memory and
// its capacity is limited to n.
func (s *Space) Bytes(addr Addr, n uint64) []byte {
	b, ok := s.slice(addr, n)
	assert.That(ok, "mem: access [%v, +%d) outside space %v", addr, n, MemRange{s.base, s.End()})
	return b
}

func (s *Space) slice(addr Addr, n uint64) ([]byte, bool) {
	if addr < s.base {
		return nil, false
	}
	return buf.Slice(s.data, addr.Diff(s.base), n)
}

// ReadU64 reads the little-endian word at addr.
func (s *Space) ReadU64(addr Addr) uint64 {
	return format.ReadU64(s.Bytes(addr, 8), 0)
}

// WriteU64 writes the little-endian word at addr.
func (s *Space) WriteU64(addr Addr, v uint64) {
	format.PutU64(s.Bytes(addr, 8), 0, v)
}

// ReadU32 reads the little-endian half-word at addr.
func (s *Space) ReadU32(addr Addr) uint32 {
	return format.ReadU32(s.Bytes(addr, 4), 0)
}

// WriteU32 writes the little-endian half-word at addr.
func (s *Space) WriteU32(addr Addr, v uint32) {
	format.PutU32(s.Bytes(addr, 4), 0, v)
}

// Zero clears n bytes at addr.
func (s *Space) Zero(addr Addr, n uint64) {
	if n == 0 {
		return
	}
	clear(s.Bytes(addr, n))
}

// Fill sets n bytes at addr to v.
func (s *Space) Fill(addr Addr, n uint64, v byte) {
	b := s.Bytes(addr, n)
	for i := range b {
		b[i] = v
	}
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func (s *Space) Copy(dst, src Addr, n uint64) {
	if n == 0 || dst == src {
		return
	}
	copy(s.Bytes(dst, n), s.Bytes(src, n))
}

// Release hands the whole pages inside [addr, addr+n) back to the OS. The
// pages read as zero afterwards. Partial pages at either end are left alone.
func (s *Space) Release(addr Addr, n uint64) error {
	start := addr.AlignUp(format.PageSize)
	end := addr.Add(n).AlignDown(format.PageSize)
	if end <= start {
		return nil
	}
	return vmem.Release(s.Bytes(start, end.Diff(start)))
}

var publishFence atomic.Uint64

// Publish orders every plain store made so far (object zeroing, header
// initialisation) before any later store that makes the object reachable.
// Allocators call it once per handed-out object.
func Publish() {
	publishFence.Add(1)
}
