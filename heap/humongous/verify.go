package humongous

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/internal/format"
)

// Verify checks every pool header against the allocator's records.
func (a *Allocator) Verify() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	parked := len(a.reserved) + len(a.free)
	if parked+len(a.occupied) != len(a.pools) {
		return errors.Wrapf(ErrCorrupt, "%d pools, %d occupied, %d parked", len(a.pools), len(a.occupied), parked)
	}
	if len(a.reserved) > MaxReservedPools {
		return errors.Wrapf(ErrCorrupt, "%d reserved pools", len(a.reserved))
	}

	var allocated uint64
	for _, p := range a.pools {
		h := a.header(p.Mem)
		if !h.valid() {
			return errors.Wrapf(ErrCorrupt, "pool %v: bad magic", p.Mem)
		}
		if h.poolSize() != p.Size {
			return errors.Wrapf(ErrCorrupt, "pool %v: header size %d, registered %d", p.Mem, h.poolSize(), p.Size)
		}
		_, occ := a.occupied[p.Mem]
		if occ != h.occupied() {
			return errors.Wrapf(ErrCorrupt, "pool %v: header occupied=%t, recorded %t", p.Mem, h.occupied(), occ)
		}
		if !occ {
			continue
		}
		off, size := h.objOffset(), h.objSize()
		if off < HeaderSize || off >= format.PageSize || off+size > p.Size {
			return errors.Wrapf(ErrCorrupt, "pool %v: object at +%d of %d bytes", p.Mem, off, size)
		}
		allocated += size
	}
	if allocated != a.allocated {
		return errors.Wrapf(ErrCorrupt, "headers hold %d bytes, recorded %d", allocated, a.allocated)
	}
	return nil
}
