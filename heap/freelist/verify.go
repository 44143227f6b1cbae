package freelist

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/mem"
)

// Verify walks every pool and checks that the header chain is consistent,
// free blocks are indexed, no two free blocks are adjacent and the byte
// accounting adds up.
func (a *Allocator) Verify() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var allocated uint64
	freeCount := 0
	seen := 0
	for ph := a.poolHead; ph != mem.Null; ph = a.pool(ph).next() {
		seen++
		p, ok := a.findPoolLocked(ph)
		if !ok || p.Mem != ph {
			return errors.Wrapf(ErrCorrupt, "pool chain entry %v is not registered", ph)
		}
		if a.pool(ph).size() != p.Size {
			return errors.Wrapf(ErrCorrupt, "pool %v header size %d, registered %d", ph, a.pool(ph).size(), p.Size)
		}

		prev := mem.Null
		prevFree := false
		h := a.pool(ph).firstBlock()
		for {
			b := a.block(h)
			if b.h < p.Mem.Add(PoolHeaderSize) || b.end() > p.End() {
				return errors.Wrapf(ErrCorrupt, "block %v of %d bytes escapes pool %v", h, b.size(), p.Mem)
			}
			if b.prev() != prev {
				return errors.Wrapf(ErrCorrupt, "block %v prev %v, want %v", h, b.prev(), prev)
			}
			if b.has(flagPaddingHeader) {
				return errors.Wrapf(ErrCorrupt, "padding header %v in block chain", h)
			}
			if b.has(flagUsed) {
				allocated += b.objectSize()
				if b.has(flagHasPaddingAfter) {
					pad := a.block(b.object() - HeaderSize)
					if !pad.has(flagPaddingHeader) || pad.prev() != h {
						return errors.Wrapf(ErrCorrupt, "block %v lost its padding header", h)
					}
				}
				prevFree = false
			} else {
				if prevFree {
					return errors.Wrapf(ErrCorrupt, "adjacent free blocks at %v", h)
				}
				if !a.free.contains(h) {
					return errors.Wrapf(ErrCorrupt, "free block %v not indexed", h)
				}
				freeCount++
				prevFree = true
			}
			if b.has(flagLastInPool) {
				if b.end() != p.End() {
					return errors.Wrapf(ErrCorrupt, "last block %v ends at %v, pool ends at %v", h, b.end(), p.End())
				}
				break
			}
			prev = h
			h = b.next()
		}
	}

	if seen != len(a.bins) {
		return errors.Wrapf(ErrCorrupt, "pool chain has %d pools, index has %d", seen, len(a.bins))
	}
	if freeCount != a.free.len() {
		return errors.Wrapf(ErrCorrupt, "%d free blocks in pools, %d indexed", freeCount, a.free.len())
	}
	if allocated != a.allocated {
		return errors.Wrapf(ErrCorrupt, "allocated bytes %d, accounted %d", allocated, a.allocated)
	}
	return nil
}
