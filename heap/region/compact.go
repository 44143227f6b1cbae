package region

import (
	"slices"

	"github.com/joshuapare/gcheap/heap/bitmap"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// ensureLiveBitmap returns r's live bitmap. A new one starts with every
// object already in r marked.
func (r *Region) ensureLiveBitmap(sizer mem.ObjectSizer) *bitmap.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = bitmap.New(r.begin, r.Size())
		r.IterateOverObjects(sizer, r.live.Set)
	}
	return r.live
}

// compactor moves objects out of a collection set.
type compactor struct {
	a     *Allocator
	to    Flags
	moved mem.MoveHandler

	count, bytes uint64
}

func (c *compactor) move(obj mem.Addr) {
	a := c.a
	size := format.AlignObject(a.cfg.Sizer.ObjectSize(obj))
	var dst mem.Addr
	var r *Region
	if c.to&FlagEden != 0 {
		dst, r = a.allocEden(size, mem.DefaultAlignment, false)
	} else {
		dst, r = a.allocQueued(&a.oldQueue, size, mem.DefaultAlignment, c.to)
	}
	assert.That(dst != mem.Null, "region: no destination for %d bytes moved from %v", size, obj)
	assert.That(!r.IsInCollectionSet(), "region: destination %v is being evacuated", r)

	a.space.pool.space.Copy(dst, obj, size)
	r.ensureLiveBitmap(a.cfg.Sizer).Set(dst)
	r.AddLiveBytes(size)
	if c.moved != nil {
		c.moved(obj, dst)
	}
	c.count++
	c.bytes += size
}

// CompactSeveralSpecificRegions copies the live objects of regions into
// regions flagged to and returns the regions that were emptied. Liveness
// comes from each region's mark bitmap when useMarked is set and from
// checker otherwise. moved, if set, is called for every relocation.
//
// Large-object regions are never copied: a live one is promoted in place
// when it is young, a dead one is returned with the emptied regions.
// Regions holding pinned objects are left where they are, young ones being
// promoted in place when to is old. The caller frees the returned regions
// with ResetSeveralSpecificRegions.
func (a *Allocator) CompactSeveralSpecificRegions(regions []*Region, to Flags, useMarked bool, checker mem.DeathChecker, moved mem.MoveHandler) []*Region {
	assert.That(useMarked || checker != nil, "region: compaction needs a death checker or mark bitmaps")
	regions = slices.DeleteFunc(slices.Clone(regions), func(r *Region) bool {
		if !r.HasPinnedObjects() {
			return false
		}
		if r.IsYoung() && to&FlagOld != 0 {
			a.forgetRegion(r)
			a.space.PromoteYoungRegion(r)
		}
		logger.Debug("region: pinned region kept", "region", r)
		return true
	})
	for _, r := range regions {
		r.AddFlag(FlagInCollectionSet)
		a.forgetRegion(r)
	}

	c := &compactor{a: a, to: to, moved: moved}
	evacuated := make([]*Region, 0, len(regions))
	for _, r := range regions {
		alive := func(obj mem.Addr) bool {
			if useMarked {
				return r.MarkBitmap().Test(obj)
			}
			return checker(obj) == mem.ObjectAlive
		}
		if useMarked {
			assert.That(r.MarkBitmap() != nil, "region %v: no mark bitmap", r)
		}

		if r.HasFlag(FlagLargeObject) {
			r.RemoveFlag(FlagInCollectionSet)
			if !r.IsEmpty() && alive(r.begin) {
				if r.IsYoung() && to&FlagOld != 0 {
					a.space.PromoteYoungRegion(r)
				}
				continue
			}
			evacuated = append(evacuated, r)
			continue
		}

		if useMarked {
			r.MarkBitmap().IterateOverMarkedInRange(r.begin, r.Top(), c.move)
		} else {
			r.IterateOverObjects(a.cfg.Sizer, func(obj mem.Addr) {
				if alive(obj) {
					c.move(obj)
				}
			})
		}
		r.RemoveFlag(FlagInCollectionSet)
		evacuated = append(evacuated, r)
	}

	a.rec.RecordMovedObjects(c.count, c.bytes)
	logger.Debug("region: compacted", "regions", len(regions), "moved", c.count, "bytes", c.bytes, "to", to)
	return evacuated
}

// CompactAllSpecificRegions compacts every region flagged from into regions
// flagged to. See CompactSeveralSpecificRegions.
func (a *Allocator) CompactAllSpecificRegions(from, to Flags, useMarked bool, checker mem.DeathChecker, moved mem.MoveHandler) []*Region {
	return a.CompactSeveralSpecificRegions(a.space.Regions(from), to, useMarked, checker, moved)
}
