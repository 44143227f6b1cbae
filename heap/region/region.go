package region

import (
	"sync"
	"sync/atomic"

	"github.com/joshuapare/gcheap/heap/bitmap"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
)

// DefaultRegionSize is the size of a regular region.
const DefaultRegionSize = 256 * format.KB

// RegionSize returns the size of a region that holds exactly one object of
// objSize bytes: objSize rounded up to the region granularity.
func RegionSize(objSize, regionSize uint64) uint64 {
	return format.AlignUp(max(objSize, 1), regionSize)
}

// Region is a size-aligned span [Begin, End) with a bump pointer.
//
// Top only grows between resets. Alloc and AtomicAlloc never return an
// object that ends past End.
type Region struct {
	space *mem.Space
	begin mem.Addr
	end   mem.Addr
	top   atomic.Uint64
	flags atomic.Uint32

	liveBytes atomic.Uint64
	pinned    atomic.Int64

	mu     sync.Mutex // guards the fields below
	mark   *bitmap.Bitmap
	live   *bitmap.Bitmap
	remset *RemSet
	tlabs  []*tlab.TLAB
}

func newRegion(space *mem.Space, begin mem.Addr, size uint64, flags Flags) *Region {
	r := &Region{space: space, begin: begin, end: begin.Add(size)}
	r.top.Store(uint64(begin))
	r.flags.Store(uint32(flags))
	return r
}

func (r *Region) Begin() mem.Addr { return r.begin }
func (r *Region) End() mem.Addr   { return r.end }
func (r *Region) Top() mem.Addr   { return mem.Addr(r.top.Load()) }
func (r *Region) Size() uint64    { return r.end.Diff(r.begin) }

// SetTop moves the bump pointer. Only the owning allocator calls it, while
// no other goroutine allocates from r.
func (r *Region) SetTop(top mem.Addr) {
	assert.That(top >= r.begin && top <= r.end, "region: top %v outside [%v, %v]", top, r.begin, r.end)
	r.top.Store(uint64(top))
}

// Contains reports whether addr lies in [Begin, End).
func (r *Region) Contains(addr mem.Addr) bool { return addr >= r.begin && addr < r.end }

// IsEmpty reports whether nothing has been allocated.
func (r *Region) IsEmpty() bool { return r.Top() == r.begin }

// AllocatedBytes returns Top - Begin.
func (r *Region) AllocatedBytes() uint64 { return r.Top().Diff(r.begin) }

// FreeBytes returns End - Top.
func (r *Region) FreeBytes() uint64 { return r.end.Diff(r.Top()) }

func (r *Region) Flags() Flags            { return Flags(r.flags.Load()) }
func (r *Region) HasFlag(f Flags) bool    { return r.Flags()&f != 0 }
func (r *Region) AddFlag(f Flags)         { r.flags.Or(uint32(f)) }
func (r *Region) RemoveFlag(f Flags)      { r.flags.And(^uint32(f)) }
func (r *Region) SetFlags(f Flags)        { r.flags.Store(uint32(f)) }
func (r *Region) IsYoung() bool           { return r.HasFlag(FlagEden) }
func (r *Region) IsInCollectionSet() bool { return r.HasFlag(FlagInCollectionSet) }

// Alloc bumps Top for a caller that owns r exclusively. The object and any
// alignment gap before it are zeroed.
func (r *Region) Alloc(size uint64, align mem.Alignment) mem.Addr {
	size = format.AlignObject(size)
	old := r.Top()
	p := old.AlignUp(align.Bytes())
	if size == 0 || p > r.end || size > r.end.Diff(p) {
		return mem.Null
	}
	r.top.Store(uint64(p.Add(size)))
	r.space.Zero(old, p.Add(size).Diff(old))
	return p
}

// AtomicAlloc is Alloc for regions shared between goroutines. Top advances
// by compare-and-swap.
func (r *Region) AtomicAlloc(size uint64, align mem.Alignment) mem.Addr {
	return r.atomicBump(size, align, true)
}

// atomicBump claims [p, p+size) by compare-and-swap, zeroing it and the gap
// before it when zero is set.
func (r *Region) atomicBump(size uint64, align mem.Alignment, zero bool) mem.Addr {
	size = format.AlignObject(size)
	if size == 0 {
		return mem.Null
	}
	for {
		old := r.Top()
		p := old.AlignUp(align.Bytes())
		if p > r.end || size > r.end.Diff(p) {
			return mem.Null
		}
		if r.top.CompareAndSwap(uint64(old), uint64(p.Add(size))) {
			if zero {
				r.space.Zero(old, p.Add(size).Diff(old))
			}
			return p
		}
	}
}

// CreateTLAB carves a TLAB of size bytes from r and records it. It returns
// nil when r cannot hold it. The TLAB zeroes its buffer when filled.
func (r *Region) CreateTLAB(size uint64) *tlab.TLAB {
	start := r.atomicBump(size, mem.DefaultAlignment, false)
	if start == mem.Null {
		return nil
	}
	t := tlab.New(r.space)
	t.Fill(start, format.AlignObject(size))
	r.mu.Lock()
	r.tlabs = append(r.tlabs, t)
	r.mu.Unlock()
	return t
}

// TLABs returns the TLABs carved from r.
func (r *Region) TLABs() []*tlab.TLAB {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*tlab.TLAB(nil), r.tlabs...)
}

// IterateOverObjects walks [Begin, Top) by object size. Unused TLAB space is
// zero and skipped.
func (r *Region) IterateOverObjects(sizer mem.ObjectSizer, visit mem.ObjectVisitor) {
	if r.HasFlag(FlagLargeObject) {
		if !r.IsEmpty() {
			visit(r.begin)
		}
		return
	}
	tlab.WalkObjects(sizer, r.begin, r.Top(), visit)
}

// CreateMarkBitmap returns r's mark bitmap, cleared.
func (r *Region) CreateMarkBitmap() *bitmap.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mark == nil {
		r.mark = bitmap.New(r.begin, r.Size())
	} else {
		r.mark.ClearAll()
	}
	return r.mark
}

// CreateLiveBitmap returns r's live bitmap, cleared.
func (r *Region) CreateLiveBitmap() *bitmap.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = bitmap.New(r.begin, r.Size())
	} else {
		r.live.ClearAll()
	}
	return r.live
}

// MarkBitmap returns the mark bitmap, or nil before CreateMarkBitmap.
func (r *Region) MarkBitmap() *bitmap.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mark
}

// LiveBitmap returns the live bitmap, or nil before CreateLiveBitmap.
func (r *Region) LiveBitmap() *bitmap.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// CloneMarkBitmapToLiveBitmap makes the live bitmap a copy of the mark bitmap.
func (r *Region) CloneMarkBitmapToLiveBitmap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.That(r.mark != nil, "region %v: no mark bitmap", r.begin)
	if r.live == nil {
		r.live = r.mark.Clone()
		return
	}
	r.live.CopyFrom(r.mark)
}

// SwapMarkBitmap exchanges the mark and live bitmaps.
func (r *Region) SwapMarkBitmap() {
	r.mu.Lock()
	r.mark, r.live = r.live, r.mark
	r.mu.Unlock()
}

func (r *Region) AddLiveBytes(n uint64) { r.liveBytes.Add(n) }
func (r *Region) SetLiveBytes(n uint64) { r.liveBytes.Store(n) }
func (r *Region) LiveBytes() uint64     { return r.liveBytes.Load() }

// GarbageBytes returns the allocated bytes not accounted live.
func (r *Region) GarbageBytes() uint64 {
	alloc, live := r.AllocatedBytes(), r.LiveBytes()
	if live > alloc {
		return 0
	}
	return alloc - live
}

func (r *Region) PinObject() { r.pinned.Add(1) }

func (r *Region) UnpinObject() {
	n := r.pinned.Add(-1)
	assert.That(n >= 0, "region %v: unbalanced unpin", r.begin)
}

func (r *Region) HasPinnedObjects() bool { return r.pinned.Load() > 0 }

// RemSet returns r's remembered set, creating it on first use.
func (r *Region) RemSet() *RemSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remset == nil {
		r.remset = NewRemSet()
	}
	return r.remset
}

func (r *Region) remSetIfAny() *RemSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remset
}

// reset empties r for reuse with new flags. Bitmaps are kept but cleared.
func (r *Region) reset(flags Flags) {
	r.top.Store(uint64(r.begin))
	r.flags.Store(uint32(flags))
	r.liveBytes.Store(0)
	r.pinned.Store(0)
	r.mu.Lock()
	for _, t := range r.tlabs {
		t.Reset()
	}
	r.tlabs = nil
	if r.mark != nil {
		r.mark.ClearAll()
	}
	if r.live != nil {
		r.live.ClearAll()
	}
	if r.remset != nil {
		r.remset.Clear()
	}
	r.mu.Unlock()
}

func (r *Region) String() string {
	return mem.MemRange{Start: r.begin, End: r.end}.String() + " " + r.Flags().String()
}
