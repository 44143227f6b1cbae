package freelist

import (
	"slices"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gcheap/heap/crossing"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// Config configures an Allocator.
type Config struct {
	// SizeClasses selects the free-list bucketing (nil for DefaultSizeClasses).
	SizeClasses *SizeClassConfig

	// CrossingMap, when set, is kept up to date on every Alloc and Free and
	// used to start range iteration.
	CrossingMap *crossing.Map

	// Stats receives allocation events (nil for none).
	Stats mem.StatsRecorder

	// SpaceType is reported to Stats.
	SpaceType mem.SpaceType
}

// DefaultConfig returns the configuration used for regular objects.
func DefaultConfig() Config {
	return Config{SpaceType: mem.SpaceObject}
}

// Stats holds internal allocator statistics.
type Stats struct {
	AllocCalls       int
	AllocFailures    int
	FreeCalls        int
	SplitCount       int
	CoalesceForward  int
	CoalesceBackward int
	PaddedAllocs     int
	HeapPushes       int
	HeapPops         int
	HeapRemoves      int
	Pools            int
	FreeBlocks       int
	FreeBytes        uint64
	LargestFree      uint64
	AllocatedBytes   uint64
}

// Allocator serves objects below MaxSize from pools registered with
// AddMemoryPool. It is safe for concurrent use.
type Allocator struct {
	mu    sync.RWMutex
	space *mem.Space
	cm    *crossing.Map
	rec   mem.StatsRecorder
	st    mem.SpaceType

	free     *segregatedList
	poolHead mem.Addr   // in-memory pool chain
	bins     []mem.Pool // address-ordered, for lookup

	allocated uint64
	stats     Stats
}

// New returns an empty allocator over space.
func New(space *mem.Space, cfg Config) *Allocator {
	sc := DefaultSizeClasses
	if cfg.SizeClasses != nil {
		sc = *cfg.SizeClasses
	}
	rec := cfg.Stats
	if rec == nil {
		rec = mem.NopStats{}
	}
	a := &Allocator{
		space: space,
		cm:    cfg.CrossingMap,
		rec:   rec,
		st:    cfg.SpaceType,
		bins:  make([]mem.Pool, 0, 16),
	}
	a.free = newSegregatedList(sc, &a.stats)
	return a
}

func (a *Allocator) block(h mem.Addr) block { return block{s: a.space, h: h} }

func (a *Allocator) pool(p mem.Addr) poolHeader { return poolHeader{s: a.space, p: p} }

// AddMemoryPool registers [start, start+size) and makes it available for
// allocation. The memory must be zeroed or otherwise unused.
func (a *Allocator) AddMemoryPool(start mem.Addr, size uint64) error {
	if size < MinPoolSize {
		return errors.Wrapf(ErrPoolTooSmall, "%d bytes, need %d", size, MinPoolSize)
	}
	if !start.IsAligned(format.ObjectAlignment) || !format.IsAligned(size, format.ObjectAlignment) {
		return errors.Wrapf(ErrPoolUnaligned, "pool %v+%d", start, size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := mem.Pool{Mem: start, Size: size}
	i := sort.Search(len(a.bins), func(i int) bool { return a.bins[i].End() > start })
	if i < len(a.bins) && a.bins[i].Mem < p.End() {
		return errors.Wrapf(ErrPoolOverlap, "pool %v+%d", start, size)
	}
	a.bins = slices.Insert(a.bins, i, p)

	ph := a.pool(start)
	ph.init(size)
	if a.poolHead != mem.Null {
		ph.setNext(a.poolHead)
		a.pool(a.poolHead).setPrev(start)
	}
	a.poolHead = start

	first := a.block(ph.firstBlock())
	first.init(size-PoolHeaderSize-HeaderSize, mem.Null, flagLastInPool)
	a.free.insert(first.h, first.size())
	a.stats.Pools++

	logger.Debug("freelist: pool added", "mem", start, "size", size, "pools", len(a.bins))
	return nil
}

// Alloc returns a zeroed object of size bytes aligned to align, or mem.Null
// when size is at least MaxSize or no free block fits.
func (a *Allocator) Alloc(size uint64, align mem.Alignment) mem.Addr {
	if size >= MaxSize {
		return mem.Null
	}
	size = max(format.AlignObject(size), MinSize)
	alignBytes := align.Bytes()
	need := blockNeed(size, align)

	a.mu.Lock()
	a.stats.AllocCalls++
	h := a.free.take(need)
	if h == mem.Null {
		a.stats.AllocFailures++
		a.mu.Unlock()
		logger.Debug("freelist: no block fits", "size", size, "align", alignBytes)
		return mem.Null
	}

	blk := a.block(h)
	payload := blk.payload()
	obj := payload
	if !obj.IsAligned(alignBytes) {
		obj = payload.Add(HeaderSize).AlignUp(alignBytes)
	}
	used := obj.Diff(payload) + size
	assert.That(used <= blk.size(), "freelist: block %v of %d cannot hold %d", h, blk.size(), used)
	a.splitLocked(blk, used)

	blk.setFlag(flagUsed)
	if obj != payload {
		blk.setFlag(flagHasPaddingAfter)
		blk.setPad(obj.Diff(payload))
		a.block(obj - HeaderSize).init(0, h, flagPaddingHeader)
		a.stats.PaddedAllocs++
	}
	objSize := blk.objectSize()
	a.allocated += objSize
	a.mu.Unlock()

	a.space.Zero(obj, objSize)
	if a.cm != nil {
		a.cm.AddObject(obj, objSize)
	}
	a.rec.RecordAllocateObject(objSize, a.st)
	mem.Publish()
	return obj
}

// blockNeed returns the free-block payload that serves an object of size
// bytes at align, leaving room for a padding header when the alignment is
// above the default.
func blockNeed(size uint64, align mem.Alignment) uint64 {
	size = max(format.AlignObject(size), MinSize)
	if align.Bytes() > format.ObjectAlignment {
		return size + align.Bytes() + HeaderSize
	}
	return size
}

// PoolCanHold reports whether a fresh pool of poolSize bytes can serve an
// object of size bytes at align.
func PoolCanHold(poolSize, size uint64, align mem.Alignment) bool {
	if size >= MaxSize || poolSize < MinPoolSize {
		return false
	}
	return blockNeed(size, align) <= poolSize-PoolHeaderSize-HeaderSize
}

// splitLocked cuts blk down to used payload bytes when the tail can hold a
// block of its own, and indexes the tail as free.
func (a *Allocator) splitLocked(blk block, used uint64) {
	if blk.size()-used < HeaderSize+MinSize {
		return
	}
	tail := a.block(blk.payload().Add(used))
	tail.init(blk.size()-used-HeaderSize, blk.h, blk.flags()&flagLastInPool)
	if n := tail.next(); n != mem.Null {
		a.block(n).setPrev(tail.h)
	}
	blk.setSize(used)
	blk.clearFlag(flagLastInPool)
	a.free.insert(tail.h, tail.size())
	a.stats.SplitCount++
}

// headerOf resolves the real header of the object at obj.
func (a *Allocator) headerOf(obj mem.Addr) block {
	h := a.block(obj - HeaderSize)
	if h.has(flagPaddingHeader) {
		return a.block(h.prev())
	}
	return h
}

// Free returns obj to the allocator and merges it with free neighbours.
// Freeing memory this allocator does not own is logged and ignored.
func (a *Allocator) Free(obj mem.Addr) {
	a.mu.Lock()
	size, ok := a.freeLocked(obj)
	a.mu.Unlock()
	if ok {
		a.rec.RecordFreeObject(size, a.st)
	}
}

func (a *Allocator) freeLocked(obj mem.Addr) (uint64, bool) {
	if !a.containsLocked(obj) {
		logger.Warn("freelist: free of foreign memory", "obj", obj)
		return 0, false
	}
	a.stats.FreeCalls++

	blk := a.headerOf(obj)
	assert.That(blk.has(flagUsed) && blk.object() == obj, "freelist: free of unallocated object %v", obj)
	objSize := blk.objectSize()

	if a.cm != nil {
		next := mem.Null
		if n := blk.next(); n != mem.Null && a.block(n).has(flagUsed) {
			next = a.block(n).object()
		}
		a.cm.RemoveObject(obj, objSize, next)
	}

	if blk.has(flagHasPaddingAfter) {
		a.block(obj - HeaderSize).setFlags(0)
		blk.setPad(0)
	}
	blk.clearFlag(flagUsed | flagHasPaddingAfter)
	a.allocated -= objSize

	blk = a.coalesceLocked(blk)
	a.free.insert(blk.h, blk.size())
	return objSize, true
}

// coalesceLocked merges the free block blk with free physical neighbours and
// returns the surviving header. Neighbours leave the free index first.
func (a *Allocator) coalesceLocked(blk block) block {
	if n := blk.next(); n != mem.Null {
		nb := a.block(n)
		if !nb.has(flagUsed) {
			assert.That(a.free.remove(n), "freelist: free block %v not indexed", n)
			blk.setSize(blk.size() + HeaderSize + nb.size())
			blk.setFlag(nb.flags() & flagLastInPool)
			nb.setFlags(0)
			if nn := blk.next(); nn != mem.Null {
				a.block(nn).setPrev(blk.h)
			}
			a.stats.CoalesceForward++
		}
	}
	if p := blk.prev(); p != mem.Null {
		pb := a.block(p)
		if !pb.has(flagUsed) {
			assert.That(a.free.remove(p), "freelist: free block %v not indexed", p)
			pb.setSize(pb.size() + HeaderSize + blk.size())
			pb.setFlag(blk.flags() & flagLastInPool)
			blk.setFlags(0)
			if nn := pb.next(); nn != mem.Null {
				a.block(nn).setPrev(pb.h)
			}
			a.stats.CoalesceBackward++
			blk = pb
		}
	}
	return blk
}

// Collect frees every object checker reports dead.
func (a *Allocator) Collect(checker mem.DeathChecker) {
	a.IterateOverObjects(func(obj mem.Addr) {
		if checker(obj) == mem.ObjectDead {
			a.Free(obj)
		}
	})
}

func (a *Allocator) findPoolLocked(addr mem.Addr) (mem.Pool, bool) {
	i := sort.Search(len(a.bins), func(i int) bool { return a.bins[i].End() > addr })
	if i < len(a.bins) && a.bins[i].Contains(addr) {
		return a.bins[i], true
	}
	return mem.NullPool, false
}

func (a *Allocator) containsLocked(addr mem.Addr) bool {
	_, ok := a.findPoolLocked(addr)
	return ok
}

// ContainObject reports whether obj lies in one of the allocator's pools.
func (a *Allocator) ContainObject(obj mem.Addr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.containsLocked(obj)
}

// IsLive reports whether obj is a currently allocated object.
func (a *Allocator) IsLive(obj mem.Addr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.findPoolLocked(obj)
	if !ok || obj < p.Mem.Add(PoolHeaderSize+HeaderSize) {
		return false
	}
	blk := a.headerOf(obj)
	if !p.Contains(blk.h) {
		return false
	}
	return blk.has(flagUsed) && blk.object() == obj
}

// AllocatedBytes returns the bytes held by live objects.
func (a *Allocator) AllocatedBytes() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allocated
}

// Pools returns the registered pools in address order.
func (a *Allocator) Pools() []mem.Pool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.bins)
}

// Stats returns a snapshot of the allocator statistics.
func (a *Allocator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.stats
	s.FreeBlocks = a.free.len()
	s.FreeBytes = a.free.bytes
	s.LargestFree = a.free.largest()
	s.AllocatedBytes = a.allocated
	return s
}

// unlinkPoolLocked removes the pool at p from the pool chain and lookup index.
func (a *Allocator) unlinkPoolLocked(p mem.Pool) {
	ph := a.pool(p.Mem)
	if prev := ph.prev(); prev != mem.Null {
		a.pool(prev).setNext(ph.next())
	} else {
		a.poolHead = ph.next()
	}
	if next := ph.next(); next != mem.Null {
		a.pool(next).setPrev(ph.prev())
	}
	i := sort.Search(len(a.bins), func(i int) bool { return a.bins[i].Mem >= p.Mem })
	assert.That(i < len(a.bins) && a.bins[i] == p, "freelist: pool %v not registered", p.Mem)
	a.bins = slices.Delete(a.bins, i, i+1)
	a.stats.Pools--
}

// VisitAndRemoveAllPools unregisters every pool and hands it to fn. Objects
// still allocated in them are abandoned.
func (a *Allocator) VisitAndRemoveAllPools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	pools := slices.Clone(a.bins)
	for _, p := range pools {
		a.forEachBlockLocked(p, func(b block) {
			if !b.has(flagUsed) {
				a.free.remove(b.h)
			}
		})
		a.unlinkPoolLocked(p)
	}
	a.allocated = 0
	a.mu.Unlock()

	for _, p := range pools {
		logger.Debug("freelist: pool removed", "mem", p.Mem, "size", p.Size)
		fn(p.Mem, p.Size)
	}
}

// VisitAndRemoveFreePools unregisters every pool that holds no object and
// hands it to fn.
func (a *Allocator) VisitAndRemoveFreePools(fn func(start mem.Addr, size uint64)) {
	a.mu.Lock()
	var empty []mem.Pool
	for _, p := range slices.Clone(a.bins) {
		first := a.block(a.pool(p.Mem).firstBlock())
		if first.has(flagUsed) || !first.has(flagLastInPool) {
			continue
		}
		a.free.remove(first.h)
		a.unlinkPoolLocked(p)
		empty = append(empty, p)
	}
	a.mu.Unlock()

	for _, p := range empty {
		logger.Debug("freelist: free pool removed", "mem", p.Mem, "size", p.Size)
		fn(p.Mem, p.Size)
	}
}

func (a *Allocator) forEachBlockLocked(p mem.Pool, fn func(block)) {
	for h := a.pool(p.Mem).firstBlock(); h != mem.Null; {
		b := a.block(h)
		next := b.next()
		fn(b)
		h = next
	}
}
