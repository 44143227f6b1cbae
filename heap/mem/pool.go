package mem

import (
	"slices"
	"sort"
	"sync"

	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// Pool is one page-aligned extent handed out by a PoolManager.
type Pool struct {
	Mem  Addr
	Size uint64
}

// NullPool is returned when a PoolManager cannot satisfy a request.
var NullPool = Pool{}

// IsNull reports whether p is the failure value.
func (p Pool) IsNull() bool { return p.Mem == Null }

// End returns the address one past the pool.
func (p Pool) End() Addr { return p.Mem.Add(p.Size) }

// Contains reports whether a lies inside the pool.
func (p Pool) Contains(a Addr) bool { return a >= p.Mem && a < p.End() }

// AllocatorInfo describes who owns a pool.
type AllocatorInfo struct {
	Type  AllocatorType
	Space SpaceType
	// Owner is the allocator instance that requested the pool.
	Owner any
	Pool  Pool
}

type poolEntry struct {
	pool Pool
	info AllocatorInfo
}

// PoolManager carves a Space into pools. It is the only component that takes
// memory from, or returns memory to, the OS. Pools are zeroed when handed out.
type PoolManager struct {
	mu    sync.RWMutex
	space *Space

	free  []Pool      // address-ordered, coalesced
	pools []poolEntry // address-ordered, for AllocatorInfo lookup

	used  uint64
	limit uint64
	peak  uint64
}

// NewPoolManager returns a PoolManager owning the whole of s.
func NewPoolManager(s *Space) *PoolManager {
	return &PoolManager{
		space: s,
		free:  []Pool{{Mem: s.Base(), Size: s.Size()}},
		limit: s.Size(),
	}
}

// Space returns the backing space.
func (pm *PoolManager) Space() *Space { return pm.space }

// SetLimit caps the number of bytes that may be outstanding at once.
// A limit above the space size is clamped.
func (pm *PoolManager) SetLimit(limit uint64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.limit = min(format.AlignPage(limit), pm.space.Size())
}

// AllocPool returns a page-aligned pool of at least size bytes, or NullPool.
func (pm *PoolManager) AllocPool(size uint64, st SpaceType, at AllocatorType, owner any) Pool {
	return pm.AllocPoolAligned(size, format.PageSize, st, at, owner)
}

// AllocPoolAligned returns a pool whose start is aligned to align (a power of
// two, at least one page), or NullPool.
func (pm *PoolManager) AllocPoolAligned(size, align uint64, st SpaceType, at AllocatorType, owner any) Pool {
	if size == 0 || !format.IsPowerOfTwo(align) {
		return NullPool
	}
	size = format.AlignPage(size)
	align = max(align, format.PageSize)

	pm.mu.Lock()
	p, ok := pm.carveLocked(size, align)
	if ok {
		pm.insertPoolLocked(poolEntry{pool: p, info: AllocatorInfo{Type: at, Space: st, Owner: owner, Pool: p}})
		pm.used += size
		pm.peak = max(pm.peak, pm.used)
	}
	pm.mu.Unlock()

	if !ok {
		logger.Debug("pool allocation failed", "size", size, "align", align, "space", st, "allocator", at)
		return NullPool
	}
	pm.space.Zero(p.Mem, p.Size)
	logger.Debug("pool allocated", "mem", p.Mem, "size", size, "space", st, "allocator", at)
	return p
}

// carveLocked takes the first free extent able to hold an aligned pool of size bytes.
func (pm *PoolManager) carveLocked(size, align uint64) (Pool, bool) {
	if pm.used+size > pm.limit {
		return NullPool, false
	}
	for i, ext := range pm.free {
		start := ext.Mem.AlignUp(align)
		if start < ext.Mem || start.Add(size) > ext.End() {
			continue
		}
		head := Pool{Mem: ext.Mem, Size: start.Diff(ext.Mem)}
		tail := Pool{Mem: start.Add(size), Size: ext.End().Diff(start.Add(size))}

		var repl []Pool
		if head.Size > 0 {
			repl = append(repl, head)
		}
		if tail.Size > 0 {
			repl = append(repl, tail)
		}
		pm.free = slices.Replace(pm.free, i, i+1, repl...)
		return Pool{Mem: start, Size: size}, true
	}
	return NullPool, false
}

func (pm *PoolManager) insertPoolLocked(e poolEntry) {
	i := sort.Search(len(pm.pools), func(i int) bool { return pm.pools[i].pool.Mem >= e.pool.Mem })
	pm.pools = slices.Insert(pm.pools, i, e)
}

// findLocked returns the index of the pool containing a.
func (pm *PoolManager) findLocked(a Addr) (int, bool) {
	i := sort.Search(len(pm.pools), func(i int) bool { return pm.pools[i].pool.End() > a })
	if i < len(pm.pools) && pm.pools[i].pool.Contains(a) {
		return i, true
	}
	return 0, false
}

// FreePool returns p to the manager. Its pages are handed back to the OS.
// Freeing a pool that was not handed out is an invariant violation.
func (pm *PoolManager) FreePool(p Pool) {
	pm.mu.Lock()
	i, ok := pm.findLocked(p.Mem)
	assert.That(ok && pm.pools[i].pool == p, "mem: free of unknown pool %v+%d", p.Mem, p.Size)
	pm.pools = slices.Delete(pm.pools, i, i+1)
	pm.used -= p.Size
	pm.insertFreeLocked(p)
	pm.mu.Unlock()

	if err := pm.space.Release(p.Mem, p.Size); err != nil {
		logger.Warn("release freed pool pages", "mem", p.Mem, "size", p.Size, "err", err)
	}
	logger.Debug("pool freed", "mem", p.Mem, "size", p.Size)
}

// insertFreeLocked adds p to the free list, merging with both neighbours.
func (pm *PoolManager) insertFreeLocked(p Pool) {
	i := sort.Search(len(pm.free), func(i int) bool { return pm.free[i].Mem >= p.Mem })
	if i > 0 && pm.free[i-1].End() == p.Mem {
		i--
		p = Pool{Mem: pm.free[i].Mem, Size: pm.free[i].Size + p.Size}
		pm.free = slices.Delete(pm.free, i, i+1)
	}
	if i < len(pm.free) && p.End() == pm.free[i].Mem {
		p.Size += pm.free[i].Size
		pm.free = slices.Delete(pm.free, i, i+1)
	}
	pm.free = slices.Insert(pm.free, i, p)
}

// AllocArena returns an Arena over a fresh pool, or nil.
func (pm *PoolManager) AllocArena(size uint64, st SpaceType, at AllocatorType, owner any) *Arena {
	p := pm.AllocPool(size, st, at, owner)
	if p.IsNull() {
		return nil
	}
	return NewArena(p.Mem, p.Size)
}

// FreeArena returns the pool behind a to the manager.
func (pm *PoolManager) FreeArena(a *Arena) {
	pm.FreePool(Pool{Mem: a.Start(), Size: a.Size()})
}

// AllocatorInfo returns the owner of the pool containing addr.
func (pm *PoolManager) AllocatorInfo(addr Addr) (AllocatorInfo, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	i, ok := pm.findLocked(addr)
	if !ok {
		return AllocatorInfo{}, false
	}
	return pm.pools[i].info, true
}

// SpaceType returns the space type of the pool containing addr, or
// SpaceUndefined for memory that is not handed out.
func (pm *PoolManager) SpaceType(addr Addr) SpaceType {
	info, ok := pm.AllocatorInfo(addr)
	if !ok {
		return SpaceUndefined
	}
	return info.Space
}

// ReleasePages hands the whole pages inside [addr, addr+size) back to the OS
// without freeing the pool that contains them.
func (pm *PoolManager) ReleasePages(addr Addr, size uint64) {
	if err := pm.space.Release(addr, size); err != nil {
		logger.Warn("release pages", "mem", addr, "size", size, "err", err)
	}
}

// Used returns the bytes currently handed out.
func (pm *PoolManager) Used() uint64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.used
}

// Peak returns the highest value Used has reached.
func (pm *PoolManager) Peak() uint64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.peak
}

// Limit returns the maximum number of bytes that may be handed out.
func (pm *PoolManager) Limit() uint64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.limit
}

// PoolCount returns the number of outstanding pools.
func (pm *PoolManager) PoolCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.pools)
}
