package region

import (
	"sync"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
	"github.com/joshuapare/gcheap/internal/logger"
)

// Pool hands out regions from the PoolManager and maps any address in the
// object space back to its region. A region larger than the region size
// occupies several consecutive table slots.
type Pool struct {
	pm         *mem.PoolManager
	space      *mem.Space
	regionSize uint64
	shift      uint

	mu    sync.RWMutex
	table []*Region
	count int
}

// NewPool returns a region pool. regionSize must be a power of two of at
// least one page.
func NewPool(pm *mem.PoolManager, regionSize uint64) *Pool {
	assert.That(format.IsPowerOfTwo(regionSize) && regionSize >= format.PageSize,
		"region: bad region size %d", regionSize)
	sp := pm.Space()
	return &Pool{
		pm:         pm,
		space:      sp,
		regionSize: regionSize,
		shift:      format.Log2Floor(regionSize),
		table:      make([]*Region, (sp.Size()+regionSize-1)/regionSize),
	}
}

// RegionSize returns the size of a regular region.
func (p *Pool) RegionSize() uint64 { return p.regionSize }

// Space returns the object space regions are carved from.
func (p *Pool) Space() *mem.Space { return p.space }

func (p *Pool) slot(addr mem.Addr) int {
	return int(addr.Diff(p.space.Base()) >> p.shift)
}

// NewRegion allocates a region of size bytes (a multiple of the region
// size) aligned to the region size, or returns nil.
func (p *Pool) NewRegion(size uint64, flags Flags, st mem.SpaceType, owner any) *Region {
	assert.That(size > 0 && format.IsAligned(size, p.regionSize), "region: size %d not a multiple of %d", size, p.regionSize)
	mp := p.pm.AllocPoolAligned(size, p.regionSize, st, mem.AllocatorRegion, owner)
	if mp.IsNull() {
		return nil
	}
	r := newRegion(p.space, mp.Mem, mp.Size, flags)

	p.mu.Lock()
	for i, n := p.slot(r.begin), p.slot(r.end); i < n; i++ {
		assert.That(p.table[i] == nil, "region: table slot %d already taken", i)
		p.table[i] = r
	}
	p.count++
	p.mu.Unlock()

	logger.Debug("region: created", "region", r)
	return r
}

// detach removes r from the table without returning its memory.
func (p *Pool) detach(r *Region) {
	p.mu.Lock()
	for i, n := p.slot(r.begin), p.slot(r.end); i < n; i++ {
		assert.That(p.table[i] == r, "region: table slot %d does not hold %v", i, r)
		p.table[i] = nil
	}
	p.count--
	p.mu.Unlock()
}

// FreeRegion returns r's memory to the PoolManager.
func (p *Pool) FreeRegion(r *Region) {
	p.detach(r)
	p.pm.FreePool(mem.Pool{Mem: r.begin, Size: r.Size()})
	logger.Debug("region: freed", "region", r)
}

// AddrToRegion returns the region containing addr, or nil.
func (p *Pool) AddrToRegion(addr mem.Addr) *Region {
	if !p.space.Contains(addr) {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table[p.slot(addr)]
}

// Count returns the number of live regions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}
