package region

import (
	"slices"
	"sync"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/logger"
)

// ReleasePolicy selects what FreeRegion does with a regular region.
type ReleasePolicy uint8

const (
	// Release returns the region to the pool.
	Release ReleasePolicy = iota
	// NoRelease keeps the region in the space's empty cache when there is room.
	NoRelease
)

// OSPagesPolicy selects whether a cached region keeps its physical pages.
type OSPagesPolicy uint8

const (
	ImmediateReturn OSPagesPolicy = iota
	NoReturn
)

// SpaceConfig configures a Space.
type SpaceConfig struct {
	SpaceType mem.SpaceType

	// MaxEmptyYoung and MaxEmptyTenured bound the empty-region caches.
	MaxEmptyYoung   int
	MaxEmptyTenured int
}

// DefaultSpaceConfig returns the configuration for the movable object space.
func DefaultSpaceConfig() SpaceConfig {
	return SpaceConfig{SpaceType: mem.SpaceObject, MaxEmptyYoung: 4, MaxEmptyTenured: 4}
}

// Space is the set of regions owned by one allocator. Several spaces may
// share one Pool.
type Space struct {
	pool  *Pool
	cfg   SpaceConfig
	owner any

	mu           sync.Mutex
	regions      []*Region // address ordered
	emptyYoung   []*Region
	emptyTenured []*Region
	youngBytes   uint64
	tenuredBytes uint64
}

// NewSpace returns an empty space drawing regions from pool. owner is
// recorded with the PoolManager for every region.
func NewSpace(pool *Pool, cfg SpaceConfig, owner any) *Space {
	return &Space{pool: pool, cfg: cfg, owner: owner}
}

// Pool returns the shared region pool.
func (s *Space) Pool() *Pool { return s.pool }

// RegionSize returns the size of a regular region.
func (s *Space) RegionSize() uint64 { return s.pool.regionSize }

func (s *Space) account(r *Region, add bool) {
	n := &s.tenuredBytes
	if r.IsYoung() {
		n = &s.youngBytes
	}
	if add {
		*n += r.Size()
	} else {
		*n -= r.Size()
	}
}

func (s *Space) cacheFor(young bool) *[]*Region {
	if young {
		return &s.emptyYoung
	}
	return &s.emptyTenured
}

// NewRegion returns an empty region of size bytes with flags. A regular
// sized request reuses a cached empty region of the same generation first.
func (s *Space) NewRegion(size uint64, flags Flags) *Region {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r *Region
	if size == s.pool.regionSize {
		cache := s.cacheFor(flags&FlagEden != 0)
		if n := len(*cache); n > 0 {
			r = (*cache)[n-1]
			*cache = (*cache)[:n-1]
			r.reset(flags)
		}
	}
	if r == nil {
		r = s.pool.NewRegion(size, flags, s.cfg.SpaceType, s.owner)
		if r == nil {
			logger.Debug("region: space exhausted", "size", size, "flags", flags)
			return nil
		}
	}
	s.insertLocked(r)
	s.account(r, true)
	return r
}

func (s *Space) insertLocked(r *Region) {
	i, _ := slices.BinarySearchFunc(s.regions, r.begin, func(x *Region, a mem.Addr) int { return cmpAddr(x.begin, a) })
	s.regions = slices.Insert(s.regions, i, r)
}

func (s *Space) removeLocked(r *Region) {
	i, ok := slices.BinarySearchFunc(s.regions, r.begin, func(x *Region, a mem.Addr) int { return cmpAddr(x.begin, a) })
	assert.That(ok && s.regions[i] == r, "region: %v not in space", r)
	s.regions = slices.Delete(s.regions, i, i+1)
}

// FreeRegion removes r from the space. With NoRelease a regular region goes
// to the empty cache when it has room, optionally giving its pages back to
// the OS; otherwise its memory returns to the pool.
func (s *Space) FreeRegion(r *Region, rp ReleasePolicy, op OSPagesPolicy) {
	s.mu.Lock()
	s.removeLocked(r)
	s.account(r, false)
	s.invalidateRefsLocked(r)

	young := r.IsYoung()
	if rp == NoRelease && r.Size() == s.pool.regionSize {
		limit := s.cfg.MaxEmptyTenured
		if young {
			limit = s.cfg.MaxEmptyYoung
		}
		if cache := s.cacheFor(young); len(*cache) < limit {
			r.reset(FlagFree)
			if op == ImmediateReturn {
				if err := s.pool.space.Release(r.begin, r.Size()); err != nil {
					logger.Warn("region: page release failed", "region", r, "err", err)
				}
			}
			*cache = append(*cache, r)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()
	s.pool.FreeRegion(r)
}

// invalidateRefsLocked drops r from every remembered set in the space.
func (s *Space) invalidateRefsLocked(r *Region) {
	for _, other := range s.regions {
		if rs := other.remSetIfAny(); rs != nil {
			rs.RemoveRefsFrom(r)
		}
	}
}

// PromoteYoungRegion turns an eden region into an old one in place.
func (s *Space) PromoteYoungRegion(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.That(r.IsYoung(), "region: promoting non-young %v", r)
	s.account(r, false)
	r.RemoveFlag(FlagEden)
	r.AddFlag(FlagOld | FlagPromoted)
	s.account(r, true)
}

// Regions returns the regions carrying any of flags, in address order. A
// zero mask returns every region.
func (s *Space) Regions(flags Flags) []*Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		if flags == 0 || r.HasFlag(flags) {
			out = append(out, r)
		}
	}
	return out
}

// IterateRegions calls fn for every region in address order. The space is
// not locked while fn runs.
func (s *Space) IterateRegions(fn func(*Region)) {
	for _, r := range s.Regions(0) {
		fn(r)
	}
}

// AddrToRegion returns the region of this space containing addr, or nil.
func (s *Space) AddrToRegion(addr mem.Addr) *Region {
	r := s.pool.AddrToRegion(addr)
	if r == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := slices.BinarySearchFunc(s.regions, r.begin, func(x *Region, a mem.Addr) int { return cmpAddr(x.begin, a) })
	if !ok || s.regions[i] != r {
		return nil
	}
	return r
}

// detachRegion removes r from the space and the pool table without freeing
// its memory. The caller takes over the memory.
func (s *Space) detachRegion(r *Region) {
	s.mu.Lock()
	s.removeLocked(r)
	s.account(r, false)
	s.invalidateRefsLocked(r)
	s.mu.Unlock()
	s.pool.detach(r)
}

// VisitAndRemoveEmptyRegions drains both empty caches, handing each region's
// memory to fn.
func (s *Space) VisitAndRemoveEmptyRegions(fn func(start mem.Addr, size uint64)) {
	s.mu.Lock()
	cached := append(s.emptyYoung, s.emptyTenured...)
	s.emptyYoung, s.emptyTenured = nil, nil
	s.mu.Unlock()
	for _, r := range cached {
		s.pool.detach(r)
		fn(r.begin, r.Size())
	}
}

// ReleaseEmptyRegions drains both empty caches back to the pool.
func (s *Space) ReleaseEmptyRegions() {
	s.mu.Lock()
	cached := append(s.emptyYoung, s.emptyTenured...)
	s.emptyYoung, s.emptyTenured = nil, nil
	s.mu.Unlock()
	for _, r := range cached {
		s.pool.FreeRegion(r)
	}
}

// EmptyRegions returns the number of cached young and tenured regions.
func (s *Space) EmptyRegions() (young, tenured int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emptyYoung), len(s.emptyTenured)
}

// YoungBytes returns the bytes of regions in the young generation.
func (s *Space) YoungBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.youngBytes
}

// TenuredBytes returns the bytes of all other regions.
func (s *Space) TenuredBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenuredBytes
}

// RegionCount returns the number of regions in use.
func (s *Space) RegionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regions)
}
