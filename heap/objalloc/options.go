package objalloc

import (
	"fmt"

	"github.com/joshuapare/gcheap/heap/freelist"
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/region"
	"github.com/joshuapare/gcheap/heap/runslots"
	"github.com/joshuapare/gcheap/internal/format"
)

const (
	// DefaultYoungSize is the young space size.
	DefaultYoungSize = 4 * format.MB

	// DefaultYoungObjectMaxSize is the largest object KindGen places in the
	// young space.
	DefaultYoungObjectMaxSize = 16 * format.KB

	// DefaultTLABSize is the size of a thread's first TLAB.
	DefaultTLABSize = 4 * format.KB

	// DefaultMaxTLABSize bounds adaptive TLAB growth.
	DefaultMaxTLABSize = 16 * format.KB

	// DefaultTLABsMaxCount is how many TLABs the KindGen young space can
	// carve at once.
	DefaultTLABsMaxCount = 64

	// DefaultMaxEmptyRegions bounds each empty-region cache.
	DefaultMaxEmptyRegions = 4
)

// Options configures an ObjectAllocator.
type Options struct {
	// HeapSize caps the bytes the PoolManager may hand out. Zero keeps the
	// manager's current limit.
	HeapSize uint64

	// YoungSize is the bump arena of KindGen and the eden budget of KindG1.
	YoungSize uint64

	// YoungObjectMaxSize is the largest object KindGen allocates young.
	// Bigger objects go straight to the tenured space.
	YoungObjectMaxSize uint64

	// TLABSize is the size of every TLAB, or of the first one when
	// AdaptiveTLAB is set.
	TLABSize uint64

	// MaxTLABSize bounds adaptive TLABs.
	MaxTLABSize uint64

	// AdaptiveTLAB sizes each thread's TLABs from what it used before.
	AdaptiveTLAB bool

	// TLABsMaxCount is the number of TLABs KindGen's young space reserves room for.
	TLABsMaxCount int

	// UsePygote routes non-movable allocations to a pygote space until it is forked.
	UsePygote bool

	// RegionSize is the KindG1 region size: a power of two no smaller than
	// freelist.MinPoolSize, so a region can back a non-movable free list.
	RegionSize uint64

	// MaxEmptyRegions bounds the KindG1 empty-region caches.
	MaxEmptyRegions int

	// UseCrossingMap keeps a crossing map for the sweeping allocators.
	UseCrossingMap bool

	// FreeListPoolSize and RunSlotsPoolSize are the sizes of the pools added
	// when those allocators run dry.
	FreeListPoolSize uint64
	RunSlotsPoolSize uint64

	// Stats receives allocation events (nil for none).
	Stats mem.StatsRecorder
}

// DefaultOptions returns options that suit every heap kind.
func DefaultOptions() Options {
	return Options{
		YoungSize:          DefaultYoungSize,
		YoungObjectMaxSize: DefaultYoungObjectMaxSize,
		TLABSize:           DefaultTLABSize,
		MaxTLABSize:        DefaultMaxTLABSize,
		AdaptiveTLAB:       true,
		TLABsMaxCount:      DefaultTLABsMaxCount,
		RegionSize:         region.DefaultRegionSize,
		MaxEmptyRegions:    DefaultMaxEmptyRegions,
		FreeListPoolSize:   freelist.DefaultPoolSize,
		RunSlotsPoolSize:   runslots.DefaultPoolSize,
	}
}

// OptionError reports one invalid option.
type OptionError struct {
	Option string // Name of the offending field
	Value  uint64
	Reason string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("objalloc: option %s = %d: %s", e.Option, e.Value, e.Reason)
}

// Unwrap makes every OptionError match ErrInvalidOptions.
func (e *OptionError) Unwrap() error { return ErrInvalidOptions }

// Validate checks the options for consistency. It returns an *OptionError.
func (o Options) Validate() error {
	switch {
	case !format.IsPowerOfTwo(o.RegionSize):
		return &OptionError{"RegionSize", o.RegionSize, "must be a power of two"}
	case o.RegionSize < freelist.MinPoolSize:
		return &OptionError{"RegionSize", o.RegionSize, fmt.Sprintf("must be at least %d", freelist.MinPoolSize)}
	case o.TLABSize == 0:
		return &OptionError{"TLABSize", 0, "must be positive"}
	case o.MaxTLABSize < o.TLABSize:
		return &OptionError{"MaxTLABSize", o.MaxTLABSize, "must be at least TLABSize"}
	case o.MaxTLABSize > o.RegionSize:
		return &OptionError{"MaxTLABSize", o.MaxTLABSize, "must fit in a region"}
	case o.TLABsMaxCount < 0:
		return &OptionError{"TLABsMaxCount", uint64(o.TLABsMaxCount), "must not be negative"}
	case o.YoungSize < o.RegionSize:
		return &OptionError{"YoungSize", o.YoungSize, "must hold at least one region"}
	case o.YoungSize <= uint64(o.TLABsMaxCount)*o.MaxTLABSize:
		return &OptionError{"YoungSize", o.YoungSize, "leaves no room beside the TLAB reserve"}
	case o.YoungObjectMaxSize == 0 || o.YoungObjectMaxSize > o.YoungSize:
		return &OptionError{"YoungObjectMaxSize", o.YoungObjectMaxSize, "must be positive and fit the young space"}
	case o.MaxEmptyRegions < 0:
		return &OptionError{"MaxEmptyRegions", uint64(o.MaxEmptyRegions), "must not be negative"}
	case o.FreeListPoolSize < freelist.MinPoolSize:
		return &OptionError{"FreeListPoolSize", o.FreeListPoolSize, fmt.Sprintf("must be at least %d", freelist.MinPoolSize)}
	case o.RunSlotsPoolSize < runslots.RunSize:
		return &OptionError{"RunSlotsPoolSize", o.RunSlotsPoolSize, fmt.Sprintf("must be at least %d", runslots.RunSize)}
	}
	return nil
}
