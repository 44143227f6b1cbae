package freelist

import (
	"math"
	"sort"
)

// SizeClassConfig defines how free blocks are bucketed by payload size.
// Finer classes keep each heap short; coarser classes mean fewer heaps to probe.
type SizeClassConfig struct {
	// Name for this configuration (for benchmarking)
	Name string

	// Small block settings (linear increments)
	SmallMin       uint64
	SmallMax       uint64
	SmallIncrement uint64

	// Medium block settings (logarithmic growth); anything above MediumMax
	// lands in one large class
	MediumMax    uint64
	GrowthFactor float64
}

// Predefined configurations.
var (
	// FineGrained: 16-512 step 16 + 512-64K log growth 1.5.
	ConfigFineGrained = SizeClassConfig{
		Name:           "FineGrained",
		SmallMin:       MinSize,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      MaxSize,
		GrowthFactor:   1.5,
	}

	// Balanced: 16-1024 step 32 + 1K-64K log growth 1.5.
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       MinSize,
		SmallMax:       1024,
		SmallIncrement: 32,
		MediumMax:      MaxSize,
		GrowthFactor:   1.5,
	}

	// Coarse: 16-1024 step 64 + 1K-64K doubling.
	ConfigCoarse = SizeClassConfig{
		Name:           "Coarse",
		SmallMin:       MinSize,
		SmallMax:       1024,
		SmallIncrement: 64,
		MediumMax:      MaxSize,
		GrowthFactor:   2.0,
	}

	// DefaultSizeClasses is used when Config.SizeClasses is nil.
	DefaultSizeClasses = ConfigBalanced
)

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	config     SizeClassConfig
	boundaries []uint64 // inclusive upper bound of each class
}

func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{
		config:     config,
		boundaries: make([]uint64, 0, 64),
	}

	// Phase 1: small sizes, linear increments
	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
	}

	// Phase 2: medium sizes, logarithmic growth
	size := config.SmallMax
	for size < config.MediumMax {
		next := uint64(math.Ceil(float64(size) * config.GrowthFactor))
		if next <= size {
			next = size + 1
		}
		table.boundaries = append(table.boundaries, next-1)
		size = next
	}
	return table
}

// classOf returns the class index for size, or NumClasses() for the large class.
func (t *sizeClassTable) classOf(size uint64) int {
	return sort.Search(len(t.boundaries), func(i int) bool { return size <= t.boundaries[i] })
}

// NumClasses returns the number of bounded classes (excluding the large class).
func (t *sizeClassTable) NumClasses() int { return len(t.boundaries) }

func (t *sizeClassTable) String() string { return t.config.Name }
