package objalloc

import "github.com/joshuapare/gcheap/internal/format"

// tlabWeight is the weight of the most recent TLAB in a thread's average.
const tlabWeight = 0.5

// tlabSizer picks TLAB sizes. Fixed sizing always hands out init bytes.
// Adaptive sizing gives a thread twice the weighted average of what it used
// from its earlier TLABs, clamped to [init, max], so a thread that keeps
// filling its buffers gets bigger ones and an idle one shrinks back.
type tlabSizer struct {
	init, max uint64
	adaptive  bool
}

// retire folds the occupancy of t's current TLAB into its average.
func (s tlabSizer) retire(t *Thread) {
	if t.tlab.IsEmpty() {
		return
	}
	used := float64(t.tlab.OccupiedSize())
	t.avgUsed = tlabWeight*used + (1-tlabWeight)*t.avgUsed
}

// next returns the size of t's next TLAB.
func (s tlabSizer) next(t *Thread) uint64 {
	if !s.adaptive {
		return s.init
	}
	n := format.AlignObject(uint64(2 * t.avgUsed))
	return min(max(n, s.init), s.max)
}
