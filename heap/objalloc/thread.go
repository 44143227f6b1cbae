package objalloc

import (
	"cmp"
	"slices"
	"sync"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/tlab"
)

// Thread is a mutator as the allocator sees it. It owns exactly one TLAB,
// which is empty until CreateNewTLAB fills it. A Thread must only be used by
// one goroutine at a time.
type Thread struct {
	id   uint64
	tlab *tlab.TLAB

	// avgUsed is the weighted average of the bytes used from retired TLABs.
	avgUsed float64
	refills int
}

func (t *Thread) ID() uint64         { return t.id }
func (t *Thread) TLAB() *tlab.TLAB   { return t.tlab }
func (t *Thread) Refills() int       { return t.refills }
func (t *Thread) AvgTLABUse() uint64 { return uint64(t.avgUsed) }

// install makes tl the thread's TLAB.
func (t *Thread) install(tl *tlab.TLAB) {
	t.tlab = tl
	t.refills++
}

// clearTLAB detaches the thread from its buffer. The memory stays with the
// allocator that carved it.
func (t *Thread) clearTLAB(space *mem.Space) {
	t.tlab = tlab.New(space)
}

// Threads is the registry of attached mutators.
type Threads struct {
	space *mem.Space
	init  uint64

	mu   sync.Mutex
	next uint64
	live map[uint64]*Thread
}

func newThreads(space *mem.Space, initTLAB uint64) *Threads {
	return &Threads{space: space, init: initTLAB, next: 1, live: make(map[uint64]*Thread)}
}

// Attach registers a new thread with an empty TLAB.
func (ts *Threads) Attach() *Thread {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	// Half the initial size makes the first adaptive TLAB exactly TLABSize.
	t := &Thread{id: ts.next, tlab: tlab.New(ts.space), avgUsed: float64(ts.init) / 2}
	ts.next++
	ts.live[t.id] = t
	return t
}

// Detach forgets t. Objects in its TLAB remain allocated.
func (ts *Threads) Detach(t *Thread) {
	ts.mu.Lock()
	delete(ts.live, t.id)
	ts.mu.Unlock()
	t.clearTLAB(ts.space)
}

// Len returns the number of attached threads.
func (ts *Threads) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.live)
}

// Each calls fn for every attached thread in attach order. The registry is
// not locked while fn runs.
func (ts *Threads) Each(fn func(*Thread)) {
	ts.mu.Lock()
	all := make([]*Thread, 0, len(ts.live))
	for _, t := range ts.live {
		all = append(all, t)
	}
	ts.mu.Unlock()
	slices.SortFunc(all, func(a, b *Thread) int { return cmp.Compare(a.id, b.id) })
	for _, t := range all {
		fn(t)
	}
}
