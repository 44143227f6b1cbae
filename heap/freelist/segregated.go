package freelist

import (
	"container/heap"
	"sync"

	"github.com/joshuapare/gcheap/heap/mem"
)

// freeBlock is the Go-side index entry of one free block.
type freeBlock struct {
	addr      mem.Addr // header address
	size      uint64   // payload bytes
	sc        int
	heapIndex int
}

// blockHeap is a min-heap ordered by size then address.
type blockHeap []*freeBlock

func (h *blockHeap) Len() int { return len(*h) }

func (h *blockHeap) Less(i, j int) bool {
	a, b := (*h)[i], (*h)[j]
	if a.size != b.size {
		return a.size < b.size
	}
	return a.addr < b.addr
}

func (h *blockHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *blockHeap) Push(x any) {
	fb := x.(*freeBlock) //nolint:errcheck // heap.Interface contract guarantees type
	fb.heapIndex = len(*h)
	*h = append(*h, fb)
}

func (h *blockHeap) Pop() any {
	old := *h
	n := len(old)
	fb := old[n-1]
	fb.heapIndex = -1
	*h = old[:n-1]
	return fb
}

// segregatedList indexes free blocks by size class. The last heap holds every
// block above the table's largest bound. Callers hold the allocator lock.
type segregatedList struct {
	table  *sizeClassTable
	heaps  []blockHeap
	byAddr map[mem.Addr]*freeBlock
	pool   sync.Pool

	bytes uint64
	stats *Stats
}

func newSegregatedList(cfg SizeClassConfig, stats *Stats) *segregatedList {
	table := newSizeClassTable(cfg)
	return &segregatedList{
		table:  table,
		heaps:  make([]blockHeap, table.NumClasses()+1),
		byAddr: make(map[mem.Addr]*freeBlock, 256),
		pool: sync.Pool{
			New: func() any { return &freeBlock{} },
		},
		stats: stats,
	}
}

func (l *segregatedList) insert(addr mem.Addr, size uint64) {
	fb := l.pool.Get().(*freeBlock) //nolint:errcheck // pool holds only *freeBlock
	fb.addr = addr
	fb.size = size
	fb.sc = l.table.classOf(size)

	heap.Push(&l.heaps[fb.sc], fb)
	l.byAddr[addr] = fb
	l.bytes += size
	l.stats.HeapPushes++
}

// remove drops the block whose header is at addr. It reports false if the
// block is not indexed.
func (l *segregatedList) remove(addr mem.Addr) bool {
	fb, ok := l.byAddr[addr]
	if !ok {
		return false
	}
	heap.Remove(&l.heaps[fb.sc], fb.heapIndex)
	l.release(fb)
	l.stats.HeapRemoves++
	return true
}

// take removes and returns the header of the smallest block with at least
// need payload bytes, or mem.Null.
func (l *segregatedList) take(need uint64) mem.Addr {
	first := l.table.classOf(need)
	large := len(l.heaps) - 1
	for sc := first; sc <= large; sc++ {
		h := &l.heaps[sc]
		if h.Len() == 0 {
			continue
		}
		// Every block in a class above the first one is big enough, so its
		// minimum is the best fit overall.
		if (*h)[0].size >= need {
			fb := heap.Pop(h).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
			l.stats.HeapPops++
			return l.release(fb)
		}
		if sc != first && sc != large {
			continue
		}
		best := -1
		for i, fb := range *h {
			if fb.size < need {
				continue
			}
			if best < 0 || h.Less(i, best) {
				best = i
			}
		}
		if best >= 0 {
			fb := heap.Remove(h, best).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
			l.stats.HeapRemoves++
			return l.release(fb)
		}
	}
	return mem.Null
}

func (l *segregatedList) release(fb *freeBlock) mem.Addr {
	addr := fb.addr
	delete(l.byAddr, addr)
	l.bytes -= fb.size
	*fb = freeBlock{}
	l.pool.Put(fb)
	return addr
}

func (l *segregatedList) contains(addr mem.Addr) bool {
	_, ok := l.byAddr[addr]
	return ok
}

func (l *segregatedList) len() int { return len(l.byAddr) }

// largest returns the payload size of the biggest free block.
func (l *segregatedList) largest() uint64 {
	for sc := len(l.heaps) - 1; sc >= 0; sc-- {
		var m uint64
		for _, fb := range l.heaps[sc] {
			m = max(m, fb.size)
		}
		if m > 0 {
			return m
		}
	}
	return 0
}
