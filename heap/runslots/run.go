package runslots

import (
	"math/bits"
	"sync"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
)

const (
	// RunSize is the size and alignment of one run.
	RunSize = 16 * format.KB

	// MinSlotSize is the smallest size class.
	MinSlotSize = 8

	// MaxSize is the largest object the allocator serves.
	MaxSize = 256

	// DefaultPoolSize is the pool size callers should request (16 runs).
	DefaultPoolSize = 256 * format.KB

	numClasses = 6 // 8, 16, 32, 64, 128, 256
)

type listKind uint8

const (
	listNone listKind = iota
	listActive
	listFree
)

func (k listKind) String() string {
	switch k {
	case listActive:
		return "active"
	case listFree:
		return "free"
	default:
		return "none"
	}
}

// run is the Go-side descriptor of one RunSize page range.
type run struct {
	mu sync.Mutex

	start    mem.Addr
	slotSize uint64
	capacity int
	used     int

	freeHead mem.Addr // intrusive stack of freed slots
	bumpNext mem.Addr // first never-used slot
	occupied []uint64

	list       listKind
	prev, next *run
	pool       *pool
}

func (r *run) end() mem.Addr { return r.start.Add(RunSize) }

// init formats r for slotSize-byte slots. Memory contents are left alone.
func (r *run) init(slotSize uint64) {
	r.slotSize = slotSize
	r.capacity = int(RunSize / slotSize)
	r.used = 0
	r.freeHead = mem.Null
	r.bumpNext = r.start
	words := (r.capacity + 63) / 64
	if cap(r.occupied) >= words {
		r.occupied = r.occupied[:words]
		clear(r.occupied)
	} else {
		r.occupied = make([]uint64, words)
	}
}

func (r *run) full() bool  { return r.used == r.capacity }
func (r *run) empty() bool { return r.used == 0 }

func (r *run) index(slot mem.Addr) int { return int(slot.Diff(r.start) / r.slotSize) }

func (r *run) isSlot(a mem.Addr) bool {
	return a >= r.start && a < r.end() && a.Diff(r.start)%r.slotSize == 0
}

func (r *run) test(i int) bool { return r.occupied[i/64]&(1<<(i%64)) != 0 }
func (r *run) set(i int)       { r.occupied[i/64] |= 1 << (i % 64) }
func (r *run) unset(i int)     { r.occupied[i/64] &^= 1 << (i % 64) }

// popSlot takes a slot, preferring freed ones over never-used ones.
func (r *run) popSlot(s *mem.Space) mem.Addr {
	var slot mem.Addr
	switch {
	case r.freeHead != mem.Null:
		slot = r.freeHead
		r.freeHead = mem.Addr(s.ReadU64(slot))
	case r.bumpNext < r.end():
		slot = r.bumpNext
		r.bumpNext = r.bumpNext.Add(r.slotSize)
	default:
		return mem.Null
	}
	i := r.index(slot)
	assert.That(!r.test(i), "runslots: slot %v handed out twice", slot)
	r.set(i)
	r.used++
	return slot
}

// pushSlot returns slot to the free stack.
func (r *run) pushSlot(s *mem.Space, slot mem.Addr) {
	assert.That(r.isSlot(slot), "runslots: %v is not a slot start of run %v", slot, r.start)
	i := r.index(slot)
	assert.That(r.test(i), "runslots: free of unallocated slot %v", slot)
	r.unset(i)
	s.WriteU64(slot, uint64(r.freeHead))
	r.freeHead = slot
	r.used--
}

// nextOccupied returns the first occupied slot at or after from, or mem.Null.
func (r *run) nextOccupied(from mem.Addr) mem.Addr {
	if from < r.start {
		from = r.start
	}
	if from >= r.end() {
		return mem.Null
	}
	i := int(format.AlignUp(from.Diff(r.start), r.slotSize) / r.slotSize)
	for w := i / 64; w < len(r.occupied); w++ {
		word := r.occupied[w]
		if w == i/64 {
			word &^= (1 << (i % 64)) - 1
		}
		if word != 0 {
			j := w*64 + bits.TrailingZeros64(word)
			if j >= r.capacity {
				return mem.Null
			}
			return r.start.Add(uint64(j) * r.slotSize)
		}
	}
	return mem.Null
}

func (r *run) countOccupied() int {
	n := 0
	for _, w := range r.occupied {
		n += bits.OnesCount64(w)
	}
	return n
}

// runList is a doubly linked list of runs of one kind.
type runList struct {
	kind listKind
	head *run
	n    int
}

func (l *runList) push(r *run) {
	assert.That(r.list == listNone, "runslots: run %v pushed to %v list while on %v list", r.start, l.kind, r.list)
	r.prev = nil
	r.next = l.head
	if l.head != nil {
		l.head.prev = r
	}
	l.head = r
	r.list = l.kind
	l.n++
}

func (l *runList) remove(r *run) {
	assert.That(r.list == l.kind, "runslots: run %v removed from %v list but is on %v list", r.start, l.kind, r.list)
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		l.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	}
	r.prev, r.next = nil, nil
	r.list = listNone
	l.n--
}

func (l *runList) pop() *run {
	r := l.head
	if r != nil {
		l.remove(r)
	}
	return r
}

func (l *runList) contains(r *run) bool {
	for c := l.head; c != nil; c = c.next {
		if c == r {
			return true
		}
	}
	return false
}

// classOf returns the class index and slot size for an object.
func classOf(size uint64, align mem.Alignment) (int, uint64, bool) {
	size = max(size, align.Bytes(), MinSlotSize)
	if size > MaxSize {
		return 0, 0, false
	}
	shift := format.Log2Ceil(size)
	return int(shift) - 3, 1 << shift, true
}

// CanAlloc reports whether size bytes at align fit one of the slot classes.
func CanAlloc(size uint64, align mem.Alignment) bool {
	_, _, ok := classOf(size, align)
	return ok
}
