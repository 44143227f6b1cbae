// Package crossing implements the crossing map: a side table that maps each
// fixed-size granule of the object space to the first object starting in it
// and to the object, if any, that spans its first byte. It lets range
// iteration find an object boundary without walking from the start of a pool.
//
// One Map is shared by every allocator configured to use it. It is built by
// whoever composes the heap and passed to the allocators' constructors.
package crossing

import (
	"sync/atomic"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/assert"
	"github.com/joshuapare/gcheap/internal/format"
)

// DefaultGranularity is the number of bytes described by one entry.
const DefaultGranularity = 4 * format.KB

// Map is safe for concurrent use by allocators that never register the same
// granule's objects from two goroutines without their own lock.
type Map struct {
	base  mem.Addr
	size  uint64
	shift uint

	// first holds (offset-in-granule / alignment) + 1 of the lowest object
	// starting in the granule, or 0.
	first []atomic.Uint32
	// cross holds (offset-from-base / alignment) + 1 of the object covering
	// the granule's first byte while starting in an earlier granule, or 0.
	cross []atomic.Uint32
}

// New returns an empty map over [base, base+size).
func New(base mem.Addr, size uint64) *Map {
	return NewWithGranularity(base, size, DefaultGranularity)
}

// NewWithGranularity returns an empty map whose entries describe granularity
// bytes each. granularity must be a power of two.
func NewWithGranularity(base mem.Addr, size, granularity uint64) *Map {
	assert.That(format.IsPowerOfTwo(granularity) && granularity >= format.ObjectAlignment,
		"crossing: bad granularity %d", granularity)
	n := format.AlignUp(size, granularity) / granularity
	return &Map{
		base:  base,
		size:  size,
		shift: format.Log2Floor(granularity),
		first: make([]atomic.Uint32, n),
		cross: make([]atomic.Uint32, n),
	}
}

// Granularity returns the bytes described by one entry.
func (m *Map) Granularity() uint64 { return 1 << m.shift }

// Covers reports whether addr is described by the map.
func (m *Map) Covers(addr mem.Addr) bool {
	return addr >= m.base && addr.Diff(m.base) < m.size
}

func (m *Map) granule(addr mem.Addr) int {
	assert.That(m.Covers(addr), "crossing: %v outside map", addr)
	return int(addr.Diff(m.base) >> m.shift)
}

func (m *Map) granuleStart(g int) mem.Addr {
	return m.base.Add(uint64(g) << m.shift)
}

func (m *Map) encodeFirst(obj mem.Addr) uint32 {
	return uint32(obj.Diff(m.granuleStart(m.granule(obj)))>>format.LogObjectAlignment) + 1
}

func (m *Map) decodeFirst(g int, v uint32) mem.Addr {
	return m.granuleStart(g).Add(uint64(v-1) << format.LogObjectAlignment)
}

func (m *Map) encodeCross(obj mem.Addr) uint32 {
	return uint32(obj.Diff(m.base)>>format.LogObjectAlignment) + 1
}

func (m *Map) decodeCross(v uint32) mem.Addr {
	return m.base.Add(uint64(v-1) << format.LogObjectAlignment)
}

// Initialize clears the whole map.
func (m *Map) Initialize() {
	for i := range m.first {
		m.first[i].Store(0)
		m.cross[i].Store(0)
	}
}

// InitializeForMemory clears the entries of every granule touching [start, start+size).
func (m *Map) InitializeForMemory(start mem.Addr, size uint64) {
	m.RemoveForMemory(start, size)
}

// RemoveForMemory drops every object registered in [start, start+size).
func (m *Map) RemoveForMemory(start mem.Addr, size uint64) {
	if size == 0 {
		return
	}
	lo, hi := m.granule(start), m.granule(start.Add(size-1))
	for g := lo; g <= hi; g++ {
		m.first[g].Store(0)
		m.cross[g].Store(0)
	}
}

// AddObject registers an object of size bytes at obj.
func (m *Map) AddObject(obj mem.Addr, size uint64) {
	g := m.granule(obj)
	enc := m.encodeFirst(obj)
	for {
		old := m.first[g].Load()
		if old != 0 && old <= enc {
			break
		}
		if m.first[g].CompareAndSwap(old, enc) {
			break
		}
	}
	if size <= 1 {
		return
	}
	last := m.granule(obj.Add(size - 1))
	cross := m.encodeCross(obj)
	for i := g + 1; i <= last; i++ {
		m.cross[i].Store(cross)
	}
}

// RemoveObject unregisters the object of size bytes at obj. next is the start
// of the following object in address order, or mem.Null; if it lies in the
// same granule it becomes that granule's first object.
func (m *Map) RemoveObject(obj mem.Addr, size uint64, next mem.Addr) {
	g := m.granule(obj)
	enc := m.encodeFirst(obj)
	if m.first[g].Load() == enc {
		repl := uint32(0)
		if next != mem.Null && next > obj && m.Covers(next) && m.granule(next) == g {
			repl = m.encodeFirst(next)
		}
		m.first[g].CompareAndSwap(enc, repl)
	}
	if size <= 1 {
		return
	}
	last := m.granule(obj.Add(size - 1))
	cross := m.encodeCross(obj)
	for i := g + 1; i <= last; i++ {
		m.cross[i].CompareAndSwap(cross, 0)
	}
}

// FindFirstObject returns the first registered object that starts in, or
// covers the beginning of, the granules spanned by [start, end]. It returns
// mem.Null if the range holds no object.
func (m *Map) FindFirstObject(start, end mem.Addr) mem.Addr {
	if end < start || !m.Covers(start) {
		return mem.Null
	}
	if !m.Covers(end) {
		end = m.base.Add(m.size - 1)
	}
	lo, hi := m.granule(start), m.granule(end)
	if v := m.cross[lo].Load(); v != 0 {
		return m.decodeCross(v)
	}
	for g := lo; g <= hi; g++ {
		if v := m.first[g].Load(); v != 0 {
			return m.decodeFirst(g, v)
		}
		if g > lo {
			if v := m.cross[g].Load(); v != 0 {
				return m.decodeCross(v)
			}
		}
	}
	return mem.Null
}
