package mem

import "github.com/joshuapare/gcheap/internal/format"

// ObjectStatus is the verdict of a DeathChecker.
type ObjectStatus uint8

const (
	ObjectAlive ObjectStatus = iota
	ObjectDead
)

func (s ObjectStatus) String() string {
	if s == ObjectDead {
		return "dead"
	}
	return "alive"
}

// ObjectVisitor is called once per object during iteration.
type ObjectVisitor func(obj Addr)

// DeathChecker classifies an object during a collection sweep.
type DeathChecker func(obj Addr) ObjectStatus

// MoveHandler is told where a compacted object went.
type MoveHandler func(from, to Addr)

// AlwaysAlive is a DeathChecker that keeps everything.
func AlwaysAlive(Addr) ObjectStatus { return ObjectAlive }

// AlwaysDead is a DeathChecker that reclaims everything.
func AlwaysDead(Addr) ObjectStatus { return ObjectDead }

// ObjectSizer computes an object's size from its header. It is supplied by the
// object model; allocators that walk memory object by object (bump, region)
// cannot work without it.
type ObjectSizer interface {
	ObjectSize(obj Addr) uint64
}

// ObjectSizerFunc adapts a function to ObjectSizer.
type ObjectSizerFunc func(obj Addr) uint64

// ObjectSize calls f.
func (f ObjectSizerFunc) ObjectSize(obj Addr) uint64 { return f(obj) }

// ObjectInitializer stamps a freshly allocated object's header.
type ObjectInitializer interface {
	InitObject(obj Addr, size uint64)
}

// MinObjectSize is the smallest object any allocator hands out.
const MinObjectSize = format.ObjectAlignment

// HeaderModel is a minimal object model: the first word of every object holds
// its size in bytes. The heap itself never depends on this layout; it exists
// for tools and tests that need objects whose size can be recovered.
type HeaderModel struct {
	space *Space
}

// NewHeaderModel returns a HeaderModel over s.
func NewHeaderModel(s *Space) *HeaderModel {
	return &HeaderModel{space: s}
}

// ObjectSize reads the size word of obj.
func (m *HeaderModel) ObjectSize(obj Addr) uint64 {
	return m.space.ReadU64(obj)
}

// InitObject writes the size word of obj.
func (m *HeaderModel) InitObject(obj Addr, size uint64) {
	m.space.WriteU64(obj, size)
}

// StatsRecorder receives allocation events. Implementations must be safe for
// concurrent use.
type StatsRecorder interface {
	RecordAllocateObject(size uint64, st SpaceType)
	RecordFreeObject(size uint64, st SpaceType)
	RecordMovedObjects(count, bytes uint64)
}

// NopStats discards every event.
type NopStats struct{}

func (NopStats) RecordAllocateObject(uint64, SpaceType) {}
func (NopStats) RecordFreeObject(uint64, SpaceType)     {}
func (NopStats) RecordMovedObjects(uint64, uint64)      {}
