// Package memtest provides helpers for tests that need a live object space.
package memtest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
)

// NewPoolManager returns a PoolManager over a fresh space of size bytes that
// is unmapped when the test ends.
func NewPoolManager(tb testing.TB, size uint64) *mem.PoolManager {
	tb.Helper()
	sp, err := mem.NewSpace(size)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		require.NoError(tb, sp.Close())
	})
	return mem.NewPoolManager(sp)
}

// Recorder is a mem.StatsRecorder that counts events.
type Recorder struct {
	mu                     sync.Mutex
	Allocated, Freed       uint64
	AllocatedN, FreedN     int
	MovedCount, MovedBytes uint64
}

func (r *Recorder) RecordAllocateObject(size uint64, _ mem.SpaceType) {
	r.mu.Lock()
	r.Allocated += size
	r.AllocatedN++
	r.mu.Unlock()
}

func (r *Recorder) RecordFreeObject(size uint64, _ mem.SpaceType) {
	r.mu.Lock()
	r.Freed += size
	r.FreedN++
	r.mu.Unlock()
}

func (r *Recorder) RecordMovedObjects(count, bytes uint64) {
	r.mu.Lock()
	r.MovedCount += count
	r.MovedBytes += bytes
	r.mu.Unlock()
}

// FillPattern writes a recognisable byte pattern derived from seed.
func FillPattern(s *mem.Space, addr mem.Addr, n uint64, seed byte) {
	b := s.Bytes(addr, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
}

// CheckPattern reports whether the bytes at addr still hold FillPattern's output.
func CheckPattern(s *mem.Space, addr mem.Addr, n uint64, seed byte) bool {
	b := s.Bytes(addr, n)
	for i := range b {
		if b[i] != seed+byte(i) {
			return false
		}
	}
	return true
}
