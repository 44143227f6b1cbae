package objalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/memtest"
	"github.com/joshuapare/gcheap/internal/format"
)

const testSpaceSize = 64 * format.MB

var allKinds = []Kind{KindNoGen, KindGen, KindG1}

func newHeap(t testing.TB, kind Kind, mutate ...func(*Options)) (*ObjectAllocator, *mem.HeaderModel) {
	t.Helper()
	pm := memtest.NewPoolManager(t, testSpaceSize)
	model := mem.NewHeaderModel(pm.Space())
	opts := DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	oa, err := New(pm, kind, model, opts)
	require.NoError(t, err)
	return oa, model
}

func countObjects(oa *ObjectAllocator) int {
	n := 0
	oa.IterateOverObjects(func(mem.Addr) { n++ })
	return n
}

// markDead flags obj for deadByMark. Objects must be at least 16 bytes.
func markDead(oa *ObjectAllocator, obj mem.Addr) { oa.space.WriteU64(obj.Add(8), 1) }

func deadByMark(oa *ObjectAllocator) mem.DeathChecker {
	return func(obj mem.Addr) mem.ObjectStatus {
		if oa.space.ReadU64(obj.Add(8)) == 1 {
			return mem.ObjectDead
		}
		return mem.ObjectAlive
	}
}
