package region

import (
	"testing"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/memtest"
	"github.com/joshuapare/gcheap/internal/format"
)

const testRegionSize = 64 * format.KB

type fixture struct {
	pm    *mem.PoolManager
	sp    *mem.Space
	pool  *Pool
	space *Space
	model *mem.HeaderModel
}

func newFixture(t *testing.T, spaceSize uint64) *fixture {
	t.Helper()
	pm := memtest.NewPoolManager(t, spaceSize)
	pool := NewPool(pm, testRegionSize)
	return &fixture{
		pm:    pm,
		sp:    pm.Space(),
		pool:  pool,
		space: NewSpace(pool, DefaultSpaceConfig(), nil),
		model: mem.NewHeaderModel(pm.Space()),
	}
}

func (f *fixture) allocator(t *testing.T) *Allocator {
	t.Helper()
	return NewAllocator(f.space, Config{Sizer: f.model, SpaceType: mem.SpaceObject})
}

// alloc allocates and stamps an object, failing the test on Null.
func (f *fixture) alloc(t *testing.T, a *Allocator, size uint64, kind Kind) mem.Addr {
	t.Helper()
	obj := a.Alloc(size, mem.DefaultAlignment, kind, false)
	if obj == mem.Null {
		t.Fatalf("alloc %d bytes (%v) failed", size, kind)
	}
	f.model.InitObject(obj, size)
	return obj
}

func countObjects(iter func(mem.ObjectVisitor)) int {
	n := 0
	iter(func(mem.Addr) { n++ })
	return n
}
