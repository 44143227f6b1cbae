package pygote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/memtest"
	"github.com/joshuapare/gcheap/heap/runslots"
	"github.com/joshuapare/gcheap/internal/format"
)

func newPygote(t *testing.T) (*Allocator, *mem.PoolManager) {
	t.Helper()
	pm := memtest.NewPoolManager(t, 32*format.MB)
	a, err := New(pm, Config{Sizer: mem.NewHeaderModel(pm.Space()), ArenaSize: 64 * format.KB})
	require.NoError(t, err)
	return a, pm
}

func allocN(t *testing.T, a *Allocator, model *mem.HeaderModel, n int, size uint64) []mem.Addr {
	t.Helper()
	objs := make([]mem.Addr, 0, n)
	for i := 0; i < n; i++ {
		obj := a.Alloc(size, mem.DefaultAlignment)
		require.NotEqual(t, mem.Null, obj, "alloc %d", i)
		model.InitObject(obj, size)
		objs = append(objs, obj)
	}
	return objs
}

func count(a *Allocator) int {
	n := 0
	a.IterateOverObjects(func(mem.Addr) { n++ })
	return n
}

func Test_Pygote_RequiresSizer(t *testing.T) {
	pm := memtest.NewPoolManager(t, format.MB)
	_, err := New(pm, Config{})
	require.ErrorIs(t, err, ErrNoSizer)
}

func Test_Pygote_InitGrowsRunSlots(t *testing.T) {
	a, pm := newPygote(t)
	model := mem.NewHeaderModel(pm.Space())
	require.Equal(t, StateInit, a.State())

	// Enough 64-byte objects to need more than one pool.
	n := int(runslots.DefaultPoolSize/64) + 100
	objs := allocN(t, a, model, n, 64)
	require.GreaterOrEqual(t, len(a.rsPools), 2)

	info, ok := pm.AllocatorInfo(objs[0])
	require.True(t, ok)
	require.Equal(t, mem.AllocatorPygote, info.Type)
	require.Same(t, a, info.Owner)

	require.Equal(t, mem.Null, a.Alloc(runslots.MaxSize+8, mem.DefaultAlignment))
	require.False(t, a.CanAllocNonMovable(runslots.MaxSize+8, mem.DefaultAlignment))
	require.True(t, a.CanAllocNonMovable(runslots.MaxSize, mem.DefaultAlignment))

	a.Free(objs[5])
	require.False(t, a.IsLive(objs[5]))
	require.True(t, a.IsLive(objs[6]))
	require.Equal(t, n-1, count(a))
}

func Test_Pygote_ForkingReusesSlotsThenArenas(t *testing.T) {
	a, pm := newPygote(t)
	model := mem.NewHeaderModel(pm.Space())
	before := allocN(t, a, model, 10, 32)
	pools := len(a.rsPools)

	require.NoError(t, a.SetState(context.Background(), StateForking))
	require.True(t, a.CanAllocNonMovable(4*format.KB, mem.DefaultAlignment))

	// Free slots are used up before any arena is taken.
	reused := allocN(t, a, model, 1, 32)[0]
	require.True(t, a.rs.ContainObject(reused))
	require.Empty(t, a.extents)

	after := allocN(t, a, model, 10, 1000)
	for _, obj := range after {
		require.True(t, a.ContainObject(obj))
		require.True(t, a.IsLive(obj))
		require.False(t, a.rs.ContainObject(obj))
	}
	require.Len(t, a.rsPools, pools, "run-slots never grow while forking")

	big := a.Alloc(128*format.KB, mem.DefaultAlignment)
	require.NotEqual(t, mem.Null, big, "oversized requests get an arena of their own")
	model.InitObject(big, 128*format.KB)

	require.Equal(t, 22, count(a))

	a.Free(after[3])
	require.False(t, a.IsLive(after[3]))
	a.Free(before[2])
	require.False(t, a.IsLive(before[2]), "pre-fork objects still free through run-slots")
	a.Free(reused)
	require.False(t, a.IsLive(reused))
	require.Equal(t, 19, count(a))
}

func Test_Pygote_ForkedFreezesRunSlots(t *testing.T) {
	a, pm := newPygote(t)
	model := mem.NewHeaderModel(pm.Space())
	before := allocN(t, a, model, 200, 16)
	a.Free(before[0])

	ctx := context.Background()
	require.NoError(t, a.SetState(ctx, StateForking))
	forking := allocN(t, a, model, 5, 48)
	require.NoError(t, a.SetState(ctx, StateForked))

	require.Equal(t, mem.Null, a.Alloc(16, mem.DefaultAlignment))
	require.False(t, a.CanAllocNonMovable(16, mem.DefaultAlignment))
	require.Positive(t, a.rs.Stats().TrimmedBytes)
	require.Equal(t, 199+5, count(a))

	a.Free(before[1])
	require.False(t, a.IsLive(before[1]))
	require.True(t, a.rs.IsLive(before[1]), "run-slots state is not touched after the fork")
	require.False(t, a.IsLive(before[0]))

	a.Collect(func(obj mem.Addr) mem.ObjectStatus {
		if obj == forking[2] || obj == before[100] {
			return mem.ObjectDead
		}
		return mem.ObjectAlive
	})
	require.False(t, a.IsLive(forking[2]))
	require.False(t, a.IsLive(before[100]))
	require.Equal(t, 199+5-3, count(a))
}

func Test_Pygote_StateOnlyMovesForward(t *testing.T) {
	a, _ := newPygote(t)
	ctx := context.Background()
	require.NoError(t, a.SetState(ctx, StateForking))
	require.Panics(t, func() { _ = a.SetState(ctx, StateForking) })
	require.Panics(t, func() { _ = a.SetState(ctx, StateInit) })
	require.NoError(t, a.SetState(ctx, StateForked))
	require.Equal(t, "forked", a.State().String())
}

func Test_Pygote_VisitAndRemoveAllPools(t *testing.T) {
	a, pm := newPygote(t)
	model := mem.NewHeaderModel(pm.Space())
	allocN(t, a, model, 10, 64)
	require.NoError(t, a.SetState(context.Background(), StateForking))
	allocN(t, a, model, 10, 64)

	used := pm.Used()
	var total uint64
	a.VisitAndRemoveAllPools(func(start mem.Addr, size uint64) {
		total += size
		pm.FreePool(mem.Pool{Mem: start, Size: size})
	})
	require.Equal(t, used, total)
	require.Zero(t, pm.Used())
	require.Zero(t, count(a))
}
