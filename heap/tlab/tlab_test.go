package tlab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/memtest"
	"github.com/joshuapare/gcheap/internal/format"
)

func Test_TLAB_AllocAndIterate(t *testing.T) {
	pm := memtest.NewPoolManager(t, format.MB)
	sp := pm.Space()
	p := pm.AllocPool(format.PageSize, mem.SpaceObject, mem.AllocatorBumpPointer, nil)
	sp.Fill(p.Mem, p.Size, 0xCC)

	tl := New(sp)
	require.True(t, tl.IsEmpty())
	require.Equal(t, mem.Null, tl.Alloc(8))

	tl.Fill(p.Mem, p.Size)
	require.False(t, tl.IsEmpty())
	require.Zero(t, sp.ReadU64(p.Mem.Add(100)), "fill zeroes the buffer")

	model := mem.NewHeaderModel(sp)
	var objs []mem.Addr
	for _, size := range []uint64{16, 24, 100, 8} {
		o := tl.Alloc(size)
		require.NotEqual(t, mem.Null, o)
		model.InitObject(o, size)
		objs = append(objs, o)
	}
	require.Equal(t, uint64(16+24+104+8), tl.OccupiedSize())
	require.True(t, tl.Contains(objs[2]))
	require.False(t, tl.Contains(tl.Cur()))

	var got []mem.Addr
	tl.IterateOverObjects(model, func(o mem.Addr) { got = append(got, o) })
	require.Equal(t, objs, got)

	require.Equal(t, mem.Null, tl.Alloc(tl.FreeSize()+8))
	require.NotEqual(t, mem.Null, tl.Alloc(tl.FreeSize()))
	require.Zero(t, tl.FreeSize())

	tl.Reset()
	require.True(t, tl.IsEmpty())
	require.Zero(t, tl.Size())
}
