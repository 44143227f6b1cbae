package crossing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
)

const (
	base = mem.SpaceBase
	gran = DefaultGranularity
)

func Test_Map_FirstObjectInGranule(t *testing.T) {
	m := New(base, 16*gran)

	m.AddObject(base.Add(64), 32)
	m.AddObject(base.Add(16), 32)
	m.AddObject(base.Add(128), 32)

	require.Equal(t, base.Add(16), m.FindFirstObject(base, base.Add(gran-1)))
	require.Equal(t, base.Add(16), m.FindFirstObject(base.Add(100), base.Add(200)),
		"lookup reports the granule's first object, callers walk forward")
	require.Equal(t, mem.Null, m.FindFirstObject(base.Add(gran), base.Add(3*gran)))
}

func Test_Map_CrossingObject(t *testing.T) {
	m := New(base, 16*gran)

	big := base.Add(gran - 64)
	m.AddObject(big, 3*gran)

	// granules 1..3 are covered by the object starting in granule 0
	require.Equal(t, big, m.FindFirstObject(base.Add(2*gran+8), base.Add(2*gran+16)))
	require.Equal(t, big, m.FindFirstObject(base.Add(3*gran), base.Add(4*gran)))
	require.Equal(t, mem.Null, m.FindFirstObject(base.Add(4*gran), base.Add(5*gran)))

	// the starting granule reports it as its first object
	require.Equal(t, big, m.FindFirstObject(base.Add(gran/2), base.Add(gran/2+8)))

	m.RemoveObject(big, 3*gran, mem.Null)
	require.Equal(t, mem.Null, m.FindFirstObject(base, base.Add(8*gran)))
}

func Test_Map_RemoveObjectPromotesNext(t *testing.T) {
	m := New(base, 4*gran)

	m.AddObject(base.Add(8), 16)
	m.AddObject(base.Add(24), 16)
	m.RemoveObject(base.Add(8), 16, base.Add(24))
	require.Equal(t, base.Add(24), m.FindFirstObject(base, base.Add(gran-1)))

	m.RemoveObject(base.Add(24), 16, base.Add(gran+8))
	require.Equal(t, mem.Null, m.FindFirstObject(base, base.Add(gran-1)))
}

func Test_Map_RemoveForMemory(t *testing.T) {
	m := New(base, 8*gran)
	for g := uint64(0); g < 8; g++ {
		m.AddObject(base.Add(g*gran+8), 8)
	}
	m.RemoveForMemory(base.Add(2*gran), 3*gran)

	require.Equal(t, base.Add(gran+8), m.FindFirstObject(base.Add(gran), base.Add(gran)))
	require.Equal(t, base.Add(5*gran+8), m.FindFirstObject(base.Add(2*gran), base.Add(6*gran)))

	m.Initialize()
	require.Equal(t, mem.Null, m.FindFirstObject(base, base.Add(8*gran-1)))
}
