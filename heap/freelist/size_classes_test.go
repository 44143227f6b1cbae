package freelist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_SizeClassTable(t *testing.T) {
	for _, cfg := range []SizeClassConfig{ConfigFineGrained, ConfigBalanced, ConfigCoarse} {
		t.Run(cfg.Name, func(t *testing.T) {
			table := newSizeClassTable(cfg)
			require.Positive(t, table.NumClasses())
			require.Equal(t, cfg.Name, table.String())

			require.Equal(t, 0, table.classOf(MinSize))
			require.Equal(t, table.NumClasses(), table.classOf(DefaultPoolSize), "large class")

			prev := -1
			for size := uint64(MinSize); size <= MaxSize; size += 8 {
				sc := table.classOf(size)
				require.GreaterOrEqual(t, sc, prev, "classes grow with size")
				require.LessOrEqual(t, size, table.boundaries[sc])
				prev = sc
			}
		})
	}
}

func Test_SegregatedList_BestFit(t *testing.T) {
	l := newSegregatedList(DefaultSizeClasses, &Stats{})
	l.insert(5000, 512)
	l.insert(1000, 512)
	l.insert(3000, 480)
	l.insert(9000, 100000)

	require.Equal(t, 4, l.len())
	require.Equal(t, uint64(100000), l.largest())

	// the smallest block that fits wins
	require.EqualValues(t, 3000, l.take(470))
	// equal sizes break ties on address
	require.EqualValues(t, 1000, l.take(500))
	require.EqualValues(t, 5000, l.take(500))
	require.EqualValues(t, 0, l.take(200000))
	require.EqualValues(t, 9000, l.take(70000))
	require.Zero(t, l.len())
	require.Zero(t, l.bytes)
}

func Test_SegregatedList_Remove(t *testing.T) {
	l := newSegregatedList(DefaultSizeClasses, &Stats{})
	l.insert(1000, 64)
	require.True(t, l.contains(1000))
	require.True(t, l.remove(1000))
	require.False(t, l.remove(1000))
	require.False(t, l.contains(1000))
}
