package trim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
)

type recordingReleaser struct {
	got []mem.MemRange
}

func (r *recordingReleaser) ReleasePages(addr mem.Addr, size uint64) {
	r.got = append(r.got, mem.MemRange{Start: addr, End: addr.Add(size)})
}

const base = mem.SpaceBase

func Test_Tracker_ShrinksToPages(t *testing.T) {
	rel := &recordingReleaser{}
	tr := NewTracker(rel)

	// [100, 9000) only fully covers the page [4096, 8192)
	tr.Add(base.Add(100), 8900)
	require.NoError(t, tr.Flush(context.Background()))

	require.Equal(t, []mem.MemRange{{Start: base.Add(4096), End: base.Add(8192)}}, rel.got)
	require.Equal(t, uint64(4096), tr.Released())
	require.Zero(t, tr.Pending())
}

func Test_Tracker_MergesBeforeShrinking(t *testing.T) {
	rel := &recordingReleaser{}
	tr := NewTracker(rel)

	// neither half covers a page on its own
	tr.Add(base.Add(6000), 3000)
	tr.Add(base.Add(3000), 3000)
	tr.Add(base.Add(20000), 10)
	require.Equal(t, 3, tr.Pending())

	require.NoError(t, tr.Flush(context.Background()))
	require.Equal(t, []mem.MemRange{{Start: base.Add(4096), End: base.Add(8192)}}, rel.got)
}

func Test_Tracker_DisjointRanges(t *testing.T) {
	rel := &recordingReleaser{}
	tr := NewTracker(rel)

	tr.Add(base.Add(16384), 8192)
	tr.Add(base, 4096)
	require.NoError(t, tr.Flush(context.Background()))

	require.Equal(t, []mem.MemRange{
		{Start: base, End: base.Add(4096)},
		{Start: base.Add(16384), End: base.Add(24576)},
	}, rel.got)
}

func Test_Tracker_FlushCancelled(t *testing.T) {
	rel := &recordingReleaser{}
	tr := NewTracker(rel)
	tr.Add(base, 8192)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Flush(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, rel.got)
	require.Zero(t, tr.Pending(), "cancelled flush still clears the tracker")
}

func Test_Tracker_EmptyFlush(t *testing.T) {
	tr := NewTracker(&recordingReleaser{})
	tr.Add(base, 0)
	require.NoError(t, tr.Flush(context.Background()))
}
