package region

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/format"
)

func Test_RegionSize(t *testing.T) {
	require.Equal(t, uint64(testRegionSize), RegionSize(1, testRegionSize))
	require.Equal(t, uint64(testRegionSize), RegionSize(testRegionSize, testRegionSize))
	require.Equal(t, uint64(2*testRegionSize), RegionSize(testRegionSize+8, testRegionSize))
}

func Test_Flags_String(t *testing.T) {
	require.Equal(t, "none", Flags(0).String())
	require.Equal(t, "eden|tlab", (FlagEden | FlagTLAB).String())
}

func Test_Region_AllocIsMonotonicAndBounded(t *testing.T) {
	f := newFixture(t, 4*format.MB)
	r := f.space.NewRegion(testRegionSize, FlagEden)
	require.NotNil(t, r)
	require.True(t, r.IsEmpty())
	require.True(t, r.Begin().IsAligned(testRegionSize))

	prevTop := r.Top()
	for {
		obj := r.Alloc(200, mem.DefaultAlignment)
		if obj == mem.Null {
			break
		}
		require.LessOrEqual(t, obj.Add(200), r.End())
		require.Greater(t, r.Top(), prevTop)
		prevTop = r.Top()
	}
	require.Less(t, r.FreeBytes(), uint64(200))

	aligned := f.space.NewRegion(testRegionSize, FlagOld)
	aligned.Alloc(8, mem.DefaultAlignment)
	obj := aligned.AtomicAlloc(64, mem.Align256)
	require.True(t, obj.IsAligned(256))
	require.Equal(t, obj.Add(64), aligned.Top())
}

func Test_Region_AtomicAllocConcurrent(t *testing.T) {
	f := newFixture(t, 4*format.MB)
	r := f.space.NewRegion(testRegionSize, FlagEden)

	var mu sync.Mutex
	var got []mem.Addr
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var mine []mem.Addr
			for {
				obj := r.AtomicAlloc(32, mem.DefaultAlignment)
				if obj == mem.Null {
					break
				}
				mine = append(mine, obj)
			}
			mu.Lock()
			got = append(got, mine...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, got, testRegionSize/32)
	seen := make(map[mem.Addr]bool, len(got))
	for _, obj := range got {
		require.False(t, seen[obj], "object %v handed out twice", obj)
		seen[obj] = true
	}
}

func Test_Region_Bitmaps(t *testing.T) {
	f := newFixture(t, 4*format.MB)
	r := f.space.NewRegion(testRegionSize, FlagOld)
	o1 := r.Alloc(16, mem.DefaultAlignment)
	o2 := r.Alloc(16, mem.DefaultAlignment)

	require.Nil(t, r.LiveBitmap())
	mark := r.CreateMarkBitmap()
	mark.Set(o2)
	r.CloneMarkBitmapToLiveBitmap()
	require.True(t, r.LiveBitmap().Test(o2))
	require.False(t, r.LiveBitmap().Test(o1))

	r.CreateMarkBitmap().Set(o1)
	r.SwapMarkBitmap()
	require.True(t, r.LiveBitmap().Test(o1))
	require.True(t, r.MarkBitmap().Test(o2))

	r.AddLiveBytes(16)
	require.Equal(t, uint64(16), r.LiveBytes())
	require.Equal(t, uint64(16), r.GarbageBytes())
}

func Test_Region_PinAndRemSet(t *testing.T) {
	f := newFixture(t, 4*format.MB)
	r := f.space.NewRegion(testRegionSize, FlagOld)
	from := f.space.NewRegion(testRegionSize, FlagEden)
	from.Alloc(4*CardSize, mem.DefaultAlignment)

	require.False(t, r.HasPinnedObjects())
	r.PinObject()
	require.True(t, r.HasPinnedObjects())
	r.UnpinObject()
	require.False(t, r.HasPinnedObjects())
	require.Panics(t, r.UnpinObject)

	rs := r.RemSet()
	require.Same(t, rs, r.RemSet())
	rs.AddRef(from, from.Begin().Add(8))
	rs.AddRef(from, from.Begin().Add(16))
	rs.AddRef(from, from.Begin().Add(3*CardSize+8))
	require.Equal(t, 2, rs.Size())
	require.Equal(t, []*Region{from}, rs.Regions())

	var cards []mem.MemRange
	rs.IterateOverCards(func(_ *Region, c mem.MemRange) { cards = append(cards, c) })
	require.Equal(t, []mem.MemRange{
		{Start: from.Begin(), End: from.Begin().Add(CardSize)},
		{Start: from.Begin().Add(3 * CardSize), End: from.Begin().Add(4 * CardSize)},
	}, cards)

	// Freeing the referencing region drops its cards.
	f.space.FreeRegion(from, Release, ImmediateReturn)
	require.Zero(t, rs.Size())
}

func Test_Region_TLAB(t *testing.T) {
	f := newFixture(t, 4*format.MB)
	r := f.space.NewRegion(testRegionSize, FlagEden)
	tl := r.CreateTLAB(4 * format.KB)
	require.NotNil(t, tl)
	require.Equal(t, r.Begin(), tl.Start())
	require.Len(t, r.TLABs(), 1)

	o := tl.Alloc(24)
	f.model.InitObject(o, 24)
	var seen []mem.Addr
	r.IterateOverObjects(f.model, func(obj mem.Addr) { seen = append(seen, obj) })
	require.Equal(t, []mem.Addr{o}, seen, "unused TLAB space is skipped")

	require.Nil(t, r.CreateTLAB(testRegionSize))
}

func Test_Region_TLABIsZeroed(t *testing.T) {
	f := newFixture(t, 4*format.MB)
	r := f.space.NewRegion(testRegionSize, FlagEden)
	for off := uint64(0); off < 2*format.KB; off += 8 {
		f.sp.WriteU64(r.Begin().Add(off), 0xdeadbeef)
	}

	tl := r.CreateTLAB(2 * format.KB)
	require.NotNil(t, tl)
	require.Equal(t, r.Begin().Add(2*format.KB), r.Top())
	for off := uint64(0); off < 2*format.KB; off += 8 {
		require.Zero(t, f.sp.ReadU64(tl.Start().Add(off)))
	}
}
