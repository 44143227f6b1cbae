// Package trim batches OS page release for allocators that defer it.
//
// # Overview
//
// Allocators that keep empty pools or runs around (RunSlots, pygote) do not
// return their pages to the OS on every free. Instead they record the unused
// byte ranges in a Tracker and flush it from an explicit trim call:
//
//	tr := trim.NewTracker(pm)
//	tr.Add(runStart+headerSize, runSize-headerSize)
//	if err := tr.Flush(ctx); err != nil {
//	    return err
//	}
//
// # Page Granularity
//
// Ranges are merged with their neighbours first and then shrunk inward to page
// boundaries, so a partially used page is never released. A range smaller
// than one page after shrinking is dropped.
package trim
