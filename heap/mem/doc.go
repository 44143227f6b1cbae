// Package mem provides the memory substrate the heap allocators are built on.
//
// # Overview
//
// The heap reserves one contiguous block of virtual memory (a Space) and hands
// it out in page-aligned pools through a PoolManager. Allocators never touch OS
// memory directly: they request pools or arenas, carve them into objects, and
// give them back when empty.
//
// # Addresses
//
// An Addr is a position inside the Space, not a Go pointer. Space addresses start
// at SpaceBase, which is aligned to 4 GiB, so masking an address to any
// power-of-two granule up to that size yields the start of the containing pool,
// run or region. Null (0) never belongs to a Space and is the universal
// allocation-failure signal.
//
//	sp, err := mem.NewSpace(64 * format.MB)
//	if err != nil {
//	    return err
//	}
//	pm := mem.NewPoolManager(sp)
//	pool := pm.AllocPool(256*format.KB, mem.SpaceObject, mem.AllocatorFreeList, nil)
//	if pool.IsNull() {
//	    // out of reserved memory
//	}
//
// # Headers
//
// Headers that the allocators embed in managed memory are read and written with
// the bounds-checked Space accessors (ReadU64, WriteU64, ...). An out-of-range
// access panics: it can only come from corrupted metadata.
//
// # Collaborators
//
// The object model (ObjectSizer), statistics sink (StatsRecorder) and the
// visitor/predicate callbacks used by collectors are defined here so that every
// allocator package shares one vocabulary.
package mem
