// Package freelist implements a general-purpose allocator for objects of
// arbitrary size below MaxSize, built on headers embedded in the managed
// memory and a segregated set of best-fit free lists.
//
// # Layout
//
// Every pool starts with a 32-byte pool header followed by a chain of blocks.
// Each block begins with a 24-byte header:
//
//	+0  flags   u32  Used | PaddingHeader | LastInPool | HasPaddingAfter
//	+4  pad     u32  bytes between the payload and the object (padded blocks)
//	+8  size    u64  payload bytes
//	+16 prev    u64  address of the previous header in the pool, or 0
//
// The next header follows the payload unless the block is LastInPool. When an
// allocation needs more alignment than the payload address has, a second
// header flagged PaddingHeader is written right before the aligned object; its
// prev field points back at the real header.
//
// # Free lists
//
// Free blocks are indexed Go-side in per-size-class min-heaps keyed by size and
// then address, so the first fit found is the smallest block that can serve
// the request and ties go to the lowest address.
//
// # Growth
//
// The allocator never grows by itself. Alloc returns mem.Null when no block
// fits; the caller obtains a pool from the PoolManager, registers it with
// AddMemoryPool and retries.
package freelist
