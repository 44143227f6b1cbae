// Package objalloc is the object allocator the collector and mutators talk to.
//
// An ObjectAllocator owns the policy every heap layout shares: routing
// non-movable requests to the pygote space while it accepts them, sizing
// thread-local allocation buffers, stamping object headers and returning
// memory to the PoolManager. Where objects actually live is decided by one
// of three strategies:
//
//   - KindNoGen: a single space of run-slots, free-list and humongous
//     allocators. Nothing moves.
//   - KindGen: a bump-pointer young space with TLABs in front of a tenured
//     space laid out like KindNoGen, plus a separate non-movable space.
//   - KindG1: region based. Young and old objects share one region space,
//     non-movable objects use a free list over dedicated regions and
//     humongous objects get regions of their own.
//
// Allocation failure is reported as mem.Null. The caller is expected to
// collect and retry.
package objalloc
