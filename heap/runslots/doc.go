// Package runslots implements a size-class slab allocator for small objects.
//
// # Runs
//
// A run is a RunSize-aligned page range holding equal slots of one power-of-two
// size class (8 to 256 bytes). Slots are handed out from a per-run bump index
// until it reaches the end of the run; freed slots are kept on an intrusive
// stack threaded through the first word of each free slot. An occupancy bitset
// per run backs IsLive and iteration.
//
// # Lists
//
// Partially used runs sit on the active list of their class. Fully free runs
// sit on one shared free list and are re-initialised for whatever class needs
// a run next. A full run is on no list. The list a run is on is recorded and
// checked on every transition.
//
// # Locking
//
// The allocator mutex guards lists and run lookup; each run has its own mutex
// guarding its slots. The allocator mutex is always taken first. Iteration
// takes only the run mutex, and only while finding the next object.
package runslots
