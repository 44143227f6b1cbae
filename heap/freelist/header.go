package freelist

import (
	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/internal/format"
)

const (
	// HeaderSize is the size of a block header.
	HeaderSize = 24

	// PoolHeaderSize is the size of the header at the start of every pool.
	PoolHeaderSize = 32

	// MinSize is the smallest payload a block can have.
	MinSize = 16

	// MaxSize is the first request size the allocator refuses.
	MaxSize = 64 * format.KB

	// DefaultPoolSize is the pool size callers should request from the PoolManager.
	DefaultPoolSize = 256 * format.KB

	// MinPoolSize is the smallest pool AddMemoryPool accepts.
	MinPoolSize = 64 * format.KB
)

// Block header field offsets.
const (
	offFlags = 0
	offPad   = 4
	offSize  = 8
	offPrev  = 16
)

// Pool header field offsets.
const (
	offPoolSize  = 0
	offPoolPrev  = 8
	offPoolNext  = 16
	offPoolFirst = 24
)

type blockFlags uint32

const (
	flagUsed blockFlags = 1 << iota
	flagPaddingHeader
	flagLastInPool
	flagHasPaddingAfter
)

// block is a view of one header in managed memory.
type block struct {
	s *mem.Space
	h mem.Addr
}

func (b block) flags() blockFlags      { return blockFlags(b.s.ReadU32(b.h + offFlags)) }
func (b block) setFlags(f blockFlags)  { b.s.WriteU32(b.h+offFlags, uint32(f)) }
func (b block) has(f blockFlags) bool  { return b.flags()&f != 0 }
func (b block) size() uint64           { return b.s.ReadU64(b.h + offSize) }
func (b block) setSize(n uint64)       { b.s.WriteU64(b.h+offSize, n) }
func (b block) prev() mem.Addr         { return mem.Addr(b.s.ReadU64(b.h + offPrev)) }
func (b block) setPrev(p mem.Addr)     { b.s.WriteU64(b.h+offPrev, uint64(p)) }
func (b block) pad() uint64            { return uint64(b.s.ReadU32(b.h + offPad)) }
func (b block) setPad(n uint64)        { b.s.WriteU32(b.h+offPad, uint32(n)) }
func (b block) payload() mem.Addr      { return b.h.Add(HeaderSize) }
func (b block) object() mem.Addr       { return b.payload().Add(b.pad()) }
func (b block) objectSize() uint64     { return b.size() - b.pad() }
func (b block) end() mem.Addr          { return b.payload().Add(b.size()) }
func (b block) setFlag(f blockFlags)   { b.setFlags(b.flags() | f) }
func (b block) clearFlag(f blockFlags) { b.setFlags(b.flags() &^ f) }
func (b block) init(size uint64, prev mem.Addr, f blockFlags) {
	b.setFlags(f)
	b.setPad(0)
	b.setSize(size)
	b.setPrev(prev)
}

// next returns the following header, or mem.Null for the last block in a pool.
func (b block) next() mem.Addr {
	if b.has(flagLastInPool) {
		return mem.Null
	}
	return b.end()
}

// poolHeader is a view of the header at the start of a pool.
type poolHeader struct {
	s *mem.Space
	p mem.Addr
}

func (p poolHeader) size() uint64         { return p.s.ReadU64(p.p + offPoolSize) }
func (p poolHeader) prev() mem.Addr       { return mem.Addr(p.s.ReadU64(p.p + offPoolPrev)) }
func (p poolHeader) setPrev(a mem.Addr)   { p.s.WriteU64(p.p+offPoolPrev, uint64(a)) }
func (p poolHeader) next() mem.Addr       { return mem.Addr(p.s.ReadU64(p.p + offPoolNext)) }
func (p poolHeader) setNext(a mem.Addr)   { p.s.WriteU64(p.p+offPoolNext, uint64(a)) }
func (p poolHeader) firstBlock() mem.Addr { return mem.Addr(p.s.ReadU64(p.p + offPoolFirst)) }
func (p poolHeader) end() mem.Addr        { return p.p.Add(p.size()) }
func (p poolHeader) init(size uint64) {
	p.s.WriteU64(p.p+offPoolSize, size)
	p.setPrev(mem.Null)
	p.setNext(mem.Null)
	p.s.WriteU64(p.p+offPoolFirst, uint64(p.p.Add(PoolHeaderSize)))
}
