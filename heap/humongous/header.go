package humongous

import (
	"github.com/joshuapare/gcheap/heap/mem"
)

// Pool header layout, at the first byte of every pool:
//
//	0x00  magic         u64
//	0x08  pool size     u64
//	0x10  object offset u64 (0 while the pool is free)
//	0x18  object size   u64
//	0x20  reserved up to HeaderSize
const (
	HeaderSize = 64

	offMagic     = 0x00
	offPoolSize  = 0x08
	offObjOffset = 0x10
	offObjSize   = 0x18

	headerMagic = 0x4855_4745_504F_4F4C // "HUGEPOOL"
)

type header struct {
	s *mem.Space
	p mem.Addr
}

func (h header) init(size uint64) {
	h.s.Zero(h.p, HeaderSize)
	h.s.WriteU64(h.p+offMagic, headerMagic)
	h.s.WriteU64(h.p+offPoolSize, size)
}

func (h header) valid() bool       { return h.s.ReadU64(h.p+offMagic) == headerMagic }
func (h header) poolSize() uint64  { return h.s.ReadU64(h.p + offPoolSize) }
func (h header) objOffset() uint64 { return h.s.ReadU64(h.p + offObjOffset) }
func (h header) objSize() uint64   { return h.s.ReadU64(h.p + offObjSize) }
func (h header) object() mem.Addr  { return h.p.Add(h.objOffset()) }
func (h header) occupied() bool    { return h.objOffset() != 0 }
func (h header) clearObject()      { h.setObject(0, 0) }

func (h header) setObject(off, size uint64) {
	h.s.WriteU64(h.p+offObjOffset, off)
	h.s.WriteU64(h.p+offObjSize, size)
}
