package heap

import (
	"github.com/joshuapare/memkit/internal/buf"
)

// Block layout inside a segment. Every block starts with an 8-byte header:
//
//	[0:4] size | flags   total block size including header; bit 0 = in use
//	[4:8] prev size      size of the physically preceding block, 0 for the first
//
// Sizes are multiples of align so the low bits of the size word are free.
// The payload follows the header and is align-aligned because every
// segment's first header is.
const (
	headerSize   = 8
	align        = 8
	minBlockSize = 16

	// maxSegmentSize bounds segments so offsets fit the low half of a Ref.
	maxSegmentSize = 1 << 31

	inUseBit = 1
)

// Ref identifies a heap allocation: the segment index in the high 32 bits
// and the payload offset in the low 32. The zero Ref is the nil reference;
// no payload starts at offset 0 because every block carries a header.
type Ref uint64

// Nil is the null reference.
const Nil Ref = 0

func makeRef(si, payloadOff int) Ref { return Ref(uint64(si)<<32 | uint64(uint32(payloadOff))) }

func (r Ref) segment() int { return int(r >> 32) }
func (r Ref) offset() int  { return int(uint32(r)) }

func makeLoc(si, off int) uint64 { return uint64(si)<<32 | uint64(uint32(off)) }

func locSegment(loc uint64) int { return int(loc >> 32) }
func locOffset(loc uint64) int  { return int(uint32(loc)) }

func blockSizeAt(data []byte, off int) int {
	return int(buf.U32LE(data[off:]) &^ inUseBit)
}

func inUseAt(data []byte, off int) bool {
	return buf.U32LE(data[off:])&inUseBit != 0
}

func prevSizeAt(data []byte, off int) int {
	return int(buf.U32LE(data[off+4:]))
}

func setHeader(data []byte, off, size int, used bool) {
	v := uint32(size)
	if used {
		v |= inUseBit
	}
	buf.PutU32LE(data[off:], v)
}

func setPrev(data []byte, off, prev int) {
	buf.PutU32LE(data[off+4:], uint32(prev))
}

// blockSize converts a payload request into a block size.
func blockSize(size int) (int, bool) {
	if size < 0 {
		return 0, false
	}
	n, ok := buf.AddOverflowSafe(size, headerSize)
	if !ok {
		return 0, false
	}
	n, ok = buf.AlignUp(n, align)
	if !ok || n > maxSegmentSize {
		return 0, false
	}
	return max(n, minBlockSize), true
}
