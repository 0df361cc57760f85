// Package aligned provides bootstrap storage: a fixed-capacity block aligned
// to the strictest scalar alignment, usable before any allocator exists.
//
// A Buffer is consumed exactly once, typically to seed the shared
// MemoryAllocator or the first segment of an isolated arena.
package aligned

import (
	"errors"
	"unsafe"
)

// Alignment is the guaranteed alignment of a Buffer's storage, matching the
// widest scalar (float64/uint64).
const Alignment = int(unsafe.Alignof(uint64(0)))

// ErrConsumed is returned by Take after the storage has been handed out.
var ErrConsumed = errors.New("aligned: buffer already consumed")

// Buffer is bootstrap storage backed by a word slice so its first byte is
// always Alignment-aligned.
type Buffer struct {
	words    []uint64
	size     int
	consumed bool
}

// New returns a buffer of at least size bytes, rounded up to Alignment.
func New(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	n := (size + Alignment - 1) / Alignment
	return &Buffer{words: make([]uint64, n), size: n * Alignment}
}

// Size returns the usable capacity in bytes.
func (b *Buffer) Size() int { return b.size }

// Consumed reports whether Take has succeeded.
func (b *Buffer) Consumed() bool { return b.consumed }

// Take hands out the storage. Only the first call succeeds.
func (b *Buffer) Take() ([]byte, error) {
	if b.consumed {
		return nil, ErrConsumed
	}
	b.consumed = true
	if b.size == 0 {
		return []byte{}, nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), b.size), nil
}
