// Package buf contains bounds-checked arithmetic and little-endian helpers
// shared by the allocators for block headers and size calculations.
package buf

import "encoding/binary"

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// PutU32LE writes v into b in little-endian order. It is a no-op when b is too short.
func PutU32LE(b []byte, v uint32) {
	if len(b) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(b, v)
}
