// Package platform adapts the host virtual-memory API to the four primitives
// the memory manager needs: reserve address space, commit pages, decommit
// pages, and release the reservation.
//
// Addresses are plain uintptrs because reserved memory lives outside the Go
// heap. Bytes turns a committed range into a slice; touching a range that is
// reserved but not committed faults on real operating systems.
//
// Default returns the OS implementation selected by build tags (mmap and
// mprotect on Linux, VirtualAlloc on Windows). Other platforms, and tests that
// need deterministic failures, use HeapVM, which emulates reservations with
// page-aligned Go allocations.
package platform

import (
	"errors"
	"unsafe"
)

var (
	// ErrAddressSpace indicates the reservation could not be satisfied.
	ErrAddressSpace = errors.New("platform: address space exhausted")

	// ErrNotReserved indicates the range does not belong to a live reservation.
	ErrNotReserved = errors.New("platform: range is not reserved")

	// ErrUnaligned indicates an address or size that is not page-aligned.
	ErrUnaligned = errors.New("platform: range is not page aligned")
)

// VM is the virtual-memory capability used by the memory manager.
// Sizes and addresses passed to Commit, Decommit and Release must be
// multiples of PageSize.
type VM interface {
	PageSize() int
	Reserve(size int) (uintptr, error)
	Commit(addr uintptr, size int) error
	Decommit(addr uintptr, size int) error
	Release(addr uintptr, size int) error
}

// Bytes returns a slice view of n bytes at addr.
func Bytes(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n) //nolint:govet // addr is a live reservation
}

// Addr returns the address of the first byte of b, or 0 for an empty slice.
func Addr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func checkAligned(pageSize int, addr uintptr, size int) error {
	if size <= 0 || size%pageSize != 0 || addr%uintptr(pageSize) != 0 {
		return ErrUnaligned
	}
	return nil
}
