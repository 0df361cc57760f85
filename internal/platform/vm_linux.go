//go:build linux

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// osVM reserves with PROT_NONE anonymous mappings and commits by flipping
// protection to read/write. Decommit drops the pages with MADV_DONTNEED so
// the kernel can reclaim them while the address range stays reserved.
type osVM struct {
	pageSize int
}

// Default returns the operating system VM.
func Default() VM {
	return &osVM{pageSize: unix.Getpagesize()}
}

func (v *osVM) PageSize() int { return v.pageSize }

func (v *osVM) Reserve(size int) (uintptr, error) {
	if size <= 0 || size%v.pageSize != 0 {
		return 0, ErrUnaligned
	}
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(size),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return 0, fmt.Errorf("%w: mmap %d bytes: %w", ErrAddressSpace, size, err)
	}
	return uintptr(p), nil
}

func (v *osVM) Commit(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	b := Bytes(addr, size)
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("platform: commit: %w", err)
	}
	// Advisory only.
	_ = unix.Madvise(b, unix.MADV_WILLNEED)
	return nil
}

func (v *osVM) Decommit(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	b := Bytes(addr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("platform: decommit: %w", err)
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return fmt.Errorf("platform: decommit: %w", err)
	}
	return nil
}

func (v *osVM) Release(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	if err := unix.MunmapPtr(unsafe.Pointer(addr), uintptr(size)); err != nil { //nolint:govet // addr came from MmapPtr
		return fmt.Errorf("platform: release: %w", err)
	}
	return nil
}
