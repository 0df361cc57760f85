//go:build windows

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// osVM maps the primitives directly onto VirtualAlloc and VirtualFree.
type osVM struct {
	pageSize int
}

// Default returns the operating system VM.
func Default() VM {
	return &osVM{pageSize: os.Getpagesize()}
}

func (v *osVM) PageSize() int { return v.pageSize }

func (v *osVM) Reserve(size int) (uintptr, error) {
	if size <= 0 || size%v.pageSize != 0 {
		return 0, ErrUnaligned
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, fmt.Errorf("%w: VirtualAlloc %d bytes: %w", ErrAddressSpace, size, err)
	}
	return addr, nil
}

func (v *osVM) Commit(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	if _, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
		return fmt.Errorf("platform: commit: %w", err)
	}
	return nil
}

func (v *osVM) Decommit(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	if err := windows.VirtualFree(addr, uintptr(size), windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("platform: decommit: %w", err)
	}
	return nil
}

func (v *osVM) Release(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	// MEM_RELEASE requires a zero size and the reservation base.
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("platform: release: %w", err)
	}
	return nil
}
