package platform

import (
	"fmt"
	"sync"
)

// HeapVM emulates reservations with page-aligned Go allocations. Commit is a
// no-op and Decommit zero-fills, matching what anonymous memory looks like
// after MADV_DONTNEED. A non-zero limit caps the total bytes reserved so tests
// can drive the exhaustion paths.
type HeapVM struct {
	mu       sync.Mutex
	pageSize int
	limit    int
	reserved int
	regions  map[uintptr]*heapRegion
}

type heapRegion struct {
	backing []byte // keeps the memory reachable
	size    int
}

var _ VM = (*HeapVM)(nil)

// NewHeapVM returns an emulated VM with the given page size (a power of two)
// and reservation limit in bytes (0 = unlimited).
func NewHeapVM(pageSize, limit int) *HeapVM {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		panic(fmt.Sprintf("platform: page size %d is not a power of two", pageSize))
	}
	return &HeapVM{
		pageSize: pageSize,
		limit:    limit,
		regions:  make(map[uintptr]*heapRegion),
	}
}

func (v *HeapVM) PageSize() int { return v.pageSize }

func (v *HeapVM) Reserve(size int) (uintptr, error) {
	if size <= 0 || size%v.pageSize != 0 {
		return 0, ErrUnaligned
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.limit > 0 && v.reserved+size > v.limit {
		return 0, fmt.Errorf("%w: %d reserved, %d requested, limit %d",
			ErrAddressSpace, v.reserved, size, v.limit)
	}
	backing := make([]byte, size+v.pageSize)
	base := alignUp(Addr(backing), v.pageSize)
	v.regions[base] = &heapRegion{backing: backing, size: size}
	v.reserved += size
	return base, nil
}

func (v *HeapVM) Commit(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.find(addr, size) == nil {
		return ErrNotReserved
	}
	return nil
}

func (v *HeapVM) Decommit(addr uintptr, size int) error {
	if err := checkAligned(v.pageSize, addr, size); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.find(addr, size) == nil {
		return ErrNotReserved
	}
	clear(Bytes(addr, size))
	return nil
}

func (v *HeapVM) Release(addr uintptr, size int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.regions[addr]
	if !ok || r.size != size {
		return ErrNotReserved
	}
	delete(v.regions, addr)
	v.reserved -= size
	return nil
}

// Reserved returns the number of bytes currently reserved.
func (v *HeapVM) Reserved() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reserved
}

// find returns the reservation containing [addr, addr+size).
func (v *HeapVM) find(addr uintptr, size int) *heapRegion {
	for base, r := range v.regions {
		if addr >= base && addr+uintptr(size) <= base+uintptr(r.size) {
			return r
		}
	}
	return nil
}

func alignUp(p uintptr, align int) uintptr {
	a := uintptr(align)
	return (p + a - 1) &^ (a - 1)
}
