// Package allocator provides MemoryAllocator, the shared general-purpose
// allocator facade. It binds once to a caller-supplied region (usually an
// aligned.Buffer) and serves malloc-style requests from it without ever
// growing; higher layers fall back to it when no isolated arena is free.
package allocator

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory/heap"
)

// ErrNotInitialized is wrapped by the violation returned when the allocator
// is used before Initialize.
var ErrNotInitialized = errors.New("allocator: not initialized")

// MemoryAllocator is a single-heap allocator over a fixed region. It is not
// safe for concurrent use.
type MemoryAllocator struct {
	opts *heap.Options
	h    *heap.Heap
	log  *logrus.Entry
}

// New returns an unbound allocator. opts configures the underlying heap and may be nil.
func New(opts *heap.Options) *MemoryAllocator {
	if opts == nil {
		opts = &heap.Options{Name: "shared"}
	}
	return &MemoryAllocator{opts: opts, log: logger.For("allocator")}
}

// Initialize binds the allocator to region. It must be called exactly once.
func (a *MemoryAllocator) Initialize(region []byte) error {
	if a.h != nil {
		return contract.Violationf("allocator.Initialize", "already initialized")
	}
	h, err := heap.New(region, nil, a.opts)
	if err != nil {
		return err
	}
	a.h = h
	a.log.WithField("bytes", len(region)).Info("shared allocator initialized")
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (a *MemoryAllocator) Initialized() bool { return a.h != nil }

func (a *MemoryAllocator) ready(op string) error {
	if a.h == nil {
		return notInitialized(op)
	}
	return nil
}

func notInitialized(op string) error {
	err := contract.Violationf(op, "%v", ErrNotInitialized)
	return errors.Join(err, ErrNotInitialized)
}

// Malloc allocates size bytes; exhaustion is reported as heap.ErrNoSpace.
func (a *MemoryAllocator) Malloc(size int) (heap.Ref, []byte, error) {
	if err := a.ready("allocator.Malloc"); err != nil {
		return heap.Nil, nil, err
	}
	return a.h.Alloc(size)
}

// Calloc allocates num*size zeroed bytes.
func (a *MemoryAllocator) Calloc(num, size int) (heap.Ref, []byte, error) {
	if err := a.ready("allocator.Calloc"); err != nil {
		return heap.Nil, nil, err
	}
	return a.h.Calloc(num, size)
}

// Realloc resizes ref, moving it when it cannot grow in place.
func (a *MemoryAllocator) Realloc(ref heap.Ref, size int) (heap.Ref, []byte, error) {
	if err := a.ready("allocator.Realloc"); err != nil {
		return heap.Nil, nil, err
	}
	return a.h.Realloc(ref, size)
}

// Free releases ref.
func (a *MemoryAllocator) Free(ref heap.Ref) error {
	if err := a.ready("allocator.Free"); err != nil {
		return err
	}
	return a.h.Free(ref)
}

// Memalign allocates size bytes aligned to alignment (a power of two).
func (a *MemoryAllocator) Memalign(alignment, size int) (heap.Ref, []byte, error) {
	if err := a.ready("allocator.Memalign"); err != nil {
		return heap.Nil, nil, err
	}
	return a.h.Memalign(alignment, size)
}

// ResizeMemory grows or shrinks ref without moving it. A false result leaves
// the block untouched; the caller may fall back to Realloc.
func (a *MemoryAllocator) ResizeMemory(ref heap.Ref, size int) (bool, error) {
	if err := a.ready("allocator.ResizeMemory"); err != nil {
		return false, err
	}
	return a.h.Resize(ref, size)
}

// Bytes returns the payload of a live allocation.
func (a *MemoryAllocator) Bytes(ref heap.Ref) ([]byte, error) {
	if err := a.ready("allocator.Bytes"); err != nil {
		return nil, err
	}
	return a.h.Bytes(ref)
}

// Stats returns heap statistics; the zero value before Initialize.
func (a *MemoryAllocator) Stats() heap.Stats {
	if a.h == nil {
		return heap.Stats{}
	}
	return a.h.Stats()
}
