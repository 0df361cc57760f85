package objalloc

import (
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/memory/heap"
)

// Backing supplies chunk storage to pools. *allocator.MemoryAllocator and
// *dlwrap.Instance both satisfy it.
type Backing interface {
	Malloc(size int) (heap.Ref, []byte, error)
	Free(ref heap.Ref) error
}

// goBacking serves chunks from the Go heap; used when a pool is created
// without an explicit backing.
type goBacking struct {
	next heap.Ref
	live map[heap.Ref][]byte
}

// NewGoBacking returns a Backing that allocates chunks with make.
func NewGoBacking() Backing {
	return &goBacking{live: make(map[heap.Ref][]byte)}
}

func (b *goBacking) Malloc(size int) (heap.Ref, []byte, error) {
	b.next++
	mem := make([]byte, size)
	b.live[b.next] = mem
	return b.next, mem, nil
}

func (b *goBacking) Free(ref heap.Ref) error {
	if _, ok := b.live[ref]; !ok {
		return contract.Violationf("objalloc.goBacking.Free", "unknown chunk %d", uint64(ref))
	}
	delete(b.live, ref)
	return nil
}
