package objalloc

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/memory/heap"
)

// objectAlign is the alignment of every object within a chunk.
const objectAlign = 8

// DefaultChunkBytes is the target chunk size when Options.ChunkBytes is zero.
const DefaultChunkBytes = 16 << 10

// Ref identifies a pool object: chunk id in the high 32 bits, slot index in
// the low 32. Chunk ids start at 1, so the zero Ref is never valid.
type Ref uint64

// Nil is the null object reference.
const Nil Ref = 0

func makeRef(chunkID uint32, slot int) Ref { return Ref(uint64(chunkID)<<32 | uint64(uint32(slot))) }

func (r Ref) chunkID() uint32 { return uint32(r >> 32) }
func (r Ref) slot() int        { return int(uint32(r)) }

// Options configures a pool. The zero value is usable.
type Options struct {
	// Backing supplies chunks. Nil means the Go heap.
	Backing Backing

	// ChunkBytes is the target size of one chunk. Zero means DefaultChunkBytes.
	// A chunk always holds at least one object.
	ChunkBytes int

	// Name tags log lines and reports.
	Name string
}

// chunk is one backing segment carved into equally sized slots.
type chunk struct {
	id     uint32
	ref    heap.Ref
	mem    []byte
	slots  int
	carved int            // slots handed out at least once
	live   int            // slots currently in use
	inUse  *bitset.BitSet // per-slot live bit
}

// Pool hands out fixed-size objects carved from chunks. Released objects go
// on a LIFO free list so the most recently released object is reused first.
// A Pool is intended for the goroutine that owns its object type and is not
// safe for concurrent use.
type Pool struct {
	reg  *Registry
	id   uint64
	name string

	objectSize int // requested size rounded up to objectAlign
	capacity   int
	perChunk   int
	backing    Backing

	chunks     map[uint32]*chunk
	carving    *chunk // newest chunk with uncarved slots
	nextChunk  uint32
	slotsTotal int

	free []Ref // LIFO free list, by index
	live int

	gets, releases             int
	chunksAllocated, reclaimed int
	destroyed                  bool
	log                        *logrus.Entry
}

// Get returns a zeroed object. It pops the free list first, then carves an
// unused slot, then allocates a new chunk. With capacity objects live it
// returns ErrExhausted.
func (p *Pool) Get() (Ref, []byte, error) {
	if p.destroyed {
		return Nil, nil, ErrDestroyed
	}
	if p.live >= p.capacity {
		p.log.WithField("capacity", p.capacity).Debug("pool at capacity")
		return Nil, nil, ErrExhausted
	}

	var (
		c      *chunk
		slot   int
		popped bool
	)
	if n := len(p.free); n > 0 {
		ref := p.free[n-1]
		c, slot, popped = p.chunks[ref.chunkID()], ref.slot(), true
	} else {
		if p.carving == nil || p.carving.carved == p.carving.slots {
			if err := p.newChunk(); err != nil {
				return Nil, nil, err
			}
		}
		c = p.carving
		slot = c.carved
	}

	obj, err := p.slotBytes(c, slot, "objalloc.Get")
	if err != nil {
		return Nil, nil, err
	}
	if popped {
		p.free = p.free[:len(p.free)-1]
	} else {
		c.carved++
	}
	c.inUse.Set(uint(slot))
	c.live++
	p.live++
	p.gets++

	clear(obj)
	return makeRef(c.id, slot), obj, nil
}

// newChunk allocates the next chunk, sized so total slots never exceed capacity.
func (p *Pool) newChunk() error {
	slots := min(p.perChunk, p.capacity-p.slotsTotal)
	size, ok := buf.MulOverflowSafe(slots, p.objectSize)
	if !ok || slots <= 0 {
		return fmt.Errorf("%w: cannot size chunk of %d objects", ErrExhausted, slots)
	}
	ref, mem, err := p.backing.Malloc(size)
	if err != nil {
		p.log.WithError(err).WithField("bytes", size).Debug("chunk allocation failed")
		return fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	p.nextChunk++
	c := &chunk{
		id:    p.nextChunk,
		ref:   ref,
		mem:   mem[:size:size],
		slots: slots,
		inUse: bitset.New(uint(slots)),
	}
	p.chunks[c.id] = c
	p.carving = c
	p.slotsTotal += slots
	p.chunksAllocated++
	return nil
}

// Release returns an object to the pool. Releasing an object this pool did
// not hand out, or releasing it twice, is a contract violation.
func (p *Pool) Release(ref Ref) error {
	if p.destroyed {
		return ErrDestroyed
	}
	c, slot, err := p.resolve(ref, "objalloc.Release")
	if err != nil {
		return err
	}
	c.inUse.Clear(uint(slot))
	c.live--
	p.live--
	p.releases++
	p.free = append(p.free, ref)
	return nil
}

// Bytes returns the storage of a live object.
func (p *Pool) Bytes(ref Ref) ([]byte, error) {
	if p.destroyed {
		return nil, ErrDestroyed
	}
	c, slot, err := p.resolve(ref, "objalloc.Bytes")
	if err != nil {
		return nil, err
	}
	return p.slotBytes(c, slot, "objalloc.Bytes")
}

func (p *Pool) resolve(ref Ref, op string) (*chunk, int, error) {
	c, ok := p.chunks[ref.chunkID()]
	slot := ref.slot()
	if !ok || slot >= c.carved {
		return nil, 0, contract.Violationf(op, "object %#x does not belong to pool %q", uint64(ref), p.name)
	}
	if !c.inUse.Test(uint(slot)) {
		return nil, 0, contract.Violationf(op, "object %#x of pool %q is not live", uint64(ref), p.name)
	}
	return c, slot, nil
}

// slotBytes returns the storage of slot in c. A slot outside the chunk means
// the chunk memory no longer matches its bookkeeping.
func (p *Pool) slotBytes(c *chunk, slot int, op string) ([]byte, error) {
	off, ok := buf.MulOverflowSafe(slot, p.objectSize)
	if !ok {
		return nil, contract.Violationf(op, "slot %d of pool %q overflows", slot, p.name)
	}
	end, err := buf.CheckSpan(len(c.mem), off, 1, p.objectSize)
	if err != nil {
		return nil, contract.Violationf(op, "slot %d of chunk %d in pool %q: %v", slot, c.id, p.name, err)
	}
	return c.mem[off:end:end], nil
}

// CollectGarbage returns every chunk with no live objects to the backing and
// reports how many chunks were reclaimed. The pool stays usable; later Gets
// carve fresh chunks as needed.
func (p *Pool) CollectGarbage() int {
	if p.destroyed {
		return 0
	}
	reclaimed := 0
	for id, c := range p.chunks {
		if c.live > 0 {
			continue
		}
		if err := p.backing.Free(c.ref); err != nil {
			p.log.WithError(err).WithField("chunk", id).Warn("chunk release failed")
			continue
		}
		delete(p.chunks, id)
		p.slotsTotal -= c.slots
		if p.carving == c {
			p.carving = nil
		}
		reclaimed++
	}
	if reclaimed > 0 {
		p.free = lo.Filter(p.free, func(r Ref, _ int) bool {
			_, ok := p.chunks[r.chunkID()]
			return ok
		})
		p.reclaimed += reclaimed
		p.log.WithField("chunks", reclaimed).Debug("pool collected")
	}
	return reclaimed
}

// Destroy frees every chunk and unregisters the pool. Live objects become
// invalid.
func (p *Pool) Destroy() error {
	if p.destroyed {
		return nil
	}
	if p.live > 0 {
		p.log.WithField("live", p.live).Warn("destroying pool with live objects")
	}
	var errs *multierror.Error
	for id, c := range p.chunks {
		if err := p.backing.Free(c.ref); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chunk %d: %w", id, err))
		}
	}
	p.chunks = nil
	p.carving = nil
	p.free = nil
	p.live = 0
	p.slotsTotal = 0
	p.destroyed = true
	if p.reg != nil {
		p.reg.unregister(p)
	}
	return errs.ErrorOrNil()
}

// Stats is a snapshot of one pool.
type Stats struct {
	Name            string
	ObjectSize      int
	Capacity        int
	Live            int
	FreeListLen     int
	Chunks          int
	ChunkBytes      int
	ChunksAllocated int
	ChunksReclaimed int
	Gets            int
	Releases        int
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:            p.name,
		ObjectSize:      p.objectSize,
		Capacity:        p.capacity,
		Live:            p.live,
		FreeListLen:     len(p.free),
		Chunks:          len(p.chunks),
		ChunkBytes:      lo.SumBy(lo.Values(p.chunks), func(c *chunk) int { return len(c.mem) }),
		ChunksAllocated: p.chunksAllocated,
		ChunksReclaimed: p.reclaimed,
		Gets:            p.gets,
		Releases:        p.releases,
	}
}

// Live returns the number of objects currently handed out.
func (p *Pool) Live() int { return p.live }

// Capacity returns the maximum number of simultaneously live objects.
func (p *Pool) Capacity() int { return p.capacity }

// ObjectSize returns the per-object size after alignment.
func (p *Pool) ObjectSize() int { return p.objectSize }
