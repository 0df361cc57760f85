// Package dlwrap multiplexes isolated segmented-heap arenas over a fixed
// table of slots. An arena gives an allocation-heavy subsystem, such as the
// script engine, its own heap whose growth, fragmentation and lifetime are
// independent of the shared allocator.
//
// The table has NumSlots entries. Create binds the lowest free slot to a new
// arena driven by the caller's MoreCore strategy; a full table yields
// ErrNoFreeSlot, and callers fall back to the shared MemoryAllocator.
//
// Slots are reusable only through Release, which requires the arena to be
// quiescent (no live blocks). Releasing an arena with live blocks is a
// contract violation and the slot stays bound.
//
// Neither Slots nor Instance is safe for concurrent use. Two instances never
// share free lists, so distinct goroutines may each own one arena.
package dlwrap

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory/heap"
)

// NumSlots is the number of statically provisioned arena slots.
const NumSlots = 2

var (
	// ErrNoFreeSlot means every slot is bound; no isolated arena is available.
	ErrNoFreeSlot = errors.New("dlwrap: no free slot")

	// ErrReleased is returned by an Instance after Release.
	ErrReleased = errors.New("dlwrap: instance released")
)

// MoreCoreFailure returns the sentinel a MoreCore strategy reports when it
// cannot grow the arena any further.
func MoreCoreFailure() error { return heap.ErrNoMoreCore }

// Slots is the fixed slot table.
type Slots struct {
	opts  heap.Options
	slots [NumSlots]*Instance
	log   *logrus.Entry
}

// NewSlots returns an empty table. opts configures every arena's heap; the
// Name field is replaced per slot.
func NewSlots(opts *heap.Options) *Slots {
	s := &Slots{log: logger.For("dlwrap")}
	if opts != nil {
		s.opts = *opts
	}
	return s
}

// Create binds the lowest free slot to a new arena grown by mc.
func (s *Slots) Create(mc heap.MoreCore) (*Instance, error) {
	if mc == nil {
		return nil, contract.Violationf("dlwrap.Create", "nil more-core strategy")
	}
	return s.bind(nil, mc)
}

// CreateSeeded binds the lowest free slot to an arena whose first segment is
// seed, typically storage taken from an aligned.Buffer. mc may be nil, in
// which case the arena never grows past the seed.
func (s *Slots) CreateSeeded(seed []byte, mc heap.MoreCore) (*Instance, error) {
	if seed == nil {
		return nil, contract.Violationf("dlwrap.CreateSeeded", "nil seed")
	}
	return s.bind(seed, mc)
}

func (s *Slots) bind(seed []byte, mc heap.MoreCore) (*Instance, error) {
	for i, bound := range s.slots {
		if bound != nil {
			continue
		}
		opts := s.opts
		opts.Name = fmt.Sprintf("slot-%d", i)
		h, err := heap.New(seed, mc, &opts)
		if err != nil {
			return nil, err
		}
		inst := &Instance{slots: s, index: i, heap: h}
		s.slots[i] = inst
		s.log.WithFields(logrus.Fields{"slot": i, "seed": len(seed)}).Info("arena bound")
		return inst, nil
	}
	s.log.Debug("no free arena slot")
	return nil, ErrNoFreeSlot
}

// Bound returns the number of bound slots.
func (s *Slots) Bound() int {
	n := 0
	for _, inst := range s.slots {
		if inst != nil {
			n++
		}
	}
	return n
}

// Capacity returns NumSlots.
func (s *Slots) Capacity() int { return NumSlots }

// Instances returns the bound arenas in slot order.
func (s *Slots) Instances() []*Instance {
	out := make([]*Instance, 0, NumSlots)
	for _, inst := range s.slots {
		if inst != nil {
			out = append(out, inst)
		}
	}
	return out
}

// Instance is one arena bound to a slot.
type Instance struct {
	slots    *Slots
	index    int
	heap     *heap.Heap
	released bool
}

// Slot returns the index of the slot the instance is bound to.
func (in *Instance) Slot() int { return in.index }

// Malloc allocates from this arena only.
func (in *Instance) Malloc(size int) (heap.Ref, []byte, error) {
	if in.released {
		return heap.Nil, nil, ErrReleased
	}
	return in.heap.Alloc(size)
}

// Calloc allocates num*size zeroed bytes from this arena.
func (in *Instance) Calloc(num, size int) (heap.Ref, []byte, error) {
	if in.released {
		return heap.Nil, nil, ErrReleased
	}
	return in.heap.Calloc(num, size)
}

// Realloc resizes ref within this arena.
func (in *Instance) Realloc(ref heap.Ref, size int) (heap.Ref, []byte, error) {
	if in.released {
		return heap.Nil, nil, ErrReleased
	}
	return in.heap.Realloc(ref, size)
}

// Free releases a block of this arena. Blocks from any other arena are
// rejected as contract violations.
func (in *Instance) Free(ref heap.Ref) error {
	if in.released {
		return ErrReleased
	}
	return in.heap.Free(ref)
}

// Memalign allocates an aligned block from this arena.
func (in *Instance) Memalign(alignment, size int) (heap.Ref, []byte, error) {
	if in.released {
		return heap.Nil, nil, ErrReleased
	}
	return in.heap.Memalign(alignment, size)
}

// Bytes returns the payload of a live block.
func (in *Instance) Bytes(ref heap.Ref) ([]byte, error) {
	if in.released {
		return nil, ErrReleased
	}
	return in.heap.Bytes(ref)
}

// Trim hands wholly free segments back to the strategy when it supports it.
func (in *Instance) Trim() (int, error) {
	if in.released {
		return 0, ErrReleased
	}
	return in.heap.Trim()
}

// Stats returns the arena's heap statistics.
func (in *Instance) Stats() heap.Stats { return in.heap.Stats() }

// Release unbinds the slot. The arena must have no live blocks; its grown
// segments are trimmed back to the strategy first.
func (in *Instance) Release() error {
	if in.released {
		return contract.Violationf("dlwrap.Release", "slot %d released twice", in.index)
	}
	if live := in.heap.Live(); live > 0 {
		return contract.Violationf("dlwrap.Release", "slot %d still has %d live blocks", in.index, live)
	}
	if _, err := in.heap.Trim(); err != nil {
		return fmt.Errorf("dlwrap: release slot %d: %w", in.index, err)
	}
	in.released = true
	in.slots.slots[in.index] = nil
	in.slots.log.WithField("slot", in.index).Info("arena released")
	return nil
}
