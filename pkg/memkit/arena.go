package memkit

import (
	"errors"
	"slices"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/memory/dlwrap"
	"github.com/joshuapare/memkit/memory/heap"
	"github.com/joshuapare/memkit/memory/manager"
)

// Arena is a script heap. It is either an isolated slot arena growing over
// its own manager core source, or a view of the shared allocator when every
// slot was taken.
type Arena struct {
	sys    *System
	inst   *dlwrap.Instance      // nil for a shared arena
	core   *manager.CoreSource   // nil for a shared arena
	live   map[heap.Ref]struct{} // blocks this arena handed out
	closed bool
}

// NewScriptArena binds a free slot to a fresh arena. When no slot is free
// it returns an arena over the shared allocator instead.
func (s *System) NewScriptArena() (*Arena, error) {
	if s.closed {
		return nil, ErrClosed
	}
	core, err := s.mgr.NewCoreSource(s.cfg.ArenaReserve)
	if err != nil {
		return nil, err
	}
	inst, err := s.slots.Create(core)
	if err != nil {
		if cerr := core.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("close unused core source")
		}
		if !errors.Is(err, dlwrap.ErrNoFreeSlot) {
			return nil, err
		}
		s.log.Info("no free arena slot; falling back to the shared allocator")
		return &Arena{sys: s, live: make(map[heap.Ref]struct{})}, nil
	}
	a := &Arena{sys: s, inst: inst, core: core, live: make(map[heap.Ref]struct{})}
	s.arenas = append(s.arenas, a)
	return a, nil
}

// Isolated reports whether the arena owns a slot.
func (a *Arena) Isolated() bool { return a.inst != nil }

// Slot returns the slot index, or -1 for a shared arena.
func (a *Arena) Slot() int {
	if a.inst == nil {
		return -1
	}
	return a.inst.Slot()
}

// Live returns the number of blocks handed out by this arena.
func (a *Arena) Live() int { return len(a.live) }

// Malloc allocates size bytes, applying the low-memory recovery ladder.
func (a *Arena) Malloc(size int) (heap.Ref, []byte, error) {
	var (
		ref heap.Ref
		b   []byte
	)
	err := a.sys.withRecovery(size, func() (err error) {
		if a.inst != nil {
			ref, b, err = a.inst.Malloc(size)
		} else {
			ref, b, err = a.sys.shared.Malloc(size)
		}
		return err
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	a.live[ref] = struct{}{}
	return ref, b, nil
}

// Free returns a block to the arena. Freeing a block the arena did not hand
// out is a contract violation, even when the arena shares its heap.
func (a *Arena) Free(ref heap.Ref) error {
	const op = "memkit.Arena.Free"
	if a.sys.closed {
		return ErrClosed
	}
	if _, ok := a.live[ref]; !ok {
		return contract.Violationf(op, "block %#x was not allocated by arena %d", uint64(ref), a.Slot())
	}
	var err error
	if a.inst != nil {
		err = a.inst.Free(ref)
	} else {
		err = a.sys.shared.Free(ref)
	}
	if err == nil {
		delete(a.live, ref)
	}
	return err
}

// Bytes returns the payload of a live block.
func (a *Arena) Bytes(ref heap.Ref) ([]byte, error) {
	if _, ok := a.live[ref]; !ok {
		return nil, contract.Violationf("memkit.Arena.Bytes", "block %#x was not allocated by arena %d", uint64(ref), a.Slot())
	}
	if a.inst != nil {
		return a.inst.Bytes(ref)
	}
	return a.sys.shared.Bytes(ref)
}

// Trim returns wholly free segments of an isolated arena to its core
// source. Shared arenas have nothing to trim.
func (a *Arena) Trim() (int, error) {
	if a.inst == nil {
		return 0, nil
	}
	return a.inst.Trim()
}

// Stats returns the statistics of the heap behind the arena.
func (a *Arena) Stats() heap.Stats {
	if a.inst != nil {
		return a.inst.Stats()
	}
	return a.sys.shared.Stats()
}

// Close releases the slot and the core source. The arena must be empty.
func (a *Arena) Close() error {
	if a.inst == nil || a.closed {
		return nil
	}
	if err := a.inst.Release(); err != nil {
		return err
	}
	a.closed = true
	a.sys.arenas = slices.DeleteFunc(a.sys.arenas, func(x *Arena) bool { return x == a })
	return a.core.Close()
}
