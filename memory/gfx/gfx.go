// Package gfx allocates page-aligned buffers for GPU-visible memory. Each
// buffer is its own reservation, committed in full through the memory
// manager so it counts against the shared commit budget.
package gfx

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/memory/manager"
)

var (
	// ErrNoMemory indicates the buffer could not be reserved or committed.
	ErrNoMemory = errors.New("gfx: out of memory")

	// ErrNotInitialized is returned before Initialize.
	ErrNotInitialized = errors.New("gfx: not initialized")
)

// Allocator hands out page-aligned buffers. It is not safe for concurrent use.
//
// The manager's ReleaseAllMemory invalidates every live buffer. The allocator
// notices on its next call, forgets those buffers, and fails with
// ErrNotInitialized until the manager is initialized again.
type Allocator struct {
	m       *manager.Manager
	live    map[uintptr]int // start -> rounded size
	gen     uint64
	ready   bool
	log     *logrus.Entry
	peak    int
	current int
}

// New returns an allocator drawing from m.
func New(m *manager.Manager) *Allocator {
	return &Allocator{m: m, log: logger.For("gfx")}
}

// Initialize prepares the allocator and the manager beneath it. Repeated
// calls are no-ops.
func (a *Allocator) Initialize() error {
	if a.ready {
		return nil
	}
	if err := a.m.Initialize(); err != nil {
		return fmt.Errorf("gfx: %w", err)
	}
	a.live = make(map[uintptr]int)
	a.gen = a.m.Generation()
	a.ready = true
	return nil
}

// sync drops buffers that went away with a manager teardown and reports
// whether the manager is usable.
func (a *Allocator) sync() bool {
	if gen := a.m.Generation(); gen != a.gen {
		if len(a.live) > 0 {
			a.log.WithField("buffers", len(a.live)).Debug("buffers released with the manager")
		}
		clear(a.live)
		a.current = 0
		a.gen = gen
	}
	return a.m.Initialized()
}

// noMemory marks exhaustion errors from the manager with ErrNoMemory and
// passes anything else through.
func noMemory(err error) error {
	if errors.Is(err, manager.ErrReserveFailed) || errors.Is(err, manager.ErrCommitLimit) {
		return fmt.Errorf("%w: %w", ErrNoMemory, err)
	}
	return err
}

// AllocatePageAligned returns a committed buffer whose length is size
// rounded up to whole pages. A size of zero is treated as one byte.
func (a *Allocator) AllocatePageAligned(size int) ([]byte, error) {
	const op = "gfx.AllocatePageAligned"
	if !a.ready || !a.sync() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	if size < 0 {
		return nil, contract.Violationf(op, "size %d is negative", size)
	}
	size = max(size, 1)
	n, ok := buf.AlignUp(size, a.m.PageSize())
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", ErrNoMemory, size)
	}

	base, err := a.m.ReserveVirtualMemory(n)
	if err != nil {
		return nil, noMemory(err)
	}
	if _, err := a.m.CommitVirtualMemory(base, n); err != nil {
		if rerr := a.m.ReleaseVirtualMemory(base); rerr != nil {
			a.log.WithError(rerr).Warn("release after failed commit")
		}
		return nil, noMemory(err)
	}
	b, err := a.m.Bytes(base, n)
	if err != nil {
		return nil, err
	}

	a.live[base] = n
	a.current += n
	a.peak = max(a.peak, a.current)
	a.log.WithFields(logrus.Fields{"size": n, "live": len(a.live)}).Debug("buffer allocated")
	return b, nil
}

// FreePageAligned decommits and releases a buffer returned by
// AllocatePageAligned, identified by its first byte.
func (a *Allocator) FreePageAligned(b []byte) error {
	const op = "gfx.FreePageAligned"
	if !a.ready || !a.sync() {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	base := platform.Addr(b)
	n, ok := a.live[base]
	if !ok {
		return contract.Violationf(op, "%#x is not a live graphics buffer", base)
	}
	if err := a.m.DecommitVirtualMemory(base, n); err != nil {
		return err
	}
	if err := a.m.ReleaseVirtualMemory(base); err != nil {
		return err
	}
	delete(a.live, base)
	a.current -= n
	return nil
}

// Stats is a snapshot of graphics buffer usage.
type Stats struct {
	Buffers   int
	Bytes     int
	PeakBytes int
}

// Stats reports the live buffers.
func (a *Allocator) Stats() Stats {
	if a.ready {
		a.sync()
	}
	return Stats{Buffers: len(a.live), Bytes: a.current, PeakBytes: a.peak}
}
