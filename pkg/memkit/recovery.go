package memkit

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/memory/gfx"
	"github.com/joshuapare/memkit/memory/heap"
	"github.com/joshuapare/memkit/memory/manager"
	"github.com/joshuapare/memkit/memory/objalloc"
	"github.com/joshuapare/memkit/memory/oom"
)

// maxRetries bounds how often an OOM handler may ask for another attempt.
const maxRetries = 3

// exhausted reports whether err means "out of memory" as opposed to misuse.
func exhausted(err error) bool {
	return errors.Is(err, heap.ErrNoSpace) ||
		errors.Is(err, objalloc.ErrExhausted) ||
		errors.Is(err, manager.ErrCommitLimit) ||
		errors.Is(err, manager.ErrReserveFailed) ||
		errors.Is(err, gfx.ErrNoMemory)
}

// LowMemoryResult summarizes one low-memory response.
type LowMemoryResult struct {
	ChunksReclaimed  int
	ArenaBytesFreed  int
	CachedBytesFreed int
}

// Total returns the bytes given back, excluding pool chunks whose size the
// pools report separately.
func (r LowMemoryResult) Total() int { return r.ArenaBytesFreed + r.CachedBytesFreed }

// ReportLowMemory runs the low-memory response: collect every object pool,
// trim isolated arenas, drop the JS block cache and ask the OOM handler to
// shrink application caches.
func (s *System) ReportLowMemory() LowMemoryResult {
	var res LowMemoryResult
	res.ChunksReclaimed = s.pools.CollectAll()
	for _, a := range s.arenas {
		n, err := a.Trim()
		if err != nil {
			s.log.WithError(err).WithField("slot", a.Slot()).Warn("arena trim failed")
		}
		res.ArenaBytesFreed += n
	}
	res.CachedBytesFreed = s.mgr.FreeCachedPages()
	if h := s.mgr.OOMHandler(); h != nil {
		h.ShrinkMemoryUsage()
	}

	s.log.WithFields(logrus.Fields{
		"chunks": res.ChunksReclaimed,
		"arena":  res.ArenaBytesFreed,
		"cache":  res.CachedBytesFreed,
	}).Info("low memory response")
	return res
}

// withRecovery runs try under the recovery ladder: on exhaustion it runs the
// low-memory response and tries again, then defers to the manager, which
// either returns the error, asks for a retry, or aborts.
func (s *System) withRecovery(size int, try func() error) error {
	if s.closed {
		return ErrClosed
	}
	err := try()
	if err == nil || !exhausted(err) {
		return err
	}
	s.log.WithError(err).WithField("size", size).Debug("allocation exhausted; recovering")
	s.ReportLowMemory()

	for attempt := 0; ; attempt++ {
		if err = try(); err == nil || !exhausted(err) {
			return err
		}
		herr := s.mgr.HandleExhaustion(size, err)
		if !errors.Is(herr, oom.ErrRetry) || attempt == maxRetries {
			return herr
		}
	}
}

// AllocateJSBlock allocates a script heap block through the recovery ladder.
func (s *System) AllocateJSBlock(size int) ([]byte, error) {
	var b []byte
	err := s.withRecovery(size, func() (err error) {
		b, err = s.mgr.AllocateJSBlock(size)
		return err
	})
	return b, err
}

// FreeJSBlock returns a block from AllocateJSBlock.
func (s *System) FreeJSBlock(b []byte) error {
	if s.closed {
		return ErrClosed
	}
	return s.mgr.FreeJSBlock(b)
}

// AllocateGraphics allocates a page-aligned buffer through the recovery ladder.
func (s *System) AllocateGraphics(size int) ([]byte, error) {
	var b []byte
	err := s.withRecovery(size, func() (err error) {
		b, err = s.graphics.AllocatePageAligned(size)
		return err
	})
	return b, err
}

// FreeGraphics returns a buffer from AllocateGraphics.
func (s *System) FreeGraphics(b []byte) error {
	if s.closed {
		return ErrClosed
	}
	return s.graphics.FreePageAligned(b)
}
