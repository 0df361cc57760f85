package manager

import (
	"fmt"

	"github.com/joshuapare/memkit/memory/oom"
)

// SetOOMHandler installs h and returns the previous handler.
func (m *Manager) SetOOMHandler(h oom.Handler) oom.Handler {
	prev := m.oomHandler
	m.oomHandler = h
	return prev
}

// OOMHandler returns the installed handler, if any.
func (m *Manager) OOMHandler() oom.Handler { return m.oomHandler }

// HandleExhaustion decides the fate of an allocation of size bytes that
// failed with err.
//
// When allocation can fail, err is returned unchanged and the caller
// degrades. Otherwise the OOM handler is consulted: Retry yields an error
// wrapping oom.ErrRetry, and anything else panics with *oom.FatalError.
func (m *Manager) HandleExhaustion(size int, err error) error {
	if m.canFail {
		m.log.WithError(err).WithField("size", size).Debug("allocation failed; caller degrades")
		return err
	}
	if h := m.oomHandler; h != nil {
		if res := h.HandleOutOfMemory(size); res == oom.Retry {
			m.log.WithField("size", size).Info("out of memory handler asked for retry")
			return fmt.Errorf("%w: %w", oom.ErrRetry, err)
		}
	}
	m.log.WithError(err).WithField("size", size).Error("allocation may not fail")
	panic(&oom.FatalError{Size: size, Err: err})
}
