// Package oom defines the out-of-memory policy hook consulted by the memory
// manager when an allocation that is not allowed to fail cannot be satisfied.
package oom

import (
	"errors"
	"fmt"
)

// Result is a handler's decision for an exhausted allocation.
type Result int

const (
	// Fail gives up; the allocation aborts with a *FatalError.
	Fail Result = iota
	// Retry asks the caller to try the allocation again.
	Retry
)

func (r Result) String() string {
	switch r {
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Handler is installed by the embedding application.
type Handler interface {
	// HandleOutOfMemory is called with the size that could not be satisfied.
	HandleOutOfMemory(size int) Result
	// ShrinkMemoryUsage asks the application to drop caches it can rebuild.
	ShrinkMemoryUsage()
}

// ErrRetry is returned when the handler asked for the allocation to be retried.
var ErrRetry = errors.New("oom: retry allocation")

// FatalError is the panic value raised when an allocation that may not fail
// is exhausted and no handler recovered it.
type FatalError struct {
	Size int
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("oom: fatal allocation failure (%d bytes): %v", e.Size, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Funcs adapts a pair of functions to Handler. Nil fields default to Fail
// and a no-op shrink.
type Funcs struct {
	OnOutOfMemory func(size int) Result
	OnShrink      func()
}

func (f Funcs) HandleOutOfMemory(size int) Result {
	if f.OnOutOfMemory == nil {
		return Fail
	}
	return f.OnOutOfMemory(size)
}

func (f Funcs) ShrinkMemoryUsage() {
	if f.OnShrink != nil {
		f.OnShrink()
	}
}
