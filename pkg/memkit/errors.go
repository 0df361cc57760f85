package memkit

import "errors"

var (
	// ErrInvalidConfig is wrapped by every Validate failure.
	ErrInvalidConfig = errors.New("memkit: invalid config")

	// ErrClosed is returned by allocations on a System after Close.
	ErrClosed = errors.New("memkit: system closed")
)
