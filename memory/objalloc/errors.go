package objalloc

import "errors"

var (
	// ErrExhausted indicates the pool has capacity objects live, or that its
	// backing could not supply another chunk.
	ErrExhausted = errors.New("objalloc: pool exhausted")

	// ErrDestroyed is returned by a pool after Destroy.
	ErrDestroyed = errors.New("objalloc: pool destroyed")
)
