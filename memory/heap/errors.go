package heap

import "errors"

var (
	// ErrNoSpace indicates that no free block large enough was found and growth failed.
	ErrNoSpace = errors.New("heap: no free block large enough")

	// ErrNoMoreCore is the failure marker a MoreCore strategy returns when it
	// cannot supply more backing storage. The heap fails the triggering
	// allocation with ErrNoSpace and does not retry.
	ErrNoMoreCore = errors.New("heap: more core failure")

	// ErrRegionTooSmall indicates a backing region that cannot hold a single block.
	ErrRegionTooSmall = errors.New("heap: region too small for a block")
)
