package manager

import "errors"

var (
	// ErrNotInitialized is returned by every operation before Initialize or
	// after ReleaseAllMemory.
	ErrNotInitialized = errors.New("manager: not initialized")

	// ErrReserveFailed indicates the platform could not reserve address space.
	ErrReserveFailed = errors.New("manager: reserve failed")

	// ErrCommitLimit indicates the commit budget would be exceeded.
	ErrCommitLimit = errors.New("manager: commit limit reached")

	// ErrBadConfig indicates an invalid Config.
	ErrBadConfig = errors.New("manager: invalid config")
)
