package manager

import (
	"fmt"

	"github.com/joshuapare/memkit/internal/buf"
)

// Config tunes a Manager. The zero value is usable.
type Config struct {
	// PageSize overrides the platform page size. It must be a power of two
	// and a multiple of the platform page. Zero uses the platform page.
	PageSize int

	// JSBlockAlignment fixes the alignment of JS blocks (a power of two).
	// Zero aligns each block to its rounded size when that is a power of
	// two, and to the page size otherwise.
	JSBlockAlignment int

	// CommitLimit caps the committed bytes across every commit path.
	// Zero means unlimited.
	CommitLimit int

	// JSBlockCacheSize is the number of bytes of freed JS blocks kept
	// committed for reuse. Zero disables the cache.
	JSBlockCacheSize int

	// LowMemoryThreshold is the available physical memory, in bytes, below
	// which IsLowMemory reports true. Zero means 1/16 of total memory.
	LowMemoryThreshold uint64

	// Prefault populates JS block pages at allocation time.
	Prefault bool
}

func (c Config) validate(platformPage int) error {
	if c.PageSize != 0 {
		if !buf.IsPowerOfTwo(c.PageSize) || c.PageSize%platformPage != 0 {
			return fmt.Errorf("%w: page size %d must be a power-of-two multiple of %d",
				ErrBadConfig, c.PageSize, platformPage)
		}
	}
	if c.JSBlockAlignment != 0 && !buf.IsPowerOfTwo(c.JSBlockAlignment) {
		return fmt.Errorf("%w: JS block alignment %d is not a power of two", ErrBadConfig, c.JSBlockAlignment)
	}
	if c.CommitLimit < 0 || c.JSBlockCacheSize < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrBadConfig)
	}
	return nil
}
