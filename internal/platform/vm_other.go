//go:build !linux && !windows

package platform

import "os"

// Default returns a heap-emulated VM; this platform has no adapter for
// reserve/commit semantics.
func Default() VM {
	return NewHeapVM(os.Getpagesize(), 0)
}
