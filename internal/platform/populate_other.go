//go:build !linux

package platform

import "os"

// Populate pre-faults a committed range by touching one byte per page.
func Populate(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return touchPages(data, os.Getpagesize())
}
