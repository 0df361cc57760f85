package platform

import (
	"fmt"
	"runtime/debug"
)

// touchPages reads one byte per page, converting a fault on an uncommitted
// page into an error rather than crashing the process.
func touchPages(data []byte, pageSize int) (retErr error) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)

	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				retErr = fmt.Errorf("platform: fault while populating: %w", err)
			} else {
				retErr = fmt.Errorf("platform: fault while populating: %v", r)
			}
		}
	}()

	var sink byte
	for i := 0; i < len(data); i += pageSize {
		sink ^= data[i]
	}
	sink ^= data[len(data)-1]
	_ = sink
	return nil
}
