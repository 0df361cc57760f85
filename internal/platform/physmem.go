package platform

import (
	"fmt"

	"github.com/shirou/gopsutil/mem"
)

// PhysicalMemory reports total and currently available physical memory in bytes.
func PhysicalMemory() (total, available uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("platform: query physical memory: %w", err)
	}
	return vm.Total, vm.Available, nil
}
