package manager

// TotalPhysicalMemory returns installed physical memory in bytes, or 0 when
// the host cannot be queried.
func (m *Manager) TotalPhysicalMemory() uint64 {
	total, _, err := m.physmem()
	if err != nil {
		m.log.WithError(err).Warn("total physical memory unavailable")
		return 0
	}
	return total
}

// AvailablePhysicalMemory returns physical memory available for new
// allocations, or 0 when the host cannot be queried.
func (m *Manager) AvailablePhysicalMemory() uint64 {
	_, avail, err := m.physmem()
	if err != nil {
		m.log.WithError(err).Warn("available physical memory unavailable")
		return 0
	}
	return avail
}

// LowPhysicalMemoryThreshold returns the available-memory level below which
// the system is considered low on memory.
func (m *Manager) LowPhysicalMemoryThreshold() uint64 {
	if m.cfg.LowMemoryThreshold > 0 {
		return m.cfg.LowMemoryThreshold
	}
	return m.TotalPhysicalMemory() / 16
}

// IsLowMemory reports whether available physical memory is under the
// threshold. An unreadable host is never considered low.
func (m *Manager) IsLowMemory() bool {
	total, avail, err := m.physmem()
	if err != nil {
		return false
	}
	threshold := m.cfg.LowMemoryThreshold
	if threshold == 0 {
		threshold = total / 16
	}
	return avail < threshold
}
