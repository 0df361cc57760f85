package manager

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/memory/vmem"
)

// reservation is a raw platform reservation. The window handed out from it
// may start above base to satisfy an alignment stricter than the platform
// page.
type reservation struct {
	base uintptr
	size int
}

// reserveAligned reserves size bytes starting at a multiple of alignment.
// The platform only aligns to its own page, so the reservation is padded by
// alignment minus the platform page and the start is aligned up inside it.
func (m *Manager) reserveAligned(size, alignment int) (uintptr, reservation, error) {
	rawSize, ok := buf.AddOverflowSafe(size, max(alignment-m.vm.PageSize(), 0))
	if !ok {
		return 0, reservation{}, fmt.Errorf("%w: %d bytes", ErrReserveFailed, size)
	}
	base, err := m.vm.Reserve(rawSize)
	if err != nil {
		return 0, reservation{}, fmt.Errorf("%w: %d bytes: %w", ErrReserveFailed, rawSize, err)
	}
	return buf.AlignUptr(base, alignment), reservation{base: base, size: rawSize}, nil
}

func (m *Manager) release(res reservation) error {
	return m.vm.Release(res.base, res.size)
}

// ReserveVirtualMemory reserves n bytes, rounded up to whole pages, without
// committing any of them. It returns the page-aligned base of the
// reservation.
func (m *Manager) ReserveVirtualMemory(n int) (uintptr, error) {
	const op = "manager.ReserveVirtualMemory"
	if err := m.ready(op); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, contract.Violationf(op, "size %d is not positive", n)
	}
	size, ok := buf.AlignUp(n, m.pageSize)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes", ErrReserveFailed, n)
	}
	base, res, err := m.reserveAligned(size, m.pageSize)
	if err != nil {
		m.log.WithError(err).WithField("size", size).Warn("reserve failed")
		return 0, err
	}
	m.regions.Insert(vmem.NewRegion(base, size, m.pageSize))
	m.raw[base] = res
	m.log.WithFields(logrus.Fields{"base": fmt.Sprintf("%#x", base), "size": size}).Debug("reserved")
	return base, nil
}

// ReleaseVirtualMemory releases the reservation based at addr. Every page
// must already be decommitted.
func (m *Manager) ReleaseVirtualMemory(addr uintptr) error {
	const op = "manager.ReleaseVirtualMemory"
	if err := m.ready(op); err != nil {
		return err
	}
	r, ok := m.regions.Get(addr)
	if !ok {
		return contract.Violationf(op, "%#x is not a reservation base", addr)
	}
	if n := r.CommittedBytes(); n > 0 {
		return contract.Violationf(op, "reservation %#x still has %d committed bytes", addr, n)
	}
	if err := m.release(m.raw[addr]); err != nil {
		return fmt.Errorf("manager: release %#x: %w", addr, err)
	}
	m.regions.Remove(addr)
	delete(m.raw, addr)
	m.log.WithField("base", fmt.Sprintf("%#x", addr)).Debug("released")
	return nil
}

// region resolves the reservation covering [addr, addr+n) and the pages it
// touches.
func (m *Manager) region(op string, addr uintptr, n int) (*vmem.Region, vmem.Span, error) {
	r, ok := m.regions.Find(addr)
	if !ok {
		return nil, vmem.Span{}, contract.Violationf(op, "%#x is not inside a reservation", addr)
	}
	span, err := r.PageSpan(addr, n)
	if err != nil {
		return nil, vmem.Span{}, contract.Violationf(op, "%v", err)
	}
	return r, span, nil
}

// CommitVirtualMemory commits the pages covering [addr, addr+n). The range
// must lie inside one reservation; pages already committed are left alone.
// It returns the page-aligned start of the committed range.
func (m *Manager) CommitVirtualMemory(addr uintptr, n int) (uintptr, error) {
	const op = "manager.CommitVirtualMemory"
	if err := m.ready(op); err != nil {
		return 0, err
	}
	r, span, err := m.region(op, addr, n)
	if err != nil {
		return 0, err
	}

	runs := r.Uncommitted(span)
	need := 0
	for _, run := range runs {
		need += run.Count * m.pageSize
	}
	m.CommitLock()
	fits := m.CanCommit(need)
	m.CommitUnlock()
	if !fits {
		return 0, fmt.Errorf("%w: %d committed, %d requested, limit %d",
			ErrCommitLimit, m.CommittedBytes(), need, m.cfg.CommitLimit)
	}

	for _, run := range runs {
		if err := m.commitPages(r.PageAddr(run.First), run.Count*m.pageSize); err != nil {
			return 0, err
		}
		r.MarkCommitted(run)
	}
	return r.PageAddr(span.First), nil
}

// DecommitVirtualMemory returns the pages covering [addr, addr+n) to the
// platform. Every page must be committed; otherwise nothing is decommitted.
func (m *Manager) DecommitVirtualMemory(addr uintptr, n int) error {
	const op = "manager.DecommitVirtualMemory"
	if err := m.ready(op); err != nil {
		return err
	}
	r, span, err := m.region(op, addr, n)
	if err != nil {
		return err
	}
	if !r.AllCommitted(span) {
		return contract.Violationf(op, "pages [%d, %d) of %#x are not all committed",
			span.First, span.First+span.Count, r.Base())
	}
	if err := m.decommitPages(r.PageAddr(span.First), span.Count*m.pageSize); err != nil {
		return err
	}
	return r.MarkDecommitted(span)
}

// Bytes returns a view of n committed bytes at addr.
func (m *Manager) Bytes(addr uintptr, n int) ([]byte, error) {
	const op = "manager.Bytes"
	if err := m.ready(op); err != nil {
		return nil, err
	}
	r, span, err := m.region(op, addr, n)
	if err != nil {
		return nil, err
	}
	if !r.AllCommitted(span) {
		return nil, contract.Violationf(op, "range %#x+%d is not committed", addr, n)
	}
	return platform.Bytes(addr, n), nil
}

// Reservations returns the number of live VM reservations.
func (m *Manager) Reservations() int {
	if m.regions == nil {
		return 0
	}
	return m.regions.Len()
}
