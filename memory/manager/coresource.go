package manager

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/memory/heap"
	"github.com/joshuapare/memkit/memory/vmem"
)

// CoreSource is a break-style growth strategy for a segmented heap. It
// reserves its address range once and commits it incrementally, so a heap
// built on it grows inside a fixed window and shares the manager's commit
// budget.
type CoreSource struct {
	m      *Manager
	region *vmem.Region
	res    reservation
	brk    int
	closed bool
}

var (
	_ heap.MoreCore     = (*CoreSource)(nil)
	_ heap.CoreReleaser = (*CoreSource)(nil)
)

// NewCoreSource reserves reserve bytes (rounded up to pages) for a new core
// source.
func (m *Manager) NewCoreSource(reserve int) (*CoreSource, error) {
	const op = "manager.NewCoreSource"
	if err := m.ready(op); err != nil {
		return nil, err
	}
	if reserve <= 0 {
		return nil, contract.Violationf(op, "reservation %d is not positive", reserve)
	}
	size, ok := buf.AlignUp(reserve, m.pageSize)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", ErrReserveFailed, reserve)
	}
	base, res, err := m.reserveAligned(size, m.pageSize)
	if err != nil {
		return nil, fmt.Errorf("manager: core source: %w", err)
	}
	cs := &CoreSource{m: m, region: vmem.NewRegion(base, size, m.pageSize), res: res}
	m.cores[cs] = struct{}{}
	m.log.WithFields(logrus.Fields{"base": fmt.Sprintf("%#x", base), "size": size}).Debug("core source reserved")
	return cs, nil
}

// MoreCore commits the next increment bytes (rounded up to pages) above the
// break. It fails with heap.ErrNoMoreCore once the reservation or the
// commit budget is exhausted.
func (cs *CoreSource) MoreCore(increment int) ([]byte, error) {
	if cs.closed {
		return nil, fmt.Errorf("%w: core source closed", heap.ErrNoMoreCore)
	}
	n, ok := buf.AlignUp(increment, cs.m.pageSize)
	if !ok || n <= 0 || n > cs.region.Size()-cs.brk {
		return nil, fmt.Errorf("%w: %d of %d bytes used, %d requested",
			heap.ErrNoMoreCore, cs.brk, cs.region.Size(), increment)
	}
	addr := cs.region.Base() + uintptr(cs.brk)
	if err := cs.m.commitPages(addr, n); err != nil {
		if errors.Is(err, ErrCommitLimit) {
			return nil, fmt.Errorf("%w: %w", heap.ErrNoMoreCore, err)
		}
		return nil, err
	}
	span, _ := cs.region.PageSpan(addr, n)
	cs.region.MarkCommitted(span)
	cs.brk += n
	return platform.Bytes(addr, n), nil
}

// ReleaseCore decommits a segment previously returned by MoreCore. When the
// segment sits at the top of the break, the break moves down past every
// decommitted page so the range can be handed out again.
func (cs *CoreSource) ReleaseCore(seg []byte) error {
	const op = "manager.CoreSource.ReleaseCore"
	addr := platform.Addr(seg)
	span, err := cs.region.PageSpan(addr, len(seg))
	if err != nil {
		return contract.Violationf(op, "%v", err)
	}
	if !cs.region.AllCommitted(span) {
		return contract.Violationf(op, "segment %#x+%d is not committed", addr, len(seg))
	}
	if err := cs.m.decommitPages(cs.region.PageAddr(span.First), span.Count*cs.m.pageSize); err != nil {
		return err
	}
	_ = cs.region.MarkDecommitted(span)

	page := cs.brk / cs.m.pageSize
	for page > 0 && !cs.region.AllCommitted(vmem.Span{First: page - 1, Count: 1}) {
		page--
	}
	cs.brk = page * cs.m.pageSize
	return nil
}

// Committed returns the bytes currently committed by this source.
func (cs *CoreSource) Committed() int { return cs.region.CommittedBytes() }

// Reserved returns the size of the reservation.
func (cs *CoreSource) Reserved() int { return cs.region.Size() }

// Close decommits everything and releases the reservation. Segments handed
// out earlier must no longer be used.
func (cs *CoreSource) Close() error {
	if cs.closed {
		return nil
	}
	cs.closed = true
	delete(cs.m.cores, cs)
	for _, run := range cs.region.Committed(vmem.Span{First: 0, Count: cs.region.Pages()}) {
		if err := cs.m.decommitPages(cs.region.PageAddr(run.First), run.Count*cs.m.pageSize); err != nil {
			return err
		}
		_ = cs.region.MarkDecommitted(run)
	}
	cs.brk = 0
	if err := cs.m.release(cs.res); err != nil {
		return fmt.Errorf("manager: release core source %#x: %w", cs.region.Base(), err)
	}
	return nil
}
