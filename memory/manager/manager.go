// Package manager owns the virtual address space used by the script engine
// and the other allocators: reservations, page commits, JS heap blocks and
// sbrk-style core sources for segmented heaps. Every commit path shares one
// budget, and the allocation-can-fail flag together with an oom.Handler
// decides what happens when memory runs out.
//
// A Manager is single-threaded except for commit accounting, which is
// guarded by the commit lock so core sources and the graphics allocator can
// commit from other goroutines.
package manager

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/memory/oom"
	"github.com/joshuapare/memkit/memory/vmem"
)

var logAlloc = os.Getenv("MEMKIT_LOG_ALLOC") != ""

// Manager is the top-level memory manager.
type Manager struct {
	vm       platform.VM
	cfg      Config
	log      *logrus.Entry
	physmem  func() (total, available uint64, err error)
	pageSize int

	initialized bool
	generation  uint64
	canFail     bool
	oomHandler  oom.Handler

	regions *vmem.Table
	raw     map[uintptr]reservation
	blocks  map[uintptr]*jsBlock
	cache   []*jsBlock
	cached  int
	cores   map[*CoreSource]struct{}

	commitMu  sync.Mutex
	committed atomic.Int64
}

// New returns a manager over vm. Call Initialize before use.
func New(vm platform.VM, cfg Config) *Manager {
	return &Manager{
		vm:      vm,
		cfg:     cfg,
		log:     logger.For("manager"),
		physmem: platform.PhysicalMemory,
	}
}

// Initialize discovers the page size and sets up the region tables. It is
// idempotent.
func (m *Manager) Initialize() error {
	if m.initialized {
		return nil
	}
	if err := m.cfg.validate(m.vm.PageSize()); err != nil {
		return err
	}
	m.pageSize = m.vm.PageSize()
	if m.cfg.PageSize != 0 {
		m.pageSize = m.cfg.PageSize
	}
	m.regions = vmem.NewTable()
	m.raw = make(map[uintptr]reservation)
	m.blocks = make(map[uintptr]*jsBlock)
	m.cache = nil
	m.cached = 0
	m.cores = make(map[*CoreSource]struct{})
	m.initialized = true

	m.log.WithFields(logrus.Fields{
		"page_size":    m.pageSize,
		"commit_limit": m.cfg.CommitLimit,
		"js_cache":     m.cfg.JSBlockCacheSize,
	}).Info("memory manager initialized")
	return nil
}

// Initialized reports whether the manager is usable.
func (m *Manager) Initialized() bool { return m.initialized }

// ReleaseAllMemory returns every JS block, reservation and core source to
// the platform. Failures are collected and returned together; the manager
// is uninitialized afterwards regardless.
func (m *Manager) ReleaseAllMemory() error {
	if !m.initialized {
		return nil
	}
	var errs *multierror.Error

	for _, blk := range m.blocks {
		errs = multierror.Append(errs, m.releaseBlock(blk))
	}
	for _, blk := range m.cache {
		errs = multierror.Append(errs, m.releaseBlock(blk))
	}
	for _, r := range m.regions.All() {
		errs = multierror.Append(errs, m.dropRegion(r))
	}
	for cs := range m.cores {
		errs = multierror.Append(errs, cs.Close())
	}

	m.regions = nil
	m.raw = nil
	m.blocks = nil
	m.cache = nil
	m.cached = 0
	m.cores = nil
	m.initialized = false
	m.generation++

	m.log.WithField("committed", m.CommittedBytes()).Info("memory manager released")
	return errs.ErrorOrNil()
}

// dropRegion decommits whatever is still committed in r and releases it.
func (m *Manager) dropRegion(r *vmem.Region) error {
	for _, run := range r.Committed(vmem.Span{First: 0, Count: r.Pages()}) {
		if err := m.decommitPages(r.PageAddr(run.First), run.Count*m.pageSize); err != nil {
			return err
		}
		_ = r.MarkDecommitted(run)
	}
	if err := m.release(m.raw[r.Base()]); err != nil {
		return fmt.Errorf("manager: release %#x: %w", r.Base(), err)
	}
	return nil
}

// Generation counts ReleaseAllMemory calls. Anything handed out under an
// older generation no longer exists.
func (m *Manager) Generation() uint64 { return m.generation }

// PageSize returns the page size in effect, or 0 before Initialize.
func (m *Manager) PageSize() int { return m.pageSize }

func (m *Manager) ready(op string) error {
	if !m.initialized {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	return nil
}

// AllocationCanFail reports whether exhaustion is returned to callers
// instead of being escalated.
func (m *Manager) AllocationCanFail() bool { return m.canFail }

// SetAllocationCanFail sets the flag and returns the previous value so
// nested scopes can restore it.
func (m *Manager) SetAllocationCanFail(canFail bool) bool {
	prev := m.canFail
	m.canFail = canFail
	return prev
}

// CanFailScope runs fn with allocation-can-fail set, restoring the previous
// value afterwards.
func (m *Manager) CanFailScope(fn func()) {
	defer m.SetAllocationCanFail(m.SetAllocationCanFail(true))
	fn()
}
