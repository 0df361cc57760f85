package memkit

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/memory/aligned"
	"github.com/joshuapare/memkit/memory/allocator"
	"github.com/joshuapare/memkit/memory/dlwrap"
	"github.com/joshuapare/memkit/memory/gfx"
	"github.com/joshuapare/memkit/memory/manager"
	"github.com/joshuapare/memkit/memory/objalloc"
)

// System is the assembled allocator stack.
type System struct {
	cfg Config
	log *logrus.Entry

	mgr       *manager.Manager
	bootstrap *aligned.Buffer
	shared    *allocator.MemoryAllocator
	slots     *dlwrap.Slots
	pools     *objalloc.Registry
	graphics  *gfx.Allocator

	arenas []*Arena
	closed bool
}

// New validates cfg and brings up every component over vm.
func New(vm platform.VM, cfg Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &System{cfg: cfg, log: logger.For("memkit")}

	s.mgr = manager.New(vm, cfg.ManagerConfig())
	if err := s.mgr.Initialize(); err != nil {
		return nil, err
	}
	s.mgr.SetAllocationCanFail(cfg.AllocationCanFail)

	s.bootstrap = aligned.New(cfg.BootstrapSize)
	region, err := s.bootstrap.Take()
	if err != nil {
		return nil, s.abort(err)
	}
	s.shared = allocator.New(cfg.HeapOptions("shared"))
	if err := s.shared.Initialize(region); err != nil {
		return nil, s.abort(fmt.Errorf("memkit: shared allocator: %w", err))
	}

	s.slots = dlwrap.NewSlots(cfg.HeapOptions("arena"))
	s.pools = objalloc.NewRegistry()

	s.graphics = gfx.New(s.mgr)
	if err := s.graphics.Initialize(); err != nil {
		return nil, s.abort(err)
	}

	s.log.WithFields(logrus.Fields{
		"page_size":    s.mgr.PageSize(),
		"bootstrap":    s.bootstrap.Size(),
		"commit_limit": cfg.CommitLimit,
		"size_classes": cfg.SizeClasses,
	}).Info("memory system initialized")
	return s, nil
}

// abort unwinds a partially initialized system.
func (s *System) abort(err error) error {
	if rerr := s.mgr.ReleaseAllMemory(); rerr != nil {
		return multierror.Append(err, rerr)
	}
	return err
}

// Config returns the configuration the system was built with.
func (s *System) Config() Config { return s.cfg }

// Manager returns the memory manager.
func (s *System) Manager() *manager.Manager { return s.mgr }

// Allocator returns the shared general-purpose allocator.
func (s *System) Allocator() *allocator.MemoryAllocator { return s.shared }

// Slots returns the arena slot table.
func (s *System) Slots() *dlwrap.Slots { return s.slots }

// Pools returns the object pool registry.
func (s *System) Pools() *objalloc.Registry { return s.pools }

// Graphics returns the page-aligned graphics allocator.
func (s *System) Graphics() *gfx.Allocator { return s.graphics }

// CreatePool registers an object pool whose chunks come from the shared
// allocator.
func (s *System) CreatePool(name string, objectSize, capacity int) (*objalloc.Pool, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.pools.Create(objectSize, capacity, &objalloc.Options{
		Backing:    s.shared,
		ChunkBytes: s.cfg.PoolChunkBytes,
		Name:       name,
	})
}

// Close tears the system down in reverse initialization order. Arenas that
// still hold live blocks are abandoned; their address space goes back with
// the manager's.
func (s *System) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs *multierror.Error

	for _, p := range s.pools.Pools() {
		errs = multierror.Append(errs, p.Destroy())
	}
	for i := len(s.arenas) - 1; i >= 0; i-- {
		a := s.arenas[i]
		if a.Live() > 0 {
			s.log.WithFields(logrus.Fields{"slot": a.Slot(), "live": a.Live()}).Warn("abandoning busy arena")
			continue
		}
		errs = multierror.Append(errs, a.Close())
	}
	s.arenas = nil
	errs = multierror.Append(errs, s.mgr.ReleaseAllMemory())

	if err := errs.ErrorOrNil(); err != nil {
		s.log.WithError(err).Warn("memory system closed with errors")
		return err
	}
	s.log.Info("memory system closed")
	return nil
}
