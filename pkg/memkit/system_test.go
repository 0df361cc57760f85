package memkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/memory/dlwrap"
	"github.com/joshuapare/memkit/memory/manager"
	"github.com/joshuapare/memkit/memory/oom"
)

const page = 4096

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ArenaReserve = 1 << 20
	cfg.BootstrapSize = 256 << 10
	cfg.JSBlockCacheSize = 0
	return cfg
}

func newSystem(t *testing.T, cfg Config) (*System, *platform.HeapVM) {
	t.Helper()
	vm := platform.NewHeapVM(page, 0)
	s, err := New(vm, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, vm
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BootstrapSize = 0
	_, err := New(platform.NewHeapVM(page, 0), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSystem_ArenasFallBackToShared(t *testing.T) {
	s, vm := newSystem(t, testConfig())

	a0, err := s.NewScriptArena()
	require.NoError(t, err)
	a1, err := s.NewScriptArena()
	require.NoError(t, err)
	shared, err := s.NewScriptArena()
	require.NoError(t, err)

	assert.True(t, a0.Isolated())
	assert.Equal(t, 0, a0.Slot())
	assert.Equal(t, 1, a1.Slot())
	assert.False(t, shared.Isolated())
	assert.Equal(t, -1, shared.Slot())
	assert.Equal(t, dlwrap.NumSlots, s.Slots().Bound())

	for _, a := range []*Arena{a0, a1, shared} {
		ref, b, err := a.Malloc(200)
		require.NoError(t, err)
		b[0] = 0x5A
		got, err := a.Bytes(ref)
		require.NoError(t, err)
		assert.Equal(t, byte(0x5A), got[0])
		require.NoError(t, a.Free(ref))
		assert.Zero(t, a.Live())
	}
	assert.Zero(t, s.Allocator().Stats().LiveBlocks)

	require.NoError(t, a0.Close())
	require.NoError(t, a0.Close(), "closing twice is a no-op")
	again, err := s.NewScriptArena()
	require.NoError(t, err)
	assert.Equal(t, 0, again.Slot(), "lowest free slot is reused")

	require.NoError(t, s.Close())
	assert.Zero(t, vm.Reserved())
	assert.Zero(t, s.Manager().CommittedBytes())
}

func TestSystem_CloseAbandonsBusyArena(t *testing.T) {
	s, vm := newSystem(t, testConfig())

	a, err := s.NewScriptArena()
	require.NoError(t, err)
	_, _, err = a.Malloc(64)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Zero(t, vm.Reserved(), "the arena's core source goes back with the manager")
	require.NoError(t, s.Close())
}

func TestSystem_ArenaCloseRequiresEmpty(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(false))
	s, _ := newSystem(t, testConfig())

	a, err := s.NewScriptArena()
	require.NoError(t, err)
	ref, _, err := a.Malloc(64)
	require.NoError(t, err)
	require.ErrorIs(t, a.Close(), contract.ErrViolation)

	require.NoError(t, a.Free(ref))
	require.NoError(t, a.Close())
}

func TestSystem_ArenaRejectsForeignFree(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(false))
	s, _ := newSystem(t, testConfig())

	var arenas []*Arena
	for range dlwrap.NumSlots + 1 {
		a, err := s.NewScriptArena()
		require.NoError(t, err)
		arenas = append(arenas, a)
	}
	shared := arenas[dlwrap.NumSlots]
	require.False(t, shared.Isolated())

	owned, _, err := s.Allocator().Malloc(128)
	require.NoError(t, err)
	require.ErrorIs(t, shared.Free(owned), contract.ErrViolation)
	_, err = shared.Bytes(owned)
	require.ErrorIs(t, err, contract.ErrViolation)
	_, err = s.Allocator().Bytes(owned)
	require.NoError(t, err, "the owner's block survives")

	ref, _, err := arenas[0].Malloc(64)
	require.NoError(t, err)
	require.ErrorIs(t, arenas[1].Free(ref), contract.ErrViolation, "block from another arena")
	require.NoError(t, arenas[0].Free(ref))
	require.ErrorIs(t, arenas[0].Free(ref), contract.ErrViolation, "double free")
	require.NoError(t, s.Allocator().Free(owned))
}

func TestSystem_ClosedFailsCleanly(t *testing.T) {
	s, _ := newSystem(t, testConfig())
	require.False(t, s.Manager().AllocationCanFail())
	a, err := s.NewScriptArena()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NotPanics(t, func() {
		_, err := s.AllocateGraphics(1)
		require.ErrorIs(t, err, ErrClosed)
		_, err = s.AllocateJSBlock(page)
		require.ErrorIs(t, err, ErrClosed)
		_, _, err = a.Malloc(16)
		require.ErrorIs(t, err, ErrClosed)
		_, err = s.NewScriptArena()
		require.ErrorIs(t, err, ErrClosed)
		_, err = s.CreatePool("late", 16, 4)
		require.ErrorIs(t, err, ErrClosed)
		require.ErrorIs(t, s.FreeGraphics(nil), ErrClosed)
	})
}

func TestSystem_PoolsOverSharedAllocator(t *testing.T) {
	s, _ := newSystem(t, testConfig())

	p, err := s.CreatePool("nodes", 48, 100)
	require.NoError(t, err)
	ref, b, err := p.Get()
	require.NoError(t, err)
	assert.Len(t, b, 48)
	assert.Positive(t, s.Allocator().Stats().LiveBlocks, "chunks come from the shared allocator")

	r := s.Report()
	require.Len(t, r.Pools, 1)
	assert.Equal(t, "nodes", r.Pools[0].Name)
	assert.Positive(t, r.PoolBytes())

	require.NoError(t, p.Release(ref))
	res := s.ReportLowMemory()
	assert.Equal(t, 1, res.ChunksReclaimed)
	assert.Zero(t, s.Allocator().Stats().LiveBlocks)
}

func TestSystem_ReportLowMemoryTrimsArenasAndCache(t *testing.T) {
	cfg := testConfig()
	cfg.JSBlockCacheSize = 4 * page
	s, _ := newSystem(t, cfg)

	a, err := s.NewScriptArena()
	require.NoError(t, err)
	ref, _, err := a.Malloc(1000)
	require.NoError(t, err)
	require.NoError(t, a.Free(ref))

	b, err := s.AllocateJSBlock(page)
	require.NoError(t, err)
	require.NoError(t, s.FreeJSBlock(b))

	shrunk := 0
	s.Manager().SetOOMHandler(oom.Funcs{OnShrink: func() { shrunk++ }})

	res := s.ReportLowMemory()
	assert.Equal(t, cfg.ArenaGrowth, res.ArenaBytesFreed)
	assert.Equal(t, page, res.CachedBytesFreed)
	assert.Equal(t, cfg.ArenaGrowth+page, res.Total())
	assert.Equal(t, 1, shrunk)
	assert.Zero(t, s.Manager().CommittedBytes())
}

func TestSystem_RecoveryLadderFreesCache(t *testing.T) {
	cfg := testConfig()
	cfg.CommitLimit = 4 * page
	cfg.JSBlockCacheSize = 2 * page
	s, _ := newSystem(t, cfg)

	x, err := s.AllocateJSBlock(page)
	require.NoError(t, err)
	y, err := s.AllocateJSBlock(page)
	require.NoError(t, err)
	require.NoError(t, s.FreeJSBlock(x))
	require.NoError(t, s.FreeJSBlock(y))
	assert.Equal(t, 2*page, s.Manager().CommittedBytes(), "cached blocks stay committed")

	big, err := s.AllocateJSBlock(3 * page)
	require.NoError(t, err, "the low-memory response drops the cache and the retry fits")
	assert.Len(t, big, 3*page)
	assert.Zero(t, s.Manager().CachedBytes())
}

func TestSystem_RecoveryLadderEscalates(t *testing.T) {
	cfg := testConfig()
	cfg.CommitLimit = 2 * page

	t.Run("can fail degrades", func(t *testing.T) {
		s, _ := newSystem(t, cfg)
		s.Manager().SetAllocationCanFail(true)
		_, err := s.AllocateJSBlock(4 * page)
		require.ErrorIs(t, err, manager.ErrCommitLimit)
	})

	t.Run("fatal without handler", func(t *testing.T) {
		s, _ := newSystem(t, cfg)
		var fatal *oom.FatalError
		func() {
			defer func() { fatal, _ = recover().(*oom.FatalError) }()
			_, _ = s.AllocateJSBlock(4 * page)
		}()
		require.NotNil(t, fatal)
		assert.Equal(t, 4*page, fatal.Size)
		assert.ErrorIs(t, fatal, manager.ErrCommitLimit)
	})

	t.Run("handler frees and retries", func(t *testing.T) {
		s, _ := newSystem(t, cfg)
		hog, err := s.AllocateJSBlock(2 * page)
		require.NoError(t, err)

		calls := 0
		s.Manager().SetOOMHandler(oom.Funcs{OnOutOfMemory: func(int) oom.Result {
			calls++
			require.NoError(t, s.FreeJSBlock(hog))
			return oom.Retry
		}})
		b, err := s.AllocateJSBlock(page)
		require.NoError(t, err)
		assert.Len(t, b, page)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		s, _ := newSystem(t, cfg)
		calls := 0
		s.Manager().SetOOMHandler(oom.Funcs{OnOutOfMemory: func(int) oom.Result {
			calls++
			return oom.Retry
		}})
		_, err := s.AllocateJSBlock(4 * page)
		require.ErrorIs(t, err, oom.ErrRetry)
		assert.Equal(t, maxRetries+1, calls)
	})
}

func TestSystem_Graphics(t *testing.T) {
	s, _ := newSystem(t, testConfig())

	b, err := s.AllocateGraphics(1)
	require.NoError(t, err)
	assert.Len(t, b, page)
	assert.Zero(t, platform.Addr(b)%page)
	assert.Equal(t, 1, s.Report().Graphics.Buffers)
	require.NoError(t, s.FreeGraphics(b))
}

func TestReport_Format(t *testing.T) {
	cfg := testConfig()
	cfg.CommitLimit = 8 << 20
	s, _ := newSystem(t, cfg)

	_, err := s.CreatePool("styles", 32, 10)
	require.NoError(t, err)
	_, err = s.NewScriptArena()
	require.NoError(t, err)

	out := s.Report().Format(language.English)
	assert.Contains(t, out, "8,388,608")
	assert.Contains(t, out, "pool styles:")
	assert.Contains(t, out, "arena slot 0:")
	assert.Contains(t, out, "page size:        4,096")
}
