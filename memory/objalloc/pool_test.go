package objalloc

import (
	"errors"
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/memory/aligned"
	"github.com/joshuapare/memkit/memory/allocator"
	"github.com/joshuapare/memkit/memory/heap"
)

func addrOf(b []byte) uintptr { return uintptr(unsafe.Pointer(&b[0])) }

func newPool(t *testing.T, objectSize, capacity int, opts *Options) (*Registry, *Pool) {
	t.Helper()
	reg := NewRegistry()
	p, err := reg.Create(objectSize, capacity, opts)
	require.NoError(t, err)
	return reg, p
}

// TestPool_CapacityProperty checks that live objects never exceed capacity
// and that Get fails exactly when capacity objects are live.
func TestPool_CapacityProperty(t *testing.T) {
	const capacity = 37
	_, p := newPool(t, 24, capacity, &Options{ChunkBytes: 10 * 24})

	rng := rand.New(rand.NewPCG(7, 11))
	var live []Ref
	for step := range 5000 {
		if rng.IntN(3) < 2 {
			ref, obj, err := p.Get()
			if len(live) == capacity {
				require.ErrorIs(t, err, ErrExhausted, "step %d", step)
				continue
			}
			require.NoError(t, err, "step %d", step)
			require.Len(t, obj, 24)
			live = append(live, ref)
		} else if len(live) > 0 {
			i := rng.IntN(len(live))
			require.NoError(t, p.Release(live[i]), "step %d", step)
			live = append(live[:i], live[i+1:]...)
		}
		require.LessOrEqual(t, p.Live(), capacity)
		require.Equal(t, len(live), p.Live())
	}
	assert.LessOrEqual(t, p.Stats().ChunkBytes, capacity*24, "chunks never hold more than capacity slots")
}

// TestPool_ReleaseThenGetReusesObject checks LIFO free-list reuse.
func TestPool_ReleaseThenGetReusesObject(t *testing.T) {
	_, p := newPool(t, 32, 8, nil)

	_, _, err := p.Get()
	require.NoError(t, err)
	ref, obj, err := p.Get()
	require.NoError(t, err)
	copy(obj, "dirty")

	require.NoError(t, p.Release(ref))
	again, obj2, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, addrOf(obj), addrOf(obj2))
	assert.Equal(t, make([]byte, 32), obj2, "reused objects are zeroed")
}

func TestPool_CollectGarbage(t *testing.T) {
	_, p := newPool(t, 16, 100, &Options{ChunkBytes: 16 * 10})

	var refs []Ref
	for range 25 {
		ref, _, err := p.Get()
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.Equal(t, 3, p.Stats().Chunks)

	assert.Zero(t, p.CollectGarbage(), "every chunk still has live objects")

	// Empty the first chunk only.
	for _, ref := range refs[:10] {
		require.NoError(t, p.Release(ref))
	}
	assert.Equal(t, 1, p.CollectGarbage())
	s := p.Stats()
	assert.Equal(t, 2, s.Chunks)
	assert.Zero(t, s.FreeListLen, "free-list entries of the reclaimed chunk are dropped")

	for _, ref := range refs[10:] {
		require.NoError(t, p.Release(ref))
	}
	assert.Equal(t, 2, p.CollectGarbage())
	assert.Zero(t, p.Stats().Chunks)

	// Still usable after a full collection.
	for range 30 {
		_, _, err := p.Get()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Stats().Chunks)
	assert.Equal(t, 6, p.Stats().ChunksAllocated)
	assert.Equal(t, 3, p.Stats().ChunksReclaimed)
}

func TestPool_ReleasedRefsOfReclaimedChunkAreForeign(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(false))
	_, p := newPool(t, 16, 4, nil)

	ref, _, err := p.Get()
	require.NoError(t, err)
	require.NoError(t, p.Release(ref))
	require.Equal(t, 1, p.CollectGarbage())

	require.ErrorIs(t, p.Release(ref), contract.ErrViolation)
}

func TestPool_DoubleReleaseAndForeign(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(false))
	reg, p := newPool(t, 16, 4, nil)
	other, err := reg.Create(16, 4, nil)
	require.NoError(t, err)

	ref, _, err := p.Get()
	require.NoError(t, err)
	require.NoError(t, p.Release(ref))
	require.ErrorIs(t, p.Release(ref), contract.ErrViolation, "double release")

	oref, _, err := other.Get()
	require.NoError(t, err)
	_, _, err = p.Get()
	require.NoError(t, err)
	require.ErrorIs(t, p.Release(makeRef(99, 0)), contract.ErrViolation, "unknown chunk")
	require.ErrorIs(t, p.Release(makeRef(1, 3)), contract.ErrViolation, "uncarved slot")
	require.ErrorIs(t, p.Release(Nil), contract.ErrViolation)
	require.NoError(t, other.Release(oref))

	_, err = p.Bytes(ref)
	require.NoError(t, err, "ref was reused by the last Get")
}

func TestPool_DoubleReleaseStrictPanics(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(true))
	_, p := newPool(t, 16, 4, nil)
	ref, _, err := p.Get()
	require.NoError(t, err)
	require.NoError(t, p.Release(ref))
	assert.Panics(t, func() { _ = p.Release(ref) })
}

// failingBacking refuses every chunk.
type failingBacking struct{}

var errBackingDown = errors.New("backing down")

func (failingBacking) Malloc(int) (heap.Ref, []byte, error) { return heap.Nil, nil, errBackingDown }
func (failingBacking) Free(heap.Ref) error                  { return nil }

func TestPool_SlotOutsideChunk(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(false))
	_, p := newPool(t, 32, 8, nil)

	ref, _, err := p.Get()
	require.NoError(t, err)
	c := p.chunks[ref.chunkID()]
	c.mem = c.mem[:16]

	_, err = p.Bytes(ref)
	require.ErrorIs(t, err, contract.ErrViolation)
	_, _, err = p.Get()
	require.ErrorIs(t, err, contract.ErrViolation)
	assert.Equal(t, 1, p.Live(), "a failed Get hands nothing out")
}

func TestPool_BackingExhaustion(t *testing.T) {
	_, p := newPool(t, 16, 4, &Options{Backing: failingBacking{}})

	_, _, err := p.Get()
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errBackingDown)
	assert.Zero(t, p.Live())
}

// TestPool_OverSharedAllocator carves chunks from a MemoryAllocator.
func TestPool_OverSharedAllocator(t *testing.T) {
	region, err := aligned.New(8192).Take()
	require.NoError(t, err)
	shared := allocator.New(nil)
	require.NoError(t, shared.Initialize(region))

	_, p := newPool(t, 100, 1000, &Options{Backing: shared, ChunkBytes: 2000})
	assert.Equal(t, 104, p.ObjectSize(), "objects are 8-byte aligned")

	var refs []Ref
	for {
		ref, obj, err := p.Get()
		if err != nil {
			require.ErrorIs(t, err, ErrExhausted)
			require.ErrorIs(t, err, heap.ErrNoSpace)
			break
		}
		assert.Zero(t, addrOf(obj)%8)
		refs = append(refs, ref)
	}
	require.NotEmpty(t, refs)
	liveBlocks := shared.Stats().LiveBlocks

	for _, ref := range refs {
		require.NoError(t, p.Release(ref))
	}
	assert.Equal(t, liveBlocks, p.CollectGarbage())
	assert.Zero(t, shared.Stats().LiveBlocks, "chunks go back to the shared allocator")
}

func TestRegistry_CollectAllAndDestroy(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.Create(8, 10, &Options{Name: "a"})
	require.NoError(t, err)
	b, err := reg.Create(64, 10, &Options{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []*Pool{a, b}, reg.Pools())

	ra, _, err := a.Get()
	require.NoError(t, err)
	rb, _, err := b.Get()
	require.NoError(t, err)
	assert.Zero(t, reg.CollectAll())

	require.NoError(t, a.Release(ra))
	require.NoError(t, b.Release(rb))
	assert.Equal(t, 2, reg.CollectAll())

	stats := reg.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Name)
	assert.Equal(t, 1, stats[1].ChunksReclaimed)

	require.NoError(t, a.Destroy())
	assert.Equal(t, 1, reg.Len())
	_, _, err = a.Get()
	require.ErrorIs(t, err, ErrDestroyed)
	require.NoError(t, a.Destroy(), "destroy is idempotent")
}

func TestRegistry_CreateRejectsBadShape(t *testing.T) {
	defer contract.SetStrict(contract.SetStrict(false))
	reg := NewRegistry()
	_, err := reg.Create(0, 10, nil)
	require.ErrorIs(t, err, contract.ErrViolation)
	_, err = reg.Create(8, 0, nil)
	require.ErrorIs(t, err, contract.ErrViolation)
	assert.Zero(t, reg.Len())
}
