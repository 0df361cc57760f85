package heap

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceCore hands out Go-heap segments up to a limit and records releases.
type sliceCore struct {
	limit    int
	grants   int
	sizes    []int
	released [][]byte
	failWith error
}

func (c *sliceCore) MoreCore(increment int) ([]byte, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	if c.grants >= c.limit {
		return nil, ErrNoMoreCore
	}
	c.grants++
	c.sizes = append(c.sizes, increment)
	return make([]byte, increment), nil
}

func (c *sliceCore) ReleaseCore(seg []byte) error {
	c.released = append(c.released, seg)
	return nil
}

func TestHeap_GrowsThroughMoreCore(t *testing.T) {
	core := &sliceCore{limit: 4}
	hp, err := New(nil, core, &Options{GrowthGranularity: 4096, Name: "test"})
	require.NoError(t, err)

	_, _, err = hp.Alloc(1000)
	require.NoError(t, err)
	assert.Equal(t, []int{4096}, core.sizes, "first request rounds up to the granularity")

	_, _, err = hp.Alloc(10000)
	require.NoError(t, err)
	assert.Equal(t, 12288, core.sizes[1], "large requests round up to a granularity multiple")

	s := hp.Stats()
	assert.Equal(t, 2, s.Segments)
	assert.Equal(t, 2, s.GrowCalls)
	assert.Equal(t, int64(4096+12288), s.GrowBytes)
	require.NoError(t, hp.Validate())
}

// TestHeap_MoreCoreFailure fails the triggering allocation without retrying.
func TestHeap_MoreCoreFailure(t *testing.T) {
	core := &sliceCore{limit: 1}
	hp, err := New(nil, core, &Options{GrowthGranularity: 4096})
	require.NoError(t, err)

	_, _, err = hp.Alloc(1000)
	require.NoError(t, err)

	_, _, err = hp.Alloc(4000)
	require.ErrorIs(t, err, ErrNoSpace)
	require.ErrorIs(t, err, ErrNoMoreCore)
	assert.Equal(t, 1, core.grants)
	assert.Equal(t, 1, hp.Stats().GrowFailures)

	// The heap is still usable for requests that fit.
	_, _, err = hp.Alloc(1000)
	require.NoError(t, err)
}

func TestHeap_MoreCoreArbitraryError(t *testing.T) {
	hp, err := New(nil, &sliceCore{failWith: errCore}, nil)
	require.NoError(t, err)

	_, _, err = hp.Alloc(10)
	require.ErrorIs(t, err, ErrNoSpace)
	require.ErrorIs(t, err, errCore)
}

func TestHeap_MoreCoreFunc(t *testing.T) {
	calls := 0
	mc := MoreCoreFunc(func(n int) ([]byte, error) {
		calls++
		return make([]byte, n), nil
	})
	hp, err := New(make([]byte, 256), mc, &Options{GrowthGranularity: 1024})
	require.NoError(t, err)

	_, _, err = hp.Alloc(100)
	require.NoError(t, err)
	assert.Zero(t, calls, "initial region satisfies the first request")

	_, _, err = hp.Alloc(500)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHeap_GrowthGranularityNotPowerOfTwo(t *testing.T) {
	var increments []int
	mc := MoreCoreFunc(func(n int) ([]byte, error) {
		increments = append(increments, n)
		return make([]byte, n), nil
	})
	hp, err := New(nil, mc, &Options{GrowthGranularity: 100000})
	require.NoError(t, err)

	_, _, err = hp.Alloc(6000)
	require.NoError(t, err)
	_, _, err = hp.Alloc(150000)
	require.NoError(t, err)

	require.NotEmpty(t, increments)
	for _, n := range increments {
		assert.GreaterOrEqual(t, n, 100000)
		assert.Zero(t, n%100000, "increment %d", n)
	}
}

func TestHeap_Trim(t *testing.T) {
	core := &sliceCore{limit: 8}
	hp, err := New(make([]byte, 1024), core, &Options{GrowthGranularity: 4096})
	require.NoError(t, err)

	a, _, err := hp.Alloc(3000)
	require.NoError(t, err)
	b, _, err := hp.Alloc(3000)
	require.NoError(t, err)
	small, _, err := hp.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, 2, core.grants)

	released, err := hp.Trim()
	require.NoError(t, err)
	assert.Zero(t, released, "segments with live blocks stay")

	require.NoError(t, hp.Free(a))
	require.NoError(t, hp.Free(b))
	released, err = hp.Trim()
	require.NoError(t, err)
	assert.Equal(t, 8192, released)
	assert.Len(t, core.released, 2)

	s := hp.Stats()
	assert.Equal(t, 1, s.Segments, "the initial region is never trimmed")
	assert.Equal(t, int64(8192), s.TrimmedBytes)
	assert.True(t, hp.Owns(small))
	require.NoError(t, hp.Validate())

	_, _, err = hp.Alloc(3000)
	require.NoError(t, err, "heap grows again after a trim")
	require.NoError(t, hp.Validate())
}

func TestHeap_TrimWithoutReleaser(t *testing.T) {
	hp, err := New(nil, MoreCoreFunc(func(n int) ([]byte, error) { return make([]byte, n), nil }), nil)
	require.NoError(t, err)
	ref, _, err := hp.Alloc(10)
	require.NoError(t, err)
	require.NoError(t, hp.Free(ref))

	released, err := hp.Trim()
	require.NoError(t, err)
	assert.Zero(t, released)
}

// TestHeap_RandomizedInvariants drives a deterministic mix of operations and
// checks the block chain plus payload integrity after every step.
func TestHeap_RandomizedInvariants(t *testing.T) {
	core := &sliceCore{limit: 1024}
	hp, err := New(make([]byte, 8192), core, &Options{GrowthGranularity: 8192})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	type block struct {
		ref  Ref
		size int
		tag  byte
	}
	var live []block

	fill := func(b []byte, n int, tag byte) {
		for i := range n {
			b[i] = tag
		}
	}

	for step := range 2000 {
		switch op := rng.IntN(10); {
		case op < 5 || len(live) == 0:
			size := rng.IntN(600)
			ref, b, err := hp.Alloc(size)
			require.NoError(t, err, "step %d", step)
			tag := byte(step)
			fill(b, size, tag)
			live = append(live, block{ref, size, tag})
		case op < 8:
			i := rng.IntN(len(live))
			require.NoError(t, hp.Free(live[i].ref), "step %d", step)
			live = append(live[:i], live[i+1:]...)
		default:
			i := rng.IntN(len(live))
			size := rng.IntN(900)
			ref, b, err := hp.Realloc(live[i].ref, size)
			require.NoError(t, err, "step %d", step)
			if size == 0 {
				live = append(live[:i], live[i+1:]...)
				continue
			}
			keep := min(size, live[i].size)
			for j := range keep {
				require.Equal(t, live[i].tag, b[j], "step %d: realloc lost data", step)
			}
			fill(b, size, live[i].tag)
			live[i] = block{ref, size, live[i].tag}
		}
		require.NoError(t, hp.Validate(), "step %d", step)
	}

	for _, blk := range live {
		b, err := hp.Bytes(blk.ref)
		require.NoError(t, err)
		for j := range blk.size {
			require.Equal(t, blk.tag, b[j])
		}
		require.NoError(t, hp.Free(blk.ref))
	}
	assert.Zero(t, hp.Live())
	require.NoError(t, hp.Validate())
}
