// Package objalloc implements fixed-size object pools with bulk reclamation.
//
// A Registry owns every live pool so a low-memory response can run
// CollectAll across all of them. There is no process-wide registry: the
// coordinator constructs one and hands it to the subsystems that need pools.
package objalloc

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/logger"
)

// Registry tracks live pools.
type Registry struct {
	pools  map[uint64]*Pool
	nextID uint64
	log    *logrus.Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pools: make(map[uint64]*Pool),
		log:   logger.For("objalloc"),
	}
}

// Create registers a pool for up to capacity objects of objectSize bytes.
// opts may be nil.
func (r *Registry) Create(objectSize, capacity int, opts *Options) (*Pool, error) {
	if objectSize <= 0 || capacity <= 0 {
		return nil, contract.Violationf("objalloc.Create",
			"object size %d and capacity %d must be positive", objectSize, capacity)
	}
	if opts == nil {
		opts = &Options{}
	}
	size := (objectSize + objectAlign - 1) &^ (objectAlign - 1)
	chunkBytes := opts.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	backing := opts.Backing
	if backing == nil {
		backing = NewGoBacking()
	}

	r.nextID++
	p := &Pool{
		reg:        r,
		id:         r.nextID,
		name:       opts.Name,
		objectSize: size,
		capacity:   capacity,
		perChunk:   max(1, min(capacity, chunkBytes/size)),
		backing:    backing,
		chunks:     make(map[uint32]*chunk),
	}
	p.log = r.log.WithFields(logrus.Fields{"pool": p.name, "id": p.id})
	r.pools[p.id] = p
	p.log.WithFields(logrus.Fields{"objectSize": size, "capacity": capacity}).Debug("pool created")
	return p, nil
}

func (r *Registry) unregister(p *Pool) {
	delete(r.pools, p.id)
}

// Pools returns the registered pools in creation order.
func (r *Registry) Pools() []*Pool {
	pools := lo.Values(r.pools)
	slices.SortFunc(pools, func(a, b *Pool) int { return cmp.Compare(a.id, b.id) })
	return pools
}

// Len returns the number of registered pools.
func (r *Registry) Len() int { return len(r.pools) }

// CollectAll runs CollectGarbage on every pool and returns the total number
// of chunks reclaimed.
func (r *Registry) CollectAll() int {
	n := lo.SumBy(r.Pools(), func(p *Pool) int { return p.CollectGarbage() })
	if n > 0 {
		r.log.WithField("chunks", n).Info("collected all pools")
	}
	return n
}

// Stats returns a snapshot of every pool in creation order.
func (r *Registry) Stats() []Stats {
	return lo.Map(r.Pools(), func(p *Pool, _ int) Stats { return p.Stats() })
}
