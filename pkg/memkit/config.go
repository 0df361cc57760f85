package memkit

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory/heap"
	"github.com/joshuapare/memkit/memory/manager"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "MEMKIT"

const (
	// DefaultBootstrapSize is the shared allocator's fixed region (1 MiB).
	DefaultBootstrapSize = 1 << 20

	// DefaultArenaReserve is the address space reserved per isolated arena.
	DefaultArenaReserve = 64 << 20

	// DefaultArenaGrowth is the minimum commit step of an arena.
	DefaultArenaGrowth = 64 << 10

	// DefaultPoolChunkBytes is the target chunk size of object pools.
	DefaultPoolChunkBytes = 16 << 10

	// DefaultJSBlockCacheSize keeps up to 1 MiB of freed JS blocks committed.
	DefaultJSBlockCacheSize = 1 << 20

	// ConstrainedCommitLimit caps committed memory on small devices (96 MiB).
	ConstrainedCommitLimit = 96 << 20

	// ConstrainedArenaReserve is the per-arena reservation on small devices.
	ConstrainedArenaReserve = 16 << 20

	// minBootstrapSize is the smallest region the shared allocator accepts.
	minBootstrapSize = 4 << 10
)

// Config configures a System. Every field can be overridden from the
// environment as MEMKIT_<NAME>, e.g. MEMKIT_COMMIT_LIMIT.
type Config struct {
	// PageSize overrides the platform page size (0 = platform).
	PageSize int `envconfig:"PAGE_SIZE"`

	// CommitLimit caps committed bytes across the manager (0 = unlimited).
	CommitLimit int `envconfig:"COMMIT_LIMIT"`

	// JSBlockAlignment fixes JS block alignment (0 = size-derived).
	JSBlockAlignment int `envconfig:"JS_BLOCK_ALIGNMENT"`

	// JSBlockCacheSize is how many bytes of freed JS blocks stay committed.
	JSBlockCacheSize int `envconfig:"JS_BLOCK_CACHE_SIZE"`

	// LowMemoryThreshold is the available-memory floor in bytes
	// (0 = 1/16 of physical memory).
	LowMemoryThreshold uint64 `envconfig:"LOW_MEMORY_THRESHOLD"`

	// Prefault populates JS blocks when they are allocated.
	Prefault bool `envconfig:"PREFAULT"`

	// BootstrapSize is the size of the shared allocator's region.
	BootstrapSize int `envconfig:"BOOTSTRAP_SIZE"`

	// ArenaReserve is the address space reserved for each isolated arena.
	ArenaReserve int `envconfig:"ARENA_RESERVE"`

	// ArenaGrowth is the minimum number of bytes an arena commits per step.
	ArenaGrowth int `envconfig:"ARENA_GROWTH"`

	// SizeClasses names the free-list preset: Balanced, FineGrained, Coarse
	// or Script (case-insensitive).
	SizeClasses string `envconfig:"SIZE_CLASSES"`

	// PoolChunkBytes is the target chunk size of object pools.
	PoolChunkBytes int `envconfig:"POOL_CHUNK_BYTES"`

	// AllocationCanFail starts the system in degrade-on-exhaustion mode.
	AllocationCanFail bool `envconfig:"ALLOCATION_CAN_FAIL"`
}

// DefaultConfig returns the configuration for a desktop-class host.
func DefaultConfig() Config {
	return Config{
		JSBlockCacheSize: DefaultJSBlockCacheSize,
		BootstrapSize:    DefaultBootstrapSize,
		ArenaReserve:     DefaultArenaReserve,
		ArenaGrowth:      DefaultArenaGrowth,
		SizeClasses:      heap.ConfigBalanced.Name,
		PoolChunkBytes:   DefaultPoolChunkBytes,
	}
}

// ConstrainedConfig returns a configuration for memory-constrained devices:
// a hard commit budget, smaller arenas and no JS block cache.
func ConstrainedConfig() Config {
	cfg := DefaultConfig()
	cfg.CommitLimit = ConstrainedCommitLimit
	cfg.ArenaReserve = ConstrainedArenaReserve
	cfg.JSBlockCacheSize = 0
	cfg.SizeClasses = heap.ConfigScript.Name
	cfg.AllocationCanFail = true
	return cfg
}

// LoadConfig starts from DefaultConfig, applies MEMKIT_* environment
// overrides and validates the result.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(DefaultConfig())
}

// LoadConfigFrom applies MEMKIT_* environment overrides to base and
// validates the result.
func LoadConfigFrom(base Config) (Config, error) {
	cfg := base
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("memkit: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	switch {
	case c.PageSize != 0 && !buf.IsPowerOfTwo(c.PageSize):
		return fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidConfig, c.PageSize)
	case c.JSBlockAlignment != 0 && !buf.IsPowerOfTwo(c.JSBlockAlignment):
		return fmt.Errorf("%w: JS block alignment %d is not a power of two", ErrInvalidConfig, c.JSBlockAlignment)
	case c.CommitLimit < 0, c.JSBlockCacheSize < 0, c.ArenaGrowth < 0, c.PoolChunkBytes < 0:
		return fmt.Errorf("%w: sizes must not be negative", ErrInvalidConfig)
	case c.BootstrapSize < minBootstrapSize:
		return fmt.Errorf("%w: bootstrap size %d is below %d", ErrInvalidConfig, c.BootstrapSize, minBootstrapSize)
	case c.ArenaReserve <= 0:
		return fmt.Errorf("%w: arena reserve must be positive", ErrInvalidConfig)
	case c.CommitLimit != 0 && c.JSBlockCacheSize > c.CommitLimit:
		return fmt.Errorf("%w: JS block cache %d exceeds commit limit %d",
			ErrInvalidConfig, c.JSBlockCacheSize, c.CommitLimit)
	}
	if _, ok := heap.SizeClassConfigByName(c.SizeClasses); !ok {
		return fmt.Errorf("%w: unknown size class preset %q", ErrInvalidConfig, c.SizeClasses)
	}
	return nil
}

// ManagerConfig extracts the memory manager's settings.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		PageSize:           c.PageSize,
		JSBlockAlignment:   c.JSBlockAlignment,
		CommitLimit:        c.CommitLimit,
		JSBlockCacheSize:   c.JSBlockCacheSize,
		LowMemoryThreshold: c.LowMemoryThreshold,
		Prefault:           c.Prefault,
	}
}

// HeapOptions returns heap options for a heap tagged name.
func (c Config) HeapOptions(name string) *heap.Options {
	classes, ok := heap.SizeClassConfigByName(c.SizeClasses)
	if !ok {
		classes = heap.DefaultSizeClasses
	}
	return &heap.Options{
		SizeClasses:       &classes,
		GrowthGranularity: c.ArenaGrowth,
		Name:              name,
	}
}
