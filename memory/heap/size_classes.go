package heap

import (
	"math"
	"strings"
)

// SizeClassConfig defines how free blocks are bucketed by size.
// Finer classes keep each bucket short at the cost of more buckets.
type SizeClassConfig struct {
	// Name for this configuration (for logging and config lookup)
	Name string

	// Small block settings (linear increments)
	SmallMin       int // Smallest block size (minBlockSize)
	SmallMax       int // Max for linear increments (typically 256-512)
	SmallIncrement int // Increment size for small blocks (8, 16, or 32)

	// Medium block settings (logarithmic growth); larger blocks share one list
	MediumMax    int
	GrowthFactor float64
}

// Predefined configurations.
var (
	// FineGrained: many small buckets, good for varied workloads.
	// 16-256 step 8 (30 classes) + 256-16K log growth (~11 classes).
	ConfigFineGrained = SizeClassConfig{
		Name:           "FineGrained",
		SmallMin:       minBlockSize,
		SmallMax:       256,
		SmallIncrement: 8,
		MediumMax:      16384,
		GrowthFactor:   1.5,
	}

	// Balanced: good balance between bucket count and granularity.
	// 16-512 step 16 (31 classes) + 512-16K log growth (~9 classes).
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       minBlockSize,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      16384,
		GrowthFactor:   1.5,
	}

	// Coarse: fewer buckets, more internal fragmentation.
	// 16-512 step 32 (16 classes) + 512-16K log growth (~5 classes).
	ConfigCoarse = SizeClassConfig{
		Name:           "Coarse",
		SmallMin:       minBlockSize,
		SmallMax:       512,
		SmallIncrement: 32,
		MediumMax:      16384,
		GrowthFactor:   2.0,
	}

	// Script: tight packing for the many small cells a script engine churns
	// through, with a wide medium range for its strings and arrays.
	ConfigScript = SizeClassConfig{
		Name:           "Script",
		SmallMin:       minBlockSize,
		SmallMax:       128,
		SmallIncrement: 8,
		MediumMax:      65536,
		GrowthFactor:   1.3,
	}

	// DefaultSizeClasses is used when Options.SizeClasses is nil.
	DefaultSizeClasses = ConfigBalanced
)

// SizeClassConfigByName returns the preset with the given name, ignoring case.
func SizeClassConfigByName(name string) (SizeClassConfig, bool) {
	for _, c := range []SizeClassConfig{ConfigFineGrained, ConfigBalanced, ConfigCoarse, ConfigScript} {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return SizeClassConfig{}, false
}

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	config     SizeClassConfig
	boundaries []int // Upper bound for each size class
	numClasses int
}

func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{
		config:     config,
		boundaries: make([]int, 0, 64),
	}

	// Phase 1: small blocks (linear increments)
	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
	}

	// Phase 2: medium blocks (logarithmic growth)
	if config.SmallMax < config.MediumMax {
		size := config.SmallMax
		for size < config.MediumMax {
			nextSize := int(math.Ceil(float64(size) * config.GrowthFactor))
			if nextSize <= size {
				nextSize = size + 1 // Ensure progress
			}
			table.boundaries = append(table.boundaries, nextSize-1)
			size = nextSize
		}
	}

	table.numClasses = len(table.boundaries)
	return table
}

// getSizeClass returns the size class index for a block size.
// Returns numClasses for sizes above every boundary (the large list).
func (t *sizeClassTable) getSizeClass(size int) int {
	lo, hi := 0, t.numClasses-1

	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	return t.numClasses
}

func (t *sizeClassTable) String() string {
	return t.config.Name
}
