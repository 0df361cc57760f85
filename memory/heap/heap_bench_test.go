package heap

import (
	"math/rand"
	"testing"
)

// Benchmark_Heap_SmallAllocFree benchmarks alloc/free pairs of small blocks.
func Benchmark_Heap_SmallAllocFree(b *testing.B) {
	hp, err := New(make([]byte, 1<<20), nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := range b.N {
		ref, _, allocErr := hp.Alloc(16 + (i%16)*8) // 16-136 bytes
		if allocErr != nil {
			b.Fatal(allocErr)
		}
		if freeErr := hp.Free(ref); freeErr != nil {
			b.Fatal(freeErr)
		}
	}
}

// Benchmark_Heap_Fragmented benchmarks allocation against a fragmented free list.
func Benchmark_Heap_Fragmented(b *testing.B) {
	hp, err := New(make([]byte, 4<<20), nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(42))

	// Leave every other block live so frees cannot coalesce.
	var keep []Ref
	for i := range 4096 {
		ref, _, allocErr := hp.Alloc(32 + rng.Intn(480))
		if allocErr != nil {
			b.Fatal(allocErr)
		}
		if i%2 == 0 {
			keep = append(keep, ref)
		} else if freeErr := hp.Free(ref); freeErr != nil {
			b.Fatal(freeErr)
		}
	}
	_ = keep

	b.ResetTimer()
	b.ReportAllocs()

	for i := range b.N {
		ref, _, allocErr := hp.Alloc(64 + (i%32)*8)
		if allocErr != nil {
			b.Fatal(allocErr)
		}
		if freeErr := hp.Free(ref); freeErr != nil {
			b.Fatal(freeErr)
		}
	}
}

// Benchmark_Heap_SizeClasses compares the size-class presets on a mixed workload.
func Benchmark_Heap_SizeClasses(b *testing.B) {
	for _, cfg := range []SizeClassConfig{ConfigFineGrained, ConfigBalanced, ConfigCoarse, ConfigScript} {
		b.Run(cfg.Name, func(b *testing.B) {
			hp, err := New(make([]byte, 8<<20), nil, &Options{SizeClasses: &cfg})
			if err != nil {
				b.Fatal(err)
			}
			rng := rand.New(rand.NewSource(7))
			live := make([]Ref, 0, 1024)

			b.ResetTimer()
			b.ReportAllocs()

			for range b.N {
				if len(live) > 0 && (len(live) == cap(live) || rng.Intn(2) == 0) {
					i := rng.Intn(len(live))
					if freeErr := hp.Free(live[i]); freeErr != nil {
						b.Fatal(freeErr)
					}
					live[i] = live[len(live)-1]
					live = live[:len(live)-1]
					continue
				}
				ref, _, allocErr := hp.Alloc(8 + rng.Intn(2048))
				if allocErr != nil {
					b.Fatal(allocErr)
				}
				live = append(live, ref)
			}
		})
	}
}
