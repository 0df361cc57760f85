package objalloc

import "testing"

// Benchmark_Pool_GetRelease benchmarks the LIFO fast path.
func Benchmark_Pool_GetRelease(b *testing.B) {
	reg := NewRegistry()
	p, err := reg.Create(64, 1024, nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for range b.N {
		ref, _, getErr := p.Get()
		if getErr != nil {
			b.Fatal(getErr)
		}
		if relErr := p.Release(ref); relErr != nil {
			b.Fatal(relErr)
		}
	}
}

// Benchmark_Pool_FillAndCollect benchmarks filling a pool, releasing it and
// reclaiming every chunk.
func Benchmark_Pool_FillAndCollect(b *testing.B) {
	reg := NewRegistry()
	p, err := reg.Create(48, 4096, nil)
	if err != nil {
		b.Fatal(err)
	}
	refs := make([]Ref, 0, 4096)

	b.ResetTimer()
	b.ReportAllocs()

	for range b.N {
		for range 4096 {
			ref, _, getErr := p.Get()
			if getErr != nil {
				b.Fatal(getErr)
			}
			refs = append(refs, ref)
		}
		for _, ref := range refs {
			if relErr := p.Release(ref); relErr != nil {
				b.Fatal(relErr)
			}
		}
		refs = refs[:0]
		p.CollectGarbage()
	}
}
