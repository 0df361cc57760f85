// Package vmem tracks the residency of reserved address ranges: which pages
// of each reservation are committed. It does not call the operating system;
// the memory manager consults it before every platform call so that commit
// stays within the reservation, decommit only touches committed pages, and
// release only happens once nothing is committed.
package vmem

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrOutOfRange indicates a range that is not inside the region.
	ErrOutOfRange = errors.New("vmem: range outside reservation")

	// ErrNotCommitted indicates a range containing pages that are not committed.
	ErrNotCommitted = errors.New("vmem: range not committed")
)

// Span is a run of pages [First, First+Count).
type Span struct {
	First int
	Count int
}

// Region is one reservation and its committed-page set.
type Region struct {
	base      uintptr
	size      int
	pageSize  int
	committed *bitset.BitSet
}

// NewRegion describes a reservation of size bytes at base. size must be a
// multiple of pageSize.
func NewRegion(base uintptr, size, pageSize int) *Region {
	return &Region{
		base:      base,
		size:      size,
		pageSize:  pageSize,
		committed: bitset.New(uint(size / pageSize)),
	}
}

func (r *Region) Base() uintptr { return r.base }
func (r *Region) Size() int     { return r.size }
func (r *Region) Pages() int    { return r.size / r.pageSize }

// Contains reports whether [addr, addr+n) lies inside the region.
func (r *Region) Contains(addr uintptr, n int) bool {
	if n < 0 || addr < r.base {
		return false
	}
	off := addr - r.base
	return off <= uintptr(r.size) && uintptr(n) <= uintptr(r.size)-off
}

// PageSpan converts a byte range into the pages it touches: the start is
// rounded down and the end rounded up.
func (r *Region) PageSpan(addr uintptr, n int) (Span, error) {
	if n <= 0 || !r.Contains(addr, n) {
		return Span{}, fmt.Errorf("%w: [%#x, +%d) in [%#x, +%d)", ErrOutOfRange, addr, n, r.base, r.size)
	}
	first := int(addr-r.base) / r.pageSize
	last := (int(addr-r.base) + n + r.pageSize - 1) / r.pageSize
	return Span{First: first, Count: last - first}, nil
}

// PageAddr returns the address of page i.
func (r *Region) PageAddr(i int) uintptr { return r.base + uintptr(i*r.pageSize) }

// Uncommitted returns the runs of pages in s that are not yet committed.
func (r *Region) Uncommitted(s Span) []Span {
	return r.runs(s, false)
}

// Committed returns the runs of pages in s that are committed.
func (r *Region) Committed(s Span) []Span {
	return r.runs(s, true)
}

func (r *Region) runs(s Span, want bool) []Span {
	var out []Span
	start := -1
	for i := s.First; i < s.First+s.Count; i++ {
		if r.committed.Test(uint(i)) == want {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, Span{First: start, Count: i - start})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Span{First: start, Count: s.First + s.Count - start})
	}
	return out
}

// AllCommitted reports whether every page of s is committed.
func (r *Region) AllCommitted(s Span) bool {
	for i := s.First; i < s.First+s.Count; i++ {
		if !r.committed.Test(uint(i)) {
			return false
		}
	}
	return true
}

// MarkCommitted records s as committed.
func (r *Region) MarkCommitted(s Span) {
	for i := s.First; i < s.First+s.Count; i++ {
		r.committed.Set(uint(i))
	}
}

// MarkDecommitted records s as no longer committed. Every page must be
// committed; otherwise nothing changes and ErrNotCommitted is returned.
func (r *Region) MarkDecommitted(s Span) error {
	if !r.AllCommitted(s) {
		return fmt.Errorf("%w: pages [%d, %d)", ErrNotCommitted, s.First, s.First+s.Count)
	}
	for i := s.First; i < s.First+s.Count; i++ {
		r.committed.Clear(uint(i))
	}
	return nil
}

// CommittedPages returns the number of committed pages.
func (r *Region) CommittedPages() int { return int(r.committed.Count()) }

// CommittedBytes returns the committed size in bytes.
func (r *Region) CommittedBytes() int { return r.CommittedPages() * r.pageSize }

// Table indexes regions by base address.
type Table struct {
	bases   []uintptr // sorted
	regions map[uintptr]*Region
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{regions: make(map[uintptr]*Region)}
}

// Insert adds r. Reservations never overlap, so bases stay sorted by position.
func (t *Table) Insert(r *Region) {
	i := sort.Search(len(t.bases), func(i int) bool { return t.bases[i] >= r.base })
	t.bases = append(t.bases, 0)
	copy(t.bases[i+1:], t.bases[i:])
	t.bases[i] = r.base
	t.regions[r.base] = r
}

// Remove drops the region at base.
func (t *Table) Remove(base uintptr) {
	if _, ok := t.regions[base]; !ok {
		return
	}
	delete(t.regions, base)
	i := sort.Search(len(t.bases), func(i int) bool { return t.bases[i] >= base })
	t.bases = append(t.bases[:i], t.bases[i+1:]...)
}

// Get returns the region whose base is exactly base.
func (t *Table) Get(base uintptr) (*Region, bool) {
	r, ok := t.regions[base]
	return r, ok
}

// Find returns the region containing addr.
func (t *Table) Find(addr uintptr) (*Region, bool) {
	i := sort.Search(len(t.bases), func(i int) bool { return t.bases[i] > addr })
	if i == 0 {
		return nil, false
	}
	r := t.regions[t.bases[i-1]]
	if !r.Contains(addr, 0) || addr == r.base+uintptr(r.size) {
		return nil, false
	}
	return r, true
}

// Len returns the number of regions.
func (t *Table) Len() int { return len(t.bases) }

// All returns the regions in address order.
func (t *Table) All() []*Region {
	out := make([]*Region, len(t.bases))
	for i, b := range t.bases {
		out[i] = t.regions[b]
	}
	return out
}

// CommittedBytes sums committed bytes across all regions.
func (t *Table) CommittedBytes() int {
	n := 0
	for _, r := range t.regions {
		n += r.CommittedBytes()
	}
	return n
}
