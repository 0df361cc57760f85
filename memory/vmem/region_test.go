package vmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = 4096

func TestRegion_PageSpanRounding(t *testing.T) {
	r := NewRegion(0x10000, 8*page, page)
	assert.Equal(t, 8, r.Pages())

	s, err := r.PageSpan(0x10000+100, 10)
	require.NoError(t, err)
	assert.Equal(t, Span{First: 0, Count: 1}, s)

	s, err = r.PageSpan(0x10000+page-1, 2)
	require.NoError(t, err)
	assert.Equal(t, Span{First: 0, Count: 2}, s, "straddling a boundary touches both pages")

	s, err = r.PageSpan(0x10000, 8*page)
	require.NoError(t, err)
	assert.Equal(t, Span{First: 0, Count: 8}, s)
}

func TestRegion_PageSpanRejectsOutside(t *testing.T) {
	r := NewRegion(0x10000, 4*page, page)

	for _, tc := range []struct {
		name string
		addr uintptr
		n    int
	}{
		{"before base", 0x10000 - page, page},
		{"past end", 0x10000 + 3*page, 2 * page},
		{"starts at end", 0x10000 + 4*page, 1},
		{"empty", 0x10000, 0},
		{"negative", 0x10000, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.PageSpan(tc.addr, tc.n)
			require.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestRegion_CommitRuns(t *testing.T) {
	r := NewRegion(0, 8*page, page)
	r.MarkCommitted(Span{First: 2, Count: 2})
	r.MarkCommitted(Span{First: 6, Count: 1})

	assert.Equal(t, []Span{{0, 2}, {4, 2}, {7, 1}}, r.Uncommitted(Span{0, 8}))
	assert.Equal(t, []Span{{2, 2}, {6, 1}}, r.Committed(Span{0, 8}))
	assert.Nil(t, r.Uncommitted(Span{2, 2}), "already committed")
	assert.Equal(t, 3, r.CommittedPages())
	assert.Equal(t, 3*page, r.CommittedBytes())
}

func TestRegion_DecommitRequiresCommitted(t *testing.T) {
	r := NewRegion(0, 4*page, page)
	r.MarkCommitted(Span{First: 0, Count: 2})

	err := r.MarkDecommitted(Span{First: 1, Count: 2})
	require.ErrorIs(t, err, ErrNotCommitted)
	assert.Equal(t, 2, r.CommittedPages(), "a rejected decommit changes nothing")

	require.NoError(t, r.MarkDecommitted(Span{First: 0, Count: 2}))
	assert.Zero(t, r.CommittedPages())
}

func TestTable_FindAndRemove(t *testing.T) {
	tbl := NewTable()
	a := NewRegion(0x100000, 4*page, page)
	b := NewRegion(0x200000, 2*page, page)
	c := NewRegion(0x080000, page, page)
	tbl.Insert(a)
	tbl.Insert(b)
	tbl.Insert(c)

	assert.Equal(t, []*Region{c, a, b}, tbl.All())

	got, ok := tbl.Find(0x100000 + 3*page + 17)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = tbl.Find(0x100000 + 4*page)
	assert.False(t, ok, "one past the end is outside")
	_, ok = tbl.Find(0x7F000)
	assert.False(t, ok)

	got, ok = tbl.Get(0x200000)
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = tbl.Get(0x200000 + page)
	assert.False(t, ok, "Get only matches bases")

	a.MarkCommitted(Span{0, 1})
	b.MarkCommitted(Span{0, 2})
	assert.Equal(t, 3*page, tbl.CommittedBytes())

	tbl.Remove(0x100000)
	assert.Equal(t, 2, tbl.Len())
	_, ok = tbl.Find(0x100000)
	assert.False(t, ok)
	tbl.Remove(0x100000)
	assert.Equal(t, 2, tbl.Len())
}
