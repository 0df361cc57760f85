package memkit

import (
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/memkit/memory/gfx"
	"github.com/joshuapare/memkit/memory/heap"
	"github.com/joshuapare/memkit/memory/objalloc"
)

// Report is a point-in-time snapshot of the whole system.
type Report struct {
	PageSize          int
	CommittedBytes    int
	CommitLimit       int
	Reservations      int
	LiveJSBlocks      int
	CachedJSBytes     int
	TotalPhysical     uint64
	AvailablePhysical uint64
	LowMemory         bool
	AllocationCanFail bool

	Shared   heap.Stats
	Arenas   []ArenaReport
	Pools    []objalloc.Stats
	Graphics gfx.Stats
}

// ArenaReport describes one isolated arena.
type ArenaReport struct {
	Slot  int
	Stats heap.Stats
}

// PoolBytes returns the chunk bytes held by every pool.
func (r Report) PoolBytes() int {
	return lo.SumBy(r.Pools, func(p objalloc.Stats) int { return p.ChunkBytes })
}

// ArenaBytes returns the heap bytes of every isolated arena.
func (r Report) ArenaBytes() int64 {
	return lo.SumBy(r.Arenas, func(a ArenaReport) int64 { return a.Stats.HeapBytes })
}

// Report gathers a snapshot.
func (s *System) Report() Report {
	total, avail := s.mgr.TotalPhysicalMemory(), s.mgr.AvailablePhysicalMemory()
	return Report{
		PageSize:          s.mgr.PageSize(),
		CommittedBytes:    s.mgr.CommittedBytes(),
		CommitLimit:       s.mgr.CommitLimit(),
		Reservations:      s.mgr.Reservations(),
		LiveJSBlocks:      s.mgr.LiveJSBlocks(),
		CachedJSBytes:     s.mgr.CachedBytes(),
		TotalPhysical:     total,
		AvailablePhysical: avail,
		LowMemory:         s.mgr.IsLowMemory(),
		AllocationCanFail: s.mgr.AllocationCanFail(),
		Shared:            s.shared.Stats(),
		Arenas: lo.Map(s.arenas, func(a *Arena, _ int) ArenaReport {
			return ArenaReport{Slot: a.Slot(), Stats: a.Stats()}
		}),
		Pools:    s.pools.Stats(),
		Graphics: s.graphics.Stats(),
	}
}

// Format renders the report for humans, grouping digits per tag's locale.
func (r Report) Format(tag language.Tag) string {
	p := message.NewPrinter(tag)
	var sb strings.Builder

	p.Fprintf(&sb, "page size:        %d\n", r.PageSize)
	if r.CommitLimit > 0 {
		p.Fprintf(&sb, "committed:        %d / %d bytes\n", r.CommittedBytes, r.CommitLimit)
	} else {
		p.Fprintf(&sb, "committed:        %d bytes (unlimited)\n", r.CommittedBytes)
	}
	p.Fprintf(&sb, "reservations:     %d\n", r.Reservations)
	p.Fprintf(&sb, "JS blocks:        %d live, %d bytes cached\n", r.LiveJSBlocks, r.CachedJSBytes)
	p.Fprintf(&sb, "physical memory:  %d available of %d bytes", r.AvailablePhysical, r.TotalPhysical)
	if r.LowMemory {
		sb.WriteString(" (LOW)")
	}
	sb.WriteString("\n")
	p.Fprintf(&sb, "shared heap:      %d live blocks, %d of %d bytes in use\n",
		r.Shared.LiveBlocks, r.Shared.InUseBytes, r.Shared.HeapBytes)
	for _, a := range r.Arenas {
		p.Fprintf(&sb, "arena slot %d:     %d live blocks, %d bytes committed\n",
			a.Slot, a.Stats.LiveBlocks, a.Stats.HeapBytes)
	}
	for _, ps := range r.Pools {
		p.Fprintf(&sb, "pool %-12s %d/%d objects of %d bytes, %d chunks\n",
			ps.Name+":", ps.Live, ps.Capacity, ps.ObjectSize, ps.Chunks)
	}
	p.Fprintf(&sb, "graphics:         %d buffers, %d bytes (peak %d)\n",
		r.Graphics.Buffers, r.Graphics.Bytes, r.Graphics.PeakBytes)
	return sb.String()
}
