package heap

// counters holds internal allocator statistics.
type counters struct {
	allocCalls       int
	freeCalls        int
	failedAllocs     int
	growCalls        int
	growFailures     int
	growBytes        int64
	trimmed          int64
	splits           int
	coalesceForward  int
	coalesceBackward int
}

// Stats is a point-in-time snapshot of a heap.
type Stats struct {
	Segments   int   // live segments
	HeapBytes  int64 // usable bytes across live segments
	FreeBytes  int64 // bytes in free blocks (headers included)
	InUseBytes int64 // HeapBytes - FreeBytes
	LiveBlocks int
	FreeBlocks int

	AllocCalls       int
	FreeCalls        int
	FailedAllocs     int
	GrowCalls        int
	GrowFailures     int
	GrowBytes        int64
	TrimmedBytes     int64
	SplitCount       int
	CoalesceForward  int
	CoalesceBackward int
}

// Stats returns a snapshot of the heap's usage and counters.
func (hp *Heap) Stats() Stats {
	s := Stats{
		LiveBlocks:       len(hp.live),
		FreeBlocks:       len(hp.byLoc),
		AllocCalls:       hp.stats.allocCalls,
		FreeCalls:        hp.stats.freeCalls,
		FailedAllocs:     hp.stats.failedAllocs,
		GrowCalls:        hp.stats.growCalls,
		GrowFailures:     hp.stats.growFailures,
		GrowBytes:        hp.stats.growBytes,
		TrimmedBytes:     hp.stats.trimmed,
		SplitCount:       hp.stats.splits,
		CoalesceForward:  hp.stats.coalesceForward,
		CoalesceBackward: hp.stats.coalesceBackward,
	}
	for _, seg := range hp.segs {
		if seg == nil {
			continue
		}
		s.Segments++
		s.HeapBytes += int64(seg.end - seg.start)
	}
	for _, fb := range hp.byLoc {
		s.FreeBytes += int64(fb.size)
	}
	s.InUseBytes = s.HeapBytes - s.FreeBytes
	return s
}
