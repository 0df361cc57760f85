package heap

import (
	"container/heap"
)

// freeList is a size-class-specific free list using a min-heap.
type freeList struct {
	heap freeBlockHeap
}

// freeBlock is a free block indexed by location. Blocks live in min-heaps
// for best-fit selection and in byLoc for O(1) lookup during coalescing.
type freeBlock struct {
	loc       uint64 // segment<<32 | header offset
	size      int    // block size including header
	sc        int    // size class (which list this belongs to)
	heapIndex int    // position in heap (for heap.Remove)
}

// freeBlockHeap implements heap.Interface, smallest block first. Ties break
// on location so allocation order is deterministic.
type freeBlockHeap []*freeBlock

func (h *freeBlockHeap) Len() int { return len(*h) }

func (h *freeBlockHeap) Less(i, j int) bool {
	a, b := (*h)[i], (*h)[j]
	if a.size != b.size {
		return a.size < b.size
	}
	return a.loc < b.loc
}

func (h *freeBlockHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *freeBlockHeap) Push(x any) {
	fb := x.(*freeBlock) //nolint:errcheck // heap.Interface contract guarantees type
	fb.heapIndex = len(*h)
	*h = append(*h, fb)
}

func (h *freeBlockHeap) Pop() any {
	old := *h
	n := len(old)
	fb := old[n-1]
	old[n-1] = nil
	fb.heapIndex = -1
	*h = old[0 : n-1]
	return fb
}

// findFree returns the best free block of at least need bytes, already
// removed from the index, or nil.
func (hp *Heap) findFree(need int) *freeBlock {
	for sc := hp.sizeTable.getSizeClass(need); sc < len(hp.freeLists); sc++ {
		if fb := hp.allocFromSizeClass(sc, need); fb != nil {
			return fb
		}
	}
	return nil
}

// allocFromSizeClass pops a fitting block from one class.
func (hp *Heap) allocFromSizeClass(sc int, need int) *freeBlock {
	list := &hp.freeLists[sc]
	if list.heap.Len() == 0 {
		return nil
	}

	// Fast path: heap[0] is the smallest block in this class.
	// If it fits, it's the best fit by definition.
	if list.heap[0].size >= need {
		fb := heap.Pop(&list.heap).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
		delete(hp.byLoc, fb.loc)
		return fb
	}

	// Slow path: only the request's own class (or the large list) can hold
	// blocks smaller than need. Scan it, accepting the first block within
	// fitTolerance of optimal. The scan is not bounded: a fixed heap must not
	// report exhaustion while a fitting block exists.
	const fitTolerance = 64

	bestIdx := -1
	bestSize := int(^uint(0) >> 1)
	maxAcceptable := need + fitTolerance

	for i := 1; i < list.heap.Len(); i++ {
		size := list.heap[i].size
		if size < need {
			continue
		}
		if size <= maxAcceptable {
			bestIdx = i
			break
		}
		if size < bestSize {
			bestIdx = i
			bestSize = size
		}
	}

	if bestIdx == -1 {
		return nil
	}

	fb := heap.Remove(&list.heap, bestIdx).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
	delete(hp.byLoc, fb.loc)
	return fb
}

// insertFree records a free block and writes its header.
func (hp *Heap) insertFree(si, off, size int) {
	seg := hp.segs[si]
	setHeader(seg.data, off, size, false)

	fb := hp.getFreeBlock()
	fb.loc = makeLoc(si, off)
	fb.size = size
	fb.sc = hp.sizeTable.getSizeClass(size)
	heap.Push(&hp.freeLists[fb.sc].heap, fb)
	hp.byLoc[fb.loc] = fb
}

// removeFree drops a block from its list and the location index.
func (hp *Heap) removeFree(fb *freeBlock) {
	heap.Remove(&hp.freeLists[fb.sc].heap, fb.heapIndex)
	delete(hp.byLoc, fb.loc)
	hp.putFreeBlock(fb)
}

func (hp *Heap) getFreeBlock() *freeBlock {
	fb, ok := hp.blockPool.Get().(*freeBlock)
	if !ok {
		return &freeBlock{}
	}
	return fb
}

func (hp *Heap) putFreeBlock(fb *freeBlock) {
	fb.heapIndex = -1
	fb.sc = 0
	hp.blockPool.Put(fb)
}
