// Package heap implements the segmented boundary-tag allocator behind both
// the shared MemoryAllocator and the isolated per-slot arenas.
//
// # Layout
//
// A heap owns one or more segments. Each segment is tiled by blocks with an
// 8-byte header recording the block size, an in-use flag, and the size of
// the physically preceding block. The prev-size field lets Free merge with
// the block before it in O(1) without walking the segment.
//
// # Free lists
//
// Free blocks are bucketed into size classes (see SizeClassConfig), each a
// min-heap keyed on block size, so the top of a bucket is the best fit:
//
//	Alloc(need):
//	  for sc := class(need); sc < numLists; sc++ {
//	      if top(sc).size >= need { return pop(sc) }   // fast path
//	      scan(sc)                                      // request's own class only
//	  }
//	  grow via MoreCore, then retry once
//
// A byLoc index maps block locations to free-list entries for coalescing.
// Allocated blocks are split when the remainder can hold a minimal block.
//
// # References
//
// Allocations are addressed by Ref (segment index and payload offset) rather
// than by pointer. The heap keeps the set of live references, so freeing a
// foreign or already-freed Ref is detected and reported as a contract
// violation instead of corrupting the free lists.
//
// # Growth
//
// When no block fits, the heap asks its MoreCore strategy for a new segment
// of at least GrowthGranularity bytes. A strategy signals "no more memory"
// with ErrNoMoreCore; the allocation then fails with ErrNoSpace. Segments are
// never merged, even when a strategy returns contiguous memory. Trim returns
// wholly free grown segments to strategies implementing CoreReleaser.
//
// A Heap is not safe for concurrent use; callers serialize access.
package heap
