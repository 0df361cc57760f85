package heap

import "fmt"

// Validate walks every segment and checks the block chain: sizes tile the
// segment exactly, prev-size links agree, no two free blocks are adjacent,
// and the free and live indexes match the headers. It is O(n) and intended
// for tests and diagnostics.
func (hp *Heap) Validate() error {
	seenFree, seenLive := 0, 0
	for si, seg := range hp.segs {
		if seg == nil {
			continue
		}
		prev, prevFree := 0, false
		for off := seg.start; off < seg.end; {
			size := blockSizeAt(seg.data, off)
			if size < minBlockSize || size%align != 0 || off+size > seg.end {
				return fmt.Errorf("heap: segment %d offset %d: bad block size %d", si, off, size)
			}
			if got := prevSizeAt(seg.data, off); got != prev {
				return fmt.Errorf("heap: segment %d offset %d: prev size %d, want %d", si, off, got, prev)
			}
			loc := makeLoc(si, off)
			used := inUseAt(seg.data, off)
			_, isLive := hp.live[loc]
			fb, isFree := hp.byLoc[loc]
			switch {
			case used && !isLive:
				return fmt.Errorf("heap: segment %d offset %d: in-use block not tracked", si, off)
			case !used && (!isFree || fb.size != size):
				return fmt.Errorf("heap: segment %d offset %d: free block not indexed", si, off)
			case !used && prevFree:
				return fmt.Errorf("heap: segment %d offset %d: adjacent free blocks", si, off)
			}
			if used {
				seenLive++
			} else {
				seenFree++
			}
			prev, prevFree = size, !used
			off += size
		}
	}
	if seenFree != len(hp.byLoc) || seenLive != len(hp.live) {
		return fmt.Errorf("heap: index mismatch: walked %d free/%d live, indexed %d/%d",
			seenFree, seenLive, len(hp.byLoc), len(hp.live))
	}
	return nil
}
