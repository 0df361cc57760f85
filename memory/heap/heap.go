package heap

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/internal/platform"
)

// Runtime debug flag for allocation logging - controlled by MEMKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("MEMKIT_LOG_ALLOC") != ""

// defaultGrowthGranularity is the smallest increment requested from MoreCore.
const defaultGrowthGranularity = 64 << 10

// Options configures a Heap. The zero value is usable.
type Options struct {
	// SizeClasses selects the free-list bucketing. Nil means DefaultSizeClasses.
	SizeClasses *SizeClassConfig

	// GrowthGranularity is the minimum number of bytes requested from MoreCore
	// per growth step. Zero means 64 KiB.
	GrowthGranularity int

	// Name tags log lines, e.g. "shared" or "slot-0".
	Name string
}

// segment is one contiguous backing region.
type segment struct {
	data  []byte
	start int  // offset of the first header
	end   int  // end of the usable range
	grown bool // obtained from MoreCore (eligible for Trim)
}

// Heap is a boundary-tag allocator over one or more segments. It is not safe
// for concurrent use.
type Heap struct {
	segs []*segment
	mc   MoreCore

	sizeTable *sizeClassTable

	// Segregated free lists: one min-heap per size class plus the large list.
	freeLists []freeList

	// O(1) lookup of free blocks by location, used for coalescing
	byLoc map[uint64]*freeBlock

	// Header locations of live allocations; detects double free and foreign refs
	live map[uint64]struct{}

	blockPool sync.Pool

	granularity int
	stats       counters
	log         *logrus.Entry
}

// New creates a heap. initial, when non-nil, becomes the first segment and
// is never handed back by Trim. mc, when non-nil, is invoked to obtain more
// segments when no free block fits. At least one of them must be supplied.
func New(initial []byte, mc MoreCore, opts *Options) (*Heap, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg := opts.SizeClasses
	if cfg == nil {
		cfg = &DefaultSizeClasses
	}
	table := newSizeClassTable(*cfg)

	hp := &Heap{
		mc:          mc,
		sizeTable:   table,
		freeLists:   make([]freeList, table.numClasses+1),
		byLoc:       make(map[uint64]*freeBlock, 64),
		live:        make(map[uint64]struct{}, 256),
		granularity: opts.GrowthGranularity,
		blockPool: sync.Pool{
			New: func() any { return &freeBlock{} },
		},
		log: logger.For("heap").WithField("heap", opts.Name),
	}
	if hp.granularity <= 0 {
		hp.granularity = defaultGrowthGranularity
	}

	if initial == nil && mc == nil {
		return nil, fmt.Errorf("%w: no initial region and no more-core strategy", ErrRegionTooSmall)
	}
	if initial != nil {
		if _, err := hp.addSegment(initial, false); err != nil {
			return nil, err
		}
	}
	return hp, nil
}

// addSegment aligns data, writes one free block covering it, and returns the
// new segment index.
func (hp *Heap) addSegment(data []byte, grown bool) (int, error) {
	base := platform.Addr(data)
	start := int((align - base%align) % align)
	n := min(len(data), maxSegmentSize)
	if n-start < minBlockSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRegionTooSmall, len(data))
	}
	usable := (n - start) &^ (align - 1)

	seg := &segment{data: data, start: start, end: start + usable, grown: grown}
	si := len(hp.segs)
	hp.segs = append(hp.segs, seg)

	setPrev(data, start, 0)
	hp.insertFree(si, start, usable)
	return si, nil
}

// Alloc returns a block with at least size usable bytes. Exhaustion is
// reported as ErrNoSpace. Alloc(0) returns a unique minimal block.
func (hp *Heap) Alloc(size int) (Ref, []byte, error) {
	hp.stats.allocCalls++

	need, ok := blockSize(size)
	if !ok {
		hp.stats.failedAllocs++
		return Nil, nil, fmt.Errorf("%w: request of %d bytes", ErrNoSpace, size)
	}

	fb := hp.findFree(need)
	if fb == nil {
		if err := hp.grow(need); err != nil {
			hp.stats.failedAllocs++
			return Nil, nil, err
		}
		if fb = hp.findFree(need); fb == nil {
			hp.stats.failedAllocs++
			return Nil, nil, ErrNoSpace
		}
	}

	si, off := locSegment(fb.loc), locOffset(fb.loc)
	hp.place(fb, need)

	if logAlloc {
		hp.log.WithFields(logrus.Fields{"size": size, "block": need, "seg": si, "off": off}).Debug("alloc")
	}

	ref := makeRef(si, off+headerSize)
	return ref, hp.payload(si, off), nil
}

// place marks fb in use, splitting off the remainder when it can hold a block.
func (hp *Heap) place(fb *freeBlock, need int) {
	si, off, size := locSegment(fb.loc), locOffset(fb.loc), fb.size
	hp.putFreeBlock(fb)
	seg := hp.segs[si]

	if rem := size - need; rem >= minBlockSize {
		hp.stats.splits++
		setHeader(seg.data, off, need, true)
		tail := off + need
		setPrev(seg.data, tail, need)
		hp.setPrevOfNext(si, tail, rem)
		hp.insertFree(si, tail, rem)
	} else {
		setHeader(seg.data, off, size, true)
	}
	hp.live[makeLoc(si, off)] = struct{}{}
}

// Free returns a block to the heap, coalescing with free neighbours.
// Freeing Nil is a no-op.
func (hp *Heap) Free(ref Ref) error {
	if ref == Nil {
		return nil
	}
	si, off, err := hp.resolve(ref, "heap.Free")
	if err != nil {
		return err
	}
	hp.stats.freeCalls++
	delete(hp.live, makeLoc(si, off))
	hp.release(si, off)
	return nil
}

// release turns the block at off into a free block, merging it with free
// neighbours within the same segment.
func (hp *Heap) release(si, off int) {
	seg := hp.segs[si]
	size := blockSizeAt(seg.data, off)

	if next := off + size; next < seg.end {
		if fb, ok := hp.byLoc[makeLoc(si, next)]; ok {
			hp.stats.coalesceForward++
			size += fb.size
			hp.removeFree(fb)
		}
	}

	if prev := prevSizeAt(seg.data, off); prev > 0 {
		if fb, ok := hp.byLoc[makeLoc(si, off-prev)]; ok {
			hp.stats.coalesceBackward++
			off -= prev
			size += prev
			hp.removeFree(fb)
		}
	}

	hp.setPrevOfNext(si, off, size)
	hp.insertFree(si, off, size)
}

// setPrevOfNext records size as the prev-size of the block following off.
func (hp *Heap) setPrevOfNext(si, off, size int) {
	seg := hp.segs[si]
	if next := off + size; next < seg.end {
		setPrev(seg.data, next, size)
	}
}

// Calloc allocates num*size zeroed bytes. Overflow is reported as exhaustion.
func (hp *Heap) Calloc(num, size int) (Ref, []byte, error) {
	if num < 0 || size < 0 {
		return Nil, nil, fmt.Errorf("%w: calloc(%d, %d)", ErrNoSpace, num, size)
	}
	total, ok := buf.MulOverflowSafe(num, size)
	if !ok {
		hp.stats.failedAllocs++
		return Nil, nil, fmt.Errorf("%w: calloc(%d, %d) overflows", ErrNoSpace, num, size)
	}
	ref, b, err := hp.Alloc(total)
	if err != nil {
		return Nil, nil, err
	}
	clear(b)
	return ref, b, nil
}

// Realloc resizes the block in place when possible and otherwise moves it.
// Realloc(Nil, n) allocates; Realloc(ref, 0) frees and returns Nil. When a
// move fails the original block is left untouched.
func (hp *Heap) Realloc(ref Ref, size int) (Ref, []byte, error) {
	if ref == Nil {
		return hp.Alloc(size)
	}
	if size == 0 {
		return Nil, nil, hp.Free(ref)
	}

	ok, err := hp.Resize(ref, size)
	if err != nil {
		return Nil, nil, err
	}
	if ok {
		b, err := hp.Bytes(ref)
		return ref, b, err
	}

	old, err := hp.Bytes(ref)
	if err != nil {
		return Nil, nil, err
	}
	nref, nb, err := hp.Alloc(size)
	if err != nil {
		return Nil, nil, err
	}
	copy(nb, old)
	if err := hp.Free(ref); err != nil {
		return Nil, nil, err
	}
	return nref, nb, nil
}

// Resize grows or shrinks a block without moving it. It returns false, with
// the block unchanged, when growth would need relocation.
func (hp *Heap) Resize(ref Ref, size int) (bool, error) {
	si, off, err := hp.resolve(ref, "heap.Resize")
	if err != nil {
		return false, err
	}
	need, ok := blockSize(size)
	if !ok {
		return false, nil
	}
	seg := hp.segs[si]
	cur := blockSizeAt(seg.data, off)

	if need <= cur {
		if rem := cur - need; rem >= minBlockSize {
			hp.stats.splits++
			setHeader(seg.data, off, need, true)
			tail := off + need
			setHeader(seg.data, tail, rem, false)
			setPrev(seg.data, tail, need)
			hp.release(si, tail)
		}
		return true, nil
	}

	next := off + cur
	if next >= seg.end {
		return false, nil
	}
	fb, ok := hp.byLoc[makeLoc(si, next)]
	if !ok || cur+fb.size < need {
		return false, nil
	}
	combined := cur + fb.size
	hp.removeFree(fb)

	if rem := combined - need; rem >= minBlockSize {
		hp.stats.splits++
		setHeader(seg.data, off, need, true)
		tail := off + need
		setPrev(seg.data, tail, need)
		hp.setPrevOfNext(si, tail, rem)
		hp.insertFree(si, tail, rem)
	} else {
		setHeader(seg.data, off, combined, true)
		hp.setPrevOfNext(si, off, combined)
	}
	return true, nil
}

// Memalign returns a block whose payload address is a multiple of alignment,
// which must be a power of two.
func (hp *Heap) Memalign(alignment, size int) (Ref, []byte, error) {
	if !buf.IsPowerOfTwo(alignment) {
		return Nil, nil, contract.Violationf("heap.Memalign", "alignment %d is not a power of two", alignment)
	}
	if alignment <= align {
		return hp.Alloc(size)
	}
	need, ok := blockSize(size)
	if !ok {
		return Nil, nil, fmt.Errorf("%w: request of %d bytes", ErrNoSpace, size)
	}
	// Room for the block plus a leading fragment that can stand on its own.
	req, ok := buf.AddOverflowSafe(need, alignment+minBlockSize)
	if !ok {
		return Nil, nil, fmt.Errorf("%w: request of %d bytes", ErrNoSpace, size)
	}

	ref, _, err := hp.Alloc(req - headerSize)
	if err != nil {
		return Nil, nil, err
	}
	si, off := ref.segment(), ref.offset()-headerSize
	seg := hp.segs[si]

	p := platform.Addr(seg.data) + uintptr(off+headerSize)
	gap := int(buf.AlignUptr(p, alignment) - p)
	if gap > 0 && gap < minBlockSize {
		gap += alignment
	}
	if gap > 0 {
		total := blockSizeAt(seg.data, off)
		newOff := off + gap

		delete(hp.live, makeLoc(si, off))
		setHeader(seg.data, newOff, total-gap, true)
		setPrev(seg.data, newOff, gap)
		hp.setPrevOfNext(si, newOff, total-gap)
		hp.live[makeLoc(si, newOff)] = struct{}{}

		setHeader(seg.data, off, gap, false)
		hp.release(si, off)
		off = newOff
		ref = makeRef(si, off+headerSize)
	}

	// Give back whatever trails the aligned block.
	if _, err := hp.Resize(ref, size); err != nil {
		return Nil, nil, err
	}
	return ref, hp.payload(si, off), nil
}

// Bytes returns the usable payload of a live block.
func (hp *Heap) Bytes(ref Ref) ([]byte, error) {
	si, off, err := hp.resolve(ref, "heap.Bytes")
	if err != nil {
		return nil, err
	}
	return hp.payload(si, off), nil
}

// UsableSize returns the payload capacity of a live block, or 0 for an
// invalid reference.
func (hp *Heap) UsableSize(ref Ref) int {
	si, off, ok := hp.lookup(ref)
	if !ok {
		return 0
	}
	return blockSizeAt(hp.segs[si].data, off) - headerSize
}

// Owns reports whether ref is a live allocation of this heap.
func (hp *Heap) Owns(ref Ref) bool {
	_, _, ok := hp.lookup(ref)
	return ok
}

// Live returns the number of live allocations.
func (hp *Heap) Live() int { return len(hp.live) }

func (hp *Heap) payload(si, off int) []byte {
	data := hp.segs[si].data
	end := off + blockSizeAt(data, off)
	return data[off+headerSize : end : end]
}

func (hp *Heap) lookup(ref Ref) (si, off int, ok bool) {
	if ref == Nil {
		return 0, 0, false
	}
	si = ref.segment()
	off = ref.offset() - headerSize
	if si >= len(hp.segs) || hp.segs[si] == nil || off < 0 {
		return 0, 0, false
	}
	if _, ok := hp.live[makeLoc(si, off)]; !ok {
		return 0, 0, false
	}
	return si, off, true
}

// resolve validates ref for op, reporting misuse as a contract violation.
func (hp *Heap) resolve(ref Ref, op string) (si, off int, err error) {
	si, off, ok := hp.lookup(ref)
	if !ok {
		return 0, 0, contract.Violationf(op, "ref %#x is not a live allocation of this heap", uint64(ref))
	}
	return si, off, nil
}
