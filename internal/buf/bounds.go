package buf

import (
	"fmt"
	"math"
	"math/bits"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would overflow int.
// Allocators use it for count * elementSize requests (calloc, pool chunks).
func MulOverflowSafe(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > 0 && b > 0 {
		if a > math.MaxInt/b {
			return 0, false
		}
	}
	if a < 0 && b < 0 {
		if a < math.MaxInt/b {
			return 0, false
		}
	}
	// Mixed signs - check against MinInt
	if a > 0 && b < 0 {
		if b < math.MinInt/a {
			return 0, false
		}
	}
	if a < 0 && b > 0 {
		if a < math.MinInt/b {
			return 0, false
		}
	}
	return a * b, true
}

// CheckSpan validates that count elements of elementSize bytes fit in a buffer
// of bufLen bytes starting at offset. Returns the end offset if valid, or an
// error describing the specific failure (overflow or out of bounds).
//
//	end, err := buf.CheckSpan(len(chunk), slot*objSize, 1, objSize)
//	if err != nil {
//	    return fmt.Errorf("objalloc: %w", err)
//	}
func CheckSpan(bufLen, offset, count, elementSize int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset: %d", offset)
	}
	if count < 0 {
		return 0, fmt.Errorf("negative count: %d", count)
	}
	if elementSize < 0 {
		return 0, fmt.Errorf("negative element size: %d", elementSize)
	}

	totalSize, ok := MulOverflowSafe(count, elementSize)
	if !ok {
		return 0, fmt.Errorf("overflow: count=%d * elemSize=%d", count, elementSize)
	}

	endOffset, ok := AddOverflowSafe(offset, totalSize)
	if !ok {
		return 0, fmt.Errorf("overflow: offset=%d + size=%d", offset, totalSize)
	}

	if endOffset > bufLen {
		return 0, fmt.Errorf("bounds: end=%d > len=%d", endOffset, bufLen)
	}

	return endOffset, nil
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
// ok is false when the result would overflow int.
func AlignUp(n, align int) (int, bool) {
	sum, ok := AddOverflowSafe(n, align-1)
	if !ok {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// RoundUp rounds n up to a multiple of m, which may be any positive value.
// ok is false when the result would overflow int.
func RoundUp(n, m int) (int, bool) {
	sum, ok := AddOverflowSafe(n, m-1)
	if !ok {
		return 0, false
	}
	return sum - sum%m, true
}

// AlignUptr rounds an address up to a multiple of align (a power of two).
func AlignUptr(p uintptr, align int) uintptr {
	a := uintptr(align)
	return (p + a - 1) &^ (a - 1)
}
