package heap

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
)

// MoreCore supplies backing storage when a heap runs out. It returns a
// region of at least increment bytes, or ErrNoMoreCore (possibly wrapped)
// when no further growth is possible.
type MoreCore interface {
	MoreCore(increment int) ([]byte, error)
}

// MoreCoreFunc adapts a function to MoreCore.
type MoreCoreFunc func(increment int) ([]byte, error)

func (f MoreCoreFunc) MoreCore(increment int) ([]byte, error) { return f(increment) }

// CoreReleaser is implemented by MoreCore strategies that can take a
// segment back. Trim hands wholly free grown segments to it.
type CoreReleaser interface {
	ReleaseCore(seg []byte) error
}

// grow asks the strategy for a segment that can hold a block of need bytes.
func (hp *Heap) grow(need int) error {
	if hp.mc == nil {
		return ErrNoSpace
	}
	// Leave room for the segment's alignment skew.
	inc, ok := buf.RoundUp(need+align, hp.granularity)
	if !ok || inc > maxSegmentSize {
		return fmt.Errorf("%w: block of %d bytes exceeds segment limit", ErrNoSpace, need)
	}

	hp.stats.growCalls++
	seg, err := hp.mc.MoreCore(inc)
	if err != nil {
		hp.stats.growFailures++
		entry := hp.log.WithFields(logrus.Fields{"increment": inc, "need": need})
		if errors.Is(err, ErrNoMoreCore) {
			entry.Debug("more core exhausted")
		} else {
			entry.WithError(err).Warn("more core failed")
		}
		return fmt.Errorf("%w: %w", ErrNoSpace, err)
	}

	si, err := hp.addSegment(seg, true)
	if err != nil {
		hp.stats.growFailures++
		return fmt.Errorf("%w: %w", ErrNoSpace, err)
	}
	hp.stats.growBytes += int64(len(seg))
	hp.log.WithFields(logrus.Fields{"segment": si, "bytes": len(seg)}).Debug("heap grown")
	return nil
}

// Trim hands every wholly free grown segment back to the MoreCore strategy,
// when it implements CoreReleaser, and returns the number of bytes released.
// Segments are visited newest first so break-style strategies can shrink.
func (hp *Heap) Trim() (int, error) {
	rel, ok := hp.mc.(CoreReleaser)
	if !ok {
		return 0, nil
	}

	var (
		released int
		errs     *multierror.Error
	)
	for si := len(hp.segs) - 1; si >= 0; si-- {
		seg := hp.segs[si]
		if seg == nil || !seg.grown {
			continue
		}
		fb, ok := hp.byLoc[makeLoc(si, seg.start)]
		if !ok || fb.size != seg.end-seg.start {
			continue
		}
		hp.removeFree(fb)
		if err := rel.ReleaseCore(seg.data); err != nil {
			hp.insertFree(si, seg.start, seg.end-seg.start)
			errs = multierror.Append(errs, fmt.Errorf("segment %d: %w", si, err))
			continue
		}
		hp.segs[si] = nil
		released += len(seg.data)
	}
	hp.stats.trimmed += int64(released)
	if released > 0 {
		hp.log.WithField("bytes", released).Debug("heap trimmed")
	}
	return released, errs.ErrorOrNil()
}
