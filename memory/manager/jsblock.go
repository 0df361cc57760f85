package manager

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/internal/platform"
)

// jsBlock is one script heap block. The reservation may be larger than the
// block to make room for alignment; only [start, start+size) is committed.
type jsBlock struct {
	res   reservation
	start uintptr
	size  int
}

func (b *jsBlock) bytes() []byte { return platform.Bytes(b.start, b.size) }

// jsAlignment returns the alignment for a block of rounded bytes.
func (m *Manager) jsAlignment(rounded int) int {
	a := m.cfg.JSBlockAlignment
	if a == 0 {
		a = m.pageSize
		if buf.IsPowerOfTwo(rounded) {
			a = rounded
		}
	}
	return max(a, m.pageSize)
}

// AllocateJSBlock returns a committed, zeroed block of at least size bytes,
// rounded up to whole pages and aligned per Config.JSBlockAlignment.
func (m *Manager) AllocateJSBlock(size int) ([]byte, error) {
	const op = "manager.AllocateJSBlock"
	if err := m.ready(op); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, contract.Violationf(op, "size %d is not positive", size)
	}
	rounded, ok := buf.AlignUp(size, m.pageSize)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", ErrReserveFailed, size)
	}
	alignment := m.jsAlignment(rounded)

	if blk := m.takeCached(rounded, alignment); blk != nil {
		b := blk.bytes()
		clear(b)
		m.blocks[blk.start] = blk
		return b, nil
	}

	start, res, err := m.reserveAligned(rounded, alignment)
	if err != nil {
		return nil, fmt.Errorf("manager: JS block of %d bytes: %w", rounded, err)
	}
	blk := &jsBlock{res: res, start: start, size: rounded}
	if err := m.commitPages(blk.start, rounded); err != nil {
		if rerr := m.release(res); rerr != nil {
			m.log.WithError(rerr).Warn("release after failed commit")
		}
		return nil, err
	}

	b := blk.bytes()
	if m.cfg.Prefault {
		if err := platform.Populate(b); err != nil {
			m.log.WithError(err).Warn("prefault failed")
		}
	}
	m.blocks[blk.start] = blk
	if logAlloc {
		m.log.WithFields(logrus.Fields{
			"start": fmt.Sprintf("%#x", blk.start),
			"size":  rounded,
			"align": alignment,
		}).Debug("JS block allocated")
	}
	return b, nil
}

// takeCached removes and returns a cached block of exactly size bytes whose
// start satisfies alignment.
func (m *Manager) takeCached(size, alignment int) *jsBlock {
	for i := len(m.cache) - 1; i >= 0; i-- {
		blk := m.cache[i]
		if blk.size != size || blk.start%uintptr(alignment) != 0 {
			continue
		}
		m.cache = append(m.cache[:i], m.cache[i+1:]...)
		m.cached -= blk.size
		return blk
	}
	return nil
}

// FreeJSBlock returns a block obtained from AllocateJSBlock. The block is
// identified by its first byte.
func (m *Manager) FreeJSBlock(b []byte) error {
	const op = "manager.FreeJSBlock"
	if err := m.ready(op); err != nil {
		return err
	}
	start := platform.Addr(b)
	blk, ok := m.blocks[start]
	if !ok {
		return contract.Violationf(op, "%#x is not a live JS block", start)
	}
	delete(m.blocks, start)

	if m.cached+blk.size <= m.cfg.JSBlockCacheSize {
		m.cache = append(m.cache, blk)
		m.cached += blk.size
		return nil
	}
	return m.releaseBlock(blk)
}

func (m *Manager) releaseBlock(blk *jsBlock) error {
	if err := m.decommitPages(blk.start, blk.size); err != nil {
		return err
	}
	if err := m.release(blk.res); err != nil {
		return fmt.Errorf("manager: release JS block %#x: %w", blk.start, err)
	}
	return nil
}

// FreeCachedPages decommits and releases every cached JS block and returns
// the number of bytes given back.
func (m *Manager) FreeCachedPages() int {
	freed := 0
	for _, blk := range m.cache {
		if err := m.releaseBlock(blk); err != nil {
			m.log.WithError(err).Warn("free cached JS block")
			continue
		}
		freed += blk.size
	}
	m.cache = nil
	m.cached = 0
	if freed > 0 {
		m.log.WithField("bytes", freed).Debug("cached pages freed")
	}
	return freed
}

// LiveJSBlocks returns the number of JS blocks handed out and not freed.
func (m *Manager) LiveJSBlocks() int { return len(m.blocks) }

// CachedBytes returns the bytes held in the JS block cache.
func (m *Manager) CachedBytes() int { return m.cached }
