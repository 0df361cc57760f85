package manager

import "fmt"

// CommitLock takes the commit lock. Callers batching their own commits
// hold it around CanCommit, DidCommit and DidDecommit.
func (m *Manager) CommitLock() { m.commitMu.Lock() }

// CommitUnlock releases the commit lock.
func (m *Manager) CommitUnlock() { m.commitMu.Unlock() }

// CanCommit reports whether n more bytes fit the commit budget.
// The commit lock must be held.
func (m *Manager) CanCommit(n int) bool {
	return m.cfg.CommitLimit == 0 || int(m.committed.Load())+n <= m.cfg.CommitLimit
}

// DidCommit records n committed bytes. The commit lock must be held.
func (m *Manager) DidCommit(n int) { m.committed.Add(int64(n)) }

// DidDecommit records n decommitted bytes. The commit lock must be held.
func (m *Manager) DidDecommit(n int) { m.committed.Add(-int64(n)) }

// CommittedBytes returns the bytes currently committed through the manager.
func (m *Manager) CommittedBytes() int { return int(m.committed.Load()) }

// CommitLimit returns the configured budget (0 = unlimited).
func (m *Manager) CommitLimit() int { return m.cfg.CommitLimit }

// commitPages commits a page-aligned range against the budget.
func (m *Manager) commitPages(addr uintptr, n int) error {
	m.CommitLock()
	defer m.CommitUnlock()

	if !m.CanCommit(n) {
		return fmt.Errorf("%w: %d committed, %d requested, limit %d",
			ErrCommitLimit, m.CommittedBytes(), n, m.cfg.CommitLimit)
	}
	if err := m.vm.Commit(addr, n); err != nil {
		return fmt.Errorf("manager: commit %#x+%d: %w", addr, n, err)
	}
	m.DidCommit(n)
	return nil
}

func (m *Manager) decommitPages(addr uintptr, n int) error {
	m.CommitLock()
	defer m.CommitUnlock()

	if err := m.vm.Decommit(addr, n); err != nil {
		return fmt.Errorf("manager: decommit %#x+%d: %w", addr, n, err)
	}
	m.DidDecommit(n)
	return nil
}
