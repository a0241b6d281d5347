package checkpoint

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory completed-checkpoint store for testing.
// Data is lost when the process exits, so its Add is "durable" only for
// the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*CompletedCheckpoint // increasing id order
	closed  bool
}

// Compile-time interface check.
var _ CompletedStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory completed-checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add implements CompletedStore.
func (m *MemoryStore) Add(record *CompletedCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for _, r := range m.records {
		if r.ID == record.ID {
			return ErrDuplicateID
		}
	}

	m.records = append(m.records, record)
	sort.Slice(m.records, func(i, j int) bool {
		return m.records[i].ID < m.records[j].ID
	})
	return nil
}

// Subsume implements CompletedStore.
func (m *MemoryStore) Subsume(retain int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if retain < 1 || len(m.records) <= retain {
		return 0, nil
	}

	discard := m.records[:len(m.records)-retain]
	m.records = m.records[len(m.records)-retain:]

	var firstErr error
	for _, r := range discard {
		if err := r.DiscardState(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(discard), firstErr
}

// LatestID implements CompletedStore.
func (m *MemoryStore) LatestID() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if len(m.records) == 0 {
		return 0, nil
	}
	return m.records[len(m.records)-1].ID, nil
}

// All implements CompletedStore.
func (m *MemoryStore) All() ([]*CompletedCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*CompletedCheckpoint, len(m.records))
	copy(out, m.records)
	return out, nil
}

// Close implements CompletedStore.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of retained checkpoints. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
