package checkpoint

import (
	"sync"
)

// MemoryCounter is an in-process IDCounter. It survives nothing; use it
// for tests or pair it with SeedFromStore so a restarted coordinator
// resumes above the store's highest id.
type MemoryCounter struct {
	mu   sync.Mutex
	last int64
}

// Compile-time interface check.
var _ IDCounter = (*MemoryCounter)(nil)

// NewMemoryCounter creates a counter whose first Next returns seed+1.
func NewMemoryCounter(seed int64) *MemoryCounter {
	return &MemoryCounter{last: seed}
}

// Next implements IDCounter.
func (c *MemoryCounter) Next() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last, nil
}

// SeedFromStore returns the seed a fresh counter must start above when
// no counter-specific durable state exists: the store's highest
// completed id, or 0 for an empty store.
func SeedFromStore(store CompletedStore) (int64, error) {
	return store.LatestID()
}
