package checkpoint

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryStore returns a store pre-populated with seed (may be nil).
func NewMemoryStore(seed map[string]string) *MemoryStore {
	entries := make(map[string]string, len(seed))
	maps.Copy(entries, seed)

	return &MemoryStore{entries: entries}
}

func (m *MemoryStore) ListKeys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Collect(maps.Keys(m.entries)), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entries[key], nil
}

func (m *MemoryStore) Put(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = token

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

// List returns every entry ordered by key.
func (m *MemoryStore) List(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, k := range slices.Sorted(maps.Keys(m.entries)) {
		entries = append(entries, Entry{Key: k, Token: m.entries[k]})
	}

	return entries, nil
}

// Snapshot returns a copy of every entry.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.entries)
}
