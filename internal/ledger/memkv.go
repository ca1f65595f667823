package ledger

import (
	"context"
	"sync"
)

// MemKV is an in-memory KV implementation for tests and the one-shot CLI
// paths that do not need durability. Multi-key writes are atomic under the
// mutex, matching the store.Store transaction guarantee.
type MemKV struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemKV creates an empty in-memory store.
func NewMemKV() *MemKV {
	return &MemKV{entries: make(map[string]string)}
}

func (m *MemKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *MemKV) PutAll(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range entries {
		m.entries[key] = value
	}
	return nil
}

func (m *MemKV) DeleteAll(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}
