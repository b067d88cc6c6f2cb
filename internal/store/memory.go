package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process KV. It honours the same quota semantics as the
// durable backends and is used by tests and the "memory" backend.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	quota int64
}

// NewMemory creates an empty MemoryStore. A quota <= 0 disables the limit.
func NewMemory(quota int64) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), quota: quota}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value under key.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota > 0 {
		used := int64(len(key) + len(value))
		for k, v := range m.data {
			if k != key {
				used += int64(len(k) + len(v))
			}
		}
		if used > m.quota {
			return quotaError(used, m.quota)
		}
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
