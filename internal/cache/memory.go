package cache

import (
	"bytes"
	"context"
	"sync"
)

// Memory is a map backed Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key, and false when there is none.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	value, ok := m.values[key]
	m.mu.RUnlock()

	recordGet(ctx, key, ok)
	if !ok {
		return nil, false, nil
	}

	return bytes.Clone(value), true, nil
}

// Put stores a copy of data under key.
func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.values[key] = bytes.Clone(data)
	m.mu.Unlock()

	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}
