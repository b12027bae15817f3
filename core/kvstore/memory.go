package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory store with an optional size quota
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	size   int
	quota  int
}

// NewMemory returns a new in-memory store. With quota > 0, the sum of all key and value
// lengths may not exceed quota bytes; writes beyond that fail with ErrQuotaExceeded.
func NewMemory(quota int) *Memory {
	return &Memory{values: map[string][]byte{}, quota: quota}
}

// Get implements Store
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set implements Store
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := m.size
	if old, ok := m.values[key]; ok {
		size -= len(key) + len(old)
	}
	size += len(key) + len(value)
	if m.quota > 0 && size > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = append([]byte(nil), value...)
	m.size = size
	return nil
}

// Delete implements Store
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok {
		m.size -= len(key) + len(old)
		delete(m.values, key)
	}
	return nil
}

// Keys implements Store. The keys are sorted.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the number of bytes currently accounted against the quota
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
