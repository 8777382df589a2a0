package kvstore

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store that keeps its keys sorted.
type MemoryStore struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		i := sort.SearchStrings(m.keys, key)
		m.keys = slices.Insert(m.keys, i, key)
	}
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	i := sort.SearchStrings(m.keys, key)
	m.keys = slices.Delete(m.keys, i, i+1)
	return nil
}

func (m *MemoryStore) GetNextKey(_ context.Context, prior string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.SearchStrings(m.keys, prior)
	if i < len(m.keys) && m.keys[i] == prior {
		i++
	}
	if i >= len(m.keys) {
		return "", false, nil
	}
	return m.keys[i], true, nil
}

// Len returns the number of keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Entries returns a copy of all entries in key order.
func (m *MemoryStore) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.keys))
	for i, k := range m.keys {
		out[i] = Entry{Key: k, Value: m.values[k]}
	}
	return out
}

// Map returns a copy of the contents as a map.
func (m *MemoryStore) Map() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
