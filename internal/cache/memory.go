package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store, used when no durable backend is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return "", time.Time{}, false, nil
	}
	return e.value, e.expiresAt, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
