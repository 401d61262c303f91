package credentials

import (
	"context"
	"sync"
)

// MemoryKeyValueStore is an in-process KeyValueStore. Values are copied on
// the way in and out.
type MemoryKeyValueStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryKeyValueStore creates an empty in-memory store
func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{m: make(map[string][]byte)}
}

func (s *MemoryKeyValueStore) Write(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryKeyValueStore) Read(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryKeyValueStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Len returns the number of stored keys
func (s *MemoryKeyValueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
