package storage

import (
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process Store. Values are kept JSON-encoded so reads
// behave like the persistent stores.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage

	// FailNext, when set, is returned by the next Set or Remove instead of
	// writing.
	FailNext error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

// Get implements Store.
func (s *MemoryStore) Get(key string, v any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := decodeValue(key, raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(values map[string]any) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for k, raw := range encoded {
		s.data[k] = raw
	}
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Has reports whether key is present.
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

func (s *MemoryStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}
