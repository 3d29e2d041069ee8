package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/cropchat/pkg/storage"
)

// Store provides persistence for configuration sections.
type Store interface {
	// Load discards unsaved changes and rereads the backing data.
	Load() error
	// Save writes every changed section in one batch.
	Save() error

	GetSection(sectionID string) (map[string]any, error)
	SetSection(sectionID string, data map[string]any) error
}

// SectionStore keeps each section under its own key of a storage.Store.
// Changes are staged until Save.
type SectionStore struct {
	backend storage.Store
	staged  map[string]map[string]any
	mu      sync.RWMutex
}

// NewSectionStore wraps backend.
func NewSectionStore(backend storage.Store) *SectionStore {
	return &SectionStore{
		backend: backend,
		staged:  make(map[string]map[string]any),
	}
}

// DefaultPath returns ~/.cropchat/config.json.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cropchat", "config.json"), nil
}

// OpenFile opens the JSON config file at path, or DefaultPath when empty.
// A missing file yields an empty config.
func OpenFile(path string) (*SectionStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	backend, err := storage.NewFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return NewSectionStore(backend), nil
}

// Load implements Store.
func (s *SectionStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = make(map[string]map[string]any)
	return nil
}

// Save implements Store.
func (s *SectionStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) == 0 {
		return nil
	}
	values := make(map[string]any, len(s.staged))
	for id, data := range s.staged {
		values[id] = data
	}
	if err := s.backend.Set(values); err != nil {
		return err
	}
	s.staged = make(map[string]map[string]any)
	return nil
}

// GetSection implements Store. A missing section is an empty map.
func (s *SectionStore) GetSection(sectionID string) (map[string]any, error) {
	s.mu.RLock()
	staged, ok := s.staged[sectionID]
	s.mu.RUnlock()
	if ok {
		return copySection(staged), nil
	}

	data := make(map[string]any)
	if _, err := s.backend.Get(sectionID, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// SetSection implements Store.
func (s *SectionStore) SetSection(sectionID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[sectionID] = copySection(data)
	return nil
}

// IsModified returns true if the store has unsaved changes.
func (s *SectionStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staged) > 0
}

func copySection(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
