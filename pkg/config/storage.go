package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/cropchat/pkg/storage"
)

const (
	// SectionIDStorage is the identifier for the storage section
	SectionIDStorage = "storage"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// StorageSection selects where the conversation and credential are kept.
type StorageSection struct {
	Backend string
	Dir     string
	mu      sync.RWMutex
}

// NewStorageSection creates a section using JSON files in ~/.cropchat.
func NewStorageSection() *StorageSection {
	return &StorageSection{Backend: BackendFile}
}

// ID returns the section identifier.
func (s *StorageSection) ID() string {
	return SectionIDStorage
}

// Title returns the section title.
func (s *StorageSection) Title() string {
	return "Storage"
}

// Description returns the section description.
func (s *StorageSection) Description() string {
	return "Backend (file or sqlite) and directory for the saved conversation and API key."
}

// Data returns the current configuration data.
func (s *StorageSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"backend": s.Backend,
		"dir":     s.Dir,
	}
}

// SetData updates the configuration from the provided data.
func (s *StorageSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "backend":
			s.Backend, err = stringValue(key, value)
		case "dir":
			s.Dir, err = stringValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *StorageSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Backend != BackendFile && s.Backend != BackendSQLite {
		return fmt.Errorf("backend must be %q or %q, got %q", BackendFile, BackendSQLite, s.Backend)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *StorageSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Backend = BackendFile
	s.Dir = ""
}

// Stores holds the opened local and sync areas.
type Stores struct {
	Local storage.Store
	Sync  storage.Store
	close func() error
}

// Close releases the underlying database, if any.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open opens both storage areas. backend overrides the configured backend
// when non-empty.
func (s *StorageSection) Open(backend string) (*Stores, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	dir := s.Dir
	if backend == "" {
		backend = s.Backend
	}
	s.mu.RUnlock()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".cropchat")
	}

	switch backend {
	case BackendSQLite:
		db, err := storage.OpenSQLite(filepath.Join(dir, "cropchat.db"), storage.AreaLocal)
		if err != nil {
			return nil, err
		}
		return &Stores{Local: db, Sync: db.Area(storage.AreaSync), close: db.Close}, nil
	case BackendFile:
		local, err := storage.NewFileStore(filepath.Join(dir, string(storage.AreaLocal)+".json"))
		if err != nil {
			return nil, err
		}
		synced, err := storage.NewFileStore(filepath.Join(dir, string(storage.AreaSync)+".json"))
		if err != nil {
			return nil, err
		}
		return &Stores{Local: local, Sync: synced}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
