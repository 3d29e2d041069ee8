package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every key in one JSON file. Each batch rewrites the whole
// file through a temp file and an atomic rename.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	data    map[string]json.RawMessage
	version string
}

type fileContents struct {
	Version string                     `json:"version"`
	Items   map[string]json.RawMessage `json:"items"`
}

// NewFileStore opens the store at path, loading it if the file exists.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}

	s := &FileStore{
		path:    path,
		data:    make(map[string]json.RawMessage),
		version: "1.0",
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load store from %s: %w", path, err)
	}
	return s, nil
}

// DefaultPath returns ~/.cropchat/<area>.json.
func DefaultPath(area Area) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cropchat", string(area)+".json"), nil
}

func (s *FileStore) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open store file: %w", err)
	}
	defer file.Close()

	var contents fileContents
	if err := json.NewDecoder(file).Decode(&contents); err != nil {
		return fmt.Errorf("failed to decode store file: %w", err)
	}
	if contents.Version != "" {
		s.version = contents.Version
	}
	if contents.Items != nil {
		s.data = contents.Items
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(key string, v any) (bool, error) {
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
func (s *FileStore) Set(values map[string]any) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot()
	for key, raw := range encoded {
		next[key] = raw
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot()
	for _, key := range keys {
		delete(next, key)
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) snapshot() map[string]json.RawMessage {
	next := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		next[k] = v
	}
	return next
}

// save must be called with s.mu held.
func (s *FileStore) save(items map[string]json.RawMessage) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(fileContents{Version: s.version, Items: items}); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode store: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
