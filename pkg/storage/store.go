// Package storage provides the key-value persistence used for the
// conversation (local area) and the API credential (sync area).
package storage

import (
	"encoding/json"
	"fmt"
)

// Store is a string-keyed store of JSON-serializable values.
type Store interface {
	// Get decodes the value stored at key into v. It reports false when the
	// key is absent, leaving v untouched.
	Get(key string, v any) (bool, error)

	// Set writes every entry in values as one atomic batch: after a crash
	// either all entries or none are visible.
	Set(values map[string]any) error

	// Remove deletes keys as one atomic batch. Missing keys are ignored.
	Remove(keys ...string) error
}

// Area names a storage area.
type Area string

const (
	// AreaLocal holds per-machine state such as the conversation.
	AreaLocal Area = "local"
	// AreaSync holds settings that follow the user, such as the credential.
	AreaSync Area = "sync"
)

func encodeValues(values map[string]any) (map[string]json.RawMessage, error) {
	encoded := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		if key == "" {
			return nil, fmt.Errorf("empty storage key")
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", key, err)
		}
		encoded[key] = raw
	}
	return encoded, nil
}

func decodeValue(key string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}
