package config

import (
	"fmt"
	"time"
)

// Section is one named group of settings persisted by the Manager.
type Section interface {
	ID() string
	Title() string
	Description() string

	// Data returns the section's settings as JSON-compatible values.
	Data() map[string]any
	// SetData applies settings read from the store. Unknown keys are ignored.
	SetData(data map[string]any) error
	Validate() error
	// Reset restores defaults.
	Reset()
}

// The helpers below convert values decoded from JSON. Numbers arrive as
// float64, durations as strings or nanosecond counts.

func stringValue(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("invalid value type for %s: expected string, got %T", key, v)
	}
	return s, nil
}

func floatValue(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected number, got %T", key, v)
	}
}

func intValue(key string, v any) (int64, error) {
	f, err := floatValue(key, v)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("invalid value for %s: expected integer, got %v", key, f)
	}
	return int64(f), nil
}

func durationValue(key string, v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return time.Duration(d), nil
	case int64:
		return time.Duration(d), nil
	case time.Duration:
		return d, nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected string or number, got %T", key, v)
	}
}

func stringList(key string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s entry at index %d: expected string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid value type for %s: expected list, got %T", key, v)
	}
}
