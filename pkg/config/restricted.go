package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// SectionIDRestricted is the identifier for the restricted pages section
const SectionIDRestricted = "restricted"

// DefaultRestrictedPatterns are the privileged page patterns the crop tool
// refuses.
var DefaultRestrictedPatterns = []string{
	"chrome://*",
	"chrome-extension://*",
	"chrome-search://*",
	"edge://*",
	"about:*",
	"devtools://*",
	"view-source:*",
}

// RestrictedSection manages the glob patterns of pages the crop tool must
// never be injected into.
type RestrictedSection struct {
	patterns []string
	mu       sync.RWMutex
}

// NewRestrictedSection creates a section holding the default patterns.
func NewRestrictedSection() *RestrictedSection {
	return &RestrictedSection{patterns: append([]string(nil), DefaultRestrictedPatterns...)}
}

// ID returns the section identifier.
func (s *RestrictedSection) ID() string {
	return SectionIDRestricted
}

// Title returns the section title.
func (s *RestrictedSection) Title() string {
	return "Restricted Pages"
}

// Description returns the section description.
func (s *RestrictedSection) Description() string {
	return "Pages whose URL matches one of these glob patterns cannot be cropped"
}

// Data returns the current configuration data.
func (s *RestrictedSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patterns := make([]any, len(s.patterns))
	for i, p := range s.patterns {
		patterns[i] = p
	}
	return map[string]any{"patterns": patterns}
}

// SetData updates the configuration from the provided data.
func (s *RestrictedSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	raw, ok := data["patterns"]
	if !ok {
		return nil // No patterns key, keep defaults
	}
	patterns, err := stringList("patterns", raw)
	if err != nil {
		return err
	}
	for i, p := range patterns {
		patterns[i] = strings.TrimSpace(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = patterns
	return nil
}

// Validate checks every pattern compiles.
func (s *RestrictedSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, p := range s.patterns {
		if p == "" {
			return fmt.Errorf("pattern at index %d is empty", i)
		}
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
	}
	return nil
}

// Reset restores the default patterns.
func (s *RestrictedSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append([]string(nil), DefaultRestrictedPatterns...)
}

// Patterns returns a copy of the patterns.
func (s *RestrictedSection) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.patterns...)
}

// AddPattern appends a pattern unless it is already present.
func (s *RestrictedSection) AddPattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if _, err := glob.Compile(pattern); err != nil {
		return fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		if p == pattern {
			return fmt.Errorf("pattern '%s' already exists", pattern)
		}
	}
	s.patterns = append(s.patterns, pattern)
	return nil
}

// RemovePattern deletes a pattern.
func (s *RestrictedSection) RemovePattern(pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.patterns {
		if p == pattern {
			s.patterns = append(s.patterns[:i], s.patterns[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("pattern '%s' not found", pattern)
}
