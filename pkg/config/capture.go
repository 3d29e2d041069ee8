package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDCapture is the identifier for the capture section
	SectionIDCapture = "capture"

	defaultCaptureTimeout = 10 * time.Second
	defaultCaptureFormat  = "png"
	defaultCaptureQuality = 100
	defaultMinSelection   = 10
	defaultWatchdog       = 5 * time.Second
)

// CaptureSection holds the screenshot and selection settings.
type CaptureSection struct {
	Timeout      time.Duration
	Format       string
	Quality      int
	MinSelection float64
	Watchdog     time.Duration
	mu           sync.RWMutex
}

// NewCaptureSection creates a capture section with default settings.
func NewCaptureSection() *CaptureSection {
	return &CaptureSection{
		Timeout:      defaultCaptureTimeout,
		Format:       defaultCaptureFormat,
		Quality:      defaultCaptureQuality,
		MinSelection: defaultMinSelection,
		Watchdog:     defaultWatchdog,
	}
}

// ID returns the section identifier.
func (s *CaptureSection) ID() string {
	return SectionIDCapture
}

// Title returns the section title.
func (s *CaptureSection) Title() string {
	return "Capture"
}

// Description returns the section description.
func (s *CaptureSection) Description() string {
	return "Screenshot timeout and encoding, the minimum selection size and how long to wait for the crop tool."
}

// Data returns the current configuration data.
func (s *CaptureSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"timeout":       s.Timeout.String(),
		"format":        s.Format,
		"quality":       s.Quality,
		"min_selection": s.MinSelection,
		"watchdog":      s.Watchdog.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *CaptureSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "timeout":
			s.Timeout, err = durationValue(key, value)
		case "watchdog":
			s.Watchdog, err = durationValue(key, value)
		case "format":
			s.Format, err = stringValue(key, value)
		case "quality":
			var q int64
			q, err = intValue(key, value)
			s.Quality = int(q)
		case "min_selection":
			s.MinSelection, err = floatValue(key, value)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *CaptureSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Timeout < 100*time.Millisecond || s.Timeout > time.Minute {
		return fmt.Errorf("timeout must be between 100ms and 1m, got %v", s.Timeout)
	}
	if s.Watchdog <= 0 {
		return fmt.Errorf("watchdog must be positive, got %v", s.Watchdog)
	}
	if s.Format != "png" && s.Format != "jpeg" {
		return fmt.Errorf("format must be png or jpeg, got %q", s.Format)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", s.Quality)
	}
	if s.MinSelection < 1 {
		return fmt.Errorf("min_selection must be at least 1, got %v", s.MinSelection)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *CaptureSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Timeout = defaultCaptureTimeout
	s.Format = defaultCaptureFormat
	s.Quality = defaultCaptureQuality
	s.MinSelection = defaultMinSelection
	s.Watchdog = defaultWatchdog
}

// Settings returns a consistent copy of all values.
func (s *CaptureSection) Settings() CaptureSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CaptureSettings{
		Timeout:      s.Timeout,
		Format:       s.Format,
		Quality:      s.Quality,
		MinSelection: s.MinSelection,
		Watchdog:     s.Watchdog,
	}
}

// CaptureSettings is a snapshot of CaptureSection.
type CaptureSettings struct {
	Timeout      time.Duration
	Format       string
	Quality      int
	MinSelection float64
	Watchdog     time.Duration
}
