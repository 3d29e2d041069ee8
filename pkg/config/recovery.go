package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/cropchat/pkg/bus"
)

// SectionIDRecovery is the identifier for the connection recovery section
const SectionIDRecovery = "recovery"

// RecoverySection configures how components re-register after the bus
// becomes unusable.
type RecoverySection struct {
	CheckInterval  time.Duration
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	mu             sync.RWMutex
}

// NewRecoverySection creates a section with the bus defaults.
func NewRecoverySection() *RecoverySection {
	s := &RecoverySection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *RecoverySection) ID() string {
	return SectionIDRecovery
}

// Title returns the section title.
func (s *RecoverySection) Title() string {
	return "Connection Recovery"
}

// Description returns the section description.
func (s *RecoverySection) Description() string {
	return "How often connections are checked and how re-registration backs off before asking for a manual restart."
}

// Data returns the current configuration data.
func (s *RecoverySection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"check_interval":  s.CheckInterval.String(),
		"attempts":        s.Attempts,
		"initial_backoff": s.InitialBackoff.String(),
		"max_backoff":     s.MaxBackoff.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *RecoverySection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "check_interval":
			s.CheckInterval, err = durationValue(key, value)
		case "initial_backoff":
			s.InitialBackoff, err = durationValue(key, value)
		case "max_backoff":
			s.MaxBackoff, err = durationValue(key, value)
		case "attempts":
			var n int64
			n, err = intValue(key, value)
			s.Attempts = int(n)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *RecoverySection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.CheckInterval < time.Second {
		return fmt.Errorf("check_interval must be at least 1s, got %v", s.CheckInterval)
	}
	if s.Attempts < 1 || s.Attempts > 20 {
		return fmt.Errorf("attempts must be between 1 and 20, got %d", s.Attempts)
	}
	if s.InitialBackoff <= 0 || s.MaxBackoff < s.InitialBackoff {
		return fmt.Errorf("backoff must satisfy 0 < initial_backoff <= max_backoff, got %v and %v", s.InitialBackoff, s.MaxBackoff)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *RecoverySection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CheckInterval = bus.DefaultCheckInterval
	s.Attempts = bus.DefaultBackoff.MaxAttempts
	s.InitialBackoff = bus.DefaultBackoff.Initial
	s.MaxBackoff = bus.DefaultBackoff.Max
}

// Interval returns the check interval.
func (s *RecoverySection) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CheckInterval
}

// Backoff returns the re-registration schedule.
func (s *RecoverySection) Backoff() bus.Backoff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bus.Backoff{
		Initial:     s.InitialBackoff,
		Max:         s.MaxBackoff,
		Multiplier:  bus.DefaultBackoff.Multiplier,
		MaxAttempts: s.Attempts,
	}
}
