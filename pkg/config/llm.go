package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDLLM is the identifier for the chat API section
	SectionIDLLM = "llm"

	defaultMaxTokens   = 1500
	defaultTemperature = 0.7
)

// LLMSection holds the chat API settings.
type LLMSection struct {
	Model         string
	BaseURL       string
	APIKey        string
	MaxTokens     int64
	Temperature   float64
	DefaultPrompt string
	mu            sync.RWMutex
}

// NewLLMSection creates a new LLM section with default settings.
func NewLLMSection() *LLMSection {
	return &LLMSection{
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}
}

// ID returns the section identifier.
func (s *LLMSection) ID() string {
	return SectionIDLLM
}

// Title returns the section title.
func (s *LLMSection) Title() string {
	return "Chat API"
}

// Description returns the section description.
func (s *LLMSection) Description() string {
	return "OpenAI-compatible endpoint, model and generation parameters. Empty values fall back to environment variables and built-in defaults."
}

// Data returns the current configuration data.
func (s *LLMSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"model":          s.Model,
		"base_url":       s.BaseURL,
		"api_key":        s.APIKey,
		"max_tokens":     s.MaxTokens,
		"temperature":    s.Temperature,
		"default_prompt": s.DefaultPrompt,
	}
}

// SetData updates the configuration from the provided data.
func (s *LLMSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "model":
			s.Model, err = stringValue(key, value)
		case "base_url":
			s.BaseURL, err = stringValue(key, value)
		case "api_key":
			s.APIKey, err = stringValue(key, value)
		case "default_prompt":
			s.DefaultPrompt, err = stringValue(key, value)
		case "max_tokens":
			s.MaxTokens, err = intValue(key, value)
		case "temperature":
			s.Temperature, err = floatValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *LLMSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", s.MaxTokens)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", s.Temperature)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *LLMSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = ""
	s.BaseURL = ""
	s.APIKey = ""
	s.MaxTokens = defaultMaxTokens
	s.Temperature = defaultTemperature
	s.DefaultPrompt = ""
}

// GetModel returns the configured model name.
func (s *LLMSection) GetModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// GetBaseURL returns the configured base URL.
func (s *LLMSection) GetBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseURL
}

// GetAPIKey returns the configured API key.
func (s *LLMSection) GetAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APIKey
}

// SetAPIKey sets the API key.
func (s *LLMSection) SetAPIKey(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.APIKey = apiKey
}

// Generation returns max tokens and temperature.
func (s *LLMSection) Generation() (int64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxTokens, s.Temperature
}

// GetDefaultPrompt returns the prompt sent with a new crop, empty for the
// built-in one.
func (s *LLMSection) GetDefaultPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DefaultPrompt
}
