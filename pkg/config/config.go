// Package config loads cropchat settings from ~/.cropchat/config.json.
package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager creates a manager over store with every cropchat section
// registered, without loading.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)
	sections := []Section{
		NewLLMSection(),
		NewCaptureSection(),
		NewRestrictedSection(),
		NewRecoverySection(),
		NewStorageSection(),
	}
	for _, section := range sections {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup. An empty path uses
// DefaultPath.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := OpenFile(configPath)
	if err != nil {
		return err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// reset clears the global manager. Used by tests.
func reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}

func getSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	section, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetLLM returns the chat API section from global config.
// Returns nil if config is not initialized.
func GetLLM() *LLMSection {
	return getSection[*LLMSection](SectionIDLLM)
}

// GetCapture returns the capture section, nil if not initialized.
func GetCapture() *CaptureSection {
	return getSection[*CaptureSection](SectionIDCapture)
}

// GetRestricted returns the restricted pages section, nil if not initialized.
func GetRestricted() *RestrictedSection {
	return getSection[*RestrictedSection](SectionIDRestricted)
}

// GetRecovery returns the recovery section, nil if not initialized.
func GetRecovery() *RecoverySection {
	return getSection[*RecoverySection](SectionIDRecovery)
}

// GetStorage returns the storage section, nil if not initialized.
func GetStorage() *StorageSection {
	return getSection[*StorageSection](SectionIDStorage)
}
