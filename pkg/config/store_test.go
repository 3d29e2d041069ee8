package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/storage"
)

func TestSectionStoreStagesUntilSave(t *testing.T) {
	backend := storage.NewMemoryStore()
	store := NewSectionStore(backend)

	require.NoError(t, store.SetSection("llm", map[string]any{"model": "gpt-4o-mini"}))
	assert.True(t, store.IsModified())
	assert.False(t, backend.Has("llm"))

	data, err := store.GetSection("llm")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", data["model"])

	require.NoError(t, store.Save())
	assert.False(t, store.IsModified())
	assert.True(t, backend.Has("llm"))

	require.NoError(t, store.SetSection("llm", map[string]any{"model": "other"}))
	require.NoError(t, store.Load())
	data, err = store.GetSection("llm")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", data["model"], "Load drops unsaved changes")
}

func TestSectionStoreMissingSection(t *testing.T) {
	store := NewSectionStore(storage.NewMemoryStore())
	data, err := store.GetSection("nothing")
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.NoError(t, store.Save())
}

func TestManagerFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	store, err := OpenFile(path)
	require.NoError(t, err)
	manager, err := NewDefaultManager(store)
	require.NoError(t, err)
	require.NoError(t, manager.LoadAll())

	section, ok := manager.GetSection(SectionIDRestricted)
	require.True(t, ok)
	require.NoError(t, section.(*RestrictedSection).AddPattern("file://*"))
	capture, _ := manager.GetSection(SectionIDCapture)
	require.NoError(t, capture.SetData(map[string]any{"timeout": "3s", "min_selection": float64(20)}))
	require.NoError(t, manager.SaveAll())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	other, err := NewDefaultManager(reopened)
	require.NoError(t, err)
	require.NoError(t, other.LoadAll())

	restricted, _ := other.GetSection(SectionIDRestricted)
	assert.Contains(t, restricted.(*RestrictedSection).Patterns(), "file://*")
	captured, _ := other.GetSection(SectionIDCapture)
	settings := captured.(*CaptureSection).Settings()
	assert.Equal(t, "3s", settings.Timeout.String())
	assert.Equal(t, 20.0, settings.MinSelection)
}
