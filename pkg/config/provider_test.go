package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/llm/openai"
)

func initConfig(t *testing.T, contents string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	}
	require.NoError(t, Initialize(path))
	t.Cleanup(reset)
}

func TestResolveChatDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	reset()

	settings := ResolveChat("", "", "")
	assert.Empty(t, settings.APIKey)
	assert.Equal(t, openai.DefaultModel, settings.Model)
	assert.Empty(t, settings.BaseURL)
	assert.Equal(t, int64(openai.DefaultMaxTokens), settings.MaxTokens)
	assert.Equal(t, openai.DefaultTemperature, settings.Temperature)
}

func TestResolveChatPrecedence(t *testing.T) {
	initConfig(t, `{
  "version": "1",
  "items": {
    "llm": {"model": "file-model", "base_url": "http://file/v1", "api_key": "sk-file", "max_tokens": 300, "temperature": 0.1}
  }
}`)

	t.Run("config file", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("OPENAI_BASE_URL", "")
		settings := ResolveChat("", "", "")
		assert.Equal(t, "sk-file", settings.APIKey)
		assert.Equal(t, "file-model", settings.Model)
		assert.Equal(t, "http://file/v1", settings.BaseURL)
		assert.Equal(t, int64(300), settings.MaxTokens)
		assert.Equal(t, 0.1, settings.Temperature)
	})

	t.Run("env beats file", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		t.Setenv("OPENAI_BASE_URL", "http://env/v1")
		settings := ResolveChat("", "", "")
		assert.Equal(t, "sk-env", settings.APIKey)
		assert.Equal(t, "http://env/v1", settings.BaseURL)
	})

	t.Run("cli beats env", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		t.Setenv("OPENAI_BASE_URL", "http://env/v1")
		settings := ResolveChat("cli-model", "http://cli/v1", "sk-cli")
		assert.Equal(t, "sk-cli", settings.APIKey)
		assert.Equal(t, "cli-model", settings.Model)
		assert.Equal(t, "http://cli/v1", settings.BaseURL)
	})
}

func TestBuildChatClient(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	reset()

	factory, settings := BuildChatClient("gpt-4o-mini", "", "sk-cli")
	assert.Equal(t, "sk-cli", settings.APIKey)

	client, err := factory(settings.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.Model())

	_, err = factory("")
	assert.Error(t, err)
}

func TestGlobalAccessors(t *testing.T) {
	reset()
	assert.False(t, IsInitialized())
	assert.Nil(t, GetLLM())
	assert.Nil(t, GetCapture())
	assert.Panics(t, func() { Global() })

	initConfig(t, "")
	assert.True(t, IsInitialized())
	assert.NotNil(t, GetLLM())
	assert.NotNil(t, GetCapture())
	assert.NotNil(t, GetRestricted())
	assert.NotNil(t, GetRecovery())
	assert.NotNil(t, GetStorage())
}
