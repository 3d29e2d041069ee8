package config

import (
	"os"

	"github.com/entrhq/cropchat/pkg/llm"
	"github.com/entrhq/cropchat/pkg/llm/openai"
)

// ChatSettings is the resolved chat API configuration.
type ChatSettings struct {
	APIKey        string
	Model         string
	BaseURL       string
	MaxTokens     int64
	Temperature   float64
	DefaultPrompt string
}

// ResolveChat applies the configuration precedence:
// CLI flags > Environment variables > Config file > Defaults.
// The API key may remain empty; the popup then asks for one.
func ResolveChat(cliModel, cliBaseURL, cliAPIKey string) ChatSettings {
	settings := ChatSettings{
		APIKey:      cliAPIKey,
		Model:       cliModel,
		BaseURL:     cliBaseURL,
		MaxTokens:   openai.DefaultMaxTokens,
		Temperature: openai.DefaultTemperature,
	}

	if settings.APIKey == "" {
		settings.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if settings.BaseURL == "" {
		settings.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if fromFile := GetLLM(); fromFile != nil {
		if settings.Model == "" {
			settings.Model = fromFile.GetModel()
		}
		if settings.BaseURL == "" {
			settings.BaseURL = fromFile.GetBaseURL()
		}
		if settings.APIKey == "" {
			settings.APIKey = fromFile.GetAPIKey()
		}
		settings.MaxTokens, settings.Temperature = fromFile.Generation()
		settings.DefaultPrompt = fromFile.GetDefaultPrompt()
	}

	if settings.Model == "" {
		settings.Model = openai.DefaultModel
	}
	return settings
}

// Options converts the settings to provider options.
func (s ChatSettings) Options() []openai.ProviderOption {
	opts := []openai.ProviderOption{
		openai.WithModel(s.Model),
		openai.WithMaxTokens(s.MaxTokens),
		openai.WithTemperature(s.Temperature),
	}
	if s.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.BaseURL))
	}
	return opts
}

// BuildChatClient resolves the chat settings and returns a factory creating
// a client per credential, plus the settings it was built from.
func BuildChatClient(cliModel, cliBaseURL, cliAPIKey string) (llm.Factory, ChatSettings) {
	settings := ResolveChat(cliModel, cliBaseURL, cliAPIKey)
	return openai.Factory(settings.Options()...), settings
}
