// Package openai provides the chat client for OpenAI-compatible APIs.
//
// Example usage:
//
//	client, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	img := types.NewPNG(cropped)
//	reply, err := client.Chat(ctx, []types.Turn{
//	    types.NewUserTurn("Describe this", &img),
//	})
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/entrhq/cropchat/pkg/llm"
	"github.com/entrhq/cropchat/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel       = "gpt-4o"
	DefaultMaxTokens   = 1500
	DefaultTemperature = 0.7

	// ImageDetail is the vision fidelity requested for attached images.
	ImageDetail = "high"
)

// Provider implements llm.Client for OpenAI-compatible chat completion APIs.
type Provider struct {
	client      openai.Client
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithMaxTokens caps the length of the reply.
func WithMaxTokens(n int64) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithRequestTimeout bounds each request. Zero means no timeout beyond ctx.
func WithRequestTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.timeout = d
	}
}

// NewProvider creates a chat client with the given API key.
//
// If apiKey is empty, OPENAI_API_KEY is used. If no base URL option is given,
// OPENAI_BASE_URL is checked before falling back to DefaultBaseURL.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:       DefaultModel,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		baseURL:     DefaultBaseURL,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	p.client = p.newClient()
	return p, nil
}

// Factory returns an llm.Factory building providers with opts.
func Factory(opts ...ProviderOption) llm.Factory {
	return func(apiKey string) (llm.Client, error) {
		return NewProvider(apiKey, opts...)
	}
}

func (p *Provider) newClient() openai.Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(p.httpClient),
		// Failed turns are surfaced to the user, never retried.
		option.WithMaxRetries(0),
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(p.timeout))
	}
	return openai.NewClient(reqOpts...)
}

// CloneWithModel returns a copy of p configured to use the given model.
// The clone shares the HTTP client, API key, and base URL.
func (p *Provider) CloneWithModel(model string) llm.Client {
	clone := *p
	clone.model = model
	return &clone
}

// Chat sends the whole conversation and returns the assistant's reply text.
func (p *Provider) Chat(ctx context.Context, turns []types.Turn) (string, error) {
	if len(turns) == 0 {
		return "", &llm.APIError{Kind: llm.ErrorOther, Message: "empty conversation"}
	}

	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(turns))
	if err != nil {
		return "", p.mapError(ctx, err)
	}

	if len(completion.Choices) == 0 {
		return "", &llm.APIError{Kind: llm.ErrorOther, Message: "invalid response format"}
	}
	return completion.Choices[0].Message.Content, nil
}

func (p *Provider) buildParams(turns []types.Turn) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    convertToOpenAIMessages(turns),
		MaxTokens:   openai.Int(p.maxTokens),
		Temperature: openai.Float(p.temperature),
	}
}

// mapError converts SDK errors to *llm.APIError. Caller cancellation is
// returned unchanged.
func (p *Provider) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return llm.NewAPIError(apiErr.StatusCode, apiErr.Code, msg)
	}
	return &llm.APIError{Kind: llm.ErrorOther, Message: err.Error()}
}

// Model returns the model name being used.
func (p *Provider) Model() string {
	return p.model
}

// BaseURL returns the base URL being used.
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts turns to OpenAI's message params. User
// turns carrying an image become a text part followed by an image part.
func convertToOpenAIMessages(turns []types.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))

	for _, turn := range turns {
		switch turn.Role {
		case types.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			if turn.Image == nil || turn.Image.IsEmpty() {
				messages = append(messages, openai.UserMessage(turn.Text))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(turn.Text),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    turn.Image.DataURL(),
					Detail: ImageDetail,
				}),
			}
			messages = append(messages, openai.UserMessage(parts))
		}
	}

	return messages
}
