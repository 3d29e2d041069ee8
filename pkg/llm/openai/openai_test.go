package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/llm"
	"github.com/entrhq/cropchat/pkg/types"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o",
  "choices": [
    {"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "It is a cat."}}
  ]
}`

type fakeAPI struct {
	mu       sync.Mutex
	requests []map[string]any
	paths    []string
	auth     []string
	status   int
	body     string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(raw, &req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.paths = append(f.paths, r.URL.Path)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	status, body := f.status, f.body
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestProvider(t *testing.T, api *fakeAPI, opts ...ProviderOption) *Provider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts = append([]ProviderOption{WithBaseURL(srv.URL + "/v1")}, opts...)
	p, err := NewProvider("sk-test", opts...)
	require.NoError(t, err)
	return p
}

func testImage() *types.EncodedImage {
	img := types.NewPNG([]byte{0x89, 'P', 'N', 'G'})
	return &img
}

func TestNewProvider(t *testing.T) {
	t.Run("requires key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := NewProvider("")
		require.Error(t, err)
	})

	t.Run("falls back to env", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		t.Setenv("OPENAI_BASE_URL", "http://localhost:9999/v1")
		p, err := NewProvider("")
		require.NoError(t, err)
		assert.Equal(t, DefaultModel, p.Model())
		assert.Equal(t, "http://localhost:9999/v1", p.BaseURL())
	})

	t.Run("options override defaults", func(t *testing.T) {
		t.Setenv("OPENAI_BASE_URL", "")
		p, err := NewProvider("sk-test", WithModel("gpt-4o-mini"), WithMaxTokens(10), WithTemperature(0))
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", p.Model())
		assert.Equal(t, DefaultBaseURL, p.BaseURL())
		assert.Equal(t, int64(10), p.maxTokens)
		assert.Equal(t, 0.0, p.temperature)
	})
}

func TestChatSendsImageAndHistory(t *testing.T) {
	api := &fakeAPI{body: completionBody}
	p := newTestProvider(t, api)

	turns := []types.Turn{
		types.NewUserTurn("What is this?", testImage()),
		types.NewAssistantTurn("A picture."),
		types.NewUserTurn("Which animal?", nil),
	}
	reply, err := p.Chat(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, "It is a cat.", reply)

	require.Equal(t, 1, api.calls())
	assert.Equal(t, "/v1/chat/completions", api.paths[0])
	assert.Equal(t, "Bearer sk-test", api.auth[0])

	req := api.requests[0]
	assert.Equal(t, DefaultModel, req["model"])
	assert.EqualValues(t, DefaultMaxTokens, req["max_tokens"])
	assert.InDelta(t, DefaultTemperature, req["temperature"], 1e-9)

	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)

	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	parts, ok := first["content"].([]any)
	require.True(t, ok, "image turn must be sent as content parts")
	require.Len(t, parts, 2)

	text := parts[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, "What is this?", text["text"])

	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	imageURL := image["image_url"].(map[string]any)
	assert.Equal(t, testImage().DataURL(), imageURL["url"])
	assert.Equal(t, ImageDetail, imageURL["detail"])

	second := messages[1].(map[string]any)
	assert.Equal(t, "assistant", second["role"])
	assert.Equal(t, "A picture.", second["content"])

	third := messages[2].(map[string]any)
	assert.Equal(t, "user", third["role"])
	assert.Equal(t, "Which animal?", third["content"])
}

func TestChatErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   llm.ErrorKind
	}{
		{
			name:   "invalid key",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			want:   llm.ErrorInvalidCredential,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			want:   llm.ErrorRateLimited,
		},
		{
			name:   "quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			want:   llm.ErrorQuotaExhausted,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":{"message":"The server had an error","type":"server_error","code":null}}`,
			want:   llm.ErrorOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{status: tt.status, body: tt.body}
			p := newTestProvider(t, api)

			_, err := p.Chat(context.Background(), []types.Turn{types.NewUserTurn("hi", testImage())})
			require.Error(t, err)

			var apiErr *llm.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.want, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, 1, api.calls(), "failed turns are not retried")
		})
	}
}

func TestChatEmptyChoices(t *testing.T) {
	api := &fakeAPI{body: `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`}
	p := newTestProvider(t, api)

	_, err := p.Chat(context.Background(), []types.Turn{types.NewUserTurn("hi", testImage())})
	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, llm.ErrorOther, apiErr.Kind)
	assert.Equal(t, "invalid response format", apiErr.Message)
}

func TestChatEmptyConversation(t *testing.T) {
	api := &fakeAPI{body: completionBody}
	p := newTestProvider(t, api)

	_, err := p.Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 0, api.calls())
}

func TestChatCancelled(t *testing.T) {
	api := &fakeAPI{body: completionBody}
	p := newTestProvider(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Chat(ctx, []types.Turn{types.NewUserTurn("hi", testImage())})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloneWithModel(t *testing.T) {
	api := &fakeAPI{body: completionBody}
	p := newTestProvider(t, api)

	clone := p.CloneWithModel("gpt-4.1")
	assert.Equal(t, "gpt-4.1", clone.Model())
	assert.Equal(t, DefaultModel, p.Model())

	_, err := clone.Chat(context.Background(), []types.Turn{types.NewUserTurn("hi", testImage())})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", api.requests[0]["model"])
}

func TestFactory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	f := Factory(WithModel("gpt-4o-mini"))

	_, err := f("")
	require.Error(t, err)

	c, err := f("sk-x")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.Model())
}
