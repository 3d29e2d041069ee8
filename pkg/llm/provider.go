// Package llm defines the chat API the session controller talks to.
//
// Example usage:
//
//	client, err := openai.NewProvider(os.Getenv("OPENAI_API_KEY"), openai.WithModel("gpt-4o"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	img := types.NewPNG(cropped)
//	reply, err := client.Chat(ctx, []types.Turn{
//	    types.NewUserTurn("What is in this image?", &img),
//	})
//	var apiErr *llm.APIError
//	if errors.As(err, &apiErr) && apiErr.Kind == llm.ErrorRateLimited {
//	    // show "slow down" to the user
//	}
package llm

import (
	"context"

	"github.com/entrhq/cropchat/pkg/types"
)

// Client sends one chat turn.
//
// Chat posts the full ordered history and returns the assistant's text.
// Errors returned by the remote API are *APIError. Chat never retries.
type Client interface {
	Chat(ctx context.Context, turns []types.Turn) (string, error)

	// Model returns the model name used for requests.
	Model() string
}

// Factory builds a Client for a credential. The session controller calls it
// for every turn so a changed credential takes effect immediately.
type Factory func(apiKey string) (Client, error)

// ModelCloner is implemented by clients that can cheaply switch model while
// sharing credentials and transport.
type ModelCloner interface {
	CloneWithModel(model string) Client
}
