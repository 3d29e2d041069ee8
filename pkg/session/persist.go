package session

import (
	"fmt"

	"github.com/entrhq/cropchat/pkg/storage"
	"github.com/entrhq/cropchat/pkg/types"
)

// Storage keys.
const (
	KeyLastImage     = "lastImage"
	KeyLastImageType = "lastImageType"
	KeyTurns         = "turns"
	KeyCredential    = "openai_api_key"
)

// saveConversation writes the whole conversation in one batch so a reader
// never sees an image without its turns or the reverse.
func saveConversation(store storage.Store, conv types.Conversation) error {
	lastImage, lastImageType := "", ""
	if conv.HasImage() {
		lastImage = conv.LastImage.Base64()
		lastImageType = conv.LastImage.MIMEType
	}
	turns := conv.Turns
	if turns == nil {
		turns = []types.Turn{}
	}

	if err := store.Set(map[string]any{
		KeyLastImage:     lastImage,
		KeyLastImageType: lastImageType,
		KeyTurns:         turns,
	}); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// loadConversation reads the persisted conversation. Missing keys yield an
// empty conversation.
func loadConversation(store storage.Store) (types.Conversation, error) {
	var conv types.Conversation

	var encoded string
	if _, err := store.Get(KeyLastImage, &encoded); err != nil {
		return conv, fmt.Errorf("failed to load last image: %w", err)
	}
	if encoded != "" {
		// Entries saved without a type predate JPEG capture and are PNG.
		mimeType := types.MIMEPNG
		if _, err := store.Get(KeyLastImageType, &mimeType); err != nil {
			return conv, fmt.Errorf("failed to load last image type: %w", err)
		}
		if mimeType == "" {
			mimeType = types.MIMEPNG
		}
		img, err := types.DecodeBase64(mimeType, encoded)
		if err != nil {
			return conv, fmt.Errorf("failed to decode last image: %w", err)
		}
		conv.LastImage = &img
	}

	if _, err := store.Get(KeyTurns, &conv.Turns); err != nil {
		return conv, fmt.Errorf("failed to load turns: %w", err)
	}
	return conv, nil
}

func clearConversation(store storage.Store) error {
	if err := store.Remove(KeyLastImage, KeyLastImageType, KeyTurns); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}
