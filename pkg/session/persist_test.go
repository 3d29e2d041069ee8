package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/storage"
	"github.com/entrhq/cropchat/pkg/types"
)

func TestPersistKeepsImageType(t *testing.T) {
	store := storage.NewMemoryStore()
	img := types.EncodedImage{MIMEType: types.MIMEJPEG, Data: []byte{0xff, 0xd8, 0xff}}
	conv := types.Conversation{
		LastImage: &img,
		Turns:     []types.Turn{types.NewUserTurn("describe", &img), types.NewAssistantTurn("a photo")},
	}

	require.NoError(t, saveConversation(store, conv))

	got, err := loadConversation(store)
	require.NoError(t, err)
	require.True(t, got.HasImage())
	assert.Equal(t, types.MIMEJPEG, got.LastImage.MIMEType)
	assert.Equal(t, img.Data, got.LastImage.Data)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, types.MIMEJPEG, got.Turns[0].Image.MIMEType)
}

func TestPersistUntypedImageIsPNG(t *testing.T) {
	store := storage.NewMemoryStore()
	img := types.NewPNG([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, store.Set(map[string]any{KeyLastImage: img.Base64()}))

	got, err := loadConversation(store)
	require.NoError(t, err)
	require.True(t, got.HasImage())
	assert.Equal(t, types.MIMEPNG, got.LastImage.MIMEType)
	assert.Equal(t, img.Data, got.LastImage.Data)
}

func TestClearRemovesImageType(t *testing.T) {
	store := storage.NewMemoryStore()
	img := types.EncodedImage{MIMEType: types.MIMEJPEG, Data: []byte{1}}
	require.NoError(t, saveConversation(store, types.Conversation{LastImage: &img}))
	require.True(t, store.Has(KeyLastImageType))

	require.NoError(t, clearConversation(store))
	assert.False(t, store.Has(KeyLastImage))
	assert.False(t, store.Has(KeyLastImageType))
}
