package types

import "fmt"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"      // RoleUser marks a prompt sent by the user.
	RoleAssistant Role = "assistant" // RoleAssistant marks a reply from the chat API.
)

// Turn is one message of the conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Image is the image reference attached to a user turn, if any.
	Image *EncodedImage `json:"image,omitempty"`
}

// NewUserTurn creates a user turn, optionally carrying an image.
func NewUserTurn(text string, img *EncodedImage) Turn {
	return Turn{Role: RoleUser, Text: text, Image: img}
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// Conversation is the running dialogue owned by the session controller.
type Conversation struct {
	LastImage *EncodedImage
	Turns     []Turn
}

// IsEmpty returns true if no turn has been committed.
func (c Conversation) IsEmpty() bool {
	return len(c.Turns) == 0
}

// HasImage returns true if a cropped image is available for the next turn.
func (c Conversation) HasImage() bool {
	return c.LastImage != nil && !c.LastImage.IsEmpty()
}

// Clone returns a copy whose turn slice can be appended to independently.
func (c Conversation) Clone() Conversation {
	turns := make([]Turn, len(c.Turns))
	copy(turns, c.Turns)
	return Conversation{LastImage: c.LastImage, Turns: turns}
}

// Validate checks that the first user turn carries an image reference.
func (c Conversation) Validate() error {
	for i, turn := range c.Turns {
		if turn.Role != RoleUser && turn.Role != RoleAssistant {
			return fmt.Errorf("turn %d has invalid role %q", i, turn.Role)
		}
	}
	for i, turn := range c.Turns {
		if turn.Role != RoleUser {
			continue
		}
		if turn.Image == nil || turn.Image.IsEmpty() {
			return fmt.Errorf("first user turn (index %d) has no image", i)
		}
		break
	}
	return nil
}
