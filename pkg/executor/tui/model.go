package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/types"
)

const (
	promptPlaceholder = "Ask a follow-up question about the image..."
	keyPlaceholder    = "Paste your OpenAI API key and press Enter"

	msgKeySaved  = "API key saved!"
	msgCopied    = "Reply copied to clipboard"
	msgNoReply   = "No reply to copy yet"
	msgRestoring = "Loading previous conversation..."
)

// model represents the state of the popup.
type model struct {
	// Bubble Tea components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// Controller integration
	ctx        context.Context
	controller Controller
	logger     *logging.Logger
	copy       func(string) error
	attach     func()

	// Dialogue
	turns    []types.Turn
	status   types.Status
	hasImage bool

	// UI state
	restoring    bool
	disabled     string
	keyMode      bool
	confirmClear bool

	// Window dimensions
	width  int
	height int
	ready  bool
}

// actionDoneMsg reports the end of a controller call started from a key.
type actionDoneMsg struct {
	action string
	err    error
}

// restoreDoneMsg signals that the persisted conversation has been replayed.
type restoreDoneMsg struct{ err error }

func newModel(ctx context.Context, controller Controller, logger *logging.Logger) *model {
	ti := textinput.New()
	ti.Placeholder = promptPlaceholder
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = loadingStyle

	return &model{
		viewport:   viewport.New(80, 20),
		input:      ti,
		spinner:    sp,
		ctx:        ctx,
		controller: controller,
		logger:     logger,
		copy:       func(string) error { return nil },
		attach:     func() {},
		restoring:  true,
		status:     types.NewStatus(types.StatusLoading, msgRestoring),
	}
}

// Init attaches the renderer and restores the conversation. Both run as
// commands so controller output reaches a running program.
func (m *model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		tea.Sequence(m.attachRenderer, m.restore),
	)
}

func (m *model) attachRenderer() tea.Msg {
	m.attach()
	return nil
}

func (m *model) restore() tea.Msg {
	return restoreDoneMsg{err: m.controller.Restore(m.ctx)}
}

// busy reports whether a loading status is showing.
func (m *model) busy() bool {
	return m.status.Kind == types.StatusLoading
}

// lastReply returns the most recent assistant text.
func (m *model) lastReply() (string, bool) {
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Role == types.RoleAssistant {
			return m.turns[i].Text, true
		}
	}
	return "", false
}

// acceptsInput reports whether key actions may reach the controller.
func (m *model) acceptsInput() bool {
	return !m.restoring && m.disabled == ""
}
