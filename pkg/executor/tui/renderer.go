package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/cropchat/pkg/session"
	"github.com/entrhq/cropchat/pkg/types"
)

var _ session.Renderer = (*Renderer)(nil)

// Renderer forwards controller output to the running program as messages.
// Output produced before the program starts is queued and delivered in
// order once it does; output after it stops is dropped.
type Renderer struct {
	mu      sync.Mutex
	program *tea.Program
	pending []tea.Msg
	stopped bool
}

// NewRenderer creates a renderer with no program attached.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Renderer messages
type (
	statusMsg         struct{ status types.Status }
	turnMsg           struct{ turn types.Turn }
	imageIndicatorMsg struct{ visible bool }
	resetMsg          struct{}
	disableInputMsg   struct{ reason string }
)

func (r *Renderer) SetStatus(status types.Status)   { r.send(statusMsg{status}) }
func (r *Renderer) ShowTurn(turn types.Turn)        { r.send(turnMsg{turn}) }
func (r *Renderer) ShowImageIndicator(visible bool) { r.send(imageIndicatorMsg{visible}) }
func (r *Renderer) Reset()                          { r.send(resetMsg{}) }
func (r *Renderer) DisableInput(reason string)      { r.send(disableInputMsg{reason}) }

// send must never be called from inside Update: Program.Send waits for the
// event loop.
func (r *Renderer) send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.stopped:
	case r.program == nil:
		r.pending = append(r.pending, msg)
	default:
		r.program.Send(msg)
	}
}

func (r *Renderer) attach(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.program = p
	for _, msg := range r.pending {
		p.Send(msg)
	}
	r.pending = nil
}

func (r *Renderer) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.program = nil
	r.pending = nil
	r.stopped = true
}
