package session

import (
	"context"

	"github.com/entrhq/cropchat/pkg/types"
)

// Tab is a page the host can run a selection agent in.
type Tab struct {
	ID  string
	URL string
}

// Host is the runtime surface the controller needs: finding the page the
// user is looking at and making sure a selection agent is attached to it.
type Host interface {
	ActiveTab(ctx context.Context) (Tab, error)

	// Activate injects the selection agent into tab if it is not already
	// running there. It does not start a transaction.
	Activate(ctx context.Context, tab Tab) error
}

// Renderer displays controller state. Calls may arrive from any goroutine.
type Renderer interface {
	SetStatus(status types.Status)
	ShowTurn(turn types.Turn)
	ShowImageIndicator(visible bool)
	// Reset clears the dialogue back to the initial, empty view.
	Reset()
	// DisableInput blocks further user actions and explains why.
	DisableInput(reason string)
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) SetStatus(types.Status)  {}
func (NopRenderer) ShowTurn(types.Turn)     {}
func (NopRenderer) ShowImageIndicator(bool) {}
func (NopRenderer) Reset()                  {}
func (NopRenderer) DisableInput(string)     {}
