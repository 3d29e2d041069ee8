// Package tui provides the terminal popup for cropchat: the status line, the
// dialogue with the model and the follow-up input, driven by a session
// controller.
//
// The TUI codebase is split into multiple files:
// - executor.go: Executor implementation and program lifecycle
// - renderer.go: session.Renderer that forwards to the running program
// - model.go: Core model structure, state and messages
// - update.go: Bubble Tea Update function and key handling
// - view.go: Bubble Tea View function and rendering
// - styles.go: Color schemes and styling
package tui

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/types"
)

// Controller is the part of session.Controller the popup drives.
type Controller interface {
	Restore(ctx context.Context) error
	RequestTransaction(ctx context.Context) error
	SendTurn(ctx context.Context, prompt string) error
	ClearSession(ctx context.Context) error
	SetCredential(key string) error
	Conversation() types.Conversation
}

// Executor runs the popup until the user quits.
type Executor struct {
	controller Controller
	renderer   *Renderer
	program    *tea.Program
	logger     *logging.Logger
}

// NewExecutor creates a popup for controller. renderer must be the one the
// controller was built with.
func NewExecutor(controller Controller, renderer *Renderer, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Discard("tui")
	}
	return &Executor{
		controller: controller,
		renderer:   renderer,
		logger:     logger,
	}
}

// Run starts the TUI and blocks until the user exits. The persisted
// conversation is restored before input is accepted.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Infof("TUI executor starting")

	m := newModel(ctx, e.controller, e.logger)
	m.copy = clipboard.WriteAll

	e.program = tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	program := e.program
	m.attach = func() { e.renderer.attach(program) }
	defer e.renderer.detach()

	if _, err := e.program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI program: %w", err)
	}
	e.logger.Infof("TUI executor stopped")
	return nil
}
