package headless

import (
	"context"
	"sync"

	"github.com/entrhq/cropchat/pkg/session"
	"github.com/entrhq/cropchat/pkg/types"
)

var _ session.Renderer = (*Renderer)(nil)

// Renderer prints controller output and records it so a run can wait for
// the outcome of a crop.
type Renderer struct {
	logger *Logger

	mu       sync.Mutex
	statuses []types.Status
	turns    []types.Turn
	disabled string
	changed  chan struct{}
}

// NewRenderer creates a renderer printing through logger.
func NewRenderer(logger *Logger) *Renderer {
	return &Renderer{
		logger:  logger,
		changed: make(chan struct{}),
	}
}

// Logger returns the logger the renderer prints through.
func (r *Renderer) Logger() *Logger {
	return r.logger
}

func (r *Renderer) SetStatus(status types.Status) {
	r.logger.Status(status)
	r.update(func() { r.statuses = append(r.statuses, status) })
}

func (r *Renderer) ShowTurn(turn types.Turn) {
	r.logger.Turn(turn)
	r.update(func() { r.turns = append(r.turns, turn) })
}

func (r *Renderer) ShowImageIndicator(visible bool) {
	if visible {
		r.logger.Verbosef("image ready for questions")
	}
}

func (r *Renderer) Reset() {
	r.logger.Verbosef("dialogue cleared")
}

func (r *Renderer) DisableInput(reason string) {
	r.logger.Errorf("%s", reason)
	r.update(func() { r.disabled = reason })
}

// update applies fn and wakes every waiter.
func (r *Renderer) update(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	close(r.changed)
	r.changed = make(chan struct{})
}

// mark is a position in the recorded output.
type mark struct {
	statuses int
	turns    int
}

func (r *Renderer) mark() mark {
	r.mu.Lock()
	defer r.mu.Unlock()
	return mark{statuses: len(r.statuses), turns: len(r.turns)}
}

// outcome is what ended a wait.
type outcome struct {
	status  types.Status
	replied bool
	failed  bool
}

// observe reports the outcome since m, if there is one yet. Callers hold mu.
func (r *Renderer) observe(m mark) (outcome, bool) {
	var out outcome
	if n := len(r.statuses); n > 0 {
		out.status = r.statuses[n-1]
	}
	for _, turn := range r.turns[m.turns:] {
		if turn.Role == types.RoleAssistant {
			out.replied = true
			return out, true
		}
	}
	if r.disabled != "" {
		out.failed = true
		out.status = types.NewStatus(types.StatusError, r.disabled)
		return out, true
	}
	for _, status := range r.statuses[m.statuses:] {
		if status.IsError() {
			out.failed = true
			out.status = status
			return out, true
		}
	}
	return out, false
}

// failedSince returns the first error reported after m.
func (r *Renderer) failedSince(m mark) (types.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, done := r.observe(m)
	if done && out.failed {
		return out.status, true
	}
	return types.Status{}, false
}

// waitOutcome blocks until a reply or an error is reported after m.
func (r *Renderer) waitOutcome(ctx context.Context, m mark) (outcome, error) {
	for {
		r.mu.Lock()
		out, done := r.observe(m)
		changed := r.changed
		r.mu.Unlock()
		if done {
			return out, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
