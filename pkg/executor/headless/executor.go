package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/cropchat/pkg/types"
)

const (
	statusSuccess        = "success"
	statusFailed         = "failed"
	statusPartialSuccess = "partial_success"

	dragSteps    = 12
	pollInterval = 50 * time.Millisecond
)

// Controller is the part of session.Controller a scenario drives.
type Controller interface {
	RequestTransaction(ctx context.Context) error
	SendTurn(ctx context.Context, prompt string) error
	ClearSession(ctx context.Context) error
	Conversation() types.Conversation
}

// Page is the browser tab the scenario runs in.
type Page interface {
	ID() string
	URL() string
	Drag(from, to types.Point, steps int) error
	Press(key string) error
	ClickCancel() error
}

// StateFunc reports the transaction state of the selection agent in a tab.
type StateFunc func(tabID string) types.TransactionState

// Executor runs one crop scenario end to end
type Executor struct {
	config         *Config
	controller     Controller
	renderer       *Renderer
	page           Page
	state          StateFunc
	logger         *Logger
	artifactWriter *ArtifactWriter

	// Execution state
	startTime time.Time
	summary   *ExecutionSummary
}

// NewExecutor creates an executor for config. renderer must be the one the
// controller was built with.
func NewExecutor(config *Config, controller Controller, renderer *Renderer, page Page, state StateFunc) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if controller == nil || renderer == nil || page == nil || state == nil {
		return nil, errors.New("controller, renderer, page and state are required")
	}

	summary := &ExecutionSummary{
		URL:    page.URL(),
		Action: config.Action,
		Status: "running",
	}
	if config.Action == ActionDrag {
		rect := config.Selection.Rect()
		summary.Selection = &rect
	}

	return &Executor{
		config:         config,
		controller:     controller,
		renderer:       renderer,
		page:           page,
		state:          state,
		logger:         renderer.Logger(),
		artifactWriter: NewArtifactWriter(config.Artifacts.OutputDir, config.Artifacts),
		summary:        summary,
	}, nil
}

// Summary returns the summary of the last run.
func (e *Executor) Summary() *ExecutionSummary {
	return e.summary
}

// Run starts a crop on the page, ends the selection the way the scenario
// says, waits for the reply and asks the follow-up questions.
func (e *Executor) Run(ctx context.Context) error {
	e.startTime = time.Now()
	e.summary.StartTime = e.startTime

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	e.logger.Header("cropchat headless run")
	e.logger.Infof("Page: %s", e.summary.URL)

	if e.config.Fresh {
		e.logger.Step("Clearing the stored conversation")
		if err := e.controller.ClearSession(ctx); err != nil {
			return e.fail(fmt.Errorf("failed to clear conversation: %w", err))
		}
	}
	before := len(e.controller.Conversation().Turns)

	e.logger.Step("Starting the crop tool")
	m := e.renderer.mark()
	if err := e.controller.RequestTransaction(ctx); err != nil {
		return e.fail(fmt.Errorf("failed to start crop: %w", err))
	}
	if err := e.waitForSelecting(ctx, m); err != nil {
		return e.fail(err)
	}

	if err := e.endSelection(); err != nil {
		return e.fail(err)
	}

	out, err := e.renderer.waitOutcome(ctx, m)
	if err != nil {
		return e.fail(fmt.Errorf("no result from the crop: %w", err))
	}
	e.summary.Outcome = out.status.Text

	// The conversation is committed before the reply is rendered, so it is
	// the authority on whether one arrived.
	replied := len(e.controller.Conversation().Turns) > before

	if e.config.Action != ActionDrag {
		if replied {
			return e.fail(errors.New("expected the crop to be cancelled, but a reply arrived"))
		}
		e.logger.Successf("Crop cancelled as expected")
		return e.finalize(statusSuccess)
	}
	if !replied {
		return e.fail(fmt.Errorf("crop did not produce a reply: %s", out.status.Text))
	}

	return e.finalize(e.askFollowUps(ctx))
}

func (e *Executor) waitForSelecting(ctx context.Context, m mark) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if e.state(e.page.ID()) == types.StateSelecting {
			return nil
		}
		if status, failed := e.renderer.failedSince(m); failed {
			return fmt.Errorf("crop tool did not start: %s", status.Text)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for the selection overlay: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Executor) endSelection() error {
	switch e.config.Action {
	case ActionEscape:
		e.logger.Step("Pressing Escape")
		return e.page.Press("Escape")
	case ActionCancelButton:
		e.logger.Step("Clicking Cancel")
		return e.page.ClickCancel()
	}

	rect := e.config.Selection.Rect()
	e.logger.Step(fmt.Sprintf("Selecting %gx%g at (%g, %g)", rect.Width, rect.Height, rect.Left, rect.Top))
	from := types.Point{X: rect.Left, Y: rect.Top}
	to := types.Point{X: rect.Right(), Y: rect.Bottom()}
	if err := e.page.Drag(from, to, dragSteps); err != nil {
		return fmt.Errorf("failed to drag selection: %w", err)
	}
	return nil
}

// askFollowUps sends each follow-up in order and stops at the first
// failure.
func (e *Executor) askFollowUps(ctx context.Context) string {
	n := len(e.config.FollowUps)
	for i, question := range e.config.FollowUps {
		e.logger.Step(fmt.Sprintf("Follow-up %d/%d", i+1, n))
		e.summary.FollowUpsAsked++
		if err := e.controller.SendTurn(ctx, question); err != nil {
			e.logger.Errorf("follow-up failed: %v", err)
			e.summary.Error = fmt.Sprintf("follow-up %d failed: %v", i+1, err)
			return statusPartialSuccess
		}
		e.summary.FollowUpsAnswered++
	}
	return statusSuccess
}

// finalize completes the execution and generates artifacts
func (e *Executor) finalize(status string) error {
	e.summary.Status = status
	e.complete()

	if status == statusPartialSuccess {
		return fmt.Errorf("run partially succeeded: %s", e.summary.Error)
	}
	return nil
}

// fail marks the execution as failed and returns an error
func (e *Executor) fail(err error) error {
	e.summary.Status = statusFailed
	e.summary.Error = err.Error()
	e.complete()
	return err
}

func (e *Executor) complete() {
	e.summary.EndTime = time.Now()
	e.summary.Duration = e.summary.EndTime.Sub(e.startTime)

	conv := e.controller.Conversation()
	e.summary.Transcript = transcript(conv.Turns)
	if conv.LastImage != nil {
		e.summary.ImageBytes = conv.LastImage.Len()
	}

	// Try to generate artifacts even on failure
	if err := e.artifactWriter.WriteAll(e.summary, conv.LastImage); err != nil {
		e.logger.Warningf("failed to write artifacts: %v", err)
	} else if e.config.Artifacts.Enabled {
		e.logger.Verbosef("artifacts written to %s", e.config.Artifacts.OutputDir)
	}

	e.logger.Summary(e.summary)
}
