// Package selection implements the per-page selection agent: the
// capture-select-crop transaction state machine.
//
// All agent state is owned by one event loop goroutine. Public methods only
// post events, so they never block on the loop and may be called from any
// goroutine, including host callbacks.
package selection

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/types"
)

// KeyEscape is the key name that cancels a selection.
const KeyEscape = "Escape"

// DefaultEmitBackoff bounds the retries of result notifications to the popup.
var DefaultEmitBackoff = bus.Backoff{
	Initial:     100 * time.Millisecond,
	Max:         time.Second,
	Multiplier:  2,
	MaxAttempts: 3,
}

// Snapshot is a point-in-time view of the agent for diagnostics and tests.
type Snapshot struct {
	State         types.TransactionState
	TransactionID string
	Selection     types.Rect
}

// Agent runs selection transactions for one page.
type Agent struct {
	bus.NopHandler

	tabID   string
	bus     *bus.Bus
	overlay Overlay
	cropper Cropper
	logger  *logging.Logger

	minDim          float64
	clock           bus.Clock
	emitBackoff     bus.Backoff
	checkInterval   time.Duration
	recoveryBackoff bus.Backoff
	monitor         bool

	supervisor *bus.Supervisor

	inbox  *mailbox[event]
	outbox *mailbox[bus.Message]

	state    atomic.Int32
	snapshot atomic.Pointer[Snapshot]

	// Loop-owned.
	tx *transaction

	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	stopOnce   sync.Once
	loopDone   chan struct{}
	senderDone chan struct{}

	// OnTransition, when set, is called from the loop on every state change.
	OnTransition func(from, to types.TransactionState)
	// OnResult, when set, is called from the loop with every emitted result.
	OnResult func(txID string, result types.CropResult)
	// OnNeedsRestart, when set, is called once the agent's bus registration
	// could not be recovered.
	OnNeedsRestart func(err error)
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMinSelection sets the minimum width and height a selection must
// exceed.
func WithMinSelection(minDim float64) Option {
	return func(a *Agent) {
		if minDim > 0 {
			a.minDim = minDim
		}
	}
}

// WithClock sets the clock used for retries and monitoring.
func WithClock(c bus.Clock) Option {
	return func(a *Agent) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithEmitBackoff sets the retry schedule for result notifications.
func WithEmitBackoff(b bus.Backoff) Option {
	return func(a *Agent) { a.emitBackoff = b }
}

// WithRecovery enables periodic registration checks at interval, with
// re-registration on the given backoff schedule.
func WithRecovery(interval time.Duration, backoff bus.Backoff) Option {
	return func(a *Agent) {
		a.monitor = true
		a.checkInterval = interval
		a.recoveryBackoff = backoff
	}
}

// NewAgent creates an agent for tabID. Call Attach to register it on the bus
// and start its loop.
func NewAgent(b *bus.Bus, tabID string, overlay Overlay, cropper Cropper, opts ...Option) *Agent {
	a := &Agent{
		tabID:           tabID,
		bus:             b,
		overlay:         overlay,
		cropper:         cropper,
		logger:          logging.Discard("selection"),
		minDim:          types.MinSelectionDim,
		clock:           bus.RealClock{},
		emitBackoff:     DefaultEmitBackoff,
		recoveryBackoff: bus.DefaultBackoff,
		inbox:           newMailbox[event](),
		outbox:          newMailbox[bus.Message](),
		loopDone:        make(chan struct{}),
		senderDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.snapshot.Store(&Snapshot{State: types.StateIdle})
	a.ctx, a.cancel = context.WithCancel(context.Background())

	supervisorOpts := []bus.SupervisorOption{
		bus.WithClock(a.clock),
		bus.WithSupervisorLogger(a.logger.With("selection.monitor")),
		bus.WithBackoff(a.recoveryBackoff),
	}
	if a.checkInterval > 0 {
		supervisorOpts = append(supervisorOpts, bus.WithInterval(a.checkInterval))
	}
	a.supervisor = bus.NewSupervisor(b, a.Endpoint(), a, supervisorOpts...)
	a.supervisor.OnGiveUp = func(err error) {
		a.post(contextLostEvent{err: err})
		if a.OnNeedsRestart != nil {
			a.OnNeedsRestart(err)
		}
	}
	return a
}

// Endpoint returns the agent's bus address.
func (a *Agent) Endpoint() bus.Endpoint {
	return bus.TabEndpoint(a.tabID)
}

// TabID returns the page this agent serves.
func (a *Agent) TabID() string {
	return a.tabID
}

// Attach registers the agent on the bus and starts its event loop.
func (a *Agent) Attach() error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("agent for tab %s already attached", a.tabID)
	}
	if _, err := a.supervisor.Register(); err != nil {
		a.started.Store(false)
		return fmt.Errorf("failed to register agent for tab %s: %w", a.tabID, err)
	}

	a.safeGo("loop", a.run)
	a.safeGo("sender", a.send)
	if a.monitor {
		a.safeGo("monitor", func() { a.supervisor.Run(a.ctx) })
	}
	a.logger.Infof("agent attached to tab %s", a.tabID)
	return nil
}

// State returns the current transaction state.
func (a *Agent) State() types.TransactionState {
	return types.TransactionState(a.state.Load())
}

// Snapshot returns the current state, transaction id and selection.
func (a *Agent) Snapshot() Snapshot {
	return *a.snapshot.Load()
}

// Port returns the agent's current bus port.
func (a *Agent) Port() *bus.Port {
	return a.supervisor.Port()
}

// Start begins a transaction. It is a no-op while one is open.
func (a *Agent) Start() { a.post(startEvent{}) }

// PointerDown anchors a candidate rectangle at (x, y).
func (a *Agent) PointerDown(x, y float64) { a.post(pointerDownEvent{types.Point{X: x, Y: y}}) }

// PointerMove extends the candidate rectangle to (x, y).
func (a *Agent) PointerMove(x, y float64) { a.post(pointerMoveEvent{types.Point{X: x, Y: y}}) }

// PointerUp ends the drag at (x, y).
func (a *Agent) PointerUp(x, y float64) { a.post(pointerUpEvent{types.Point{X: x, Y: y}}) }

// KeyDown handles a key press; only Escape has an effect.
func (a *Agent) KeyDown(key string) { a.post(keyDownEvent{key}) }

// CancelClicked handles the overlay's cancel affordance.
func (a *Agent) CancelClicked() { a.post(cancelClickedEvent{}) }

// VisibilityChanged handles the page becoming hidden or visible.
func (a *Agent) VisibilityChanged(hidden bool) { a.post(visibilityEvent{hidden}) }

// ImageLoadFailed handles the overlay failing to decode the screenshot.
func (a *Agent) ImageLoadFailed() { a.post(imageLoadFailedEvent{}) }

// Unload tears the agent down: an open transaction is cancelled, queued
// notifications are delivered, and the agent leaves the bus. It blocks until
// teardown completes and is safe to call more than once.
func (a *Agent) Unload() {
	if !a.started.Load() {
		a.stop()
		return
	}
	a.post(unloadEvent{})
	<-a.loopDone
	<-a.senderDone
	a.stop()
}

func (a *Agent) stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		if p := a.supervisor.Port(); p != nil {
			p.Close()
		}
		a.logger.Infof("agent for tab %s unloaded", a.tabID)
	})
}

// HandleStartCrop answers startCrop. The transaction starts asynchronously.
func (a *Agent) HandleStartCrop(_ context.Context, from bus.Endpoint, _ bus.StartCrop) bus.Response {
	a.logger.Debugf("startCrop from %s", from)
	if !a.post(startEvent{}) {
		return bus.Fail("contextInvalid", "agent unloaded")
	}
	return bus.OK()
}

// HandlePing answers ping with the transaction state.
func (a *Agent) HandlePing(context.Context, bus.Endpoint, bus.Ping) bus.Response {
	return bus.Response{Success: true, Status: a.State().String()}
}

func (a *Agent) post(ev event) bool {
	if !a.started.Load() {
		a.logger.Warnf("event %T before attach ignored", ev)
		return false
	}
	return a.inbox.put(ev)
}

// send delivers outgoing notifications in order.
func (a *Agent) send() {
	defer close(a.senderDone)
	for {
		batch, ok := a.outbox.next()
		if !ok {
			return
		}
		for _, msg := range batch {
			a.deliver(msg)
		}
	}
}

func (a *Agent) deliver(msg bus.Message) {
	backoff := a.emitBackoff
	if _, ok := msg.(bus.OverlayCreating); ok {
		backoff.MaxAttempts = 1
	}

	resp, err := bus.SendWithRetry(a.ctx, a.clock, backoff, a.supervisor.Port, bus.Popup, msg)
	if err != nil {
		a.logger.Warnf("popup not available to receive %s: %v", msg.Action(), err)
		return
	}
	if !resp.Success {
		a.logger.Warnf("popup rejected %s: %s", msg.Action(), resp.Error)
	}
}

func (a *Agent) safeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Errorf("PANIC in agent %s goroutine: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
