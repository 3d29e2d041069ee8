// Package session implements the popup's session controller: it starts crop
// transactions, receives their results over the bus, and owns the
// conversation with the chat API.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/llm"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/storage"
	"github.com/entrhq/cropchat/pkg/types"
)

const (
	// DefaultWatchdog is how long the controller waits for the agent to
	// acknowledge a started transaction.
	DefaultWatchdog = 5 * time.Second

	// DefaultPrompt accompanies a freshly cropped image.
	DefaultPrompt = "Describe in detail what you see in this image."
)

// DefaultStartBackoff bounds the retries of startCrop delivery.
var DefaultStartBackoff = bus.Backoff{
	Initial:     200 * time.Millisecond,
	Max:         time.Second,
	Multiplier:  2,
	MaxAttempts: 3,
}

var (
	ErrMissingCredential     = errors.New("API key is required")
	ErrNoImage               = errors.New("no image to continue the conversation")
	ErrTransactionInProgress = errors.New("a crop is already in progress")
	ErrRestrictedPage        = errors.New("cannot crop on this page")
	ErrEmptyPrompt           = errors.New("prompt is empty")
	ErrNoTab                 = errors.New("no active tab")
)

// Status texts shown by the controller.
const (
	msgStarting       = "Initializing crop tool..."
	msgSelecting      = "Crop tool ready! Select an area on the screen."
	msgNotResponding  = "Crop tool is not responding. Please try again."
	msgCancelled      = "Crop cancelled"
	msgNoImageData    = "No image data received"
	msgSendingImage   = "Sending image to the chat API..."
	msgSendingMessage = "Sending message..."
	msgReplyReceived  = "Done! You can continue the conversation."
	msgRestored       = "Restored previous conversation"
	msgCleared        = "Conversation cleared. Ready for a new crop."
	msgNeedsRestart   = "Extension connection lost. Please restart cropchat."
)

// pending is the transaction the controller has asked an agent to start.
type pending struct {
	tabID string
	acked chan struct{}
	once  sync.Once
}

func (p *pending) ack() {
	p.once.Do(func() { close(p.acked) })
}

// Controller owns the conversation shown in the popup.
type Controller struct {
	bus.NopHandler

	bus      *bus.Bus
	host     Host
	newChat  llm.Factory
	local    storage.Store
	synced   storage.Store
	renderer Renderer
	denylist *Denylist
	logger   *logging.Logger

	clock           bus.Clock
	watchdog        time.Duration
	startBackoff    bus.Backoff
	defaultPrompt   string
	fallbackKey     string
	checkInterval   time.Duration
	recoveryBackoff bus.Backoff
	monitor         bool

	supervisor *bus.Supervisor
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// turnMu serializes chat exchanges.
	turnMu sync.Mutex

	mu           sync.Mutex
	conv         types.Conversation
	freshImage   bool
	generation   uint64
	pending      *pending
	seen         map[string]struct{}
	needsRestart bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRenderer sets the renderer.
func WithRenderer(r Renderer) Option {
	return func(c *Controller) {
		if r != nil {
			c.renderer = r
		}
	}
}

// WithDenylist replaces the restricted page patterns.
func WithDenylist(d *Denylist) Option {
	return func(c *Controller) {
		if d != nil {
			c.denylist = d
		}
	}
}

// WithClock sets the clock used for the watchdog and retries.
func WithClock(clock bus.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithWatchdog sets how long to wait for the agent to respond.
func WithWatchdog(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.watchdog = d
		}
	}
}

// WithStartBackoff sets the retry schedule for startCrop.
func WithStartBackoff(b bus.Backoff) Option {
	return func(c *Controller) { c.startBackoff = b }
}

// WithDefaultPrompt sets the prompt sent with a freshly cropped image.
func WithDefaultPrompt(prompt string) Option {
	return func(c *Controller) {
		if strings.TrimSpace(prompt) != "" {
			c.defaultPrompt = prompt
		}
	}
}

// WithCredentialFallback sets the API key used while none is saved.
func WithCredentialFallback(key string) Option {
	return func(c *Controller) { c.fallbackKey = strings.TrimSpace(key) }
}

// WithRecovery enables periodic registration checks.
func WithRecovery(interval time.Duration, backoff bus.Backoff) Option {
	return func(c *Controller) {
		c.monitor = true
		c.checkInterval = interval
		c.recoveryBackoff = backoff
	}
}

// NewController creates a controller. local holds the conversation, synced
// holds the credential. Call Attach to connect it to the bus.
func NewController(b *bus.Bus, host Host, chat llm.Factory, local, synced storage.Store, opts ...Option) *Controller {
	c := &Controller{
		bus:             b,
		host:            host,
		newChat:         chat,
		local:           local,
		synced:          synced,
		renderer:        NopRenderer{},
		logger:          logging.Discard("session"),
		clock:           bus.RealClock{},
		watchdog:        DefaultWatchdog,
		startBackoff:    DefaultStartBackoff,
		defaultPrompt:   DefaultPrompt,
		recoveryBackoff: bus.DefaultBackoff,
		seen:            make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.denylist == nil {
		c.denylist, _ = NewDenylist()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	supervisorOpts := []bus.SupervisorOption{
		bus.WithClock(c.clock),
		bus.WithSupervisorLogger(c.logger.With("session.monitor")),
		bus.WithBackoff(c.recoveryBackoff),
	}
	if c.checkInterval > 0 {
		supervisorOpts = append(supervisorOpts, bus.WithInterval(c.checkInterval))
	}
	c.supervisor = bus.NewSupervisor(b, bus.Popup, c, supervisorOpts...)
	c.supervisor.OnGiveUp = func(error) { c.markNeedsRestart() }
	return c
}

// Attach registers the controller as the popup endpoint.
func (c *Controller) Attach() error {
	if _, err := c.supervisor.Register(); err != nil {
		return fmt.Errorf("failed to register popup: %w", err)
	}
	if c.monitor {
		c.safeGo("monitor", func() { c.supervisor.Run(c.ctx) })
	}
	c.logger.Infof("popup attached")
	return nil
}

// Detach unregisters the controller and waits for in-flight result handling.
func (c *Controller) Detach() {
	c.cancel()
	if p := c.supervisor.Port(); p != nil {
		p.Close()
	}
	c.wg.Wait()
	c.logger.Infof("popup detached")
}

// Wait blocks until results received so far have been processed.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Port returns the popup's current bus port.
func (c *Controller) Port() *bus.Port {
	return c.supervisor.Port()
}

// Conversation returns a copy of the current conversation.
func (c *Controller) Conversation() types.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// Pending reports whether a transaction is awaiting its result.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// NeedsRestart reports whether the popup lost its bus connection for good.
func (c *Controller) NeedsRestart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsRestart
}

// Credential returns the saved API key, or the fallback if none is saved.
func (c *Controller) Credential() (string, error) {
	var key string
	if _, err := c.synced.Get(KeyCredential, &key); err != nil {
		return "", fmt.Errorf("failed to load API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = c.fallbackKey
	}
	return key, nil
}

// SetCredential saves the API key to the synced store.
func (c *Controller) SetCredential(key string) error {
	if err := c.synced.Set(map[string]any{KeyCredential: strings.TrimSpace(key)}); err != nil {
		c.logger.Warnf("could not save API key: %v", err)
		return fmt.Errorf("failed to save API key: %w", err)
	}
	return nil
}

// Restore loads the persisted conversation and redraws the dialogue. It
// must run before the controller accepts input.
func (c *Controller) Restore(ctx context.Context) error {
	conv, err := loadConversation(c.local)
	if err != nil {
		c.logger.Errorf("restore failed: %v", err)
		c.renderer.SetStatus(types.NewStatus(types.StatusError, "Could not load the previous conversation"))
		return err
	}
	if err := conv.Validate(); err != nil {
		c.logger.Warnf("persisted conversation is inconsistent: %v", err)
	}

	c.mu.Lock()
	c.conv = conv
	c.freshImage = false
	c.mu.Unlock()

	c.renderer.Reset()
	for _, turn := range conv.Turns {
		c.renderer.ShowTurn(turn)
	}
	c.renderer.ShowImageIndicator(conv.HasImage())
	if !conv.IsEmpty() {
		c.renderer.SetStatus(types.NewStatus(types.StatusSuccess, msgRestored))
	}
	c.logger.Infof("restored %d turns (image: %t)", len(conv.Turns), conv.HasImage())
	return nil
}

// RequestTransaction asks the agent in the active tab to start a crop.
// It returns once the agent accepted the request; the result arrives later
// through the bus.
func (c *Controller) RequestTransaction(ctx context.Context) error {
	if err := c.checkContext(ctx); err != nil {
		return err
	}

	key, err := c.Credential()
	if err != nil {
		return c.fail(err)
	}
	if key == "" {
		return c.fail(ErrMissingCredential)
	}

	p, err := c.reserve(ctx)
	if err != nil {
		return c.fail(err)
	}

	c.renderer.SetStatus(types.NewStatus(types.StatusLoading, msgStarting))
	if err := c.activate(ctx, p); err != nil {
		c.release(p)
		return c.fail(err)
	}

	c.safeGo("watchdog", func() { c.watch(p) })
	return nil
}

// reserve claims the single pending slot. A pending transaction whose agent
// no longer answers, or reports idle, is dropped first.
func (c *Controller) reserve(ctx context.Context) (*pending, error) {
	c.mu.Lock()
	existing := c.pending
	c.mu.Unlock()

	if existing != nil && !c.stale(ctx, existing) {
		return nil, ErrTransactionInProgress
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != existing {
		return nil, ErrTransactionInProgress
	}
	if existing != nil {
		c.logger.Warnf("dropping stale transaction in tab %s", existing.tabID)
	}
	c.pending = &pending{acked: make(chan struct{})}
	return c.pending, nil
}

// stale pings the agent of an acknowledged transaction.
func (c *Controller) stale(ctx context.Context, p *pending) bool {
	c.mu.Lock()
	tabID := p.tabID
	c.mu.Unlock()
	select {
	case <-p.acked:
	default:
		return false
	}
	if tabID == "" {
		return false
	}

	port := c.supervisor.Port()
	if port == nil {
		return true
	}
	resp, err := port.Send(ctx, bus.TabEndpoint(tabID), bus.Ping{})
	if err != nil {
		return bus.IsChannelFailure(err)
	}
	return resp.Status == types.StateIdle.String()
}

func (c *Controller) release(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == p {
		c.pending = nil
	}
}

func (c *Controller) activate(ctx context.Context, p *pending) error {
	tab, err := c.host.ActiveTab(ctx)
	if err != nil {
		return fmt.Errorf("failed to access tab: %w", err)
	}
	if tab.ID == "" {
		return ErrNoTab
	}
	if pattern, denied := c.denylist.Match(tab.URL); denied {
		c.logger.Infof("refusing %s (matches %s)", tab.URL, pattern)
		return fmt.Errorf("%w: %s", ErrRestrictedPage, tab.URL)
	}

	if err := c.host.Activate(ctx, tab); err != nil {
		return fmt.Errorf("failed to start crop tool: %w", err)
	}

	c.mu.Lock()
	p.tabID = tab.ID
	c.mu.Unlock()

	resp, err := bus.SendWithRetry(ctx, c.clock, c.startBackoff, c.supervisor.Port, bus.TabEndpoint(tab.ID), bus.StartCrop{})
	if err != nil {
		return fmt.Errorf("failed to start crop tool: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("failed to start crop tool: %s", resp.Error)
	}
	c.logger.Infof("crop started in tab %s", tab.ID)
	return nil
}

// watch surfaces an unresponsive agent and frees the slot so the user can
// retry.
func (c *Controller) watch(p *pending) {
	select {
	case <-p.acked:
		return
	case <-c.ctx.Done():
		return
	case <-c.clock.After(c.watchdog):
	}

	c.mu.Lock()
	current := c.pending == p
	if current {
		c.pending = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}
	c.logger.Warnf("agent in tab %s did not respond within %s", p.tabID, c.watchdog)
	c.renderer.SetStatus(types.NewStatus(types.StatusError, msgNotResponding))
}

// OnOverlayCreating marks the pending transaction as acknowledged.
func (c *Controller) OnOverlayCreating() {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p != nil {
		p.ack()
	}
	c.renderer.SetStatus(types.NewStatus(types.StatusSuccess, msgSelecting))
}

// OnCropResult handles the end of a transaction. txID, when set, makes
// redelivered results idempotent.
func (c *Controller) OnCropResult(ctx context.Context, txID string, result types.CropResult) error {
	c.mu.Lock()
	if txID != "" {
		if _, dup := c.seen[txID]; dup {
			c.mu.Unlock()
			c.logger.Debugf("duplicate result for %s ignored", txID)
			return nil
		}
		c.seen[txID] = struct{}{}
	}
	if p := c.pending; p != nil {
		p.ack()
		c.pending = nil
	}
	c.mu.Unlock()

	if result.Outcome == types.CropSuccess && (result.Image == nil || result.Image.IsEmpty()) {
		result = types.NewCropFailed(msgNoImageData)
	}

	switch result.Outcome {
	case types.CropSuccess:
	case types.CropFailed:
		c.logger.Warnf("crop failed: %s", result.Reason)
		c.renderer.SetStatus(types.NewStatus(types.StatusError, failedText(result.Reason)))
		return nil
	default:
		c.logger.Infof("crop cancelled: %s", result.Reason)
		c.renderer.SetStatus(types.NewStatus(types.StatusError, msgCancelled))
		return nil
	}

	img := *result.Image
	c.mu.Lock()
	c.conv.LastImage = &img
	c.freshImage = true
	conv := c.conv.Clone()
	c.mu.Unlock()

	c.logger.Infof("received cropped image (%d bytes)", img.Len())
	if err := saveConversation(c.local, conv); err != nil {
		c.logger.Errorf("%v", err)
	}
	c.renderer.ShowImageIndicator(true)
	c.renderer.SetStatus(types.NewStatus(types.StatusLoading, msgSendingImage))

	return c.sendTurn(ctx, c.defaultPrompt)
}

func failedText(reason string) string {
	if reason == "" {
		return "Crop failed"
	}
	return "Crop failed: " + reason
}

// SendTurn sends a follow-up prompt about the last image.
func (c *Controller) SendTurn(ctx context.Context, prompt string) error {
	if err := c.checkContext(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	c.renderer.SetStatus(types.NewStatus(types.StatusLoading, msgSendingMessage))
	return c.sendTurn(ctx, prompt)
}

func (c *Controller) sendTurn(ctx context.Context, prompt string) error {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.mu.Lock()
	if !c.conv.HasImage() {
		c.mu.Unlock()
		return c.fail(ErrNoImage)
	}
	conv := c.conv.Clone()
	var attach *types.EncodedImage
	if conv.IsEmpty() || c.freshImage {
		attach = conv.LastImage
	}
	generation := c.generation
	c.mu.Unlock()

	key, err := c.Credential()
	if err != nil {
		return c.fail(err)
	}
	if key == "" {
		return c.fail(ErrMissingCredential)
	}
	client, err := c.newChat(key)
	if err != nil {
		return c.fail(fmt.Errorf("failed to create chat client: %w", err))
	}

	user := types.NewUserTurn(prompt, attach)
	history := append(conv.Turns, user)
	c.logger.Infof("sending turn %d to %s (image attached: %t)", len(history), client.Model(), attach != nil)

	reply, err := client.Chat(ctx, history)
	if err != nil {
		c.logger.Errorf("chat failed: %v", err)
		return c.fail(err)
	}
	assistant := types.NewAssistantTurn(reply)

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		c.logger.Warnf("conversation cleared during chat; reply dropped")
		return nil
	}
	c.conv.Turns = append(history, assistant)
	c.freshImage = false
	committed := c.conv.Clone()
	c.mu.Unlock()

	if err := saveConversation(c.local, committed); err != nil {
		c.logger.Errorf("%v", err)
		c.renderer.SetStatus(types.NewStatus(types.StatusError, "Reply received but the conversation could not be saved"))
	} else {
		c.renderer.SetStatus(types.NewStatus(types.StatusSuccess, msgReplyReceived))
	}
	c.renderer.ShowTurn(user)
	c.renderer.ShowTurn(assistant)
	return nil
}

// ClearSession drops the conversation and its persisted copy.
func (c *Controller) ClearSession(ctx context.Context) error {
	if err := c.checkContext(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.conv = types.Conversation{}
	c.freshImage = false
	c.generation++
	c.mu.Unlock()

	c.renderer.Reset()
	c.renderer.ShowImageIndicator(false)
	if err := clearConversation(c.local); err != nil {
		c.logger.Warnf("%v", err)
		c.renderer.SetStatus(types.NewStatus(types.StatusError, "Conversation cleared but storage could not be updated"))
		return err
	}
	c.renderer.SetStatus(types.NewStatus(types.StatusSuccess, msgCleared))
	return nil
}

// checkContext verifies the popup is still connected before a user action.
func (c *Controller) checkContext(ctx context.Context) error {
	if c.NeedsRestart() {
		c.renderer.SetStatus(types.NewStatus(types.StatusError, msgNeedsRestart))
		return bus.ErrNeedsRestart
	}
	if c.supervisor.Port().Valid() {
		return nil
	}
	if err := c.supervisor.Check(ctx); err != nil {
		if errors.Is(err, bus.ErrNeedsRestart) {
			c.markNeedsRestart()
			return bus.ErrNeedsRestart
		}
		return c.fail(err)
	}
	return nil
}

func (c *Controller) markNeedsRestart() {
	c.mu.Lock()
	already := c.needsRestart
	c.needsRestart = true
	c.mu.Unlock()
	if already {
		return
	}
	c.logger.Errorf("popup needs a manual restart")
	c.renderer.SetStatus(types.NewStatus(types.StatusError, msgNeedsRestart))
	c.renderer.DisableInput(msgNeedsRestart)
}

// fail reports err to the user and returns it.
func (c *Controller) fail(err error) error {
	c.renderer.SetStatus(types.NewStatus(types.StatusError, UserMessage(err)))
	return err
}

// UserMessage maps an error to the text shown in the status line.
func UserMessage(err error) string {
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.UserMessage()
	case errors.Is(err, ErrMissingCredential):
		return "Please enter your OpenAI API key!"
	case errors.Is(err, ErrRestrictedPage):
		return "Cannot crop on this page. Please try another web page."
	case errors.Is(err, bus.ErrNeedsRestart):
		return msgNeedsRestart
	case errors.Is(err, ErrNoImage), errors.Is(err, ErrTransactionInProgress), errors.Is(err, ErrNoTab):
		return capitalize(err.Error())
	default:
		return "Error: " + err.Error()
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// process runs fn off the bus handler goroutine so the sender gets its ack
// immediately.
func (c *Controller) process(name string, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorf("PANIC in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn(c.ctx)
	}()
}

func (c *Controller) safeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorf("PANIC in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// HandleOverlayCreating implements bus.Handler.
func (c *Controller) HandleOverlayCreating(_ context.Context, from bus.Endpoint, _ bus.OverlayCreating) bus.Response {
	c.logger.Debugf("overlay creating in %s", from)
	c.OnOverlayCreating()
	return bus.OK()
}

// HandleImageCropped implements bus.Handler.
func (c *Controller) HandleImageCropped(_ context.Context, from bus.Endpoint, msg bus.ImageCropped) bus.Response {
	result := types.NewCropFailed(msgNoImageData)
	if msg.ImageData != "" {
		img, err := types.DecodeBase64(types.MIMEPNG, msg.ImageData)
		if err != nil {
			c.logger.Warnf("bad image data from %s: %v", from, err)
		} else {
			result = types.NewCropSuccess(img)
		}
	}
	c.process("imageCropped", func(ctx context.Context) {
		_ = c.OnCropResult(ctx, msg.TransactionID, result)
	})
	return bus.OK()
}

// HandleCropCancelled implements bus.Handler.
func (c *Controller) HandleCropCancelled(_ context.Context, _ bus.Endpoint, msg bus.CropCancelled) bus.Response {
	result := types.NewCropCancelled(msg.Reason)
	if strings.HasPrefix(msg.Reason, "failed: ") {
		result = types.NewCropFailed(strings.TrimPrefix(msg.Reason, "failed: "))
	}
	c.process("cropCancelled", func(ctx context.Context) {
		_ = c.OnCropResult(ctx, msg.TransactionID, result)
	})
	return bus.OK()
}
