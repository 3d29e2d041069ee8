package session

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/bus/bustest"
	"github.com/entrhq/cropchat/pkg/llm"
	"github.com/entrhq/cropchat/pkg/storage"
	"github.com/entrhq/cropchat/pkg/types"
)

const testTab = "7"

var noRetry = bus.Backoff{MaxAttempts: 1}

type recorder struct {
	mu        sync.Mutex
	statuses  []types.Status
	turns     []types.Turn
	indicator bool
	resets    int
	disabled  string
}

func (r *recorder) SetStatus(s types.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) ShowTurn(t types.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
}

func (r *recorder) ShowImageIndicator(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indicator = v
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.turns = nil
}

func (r *recorder) DisableInput(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = reason
}

func (r *recorder) last() types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return types.Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) shown() []types.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Turn(nil), r.turns...)
}

type fakeHost struct {
	mu          sync.Mutex
	tab         Tab
	tabErr      error
	activateErr error
	activated   []Tab
}

func (h *fakeHost) ActiveTab(context.Context) (Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tab, h.tabErr
}

func (h *fakeHost) Activate(_ context.Context, tab Tab) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activateErr != nil {
		return h.activateErr
	}
	h.activated = append(h.activated, tab)
	return nil
}

func (h *fakeHost) activations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activated)
}

type fakeChat struct {
	mu      sync.Mutex
	calls   [][]types.Turn
	keys    []string
	replies []string
	err     error
}

func (f *fakeChat) factory(key string) (llm.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return &fakeClient{chat: f}, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChat) call(i int) []types.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type fakeClient struct {
	chat *fakeChat
}

func (c *fakeClient) Model() string { return "fake" }

func (c *fakeClient) Chat(_ context.Context, turns []types.Turn) (string, error) {
	f := c.chat
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]types.Turn(nil), turns...))
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "reply", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

// fakeAgent stands in for the selection agent of a tab.
type fakeAgent struct {
	bus.NopHandler

	mu     sync.Mutex
	starts int
	state  string
}

func (a *fakeAgent) HandleStartCrop(context.Context, bus.Endpoint, bus.StartCrop) bus.Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	a.state = types.StateCapturing.String()
	return bus.OK()
}

func (a *fakeAgent) HandlePing(context.Context, bus.Endpoint, bus.Ping) bus.Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bus.Response{Success: true, Status: a.state}
}

func (a *fakeAgent) setState(s types.TransactionState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s.String()
}

func (a *fakeAgent) startCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

type harness struct {
	t        *testing.T
	bus      *bus.Bus
	host     *fakeHost
	chat     *fakeChat
	local    storage.Store
	synced   *storage.MemoryStore
	renderer *recorder
	agent    *fakeAgent
	agentBus *bus.Port
	ctrl     *Controller
}

func newHarness(t *testing.T, local storage.Store, opts ...Option) *harness {
	t.Helper()
	if local == nil {
		local = storage.NewMemoryStore()
	}
	h := &harness{
		t:        t,
		bus:      bus.New(bus.WithTimeout(2 * time.Second)),
		host:     &fakeHost{tab: Tab{ID: testTab, URL: "https://example.com/page"}},
		chat:     &fakeChat{},
		local:    local,
		synced:   storage.NewMemoryStore(),
		renderer: &recorder{},
		agent:    &fakeAgent{state: types.StateIdle.String()},
	}
	require.NoError(t, h.synced.Set(map[string]any{KeyCredential: "sk-test"}))

	port, err := h.bus.Register(bus.TabEndpoint(testTab), h.agent)
	require.NoError(t, err)
	h.agentBus = port

	opts = append([]Option{WithRenderer(h.renderer), WithStartBackoff(noRetry)}, opts...)
	h.ctrl = NewController(h.bus, h.host, h.chat.factory, h.local, h.synced, opts...)
	require.NoError(t, h.ctrl.Attach())
	t.Cleanup(h.ctrl.Detach)
	return h
}

// emit sends msg from the agent to the popup and waits for processing.
func (h *harness) emit(msg bus.Message) bus.Response {
	h.t.Helper()
	resp, err := h.agentBus.Send(context.Background(), bus.Popup, msg)
	require.NoError(h.t, err)
	h.ctrl.Wait()
	return resp
}

func (h *harness) crop(txID string, data []byte) {
	h.t.Helper()
	img := types.NewPNG(data)
	resp := h.emit(bus.ImageCropped{ImageData: img.Base64(), TransactionID: txID})
	assert.True(h.t, resp.Success)
}

func TestRequestTransactionStartsAgent(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	assert.Equal(t, 1, h.host.activations())
	assert.Equal(t, 1, h.agent.startCount())
	assert.True(t, h.ctrl.Pending())

	resp := h.emit(bus.OverlayCreating{TransactionID: "tx-1"})
	assert.True(t, resp.Success)
	assert.Equal(t, msgSelecting, h.renderer.last().Text)
	assert.True(t, h.ctrl.Pending())
	assert.True(t, h.ctrl.Conversation().IsEmpty(), "overlayCreating must not touch the conversation")
}

func TestRequestTransactionMissingCredential(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.SetCredential("   "))

	err := h.ctrl.RequestTransaction(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, 0, h.host.activations())
	assert.Equal(t, 0, h.agent.startCount())
	assert.True(t, h.renderer.last().IsError())
	assert.False(t, h.ctrl.Pending())
}

func TestCredentialFallback(t *testing.T) {
	h := newHarness(t, nil, WithCredentialFallback("sk-flag"))
	require.NoError(t, h.synced.Remove(KeyCredential))

	key, err := h.ctrl.Credential()
	require.NoError(t, err)
	assert.Equal(t, "sk-flag", key)

	require.NoError(t, h.ctrl.SetCredential(" sk-saved "))
	key, err = h.ctrl.Credential()
	require.NoError(t, err)
	assert.Equal(t, "sk-saved", key)
}

func TestRequestTransactionRestrictedPage(t *testing.T) {
	urls := []string{
		"chrome://extensions/",
		"CHROME://settings",
		"chrome-extension://abcdef/popup.html",
		"edge://flags",
		"about:blank",
		"devtools://devtools/bundled/inspector.html",
		"view-source:https://example.com",
		"",
	}
	for _, url := range urls {
		t.Run(url, func(t *testing.T) {
			h := newHarness(t, nil)
			h.host.tab.URL = url

			err := h.ctrl.RequestTransaction(context.Background())
			assert.ErrorIs(t, err, ErrRestrictedPage)
			assert.Equal(t, 0, h.host.activations(), "restricted pages are refused before activation")
			assert.Equal(t, 0, h.agent.startCount())
			assert.False(t, h.ctrl.Pending())
			assert.Contains(t, h.renderer.last().Text, "Cannot crop on this page")
		})
	}
}

func TestRequestTransactionHostErrors(t *testing.T) {
	t.Run("tab query", func(t *testing.T) {
		h := newHarness(t, nil)
		h.host.tabErr = errors.New("no window")
		err := h.ctrl.RequestTransaction(context.Background())
		require.Error(t, err)
		assert.False(t, h.ctrl.Pending())
	})

	t.Run("injection", func(t *testing.T) {
		h := newHarness(t, nil)
		h.host.activateErr = errors.New("cannot access page")
		err := h.ctrl.RequestTransaction(context.Background())
		require.Error(t, err)
		assert.Equal(t, 0, h.agent.startCount())
		assert.False(t, h.ctrl.Pending())
	})

	t.Run("agent missing", func(t *testing.T) {
		h := newHarness(t, nil)
		h.agentBus.Close()
		err := h.ctrl.RequestTransaction(context.Background())
		assert.ErrorIs(t, err, bus.ErrPortClosed)
		assert.False(t, h.ctrl.Pending())
	})
}

func TestRequestTransactionInProgress(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	err := h.ctrl.RequestTransaction(context.Background())
	assert.ErrorIs(t, err, ErrTransactionInProgress)

	h.emit(bus.OverlayCreating{})
	h.agent.setState(types.StateSelecting)
	err = h.ctrl.RequestTransaction(context.Background())
	assert.ErrorIs(t, err, ErrTransactionInProgress)
	assert.Equal(t, 1, h.agent.startCount())
}

func TestRequestTransactionDropsStalePending(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	h.emit(bus.OverlayCreating{})

	// The agent went back to idle without reporting a result.
	h.agent.setState(types.StateIdle)
	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	assert.Equal(t, 2, h.agent.startCount())
}

func TestWatchdogReportsUnresponsiveAgent(t *testing.T) {
	clock := bustest.NewFakeClock()
	h := newHarness(t, nil, WithClock(clock))

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)

	clock.Advance(DefaultWatchdog)
	require.Eventually(t, func() bool { return !h.ctrl.Pending() }, time.Second, time.Millisecond)
	assert.Equal(t, msgNotResponding, h.renderer.last().Text)
}

func TestWatchdogStopsOnAck(t *testing.T) {
	clock := bustest.NewFakeClock()
	h := newHarness(t, nil, WithClock(clock))

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	h.emit(bus.OverlayCreating{})
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)

	clock.Advance(DefaultWatchdog)
	assert.True(t, h.ctrl.Pending())
	assert.Equal(t, msgSelecting, h.renderer.last().Text)
}

func TestCropResultSendsImageToChat(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.replies = []string{"A cat on a sofa."}

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	h.emit(bus.OverlayCreating{TransactionID: "tx-1"})
	h.crop("tx-1", []byte("cropped-png"))

	assert.False(t, h.ctrl.Pending())
	require.Equal(t, 1, h.chat.callCount())
	sent := h.chat.call(0)
	require.Len(t, sent, 1)
	assert.Equal(t, types.RoleUser, sent[0].Role)
	assert.Equal(t, DefaultPrompt, sent[0].Text)
	require.NotNil(t, sent[0].Image)
	assert.Equal(t, []byte("cropped-png"), sent[0].Image.Data)
	assert.Equal(t, []string{"sk-test"}, h.chat.keys)

	conv := h.ctrl.Conversation()
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, "A cat on a sofa.", conv.Turns[1].Text)
	assert.NoError(t, conv.Validate())

	shown := h.renderer.shown()
	require.Len(t, shown, 2)
	assert.Equal(t, types.RoleAssistant, shown[1].Role)
	assert.True(t, h.renderer.indicator)
	assert.Equal(t, msgReplyReceived, h.renderer.last().Text)
}

func TestCropResultPersistsBeforeChat(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.err = llm.NewAPIError(http.StatusInternalServerError, "", "boom")

	h.crop("tx-1", []byte("img"))

	var stored string
	ok, err := h.local.Get(KeyLastImage, &stored)
	require.NoError(t, err)
	require.True(t, ok, "image is persisted even when the chat call fails")
	assert.Equal(t, types.NewPNG([]byte("img")).Base64(), stored)
	assert.True(t, h.ctrl.Conversation().IsEmpty())
}

func TestDuplicateResultIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.crop("tx-1", []byte("img"))
	h.crop("tx-1", []byte("img"))
	assert.Equal(t, 1, h.chat.callCount())
	assert.Len(t, h.ctrl.Conversation().Turns, 2)
}

func TestCancelledAndFailedResults(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.Message
		want string
	}{
		{"cancelled", bus.CropCancelled{Reason: "escape pressed", TransactionID: "a"}, msgCancelled},
		{"capture failure", bus.CropCancelled{Reason: "capture failed: empty", TransactionID: "b"}, msgCancelled},
		{"failed", bus.CropCancelled{Reason: "failed: image decode", TransactionID: "c"}, "Crop failed: image decode"},
		{"empty image", bus.ImageCropped{TransactionID: "d"}, "Crop failed: " + msgNoImageData},
		{"bad base64", bus.ImageCropped{ImageData: "%%%", TransactionID: "e"}, "Crop failed: " + msgNoImageData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			require.NoError(t, h.ctrl.RequestTransaction(context.Background()))

			resp := h.emit(tt.msg)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.want, h.renderer.last().Text)
			assert.True(t, h.renderer.last().IsError())
			assert.False(t, h.ctrl.Pending())
			assert.Equal(t, 0, h.chat.callCount())
			assert.True(t, h.ctrl.Conversation().IsEmpty())
			assert.False(t, h.ctrl.Conversation().HasImage())
		})
	}
}

func TestFollowUpWithoutImage(t *testing.T) {
	h := newHarness(t, nil)

	err := h.ctrl.SendTurn(context.Background(), "what about the left side?")
	assert.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, 0, h.chat.callCount())
	assert.True(t, h.renderer.last().IsError())
	assert.Contains(t, strings.ToLower(h.renderer.last().Text), "no image")
}

func TestFollowUpReusesImage(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.replies = []string{"first", "second", "third"}

	h.crop("tx-1", []byte("one"))
	require.NoError(t, h.ctrl.SendTurn(context.Background(), "and the colors?"))

	require.Equal(t, 2, h.chat.callCount())
	followUp := h.chat.call(1)
	require.Len(t, followUp, 3)
	assert.NotNil(t, followUp[0].Image, "first turn keeps its image")
	assert.Nil(t, followUp[2].Image, "follow-ups reuse the earlier image")
	assert.Equal(t, "and the colors?", followUp[2].Text)

	// A fresh crop is attached to the next turn.
	h.crop("tx-2", []byte("two"))
	require.Equal(t, 3, h.chat.callCount())
	fresh := h.chat.call(2)
	require.Len(t, fresh, 5)
	require.NotNil(t, fresh[4].Image)
	assert.Equal(t, []byte("two"), fresh[4].Image.Data)
	assert.Len(t, h.ctrl.Conversation().Turns, 6)
}

func TestSendTurnEmptyPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.crop("tx-1", []byte("img"))

	assert.ErrorIs(t, h.ctrl.SendTurn(context.Background(), "  "), ErrEmptyPrompt)
	assert.Equal(t, 1, h.chat.callCount())
}

func TestChatFailureLeavesConversationUnchanged(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid key", llm.NewAPIError(http.StatusUnauthorized, "invalid_api_key", "bad key"), "Invalid API key"},
		{"rate limited", llm.NewAPIError(http.StatusTooManyRequests, "", "slow down"), "Rate limit"},
		{"quota", llm.NewAPIError(http.StatusTooManyRequests, "insufficient_quota", ""), "quota"},
		{"other", llm.NewAPIError(http.StatusBadGateway, "", "upstream"), "upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.crop("tx-1", []byte("img"))
			before := h.ctrl.Conversation()
			h.chat.mu.Lock()
			h.chat.err = tt.err
			h.chat.mu.Unlock()

			err := h.ctrl.SendTurn(context.Background(), "more detail")
			require.Error(t, err)
			assert.Equal(t, llm.KindOf(tt.err), llm.KindOf(err))
			assert.Equal(t, before, h.ctrl.Conversation())
			assert.Contains(t, h.renderer.last().Text, tt.want)
			assert.Equal(t, 2, h.chat.callCount(), "failed turns are not retried")
		})
	}
}

func TestPersistReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	store, err := storage.NewFileStore(path)
	require.NoError(t, err)

	h := newHarness(t, store)
	h.chat.replies = []string{"first", "second"}
	h.crop("tx-1", []byte{0x89, 'P', 'N', 'G', 0x00, 0xff})
	require.NoError(t, h.ctrl.SendTurn(context.Background(), "zoom in"))
	want := h.ctrl.Conversation()

	reopened, err := storage.NewFileStore(path)
	require.NoError(t, err)
	other := newHarness(t, reopened)
	require.NoError(t, other.ctrl.Restore(context.Background()))

	got := other.ctrl.Conversation()
	require.Len(t, got.Turns, len(want.Turns))
	for i := range want.Turns {
		assert.Equal(t, want.Turns[i].Role, got.Turns[i].Role)
		assert.Equal(t, want.Turns[i].Text, got.Turns[i].Text)
		if want.Turns[i].Image == nil {
			assert.Nil(t, got.Turns[i].Image)
			continue
		}
		require.NotNil(t, got.Turns[i].Image)
		assert.Equal(t, want.Turns[i].Image.Data, got.Turns[i].Image.Data)
	}
	require.True(t, got.HasImage())
	assert.Equal(t, want.LastImage.Data, got.LastImage.Data)

	assert.Len(t, other.renderer.shown(), 4)
	assert.True(t, other.renderer.indicator)
	assert.Equal(t, msgRestored, other.renderer.last().Text)
}

func TestRestoreEmpty(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Restore(context.Background()))
	assert.True(t, h.ctrl.Conversation().IsEmpty())
	assert.False(t, h.renderer.indicator)
	assert.Equal(t, 1, h.renderer.resets)
}

func TestClearSession(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.crop("tx-1", []byte("img"))
	require.True(t, store.Has(KeyTurns))

	require.NoError(t, h.ctrl.ClearSession(context.Background()))
	assert.True(t, h.ctrl.Conversation().IsEmpty())
	assert.False(t, h.ctrl.Conversation().HasImage())
	assert.False(t, store.Has(KeyTurns))
	assert.False(t, store.Has(KeyLastImage))
	assert.False(t, h.renderer.indicator)
	assert.Empty(t, h.renderer.shown())
	assert.Equal(t, msgCleared, h.renderer.last().Text)

	assert.ErrorIs(t, h.ctrl.SendTurn(context.Background(), "still there?"), ErrNoImage)
}

func TestSaveFailureKeepsReply(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.crop("tx-1", []byte("img"))

	store.FailNext = errors.New("disk full")
	require.NoError(t, h.ctrl.SendTurn(context.Background(), "again"))
	assert.Len(t, h.ctrl.Conversation().Turns, 4)
	assert.True(t, h.renderer.last().IsError())
}

func TestPopupReconnectsAfterReload(t *testing.T) {
	h := newHarness(t, nil, WithRecovery(time.Hour, noRetry))
	h.bus.Reload()

	port, err := h.bus.Register(bus.TabEndpoint(testTab), h.agent)
	require.NoError(t, err)
	h.agentBus = port

	require.NoError(t, h.ctrl.RequestTransaction(context.Background()))
	assert.True(t, h.ctrl.Port().Valid())
	assert.False(t, h.ctrl.NeedsRestart())
}

func TestNeedsRestartDisablesInput(t *testing.T) {
	h := newHarness(t, nil, WithRecovery(time.Hour, noRetry))
	h.bus.Suspend()

	err := h.ctrl.RequestTransaction(context.Background())
	assert.ErrorIs(t, err, bus.ErrNeedsRestart)
	assert.True(t, h.ctrl.NeedsRestart())
	assert.Equal(t, msgNeedsRestart, h.renderer.disabled)

	h.bus.Resume()
	assert.ErrorIs(t, h.ctrl.SendTurn(context.Background(), "hello"), bus.ErrNeedsRestart)
	assert.ErrorIs(t, h.ctrl.ClearSession(context.Background()), bus.ErrNeedsRestart)
	assert.Equal(t, 0, h.host.activations())
}

func TestDenylistPatterns(t *testing.T) {
	d, err := NewDenylist("file://*", " ")
	require.NoError(t, err)
	assert.Equal(t, []string{"file://*"}, d.Patterns())

	pattern, denied := d.Match("file:///etc/hosts")
	assert.True(t, denied)
	assert.Equal(t, "file://*", pattern)

	_, denied = d.Match("chrome://settings")
	assert.False(t, denied, "custom patterns replace the defaults")

	_, err = NewDenylist("[unterminated")
	assert.Error(t, err)
}
