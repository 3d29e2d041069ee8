package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/crop"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/selection"
	"github.com/entrhq/cropchat/pkg/session"
)

var _ session.Host = (*Host)(nil)

// Host attaches selection agents to the manager's tabs.
type Host struct {
	manager   *Manager
	bus       *bus.Bus
	cropper   selection.Cropper
	agentOpts []selection.Option
	logger    *logging.Logger

	mu     sync.Mutex
	agents map[string]*selection.Agent
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithCropper sets the crop step used by new agents.
func WithCropper(c selection.Cropper) HostOption {
	return func(h *Host) {
		if c != nil {
			h.cropper = c
		}
	}
}

// WithAgentOptions sets options passed to every new agent.
func WithAgentOptions(opts ...selection.Option) HostOption {
	return func(h *Host) {
		h.agentOpts = append(h.agentOpts, opts...)
	}
}

// WithLogger sets the host logger.
func WithLogger(l *logging.Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHost creates a host over m whose agents register on b.
func NewHost(m *Manager, b *bus.Bus, opts ...HostOption) *Host {
	h := &Host{
		manager: m,
		bus:     b,
		cropper: crop.NewPNGCropper(),
		logger:  logging.Discard("browser.host"),
		agents:  make(map[string]*selection.Agent),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ActiveTab returns the tab the user is looking at.
func (h *Host) ActiveTab(context.Context) (session.Tab, error) {
	tab, err := h.manager.Active()
	if err != nil {
		return session.Tab{}, err
	}
	return session.Tab{ID: tab.ID(), URL: tab.URL()}, nil
}

// Activate makes sure a live agent is attached to tab. An agent whose port
// was invalidated, or that was unloaded by navigation, is replaced.
func (h *Host) Activate(ctx context.Context, st session.Tab) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tab, err := h.manager.Tab(st.ID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if agent := h.agents[st.ID]; agent != nil {
		if p := agent.Port(); p != nil && p.Valid() && tab.bound(agent) {
			return nil
		}
		h.logger.Infof("replacing stale agent in tab %s", st.ID)
		tab.unbind()
		agent.Unload()
		delete(h.agents, st.ID)
	}

	overlay := NewOverlay(tab, h.logger.With("browser.overlay"))
	if err := overlay.install(); err != nil {
		return fmt.Errorf("failed to inject into tab %s: %w", st.ID, err)
	}

	agent := selection.NewAgent(h.bus, st.ID, overlay, h.cropper, h.agentOpts...)
	tab.bind(agent)
	if err := agent.Attach(); err != nil {
		tab.unbind()
		return err
	}
	h.agents[st.ID] = agent
	h.logger.Infof("agent attached to tab %s (%s)", st.ID, tab.URL())
	return nil
}

// Agent returns the agent attached to tabID, or nil.
func (h *Host) Agent(tabID string) *selection.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agents[tabID]
}

// Close unloads every agent.
func (h *Host) Close() {
	h.mu.Lock()
	agents := h.agents
	h.agents = make(map[string]*selection.Agent)
	h.mu.Unlock()

	for id, agent := range agents {
		if tab, err := h.manager.Tab(id); err == nil {
			tab.unbind()
		}
		agent.Unload()
	}
}
