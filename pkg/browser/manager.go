package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/cropchat/pkg/capture"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/types"
)

var (
	// ErrNotInitialized is returned by operations that need a running browser.
	ErrNotInitialized = errors.New("browser manager not initialized")
	// ErrNoActiveTab is returned when no tab is open.
	ErrNoActiveTab = errors.New("no active tab")
	// ErrTabNotFound is returned for an unknown tab id.
	ErrTabNotFound = errors.New("tab not found")
)

// Manager owns the Playwright driver, one browser and its tabs.
type Manager struct {
	mu          sync.RWMutex
	playwright  *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	tabs        map[string]*Tab
	order       []string
	active      string
	nextID      int
	opts        Options
	logger      *logging.Logger
	initialized bool
}

// NewManager creates a manager. Call Initialize before opening tabs.
func NewManager(opts Options, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard("browser")
	}
	return &Manager{
		tabs:   make(map[string]*Tab),
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Initialize installs and starts Playwright and launches Chromium.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Keep driver output away from the terminal UI
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
		DeviceScaleFactor: playwright.Float(m.opts.DeviceScaleFactor),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to create context: %w", err)
	}

	m.playwright = pw
	m.browser = browser
	m.context = bctx
	m.initialized = true
	m.logger.Infof("chromium launched (headless=%v, viewport=%dx%d, scale=%.2f)",
		m.opts.Headless, m.opts.Viewport.Width, m.opts.Viewport.Height, m.opts.DeviceScaleFactor)
	return nil
}

// Options returns the effective browser options.
func (m *Manager) Options() Options {
	return m.opts
}

// Open creates a tab, navigates it to url (when non-empty) and makes it the
// active tab.
func (m *Manager) Open(url string) (*Tab, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if len(m.tabs) >= m.opts.MaxTabs {
		m.mu.Unlock()
		return nil, fmt.Errorf("maximum number of tabs (%d) reached", m.opts.MaxTabs)
	}

	page, err := m.context.NewPage()
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(m.opts.Timeout)

	m.nextID++
	id := strconv.Itoa(m.nextID)
	tab := newTab(id, page, m.logger.With("browser.tab"))
	m.tabs[id] = tab
	m.order = append(m.order, id)
	m.active = id
	m.mu.Unlock()

	if err := tab.expose(); err != nil {
		_ = m.CloseTab(id)
		return nil, err
	}
	page.OnClose(func(playwright.Page) { go m.forget(id) })

	if url != "" {
		if err := tab.Goto(url); err != nil {
			_ = m.CloseTab(id)
			return nil, err
		}
	}
	m.logger.Infof("opened tab %s at %s", id, tab.URL())
	return tab, nil
}

// Tab returns the tab with id.
func (m *Manager) Tab(id string) (*Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tab, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	return tab, nil
}

// Active returns the tab the user is looking at.
func (m *Manager) Active() (*Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	tab, ok := m.tabs[m.active]
	if !ok {
		return nil, ErrNoActiveTab
	}
	return tab, nil
}

// Focus makes the tab with id the active tab and brings it to the front.
func (m *Manager) Focus(id string) error {
	m.mu.Lock()
	tab, ok := m.tabs[id]
	if ok {
		m.active = id
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	if err := tab.page.BringToFront(); err != nil {
		return fmt.Errorf("failed to focus tab %s: %w", id, err)
	}
	return nil
}

// ListTabs returns information about all open tabs in opening order.
func (m *Manager) ListTabs() []TabInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]TabInfo, 0, len(m.order))
	for _, id := range m.order {
		infos = append(infos, TabInfo{
			ID:     id,
			URL:    m.tabs[id].URL(),
			Active: id == m.active,
		})
	}
	return infos
}

// CloseTab closes and removes a tab. The most recently opened remaining tab
// becomes active.
func (m *Manager) CloseTab(id string) error {
	m.mu.RLock()
	tab, ok := m.tabs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}

	tab.unbind()
	err := tab.page.Close()
	m.forget(id)
	if err != nil {
		return fmt.Errorf("failed to close tab %s: %w", id, err)
	}
	return nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tabs[id]; !ok {
		return
	}
	delete(m.tabs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == id {
		m.active = ""
		if n := len(m.order); n > 0 {
			m.active = m.order[n-1]
		}
	}
}

// CaptureVisible screenshots the visible viewport of the active tab.
// It implements capture.Capturer.
func (m *Manager) CaptureVisible(ctx context.Context, opts capture.Options) (types.EncodedImage, error) {
	tab, err := m.Active()
	if err != nil {
		return types.EncodedImage{}, err
	}
	return tab.Capture(ctx, opts)
}

// Shutdown closes every tab, the browser and the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		tabs = append(tabs, tab)
	}
	m.tabs = make(map[string]*Tab)
	m.order = nil
	m.active = ""
	m.initialized = false
	pw, browser, bctx := m.playwright, m.browser, m.context
	m.mu.Unlock()

	for _, tab := range tabs {
		tab.unbind()
		_ = tab.page.Close() // Ignore errors, continue cleanup
	}
	_ = bctx.Close()
	_ = browser.Close()

	if err := pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	m.logger.Infof("browser shut down")
	return nil
}
