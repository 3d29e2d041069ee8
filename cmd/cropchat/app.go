package main

import (
	"fmt"

	"github.com/entrhq/cropchat/pkg/browser"
	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/capture"
	appconfig "github.com/entrhq/cropchat/pkg/config"
	"github.com/entrhq/cropchat/pkg/llm"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/selection"
	"github.com/entrhq/cropchat/pkg/session"
)

// app holds the components shared by the popup and headless modes: the
// browser with its capture service and selection agents on one bus, the
// storage areas and the chat client factory.
type app struct {
	logger     *logging.Logger
	bus        *bus.Bus
	manager    *browser.Manager
	host       *browser.Host
	stores     *appconfig.Stores
	chat       llm.Factory
	settings   appconfig.ChatSettings
	captureCfg appconfig.CaptureSettings
}

// newApp builds the shared components. The browser is launched with opts.
func newApp(config *Config, opts browser.Options) (*app, error) {
	// Falls back to stderr when the log file cannot be opened
	logger := logging.MustLogger("cropchat")

	chat, settings := appconfig.BuildChatClient(config.Model, config.BaseURL, config.APIKey)
	a := &app{
		logger:     logger,
		chat:       chat,
		settings:   settings,
		captureCfg: appconfig.GetCapture().Settings(),
	}

	var err error
	a.stores, err = appconfig.GetStorage().Open(config.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a.bus = bus.New(bus.WithLogger(logger.With("bus")))

	a.manager = browser.NewManager(opts, logger.With("browser"))
	if err := a.manager.Initialize(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	service := capture.NewService(a.manager,
		capture.WithTimeout(a.captureCfg.Timeout),
		capture.WithFormat(capture.Format(a.captureCfg.Format), a.captureCfg.Quality),
		capture.WithLogger(logger.With("capture")),
	)
	if _, err := a.bus.Register(bus.Background, service); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register capture service: %w", err)
	}

	recovery := appconfig.GetRecovery()
	a.host = browser.NewHost(a.manager, a.bus,
		browser.WithLogger(logger.With("host")),
		browser.WithAgentOptions(
			selection.WithLogger(logger.With("selection")),
			selection.WithMinSelection(a.captureCfg.MinSelection),
			selection.WithRecovery(recovery.Interval(), recovery.Backoff()),
		),
	)

	logger.Infof("cropchat v%s started (model %s)", version, settings.Model)
	return a, nil
}

// newController creates the popup-side controller rendering to renderer.
// A non-empty prompt replaces the configured first prompt.
func (a *app) newController(renderer session.Renderer, prompt string) (*session.Controller, error) {
	denylist, err := session.NewDenylist(appconfig.GetRestricted().Patterns()...)
	if err != nil {
		return nil, fmt.Errorf("invalid restricted pages: %w", err)
	}

	recovery := appconfig.GetRecovery()
	opts := []session.Option{
		session.WithLogger(a.logger.With("session")),
		session.WithRenderer(renderer),
		session.WithDenylist(denylist),
		session.WithWatchdog(a.captureCfg.Watchdog),
		session.WithCredentialFallback(a.settings.APIKey),
		session.WithRecovery(recovery.Interval(), recovery.Backoff()),
	}
	if prompt == "" {
		prompt = a.settings.DefaultPrompt
	}
	if prompt != "" {
		opts = append(opts, session.WithDefaultPrompt(prompt))
	}

	return session.NewController(a.bus, a.host, a.chat, a.stores.Local, a.stores.Sync, opts...), nil
}

// Close shuts down everything newApp started, in reverse order.
func (a *app) Close() {
	if a.host != nil {
		a.host.Close()
	}
	if a.manager != nil {
		if err := a.manager.Shutdown(); err != nil {
			a.logger.Warnf("browser shutdown: %v", err)
		}
	}
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			a.logger.Warnf("storage close: %v", err)
		}
	}
	a.logger.Close()
}
