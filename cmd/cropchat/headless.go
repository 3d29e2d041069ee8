package main

import (
	"context"
	"fmt"

	"github.com/entrhq/cropchat/pkg/browser"
	"github.com/entrhq/cropchat/pkg/executor/headless"
	"github.com/entrhq/cropchat/pkg/types"
)

// runHeadless runs the scenario in a browser without a window
func runHeadless(ctx context.Context, config *Config) error {
	scenario, err := headless.LoadConfig(config.HeadlessConfig)
	if err != nil {
		return fmt.Errorf("failed to load headless config: %w", err)
	}

	a, err := newApp(config, browser.Options{
		Headless: true,
		Viewport: browser.Viewport{
			Width:  scenario.Viewport.Width,
			Height: scenario.Viewport.Height,
		},
		DeviceScaleFactor: scenario.DeviceScaleFactor,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	tab, err := a.manager.Open(scenario.URL)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", scenario.URL, err)
	}

	renderer := headless.NewRenderer(headless.NewLogger(headless.ParseLogLevel(scenario.Logging.Verbosity)))
	controller, err := a.newController(renderer, scenario.Prompt)
	if err != nil {
		return err
	}
	if err := controller.Attach(); err != nil {
		return err
	}
	defer controller.Detach()

	state := func(tabID string) types.TransactionState {
		if agent := a.host.Agent(tabID); agent != nil {
			return agent.State()
		}
		return types.StateIdle
	}

	executor, err := headless.NewExecutor(scenario, controller, renderer, tab, state)
	if err != nil {
		return fmt.Errorf("failed to create headless executor: %w", err)
	}
	return executor.Run(ctx)
}
