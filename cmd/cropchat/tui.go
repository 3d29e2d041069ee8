package main

import (
	"context"
	"fmt"

	"github.com/entrhq/cropchat/pkg/browser"
	"github.com/entrhq/cropchat/pkg/executor/tui"
)

// runTUI opens the page in a visible browser and runs the popup
func runTUI(ctx context.Context, config *Config) error {
	a, err := newApp(config, browser.Options{Headless: config.HideBrowser})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.manager.Open(config.URL); err != nil {
		return fmt.Errorf("failed to open %s: %w", config.URL, err)
	}

	renderer := tui.NewRenderer()
	controller, err := a.newController(renderer, "")
	if err != nil {
		return err
	}
	if err := controller.Attach(); err != nil {
		return err
	}
	defer controller.Detach()

	executor := tui.NewExecutor(controller, renderer, a.logger.With("tui"))

	// Display welcome message
	fmt.Printf("cropchat v%s\n", version)
	fmt.Printf("Page: %s\n", config.URL)
	fmt.Printf("Model: %s\n", a.settings.Model)
	fmt.Println("\nStarting popup...")
	fmt.Println()

	if err := executor.Run(ctx); err != nil {
		return fmt.Errorf("executor error: %w", err)
	}
	return nil
}
