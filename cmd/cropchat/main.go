// Package main provides cropchat: crop an area of a web page and chat with a
// vision model about it.
//
// cropchat opens a browser, and the terminal popup starts a crop in the
// page the browser shows. The selected area is sent to an OpenAI-compatible
// chat API and the conversation continues in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/entrhq/cropchat/pkg/config"
	"github.com/entrhq/cropchat/pkg/llm/openai"
)

const (
	version    = "0.1.0"               // Version of cropchat
	defaultURL = "https://example.com" // Page opened at startup
)

// Config holds the application configuration
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	URL            string
	ConfigPath     string
	Storage        string
	HideBrowser    bool
	ShowVersion    bool
	Headless       bool
	HeadlessConfig string
}

func main() {
	// Parse command line flags
	config := parseFlags()

	// Show version if requested
	if config.ShowVersion {
		fmt.Printf("cropchat v%s\n", version)
		return
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Create context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	// Run the application
	if runErr := run(ctx, config); runErr != nil {
		cancel()
		log.Fatalf("Application error: %v", runErr)
	}
	cancel()
}

// parseFlags parses command line flags and environment variables
func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.APIKey, "api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	flag.StringVar(&config.BaseURL, "base-url", "", "OpenAI API base URL (or set OPENAI_BASE_URL env var)")
	flag.StringVar(&config.Model, "model", "", "Vision model to use (default: "+openai.DefaultModel+")")
	flag.StringVar(&config.URL, "url", defaultURL, "Page to open in the browser")
	flag.StringVar(&config.ConfigPath, "config", "", "Path to the settings file (default: ~/.cropchat/config.json)")
	flag.StringVar(&config.Storage, "store", "", "Storage backend: file or sqlite (overrides settings)")
	flag.BoolVar(&config.HideBrowser, "hide-browser", false, "Run the browser without a window")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")
	flag.BoolVar(&config.Headless, "headless", false, "Run a crop scenario without the popup")
	flag.StringVar(&config.HeadlessConfig, "headless-config", "", "Path to the headless scenario file (YAML)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cropchat - crop a web page and chat about it\n\n")
		fmt.Fprintf(os.Stderr, "Usage: cropchat [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY     OpenAI API key\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_BASE_URL    OpenAI API base URL (for compatible APIs)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Popup (default)\n")
		fmt.Fprintf(os.Stderr, "  cropchat -url https://news.ycombinator.com\n")
		fmt.Fprintf(os.Stderr, "  cropchat -model gpt-4o -store sqlite\n")
		fmt.Fprintf(os.Stderr, "\n  # Headless scenario\n")
		fmt.Fprintf(os.Stderr, "  cropchat -headless -headless-config scenario.yaml\n")
	}

	flag.Parse()
	return config
}

// validate checks that the configuration is valid
func (c *Config) validate() error {
	// Headless mode requires a scenario file
	if c.Headless && c.HeadlessConfig == "" {
		return fmt.Errorf("headless mode requires a scenario file (use -headless-config flag)")
	}

	switch c.Storage {
	case "", appconfig.BackendFile, appconfig.BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q (must be %q or %q)", c.Storage, appconfig.BackendFile, appconfig.BackendSQLite)
	}

	return nil
}

// run executes the main application logic
func run(ctx context.Context, config *Config) error {
	// Initialize global configuration
	if err := appconfig.Initialize(config.ConfigPath); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Check if headless mode is requested
	if config.Headless {
		return runHeadless(ctx, config)
	}

	// Run the popup (default)
	return runTUI(ctx, config)
}
