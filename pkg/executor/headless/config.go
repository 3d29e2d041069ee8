package headless

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/cropchat/pkg/types"
)

// Config represents a headless crop scenario
type Config struct {
	// Page to crop
	URL string `yaml:"url" json:"url"`

	// Browser viewport the page is rendered at
	Viewport          ViewportConfig `yaml:"viewport" json:"viewport"`
	DeviceScaleFactor float64        `yaml:"device_scale_factor" json:"device_scale_factor"`

	// Area dragged on the overlay, in CSS pixels
	Selection SelectionConfig `yaml:"selection" json:"selection"`

	// How the selection ends
	Action Action `yaml:"action" json:"action"`

	// Prompt sent with the cropped image (empty uses the configured default)
	Prompt string `yaml:"prompt" json:"prompt"`

	// Questions asked after the first reply
	FollowUps []string `yaml:"follow_ups" json:"follow_ups"`

	// Clear the stored conversation before starting
	Fresh bool `yaml:"fresh" json:"fresh"`

	// Whole run deadline
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Artifacts configuration
	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// Action defines how the scenario ends the selection
type Action string

const (
	// ActionDrag drags the configured selection
	ActionDrag Action = "drag"
	// ActionEscape presses Escape instead of selecting
	ActionEscape Action = "escape"
	// ActionCancelButton clicks the overlay's cancel button
	ActionCancelButton Action = "cancel_button"
)

// ViewportConfig defines the browser viewport size
type ViewportConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// SelectionConfig is a rectangle in viewport coordinates
type SelectionConfig struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// Rect converts the selection to a types.Rect.
func (s SelectionConfig) Rect() types.Rect {
	return types.Rect{Left: s.Left, Top: s.Top, Width: s.Width, Height: s.Height}
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
}

// ArtifactConfig defines artifact generation configuration
type ArtifactConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Individual format flags
	JSON     bool `yaml:"json" json:"json"`
	Markdown bool `yaml:"markdown" json:"markdown"`
	Image    bool `yaml:"image" json:"image"`
}

// LoadConfig reads a YAML scenario on top of DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML scenario on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}

	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Viewport.Width, c.Viewport.Height)
	}

	if c.DeviceScaleFactor < 0 {
		return fmt.Errorf("device_scale_factor cannot be negative")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	if c.Action == "" {
		c.Action = ActionDrag
	}
	switch c.Action {
	case ActionDrag:
		if err := c.validateSelection(); err != nil {
			return err
		}
	case ActionEscape, ActionCancelButton:
	default:
		return fmt.Errorf("invalid action: %s (must be 'drag', 'escape', or 'cancel_button')", c.Action)
	}

	for i, q := range c.FollowUps {
		if q == "" {
			return fmt.Errorf("follow_ups[%d] is empty", i)
		}
	}

	if c.Artifacts.Enabled && c.Artifacts.OutputDir == "" {
		return fmt.Errorf("artifacts.output_dir is required when artifacts are enabled")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	// Validate log level
	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

func (c *Config) validateSelection() error {
	s := c.Selection
	if s.Left < 0 || s.Top < 0 {
		return fmt.Errorf("selection must start inside the viewport")
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("selection width and height must be positive")
	}
	r := s.Rect()
	if r.Right() > float64(c.Viewport.Width) || r.Bottom() > float64(c.Viewport.Height) {
		return fmt.Errorf("selection %gx%g at (%g,%g) exceeds the %dx%d viewport",
			s.Width, s.Height, s.Left, s.Top, c.Viewport.Width, c.Viewport.Height)
	}
	return nil
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Viewport: ViewportConfig{
			Width:  1280,
			Height: 720,
		},
		DeviceScaleFactor: 1,
		Action:            ActionDrag,
		Timeout:           2 * time.Minute,
		Artifacts: ArtifactConfig{
			Enabled:   true,
			OutputDir: ".cropchat/artifacts",
			JSON:      true,
			Markdown:  true,
			Image:     true,
		},
	}
}
