package headless

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/cropchat/pkg/types"
)

// ArtifactWriter handles writing execution artifacts
type ArtifactWriter struct {
	outputDir string
	config    ArtifactConfig
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string, config ArtifactConfig) *ArtifactWriter {
	return &ArtifactWriter{
		outputDir: outputDir,
		config:    config,
	}
}

// WriteAll writes all configured artifact formats
func (w *ArtifactWriter) WriteAll(summary *ExecutionSummary, image *types.EncodedImage) error {
	if !w.config.Enabled {
		return nil
	}

	// Ensure output directory exists
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write the cropped image first so the reports can name it
	if w.config.Image && image != nil && !image.IsEmpty() {
		name, err := w.WriteImage(image)
		if err != nil {
			return fmt.Errorf("failed to write cropped image: %w", err)
		}
		summary.ImageFile = name
	}

	if w.config.JSON {
		if err := w.WriteExecutionJSON(summary); err != nil {
			return fmt.Errorf("failed to write execution JSON: %w", err)
		}
	}

	if w.config.Markdown {
		if err := w.WriteSummaryMarkdown(summary); err != nil {
			return fmt.Errorf("failed to write summary markdown: %w", err)
		}
	}

	return nil
}

// WriteImage writes the cropped image and returns its file name
func (w *ArtifactWriter) WriteImage(image *types.EncodedImage) (string, error) {
	name := "crop.png"
	if image.MIMEType == types.MIMEJPEG {
		name = "crop.jpg"
	}
	if err := os.WriteFile(filepath.Join(w.outputDir, name), image.Data, 0600); err != nil {
		return "", err
	}
	return name, nil
}

// WriteExecutionJSON writes the full execution summary as JSON
func (w *ArtifactWriter) WriteExecutionJSON(summary *ExecutionSummary) error {
	path := filepath.Join(w.outputDir, "transcript.json")

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution summary: %w", err)
	}

	if writeErr := os.WriteFile(path, data, 0600); writeErr != nil {
		return fmt.Errorf("failed to write execution JSON: %w", writeErr)
	}

	return nil
}

// WriteSummaryMarkdown writes a human-readable markdown summary
func (w *ArtifactWriter) WriteSummaryMarkdown(summary *ExecutionSummary) error {
	path := filepath.Join(w.outputDir, "summary.md")

	var md strings.Builder

	// Header
	md.WriteString("# cropchat Headless Run\n\n")
	md.WriteString(fmt.Sprintf("**Page:** %s\n\n", summary.URL))
	md.WriteString(fmt.Sprintf("**Action:** %s\n\n", summary.Action))
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", summary.Status))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", summary.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Completed:** %s\n\n", summary.EndTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", summary.Duration))

	// Result
	md.WriteString("## Result\n\n")
	if summary.Error != "" {
		md.WriteString(fmt.Sprintf("❌ **Error:** %s\n\n", summary.Error))
	} else {
		md.WriteString("✅ **Success**\n\n")
	}
	if summary.Outcome != "" {
		md.WriteString(fmt.Sprintf("Last status: %s\n\n", summary.Outcome))
	}

	if summary.ImageFile != "" {
		md.WriteString(fmt.Sprintf("![cropped area](%s)\n\n", summary.ImageFile))
	}

	// Dialogue
	if len(summary.Transcript) > 0 {
		md.WriteString("## Dialogue\n\n")
		for _, turn := range summary.Transcript {
			if turn.Role == types.RoleUser {
				md.WriteString(fmt.Sprintf("**You:** %s", turn.Text))
				if turn.ImageBytes > 0 {
					md.WriteString(fmt.Sprintf(" _(image, %d bytes)_", turn.ImageBytes))
				}
				md.WriteString("\n\n")
				continue
			}
			md.WriteString("**Assistant:**\n\n")
			md.WriteString(turn.Text)
			md.WriteString("\n\n")
		}
	}

	// Write file
	if writeErr := os.WriteFile(path, []byte(md.String()), 0600); writeErr != nil {
		return fmt.Errorf("failed to write summary markdown: %w", writeErr)
	}

	return nil
}

// ExecutionSummary contains a complete summary of a headless run
type ExecutionSummary struct {
	URL               string           `json:"url"`
	Action            Action           `json:"action"`
	Selection         *types.Rect      `json:"selection,omitempty"`
	Status            string           `json:"status"`
	Error             string           `json:"error,omitempty"`
	Outcome           string           `json:"outcome,omitempty"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	Duration          time.Duration    `json:"duration"`
	ImageBytes        int              `json:"image_bytes"`
	ImageFile         string           `json:"image_file,omitempty"`
	Transcript        []TranscriptTurn `json:"transcript"`
	FollowUpsAsked    int              `json:"follow_ups_asked"`
	FollowUpsAnswered int              `json:"follow_ups_answered"`
}

// TranscriptTurn is a dialogue turn with the image reduced to its size
type TranscriptTurn struct {
	Role       types.Role `json:"role"`
	Text       string     `json:"text"`
	ImageBytes int        `json:"image_bytes,omitempty"`
}

func transcript(turns []types.Turn) []TranscriptTurn {
	out := make([]TranscriptTurn, 0, len(turns))
	for _, turn := range turns {
		t := TranscriptTurn{Role: turn.Role, Text: turn.Text}
		if turn.Image != nil {
			t.ImageBytes = turn.Image.Len()
		}
		out = append(out, t)
	}
	return out
}
