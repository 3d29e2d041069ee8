package headless

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/cropchat/pkg/types"
)

// LogLevel represents the logging verbosity level
type LogLevel int

const (
	// LogLevelQuiet shows only critical information (errors, warnings, final summary)
	LogLevelQuiet LogLevel = iota
	// LogLevelNormal shows standard execution progress (default)
	LogLevelNormal
	// LogLevelVerbose shows detailed execution information
	LogLevelVerbose
	// LogLevelDebug shows all internal details for debugging
	LogLevelDebug
)

// Logger prints the progress and dialogue of a headless run. It is safe for
// concurrent use: the controller reports from its own goroutines.
type Logger struct {
	level  LogLevel
	writer io.Writer

	// mu serializes writes so multi-line blocks never interleave, and guards
	// stepCount.
	mu sync.Mutex

	// ANSI color codes
	colorReset     string
	colorGreen     string
	colorCyan      string
	colorSalmon    string
	colorYellow    string
	colorRed       string
	colorWhite     string
	colorGray      string
	colorBoldGreen string
	colorBoldRed   string
	colorBoldWhite string

	stepCount int
}

// NewLogger creates a new logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return newLoggerTo(level, os.Stdout)
}

func newLoggerTo(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:          level,
		writer:         w,
		colorReset:     "\033[0m",
		colorGreen:     "\033[32m",
		colorCyan:      "\033[36m",
		colorSalmon:    "\033[38;5;217m", // Salmon pink #FFB3BA
		colorYellow:    "\033[33m",
		colorRed:       "\033[31m",
		colorWhite:     "\033[37m",
		colorGray:      "\033[90m",
		colorBoldGreen: "\033[1;32m",
		colorBoldRed:   "\033[1;31m",
		colorBoldWhite: "\033[1;37m",
	}
}

// Header prints a prominent header message
func (l *Logger) Header(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelNormal {
		fmt.Fprintf(l.writer, "\n%s%s%s\n", l.colorBoldWhite, strings.Repeat("=", 70), l.colorReset)
		fmt.Fprintf(l.writer, "%s  %s%s\n", l.colorBoldWhite, message, l.colorReset)
		fmt.Fprintf(l.writer, "%s%s%s\n", l.colorBoldWhite, strings.Repeat("=", 70), l.colorReset)
	}
}

// Section prints a section divider
func (l *Logger) Section(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelNormal {
		fmt.Fprintln(l.writer)
		fmt.Fprintf(l.writer, "%s▶ %s%s\n", l.colorCyan, title, l.colorReset)
		fmt.Fprintf(l.writer, "%s%s%s\n", l.colorGray, strings.Repeat("─", 50), l.colorReset)
	}
}

// Step prints a numbered step in the execution
func (l *Logger) Step(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelNormal {
		l.stepCount++
		fmt.Fprintf(l.writer, "\n%s[%d] %s%s\n", l.colorCyan, l.stepCount, message, l.colorReset)
	}
}

// Successf prints a success message with checkmark
func (l *Logger) Successf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelNormal {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(l.writer, "%s✓ %s%s\n", l.colorBoldGreen, msg, l.colorReset)
	}
}

// Infof prints an informational message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelNormal {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(l.writer, "%s%s%s\n", l.colorSalmon, msg, l.colorReset)
	}
}

// Warningf prints a warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelQuiet {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(l.writer, "%s⚠ Warning: %s%s\n", l.colorYellow, msg, l.colorReset)
	}
}

// Errorf prints an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelQuiet {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(l.writer, "%s✗ Error: %s%s\n", l.colorBoldRed, msg, l.colorReset)
	}
}

// Verbosef prints detailed information (only in verbose mode)
func (l *Logger) Verbosef(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelVerbose {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(l.writer, "%s→ %s%s\n", l.colorGray, msg, l.colorReset)
	}
}

// Debugf prints debug information (only in debug mode)
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelDebug {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(l.writer, "%s[DEBUG] %s%s\n", l.colorGray, msg, l.colorReset)
	}
}

// Status prints a controller status line. Loading statuses are progress
// noise and only show in verbose mode.
func (l *Logger) Status(status types.Status) {
	switch status.Kind {
	case types.StatusLoading:
		l.Verbosef("%s", status.Text)
	case types.StatusSuccess:
		l.Successf("%s", status.Text)
	case types.StatusError:
		l.Warningf("%s", status.Text)
	default:
		l.Infof("%s", status.Text)
	}
}

// Turn prints one message of the dialogue
func (l *Logger) Turn(turn types.Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level < LogLevelNormal {
		return
	}
	switch turn.Role {
	case types.RoleUser:
		fmt.Fprintf(l.writer, "\n%s  You:%s %s\n", l.colorCyan, l.colorReset, turn.Text)
		if turn.Image != nil {
			fmt.Fprintf(l.writer, "%s       [image, %s bytes]%s\n", l.colorGray, formatNumber(turn.Image.Len()), l.colorReset)
		}
	default:
		fmt.Fprintf(l.writer, "\n%s  Assistant:%s\n", l.colorBoldGreen, l.colorReset)
		for _, line := range strings.Split(strings.TrimRight(turn.Text, "\n"), "\n") {
			fmt.Fprintf(l.writer, "%s    %s%s\n", l.colorWhite, line, l.colorReset)
		}
	}
}

// Summary prints a final execution summary
func (l *Logger) Summary(summary *ExecutionSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.printSummaryHeader()
	l.printStatus(summary.Status)
	l.printScenario(summary)
	l.printMetrics(summary)
	l.printOutcome(summary)
	l.printError(summary)
	l.printSummaryFooter()
}

func (l *Logger) printSummaryHeader() {
	fmt.Fprintln(l.writer)
	fmt.Fprintf(l.writer, "%s%s%s\n", l.colorBoldWhite, strings.Repeat("=", 70), l.colorReset)
	fmt.Fprintf(l.writer, "%s  RUN SUMMARY%s\n", l.colorBoldWhite, l.colorReset)
	fmt.Fprintf(l.writer, "%s%s%s\n", l.colorBoldWhite, strings.Repeat("=", 70), l.colorReset)
}

func (l *Logger) printStatus(status string) {
	fmt.Fprint(l.writer, "  Status: ")
	switch status {
	case statusSuccess:
		fmt.Fprintf(l.writer, "%s✓ SUCCESS%s\n", l.colorBoldGreen, l.colorReset)
	case statusPartialSuccess:
		fmt.Fprintf(l.writer, "%s⚠ PARTIAL SUCCESS%s\n", l.colorYellow, l.colorReset)
	case statusFailed:
		fmt.Fprintf(l.writer, "%s✗ FAILED%s\n", l.colorBoldRed, l.colorReset)
	default:
		fmt.Fprintln(l.writer, status)
	}
}

func (l *Logger) printScenario(summary *ExecutionSummary) {
	fmt.Fprintf(l.writer, "  Page: %s\n", summary.URL)
	fmt.Fprintf(l.writer, "  Action: %s\n", summary.Action)
	fmt.Fprintf(l.writer, "  Duration: %s\n", summary.Duration.Round(time.Millisecond))
}

func (l *Logger) printMetrics(summary *ExecutionSummary) {
	if summary.ImageBytes == 0 && len(summary.Transcript) == 0 {
		return
	}

	fmt.Fprintf(l.writer, "\n  📊 Metrics:\n")
	if summary.ImageBytes > 0 {
		fmt.Fprintf(l.writer, "    Cropped image: %s bytes\n", formatNumber(summary.ImageBytes))
	}
	fmt.Fprintf(l.writer, "    Turns: %d\n", len(summary.Transcript))
	fmt.Fprintf(l.writer, "    Follow-ups answered: %d/%d\n", summary.FollowUpsAnswered, summary.FollowUpsAsked)
}

func (l *Logger) printOutcome(summary *ExecutionSummary) {
	if summary.Outcome == "" || l.level < LogLevelVerbose {
		return
	}
	fmt.Fprintf(l.writer, "\n  Last status: %s\n", summary.Outcome)
}

func (l *Logger) printError(summary *ExecutionSummary) {
	if summary.Error == "" {
		return
	}

	fmt.Fprintln(l.writer)
	fmt.Fprintf(l.writer, "%s  Error Details:%s\n", l.colorBoldRed, l.colorReset)
	fmt.Fprintf(l.writer, "%s    %s%s\n", l.colorRed, summary.Error, l.colorReset)
}

func (l *Logger) printSummaryFooter() {
	fmt.Fprintf(l.writer, "%s%s%s\n", l.colorBoldWhite, strings.Repeat("=", 70), l.colorReset)
	fmt.Fprintln(l.writer)
}

// Newline adds a blank line (respects log level)
func (l *Logger) Newline() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level >= LogLevelNormal {
		fmt.Fprintln(l.writer)
	}
}

// ParseLogLevel converts a string log level to LogLevel type
func ParseLogLevel(level string) LogLevel {
	switch level {
	case "quiet":
		return LogLevelQuiet
	case "normal":
		return LogLevelNormal
	case "verbose":
		return LogLevelVerbose
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelNormal
	}
}

// formatNumber formats large numbers with commas for readability
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
