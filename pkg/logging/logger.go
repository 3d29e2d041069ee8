package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes leveled log lines for one cropchat component.
// All components of a process share a session-specific file in
// ~/.cropchat/logs/ (or $CROPCHAT_LOG_DIR).
//
// There is no level filtering; every call writes.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	logger    *log.Logger
	mu        *sync.Mutex
	logPath   string
	closeOnce *sync.Once
}

var (
	// Process-wide session ID, shared by every component logger
	sessionID     string
	sessionIDOnce sync.Once

	logDir  string
	initErr error
	initMu  sync.Mutex
	initted bool
)

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// initLogDirectory ensures the log directory exists
func initLogDirectory() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initted {
		return initErr
	}
	initted = true

	dir := os.Getenv("CROPCHAT_LOG_DIR")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return initErr
		}
		dir = filepath.Join(homeDir, ".cropchat", "logs")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		initErr = fmt.Errorf("failed to create log directory: %w", err)
		return initErr
	}
	logDir = dir
	return nil
}

// NewLogger creates a logger for a component writing to
// <log dir>/<session-id>-cropchat.log.
//
// If the file cannot be opened, a stderr logger is returned together with
// the error so callers can report the fallback.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-cropchat.log", sessID))

	// Append mode: every component of the process writes to the same file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		sessionID: sessID,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		mu:        &sync.Mutex{},
		logPath:   logPath,
		closeOnce: &sync.Once{},
	}, nil
}

// MustLogger returns NewLogger's logger and ignores the fallback error.
func MustLogger(component string) *Logger {
	l, _ := NewLogger(component)
	return l
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard(component string) *Logger {
	return NewWriterLogger(component, io.Discard)
}

// NewWriterLogger returns a logger writing formatted entries to w.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		sessionID: getSessionID(),
		component: component,
		logger:    log.New(w, "", 0),
		mu:        &sync.Mutex{},
		closeOnce: &sync.Once{},
	}
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags|log.Lshortfile)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		logger:    logger,
		mu:        &sync.Mutex{},
		closeOnce: &sync.Once{},
	}
}

// With returns a logger for another component sharing this logger's output.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

// Component returns the component name used as the line prefix.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) write(level, format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Println(fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, fmt.Sprintf(format, v...)))
}

// Printf logs an info-level message.
func (l *Logger) Printf(format string, v ...interface{}) { l.write("INFO", format, v...) }

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) { l.write("DEBUG", format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) { l.write("INFO", format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) { l.write("WARN", format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) { l.write("ERROR", format, v...) }

// Writer returns the underlying file, or stderr in fallback mode.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// SessionID returns the process session ID.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, empty when not file-backed.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times; loggers derived
// with With share the file and the close.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the process session ID.
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored.
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
