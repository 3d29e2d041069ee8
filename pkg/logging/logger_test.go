package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempLogDir points the package at a fresh log directory for one test.
func useTempLogDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("CROPCHAT_LOG_DIR", dir)

	initMu.Lock()
	origDir, origErr, origInitted := logDir, initErr, initted
	logDir, initErr, initted = "", nil, false
	initMu.Unlock()

	t.Cleanup(func() {
		initMu.Lock()
		logDir, initErr, initted = origDir, origErr, origInitted
		initMu.Unlock()
	})
	return dir
}

func TestNewLogger(t *testing.T) {
	dir := useTempLogDir(t)

	logger, err := NewLogger("session")
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, "session", logger.Component())
	assert.NotEmpty(t, logger.SessionID())
	assert.Equal(t, dir, filepath.Dir(logger.LogPath()))
	assert.True(t, strings.HasSuffix(logger.LogPath(), "-cropchat.log"))

	_, err = os.Stat(logger.LogPath())
	assert.NoError(t, err)
}

func TestLoggerWritesLevelAndComponent(t *testing.T) {
	useTempLogDir(t)

	logger, err := NewLogger("capture")
	require.NoError(t, err)

	logger.Infof("captured %d bytes", 42)
	logger.Warnf("slow host")
	logger.Errorf("denied")
	logger.Debugf("tx=%s", "abc")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "[capture] [INFO] captured 42 bytes")
	assert.Contains(t, text, "[capture] [WARN] slow host")
	assert.Contains(t, text, "[capture] [ERROR] denied")
	assert.Contains(t, text, "[capture] [DEBUG] tx=abc")
}

func TestComponentsShareSessionFile(t *testing.T) {
	useTempLogDir(t)

	a, err := NewLogger("selection")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewLogger("session")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, a.LogPath(), b.LogPath())
	assert.Equal(t, GetSessionID(), a.SessionID())
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger("bus", &buf)
	child := parent.With("bus.monitor")

	child.Infof("reconnect attempt %d", 2)
	parent.Infof("registered")

	out := buf.String()
	assert.Contains(t, out, "[bus.monitor] [INFO] reconnect attempt 2")
	assert.Contains(t, out, "[bus] [INFO] registered")
	assert.Equal(t, "bus", parent.Component())
}

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("concurrent", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Infof("goroutine %d line %d", n, j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 100)
}

func TestDiscardAndNil(t *testing.T) {
	Discard("quiet").Infof("dropped")

	var nilLogger *Logger
	assert.NotPanics(t, func() { nilLogger.Errorf("ignored") })
}

func TestCloseTwice(t *testing.T) {
	useTempLogDir(t)

	logger, err := NewLogger("close")
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}
