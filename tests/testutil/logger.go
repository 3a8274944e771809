package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/kmsenv/internal/logging"
)

// TestLogger captures log output for validation in tests.
//
// It wraps a real logging.Logger (no colour) writing to an in-memory
// buffer, so it can be handed to anything that takes a *logging.Logger:
//
//	logger := testutil.NewTestLogger(t)
//	s := store.New(adapter, store.WithLogger(logger.Logger))
//	...
//	logger.AssertContains(t, "legacy")
//	logger.AssertNotContains(t, "hunter2")
type TestLogger struct {
	*logging.Logger
	buffer *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// NewTestLogger creates a new TestLogger with debug disabled.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	return NewTestLoggerWithDebug(t, false)
}

// NewTestLoggerWithDebug creates a new TestLogger that also captures Debug lines when debug is true.
func NewTestLoggerWithDebug(t *testing.T, debug bool) *TestLogger {
	t.Helper()

	buf := &syncBuffer{}
	return &TestLogger{
		Logger: logging.NewWithWriter(buf, debug, true),
		buffer: buf,
	}
}

// GetOutput returns the captured log output as a string.
func (l *TestLogger) GetOutput() string {
	return l.buffer.String()
}

// Clear clears the captured log output.
func (l *TestLogger) Clear() {
	l.buffer.Reset()
}

// AssertContains asserts that the log output contains the specified substring.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain the specified substring.
//
// This is particularly useful for verifying that secrets never reach the log.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertLogCount asserts that a specific log level appears a certain number of times.
//
// Level markers:
//   - Info: "✓"
//   - Warn: "⚠"
//   - Error: "✗"
//   - Debug: "[DEBUG]"
func (l *TestLogger) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()

	var marker string
	switch level {
	case "info":
		marker = "✓"
	case "warn":
		marker = "⚠"
	case "error":
		marker = "✗"
	case "debug":
		marker = "[DEBUG]"
	default:
		t.Fatalf("Unknown log level: %s", level)
	}

	actual := strings.Count(l.GetOutput(), marker)
	assert.Equal(t, count, actual, "Expected %d %s log messages, got %d", count, level, actual)
}

// AssertEmpty asserts that no log output was captured.
func (l *TestLogger) AssertEmpty(t *testing.T) {
	t.Helper()
	output := l.GetOutput()
	assert.Empty(t, output, "Expected no log output, but got:\n%s", output)
}

// Lines returns the non-empty log lines.
func (l *TestLogger) Lines() []string {
	lines := strings.Split(l.GetOutput(), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
