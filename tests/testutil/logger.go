package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/bootcfg/internal/logging"
)

// LogCapture is a real logger writing into an in-memory buffer.
//
// Example usage:
//
//	logs := testutil.NewLogCapture(t, true)
//	engine := resolve.New(reg, resolve.WithLogger(logs.Logger))
//	...
//	logs.AssertContains(t, "falling back to file")
//	logs.AssertNotContains(t, "hunter2")
type LogCapture struct {
	Logger *logging.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogCapture creates a capture. Debug lines are kept only when debug is true.
func NewLogCapture(t *testing.T, debug bool) *LogCapture {
	t.Helper()

	c := &LogCapture{}
	c.Logger = logging.NewWithWriter(lockedWriter{c}, debug, true)
	return c
}

type lockedWriter struct{ c *LogCapture }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.buf.Write(p)
}

// Output returns everything logged so far.
func (c *LogCapture) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Lines returns the non-empty log lines.
func (c *LogCapture) Lines() []string {
	var lines []string
	for _, line := range strings.Split(c.Output(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// AssertContains asserts that the log output contains substr.
func (c *LogCapture) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, c.Output(), substr, "expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does not contain substr.
// Use it with plaintext secret values.
func (c *LogCapture) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, c.Output(), substr, "expected log output to not contain %q", substr)
}
