package logger

import (
	"context"
	"fmt"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// testLogBuffer is shared by a TestLogger and every logger derived from it, so
// entries written through With/WithPrefix children stay visible to the parent.
type testLogBuffer struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every log call in memory. It is safe for concurrent use.
type TestLogger struct {
	metadata map[string]interface{}
	buffer   *testLogBuffer
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{metadata: kv, buffer: c.buffer, child: child}
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	c.buffer.mu.Lock()
	c.buffer.entries = append(c.buffer.entries, TestLogEntry{level, msg, args, c.metadata})
	c.buffer.mu.Unlock()
}

// Logs returns a snapshot of everything logged so far.
func (c *TestLogger) Logs() []TestLogEntry {
	c.buffer.mu.Lock()
	defer c.buffer.mu.Unlock()
	out := make([]TestLogEntry, len(c.buffer.entries))
	copy(out, c.buffer.entries)
	return out
}

// Count returns how many entries were logged at severity.
func (c *TestLogger) Count(severity string) int {
	var n int
	for _, entry := range c.Logs() {
		if entry.Severity == severity {
			n++
		}
	}
	return n
}

// Formatted returns the entry message with its arguments applied.
func (e TestLogEntry) Formatted() string {
	return fmt.Sprintf(e.Message, e.Arguments...)
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.Log("TRACE", msg, args...)
	forward(c.child, LevelTrace, msg, args)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.Log("DEBUG", msg, args...)
	forward(c.child, LevelDebug, msg, args)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.Log("INFO", msg, args...)
	forward(c.child, LevelInfo, msg, args)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.Log("WARNING", msg, args...)
	forward(c.child, LevelWarn, msg, args)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.Log("ERROR", msg, args...)
	forward(c.child, LevelError, msg, args)
}

// Fatal records a FATAL entry. Unlike the other loggers it does not exit, so
// tests can assert on it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.Log("FATAL", msg, args...)
	forward(c.child, LevelError, msg, args)
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{metadata: c.metadata, buffer: c.buffer, child: next}
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{buffer: &testLogBuffer{}}
}
