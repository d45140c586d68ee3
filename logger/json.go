package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// JSONLogEntry is one structured log line.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Trace     string                 `json:"trace,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// String renders the entry as a single JSON object.
func (e JSONLogEntry) String() string {
	if e.Severity == "" {
		e.Severity = "INFO"
	}
	out, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"severity":"ERROR","message":%q}`, err.Error())
	}
	return string(out)
}

// jsonOutput is shared by a logger and all of its clones so concurrent lines
// never interleave.
type jsonOutput struct {
	mu    sync.Mutex
	w     io.Writer
	level LogLevel
}

func (o *jsonOutput) write(entry JSONLogEntry) {
	buf, err := json.Marshal(entry)
	if err != nil {
		return
	}
	buf = append(buf, '\n')
	o.mu.Lock()
	o.w.Write(buf)
	o.mu.Unlock()
}

type jsonLogger struct {
	out       *jsonOutput
	component string
	traceID   string
	metadata  map[string]interface{}
	now       func() time.Time
	child     Logger
}

var _ SinkLogger = (*jsonLogger)(nil)

func (c *jsonLogger) clone() *jsonLogger {
	clone := *c
	clone.metadata = maps.Clone(c.metadata)
	if clone.metadata == nil {
		clone.metadata = make(map[string]interface{})
	}
	return &clone
}

func (c *jsonLogger) WithContext(ctx context.Context) Logger {
	clone := c.clone()
	if clone.child != nil {
		clone.child = clone.child.WithContext(ctx)
	}
	return clone
}

// SetSink redirects every clone of this logger to sink at level.
func (c *jsonLogger) SetSink(sink Sink, level LogLevel) {
	c.out.mu.Lock()
	c.out.w = sink
	c.out.level = level
	c.out.mu.Unlock()
	if child, ok := c.child.(SinkLogger); ok {
		child.SetSink(sink, level)
	}
}

var bracketRegex = regexp.MustCompile(`^\[(.*)\]$`)

// WithPrefix appends prefix to the component name. Console style brackets
// ("[gateway]") are dropped.
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	prefix = bracketRegex.ReplaceAllString(strings.TrimSpace(prefix), "$1")
	switch {
	case clone.component == "":
		clone.component = prefix
	case !strings.Contains(clone.component, prefix):
		clone.component += " " + prefix
	}
	if clone.child != nil {
		clone.child = clone.child.WithPrefix(prefix)
	}
	return clone
}

// With merges metadata. The reserved keys "trace" and "component" are lifted
// into their own entry fields.
func (c *jsonLogger) With(fields map[string]interface{}) Logger {
	clone := c.clone()
	maps.Copy(clone.metadata, fields)
	if trace, ok := clone.metadata["trace"].(string); ok {
		clone.traceID = trace
		delete(clone.metadata, "trace")
	}
	if comp, ok := clone.metadata["component"].(string); ok {
		clone.component = comp
		delete(clone.metadata, "component")
	}
	if c.child != nil {
		clone.child = c.child.With(fields)
	}
	return clone
}

func (c *jsonLogger) log(level LogLevel, severity string, msg string, args ...interface{}) {
	c.out.mu.Lock()
	enabled := level >= c.out.level
	c.out.mu.Unlock()
	if !enabled {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	entry := JSONLogEntry{
		Timestamp: c.now().UTC(),
		Severity:  severity,
		Message:   ansiColorStripper.ReplaceAllString(msg, ""),
		Component: c.component,
		Trace:     c.traceID,
	}
	if len(c.metadata) > 0 {
		entry.Metadata = c.metadata
	}
	c.out.write(entry)
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.log(LevelTrace, "TRACE", msg, args...)
	forward(c.child, LevelTrace, msg, args)
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.log(LevelDebug, "DEBUG", msg, args...)
	forward(c.child, LevelDebug, msg, args)
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.log(LevelInfo, "INFO", msg, args...)
	forward(c.child, LevelInfo, msg, args)
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.log(LevelWarn, "WARNING", msg, args...)
	forward(c.child, LevelWarn, msg, args)
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.log(LevelError, "ERROR", msg, args...)
	forward(c.child, LevelError, msg, args)
}

// Fatal logs at CRITICAL severity and exits.
func (c *jsonLogger) Fatal(msg string, args ...interface{}) {
	c.log(LevelError, "CRITICAL", msg, args...)
	forward(c.child, LevelError, msg, args)
	os.Exit(1)
}

func (c *jsonLogger) SetLogLevel(level LogLevel) {
	c.out.mu.Lock()
	c.out.level = level
	c.out.mu.Unlock()
}

func (c *jsonLogger) Stack(next Logger) Logger {
	clone := c.clone()
	clone.child = next
	return clone
}

// NewJSONLogger returns a Logger writing one JSON object per line to stderr.
// The level defaults to OREMUS_LOG_LEVEL.
func NewJSONLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return NewJSONLoggerWithSink(os.Stderr, level)
}

// NewJSONLoggerWithSink returns a JSON Logger writing to sink.
func NewJSONLoggerWithSink(sink Sink, level LogLevel) SinkLogger {
	return &jsonLogger{
		out:      &jsonOutput{w: sink, level: level},
		metadata: make(map[string]interface{}),
		now:      time.Now,
	}
}
