package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var parsed map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &parsed), scanner.Text())
		out = append(out, parsed)
	}
	return out
}

func last(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	all := lines(t, buf)
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	err := json.Unmarshal([]byte(JSONLogEntry{Message: "Test message"}.String()), &parsed)
	assert.NoError(t, err)
	assert.Equal(t, "Test message", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])
}

func TestJSONLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerWithSink(&buf, LevelTrace)

	logger.WithPrefix("[gateway]").Info("read")
	assert.Equal(t, "gateway", last(t, &buf)["component"])

	logger.WithPrefix("cache").WithPrefix("store").WithPrefix("store").Info("read")
	assert.Equal(t, "cache store", last(t, &buf)["component"])
}

func TestJSONLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerWithSink(&buf, LevelTrace)

	logger.With(map[string]interface{}{"trace": "trace-id"}).Info("m")
	assert.Equal(t, "trace-id", last(t, &buf)["trace"])

	logger.With(map[string]interface{}{"component": "prayer"}).Info("m")
	assert.Equal(t, "prayer", last(t, &buf)["component"])

	logger.With(map[string]interface{}{"key": "active_prayer_count", "attempt": 2}).Warn("attempt %d of %d failed", 2, 3)
	parsed := last(t, &buf)
	assert.Equal(t, "attempt 2 of 3 failed", parsed["message"])
	assert.Equal(t, "WARNING", parsed["severity"])
	metadata := parsed["metadata"].(map[string]interface{})
	assert.Equal(t, "active_prayer_count", metadata["key"])
	assert.Equal(t, float64(2), metadata["attempt"])

	logger.Info("plain")
	assert.NotContains(t, last(t, &buf), "metadata", "With does not leak into the parent")
}

func TestJSONLoggerLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerWithSink(&buf, LevelInfo)

	logger.Debug("Debug message")
	assert.Zero(t, buf.Len(), "Debug message should be filtered out")

	logger.Error("Error \x1b[31mred\x1b[0m message")
	assert.Equal(t, "Error red message", last(t, &buf)["message"])
}

func TestJSONLoggerSetSinkFollowsClones(t *testing.T) {
	var first, second bytes.Buffer
	logger := NewJSONLoggerWithSink(&first, LevelInfo)
	child := logger.WithPrefix("cache")

	logger.SetSink(&second, LevelWarn)
	child.Info("hidden")
	child.Warn("shown")
	assert.Zero(t, first.Len())
	assert.Len(t, lines(t, &second), 1)
}

func TestJSONLoggerConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerWithSink(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.With(map[string]interface{}{"n": i}).Info("line %d", i)
		}()
	}
	wg.Wait()
	assert.Len(t, lines(t, &buf), 20)
}

func TestNewJSONLoggerHonoursEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	logger := NewJSONLogger()
	var buf bytes.Buffer
	jsonLog, ok := logger.(SinkLogger)
	require.True(t, ok)
	jsonLog.SetSink(&buf, LevelWarn)

	logger.Debug("Debug message")
	assert.Zero(t, buf.Len())
	logger.Warn("Warn message")
	assert.NotZero(t, buf.Len())
}

func TestConsoleLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(LevelNone)
	logger.SetSink(&buf, LevelInfo)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.WithPrefix("[store]").With(map[string]interface{}{"key": "k"}).Info("hello %d", 1)
	// With and WithPrefix clone the logger, the sink travels with the clone.
	assert.Contains(t, buf.String(), "[INFO]")
	assert.Contains(t, buf.String(), "hello 1")
	assert.Contains(t, buf.String(), `{"key":"k"}`)
	assert.NotContains(t, buf.String(), "\x1b[")
}
