package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLevelFromEnv(t *testing.T) {
	tests := []struct {
		name          string
		envValue      string
		expectedLevel LogLevel
	}{
		{"trace level", "trace", LevelTrace},
		{"debug level", "debug", LevelDebug},
		{"info level", "info", LevelInfo},
		{"warn level", "warn", LevelWarn},
		{"warning alias", "warning", LevelWarn},
		{"error level", "error", LevelError},
		{"none level", "none", LevelNone},
		{"uppercase trace", "TRACE", LevelTrace},
		{"mixed case debug", "DeBuG", LevelDebug},
		{"empty string", "", LevelDebug},
		{"invalid value", "invalid", LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLogLevel, tt.envValue)
			assert.Equal(t, tt.expectedLevel, GetLevelFromEnv())
		})
	}
}

func TestParseLevelReportsUnknown(t *testing.T) {
	_, ok := ParseLevel("loud")
	assert.False(t, ok)
	level, ok := ParseLevel(" Info ")
	assert.True(t, ok)
	assert.Equal(t, LevelInfo, level)
}

func TestLogLevelConstants(t *testing.T) {
	assert.Equal(t, LogLevel(0), LevelTrace)
	assert.Equal(t, LogLevel(1), LevelDebug)
	assert.Equal(t, LogLevel(2), LevelInfo)
	assert.Equal(t, LogLevel(3), LevelWarn)
	assert.Equal(t, LogLevel(4), LevelError)
	assert.Equal(t, LogLevel(5), LevelNone)
}

func TestWithKV(t *testing.T) {
	testLogger := NewTestLogger()
	kvLogger, ok := WithKV(WithKV(testLogger, "key1", "value1"), "key2", 2).(*TestLogger)
	assert.True(t, ok)
	assert.Equal(t, "value1", kvLogger.metadata["key1"])
	assert.Equal(t, 2, kvLogger.metadata["key2"])

	kvLogger.Info("Multiple keys")
	logs := testLogger.Logs()
	assert.Len(t, logs, 1)
	assert.Equal(t, "INFO", logs[0].Severity)
	assert.Equal(t, "value1", logs[0].Metadata["key1"])
}
