package env

import (
	"bytes"
	"testing"
	"time"

	"github.com/oremus/go-common/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	cmd.Flags().Set("test-flag", "flag-value")
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	cmd.Flags().Set("test-flag", "")
	t.Setenv("TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "OTHER_TEST_ENV", "default"))
}

func TestDurationFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("ttl", "", "TTL")

	d, err := DurationFlagOrEnv(cmd, "ttl", "TEST_TTL", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	cmd.Flags().Set("ttl", "1d12h")
	d, err = DurationFlagOrEnv(cmd, "ttl", "TEST_TTL", 0)
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	cmd.Flags().Set("ttl", "")
	t.Setenv("TEST_TTL", "30s")
	d, err = DurationFlagOrEnv(cmd, "ttl", "TEST_TTL", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	cmd.Flags().Set("ttl", "later")
	_, err = DurationFlagOrEnv(cmd, "ttl", "TEST_TTL", 0)
	assert.ErrorContains(t, err, "--ttl")
}

func TestLogLevel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")

	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"warn level via flag", "warn", "", logger.LevelWarn},
		{"warn level via env", "", "WARN", logger.LevelWarn},
		{"error level via flag", "error", "", logger.LevelError},
		{"trace level via env", "", "TRACE", logger.LevelTrace},
		{"unknown level", "loud", "", logger.LevelInfo},
		{"default level", "", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd.Flags().Set("log-level", tc.flagValue)
			t.Setenv(logger.EnvLogLevel, tc.envValue)

			level := LogLevel(cmd)
			assert.Equal(t, tc.expected, level)
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")
	cmd.Flags().String("log-format", "", "Log format")

	t.Setenv(EnvLogFormat, "")
	var buf bytes.Buffer
	log := NewLogger(cmd)
	log.(logger.SinkLogger).SetSink(&buf, logger.LevelInfo)
	log.Info("plain")
	assert.Contains(t, buf.String(), "[INFO]")

	cmd.Flags().Set("log-format", "JSON")
	buf.Reset()
	log = NewLogger(cmd)
	sink, ok := log.(logger.SinkLogger)
	require.True(t, ok)
	sink.SetSink(&buf, logger.LevelInfo)
	log.Info("warming %s", "churches")
	assert.Contains(t, buf.String(), `"message":"warming churches"`)

	cmd.Flags().Set("log-format", "")
	t.Setenv(EnvLogFormat, "json")
	buf.Reset()
	log = NewLogger(cmd)
	log.(logger.SinkLogger).SetSink(&buf, logger.LevelInfo)
	log.Warn("slow")
	assert.Contains(t, buf.String(), `"severity":"WARNING"`)
}
