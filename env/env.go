package env

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/logger"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// DurationFlagOrEnv resolves like FlagOrEnv and parses the result as a
// duration. Days and weeks are accepted (1d12h, 2w).
func DurationFlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue time.Duration) (time.Duration, error) {
	val := FlagOrEnv(cmd, flagName, envName, "")
	if val == "" {
		return defaultValue, nil
	}
	d, err := str2duration.ParseDuration(val)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration for --%s", flagName)
	}
	return d, nil
}

func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level, ok := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
	if !ok {
		return logger.LevelInfo
	}
	return level
}

// EnvLogFormat selects the logger output, "console" or "json".
const EnvLogFormat = "OREMUS_LOG_FORMAT"

// NewLogger returns a logger by first checking the cobra.Command log-level flag, then use the
// OREMUS_LOG_LEVEL environment value and falling back to the info logger level. The log-format
// flag (or OREMUS_LOG_FORMAT) set to json selects line delimited JSON on stderr.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	level := LogLevel(cmd)
	if strings.EqualFold(FlagOrEnv(cmd, "log-format", EnvLogFormat, "console"), "json") {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}
