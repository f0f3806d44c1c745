package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsync/gridsync/internal/config"
)

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"run", "initial", "serve", "status", "configs"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s", name)
		assert.NotEqual(t, cmd, sub, "command %s not registered", name)
	}
}

func TestNewRootCmdFlagDefaults(t *testing.T) {
	cmd := newRootCmd()

	tests := []struct {
		flag string
		want string
	}{
		{"config", ""},
		{"user", ""},
		{"json", "false"},
		{"verbose", "false"},
		{"quiet", "false"},
	}

	for _, tt := range tests {
		f := cmd.PersistentFlags().Lookup(tt.flag)
		require.NotNil(t, f, "flag %s", tt.flag)
		assert.Equal(t, tt.want, f.DefValue, "flag %s", tt.flag)
	}
}

func TestBuildLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		verbose  bool
		quiet    bool
		enabled  slog.Level
		disabled slog.Level
	}{
		{"default info", "info", false, false, slog.LevelInfo, slog.LevelDebug},
		{"config debug", "debug", false, false, slog.LevelDebug, slog.LevelDebug - 1},
		{"config warn", "warn", false, false, slog.LevelWarn, slog.LevelInfo},
		{"config error", "error", false, false, slog.LevelError, slog.LevelWarn},
		{"verbose overrides config", "warn", true, false, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet overrides config", "debug", false, true, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVerbose, origQuiet := flagVerbose, flagQuiet
			t.Cleanup(func() { flagVerbose, flagQuiet = origVerbose, origQuiet })

			flagVerbose = tt.verbose
			flagQuiet = tt.quiet

			cfg := config.DefaultConfig()
			cfg.Logging.LogLevel = tt.logLevel

			logger := buildLogger(cfg)
			assert.True(t, logger.Enabled(t.Context(), tt.enabled))
			assert.False(t, logger.Enabled(t.Context(), tt.disabled))
		})
	}
}

func TestBuildLoggerExplicitFormats(t *testing.T) {
	// "text" and "json" are honored as configured; only "auto" probes
	// the terminal. Both must produce a working logger.
	for _, format := range []string{"text", "json"} {
		cfg := config.DefaultConfig()
		cfg.Logging.LogFormat = format

		logger := buildLogger(cfg)
		require.NotNil(t, logger, "format %s", format)
	}
}
