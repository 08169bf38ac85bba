package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultsync/core/internal/config"
)

func resetFlags() {
	flagVerbose, flagDebug, flagQuiet = false, false, false
}

func TestBuildLoggerDefault(t *testing.T) {
	resetFlags()
	defer resetFlags()

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLoggerVerbose(t *testing.T) {
	resetFlags()
	defer resetFlags()

	flagVerbose = true
	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerDebug(t *testing.T) {
	resetFlags()
	defer resetFlags()

	flagDebug = true
	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerQuiet(t *testing.T) {
	resetFlags()
	defer resetFlags()

	flagQuiet = true
	logger := buildLogger(nil)

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestBuildLoggerConfigDebugLevel(t *testing.T) {
	resetFlags()
	defer resetFlags()

	cfg := &config.Config{Logging: config.LoggingConfig{LogLevel: "debug"}}
	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerFlagOverridesConfig(t *testing.T) {
	resetFlags()
	defer resetFlags()

	cfg := &config.Config{Logging: config.LoggingConfig{LogLevel: "error"}}
	flagVerbose = true
	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestMustCLIContextPanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() {
		mustCLIContext(context.Background())
	})
}

func TestCliContextFromReturnsStoredContext(t *testing.T) {
	cc := &CLIContext{Logger: slog.Default()}
	ctx := context.WithValue(context.Background(), cliContextKey{}, cc)

	assert.Same(t, cc, cliContextFrom(ctx))
	assert.Same(t, cc, mustCLIContext(ctx))
}

func TestClassifyExitCodeSuccess(t *testing.T) {
	assert.Equal(t, 0, classifyExitCode(nil))
}

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"new-account", "import", "list", "edit", "sync", "status", "remove", "validate", "config"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}
