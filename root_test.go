package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/o365-sync/internal/config"
)

// cliResult captures one CLI invocation.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes the root command with args against an isolated
// environment. Env overrides are cleared so the host cannot leak in.
func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()

	return runCLIWithEnv(t, nil, args...)
}

// runCLIWithEnv is runCLI with the given override variables set.
func runCLIWithEnv(t *testing.T, env map[string]string, args ...string) cliResult {
	t.Helper()

	for _, v := range []string{"O365_SYNC_CONFIG", "O365_SYNC_TENANT_ID", "O365_SYNC_CLIENT_ID", "O365_SYNC_CLIENT_SECRET"} {
		t.Setenv(v, env[v])
	}

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// writeCLIConfig writes a config with a sqlite store and jsonl file sink in
// a temp directory, plus any extra TOML. Returns the config path and the
// directory.
func writeCLIConfig(t *testing.T, extra string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := fmt.Sprintf(`[store]
driver = "sqlite"
path = %q

[sink]
type = "jsonl"
output = %q
failure_output = %q

[logging]
log_level = "error"
log_format = "text"
%s`,
		filepath.Join(dir, "checkpoints.db"),
		filepath.Join(dir, "records.jsonl"),
		filepath.Join(dir, "failures.jsonl"),
		extra,
	)

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path, dir
}

// --- buildLogger ---

func TestBuildLogger_DefaultIsInfo(t *testing.T) {
	logger := buildLogger(&bytes.Buffer{}, nil, CLIFlags{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigLevel(t *testing.T) {
	logger := buildLogger(&bytes.Buffer{}, &config.LoggingConfig{LogLevel: "warn", LogFormat: "text"}, CLIFlags{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_VerboseOverridesConfig(t *testing.T) {
	logger := buildLogger(&bytes.Buffer{}, &config.LoggingConfig{LogLevel: "error", LogFormat: "text"}, CLIFlags{Verbose: true})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverridesConfig(t *testing.T) {
	logger := buildLogger(&bytes.Buffer{}, &config.LoggingConfig{LogLevel: "debug", LogFormat: "text"}, CLIFlags{Quiet: true})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_Formats(t *testing.T) {
	tests := []struct {
		format string
		json   bool
	}{
		{"json", true},
		{"text", false},
		// A bytes.Buffer is not a terminal.
		{"auto", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer

			logger := buildLogger(&buf, &config.LoggingConfig{LogLevel: "info", LogFormat: tt.format}, CLIFlags{})
			logger.Info("hello", slog.String("k", "v"))

			line := strings.TrimSpace(buf.String())
			assert.Equal(t, tt.json, strings.HasPrefix(line, "{"), line)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestFlagLogLevel(t *testing.T) {
	assert.Equal(t, "debug", flagLogLevel(CLIFlags{Verbose: true}))
	assert.Equal(t, "error", flagLogLevel(CLIFlags{Quiet: true}))
	assert.Empty(t, flagLogLevel(CLIFlags{}))
}

// --- Cobra structure ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"sync", "watch", "reload", "checkpoints", "auth", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_CheckpointsSubcommands(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"list", "get", "reset", "purge"} {
		sub, _, err := cmd.Find([]string{"checkpoints", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_VerboseQuietExclusive(t *testing.T) {
	res := runCLI(t, "--verbose", "--quiet", "reload", "--pid-file", filepath.Join(t.TempDir(), "none.pid"))

	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "none of the others can be")
}

func TestNewRootCmd_ReloadSkipsConfig(t *testing.T) {
	// A config file that fails validation must not matter to reload.
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\nconcurrency = 0\n"), 0o600))

	res := runCLI(t, "--config", path, "reload", "--pid-file", filepath.Join(t.TempDir(), "none.pid"))

	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no running watch")
}

func TestNewRootCmd_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\nconcurency = 2\n"), 0o600))

	res := runCLI(t, "--config", path, "config", "show")

	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "loading config")
	assert.Contains(t, res.err.Error(), `did you mean "concurrency"`)
}

func TestNewCLIContext_ConcurrencyFlag(t *testing.T) {
	path, _ := writeCLIConfig(t, "")

	cmd := newRootCmd()
	sub, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)
	require.NoError(t, sub.ParseFlags([]string{"--concurrency", "7"}))

	cc, err := newCLIContext(sub, CLIFlags{ConfigPath: path})
	require.NoError(t, err)
	require.NotNil(t, cc.CLI.Concurrency)
	assert.Equal(t, 7, *cc.CLI.Concurrency)
	assert.Equal(t, 7, cc.Cfg.Sync.Concurrency)
	assert.Equal(t, path, cc.Cfg.Path)
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}
