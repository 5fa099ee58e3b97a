package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/o365-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a valid config
// (reload only needs the PID file).
const skipConfigAnnotation = "o365-sync/skip-config"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once in PersistentPreRunE and carried on the command
// context to every RunE.
type CLIContext struct {
	Flags  CLIFlags
	Env    config.EnvOverrides
	CLI    config.CLIOverrides
	Cfg    *config.Resolved // nil for commands annotated with skipConfigAnnotation
	Logger *slog.Logger
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext set by the root pre-run. A missing
// context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("o365-sync: command context has no CLIContext")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "o365-sync",
		Short: "Office 365 mail delta sync",
		Long: `Incrementally replicate users, mail folders, and messages from an
Office 365 tenant using Microsoft Graph delta queries. Progress is kept as one
checkpoint per scope so every run resumes where the last one stopped.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newCheckpointsCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: flags,
		Env:   config.ReadEnvOverrides(),
		CLI: config.CLIOverrides{
			ConfigPath: flags.ConfigPath,
			LogLevel:   flagLogLevel(flags),
		},
	}

	// --concurrency is only registered on the commands that run passes.
	if f := cmd.Flags().Lookup("concurrency"); f != nil && f.Changed {
		n, err := cmd.Flags().GetInt("concurrency")
		if err != nil {
			return nil, err
		}

		cc.CLI.Concurrency = &n
	}

	if cmd.Annotations[skipConfigAnnotation] == "" {
		// A bootstrap logger covers config loading itself.
		resolved, err := config.Resolve(cc.Env, cc.CLI, buildLogger(cmd.ErrOrStderr(), nil, flags))
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = resolved
	}

	var logging *config.LoggingConfig
	if cc.Cfg != nil {
		logging = &cc.Cfg.Logging
	}

	cc.Logger = buildLogger(cmd.ErrOrStderr(), logging, flags)

	return cc, nil
}

// flagLogLevel maps --verbose/--quiet to a log level, or "" when neither
// is set.
func flagLogLevel(flags CLIFlags) string {
	switch {
	case flags.Verbose:
		return "debug"
	case flags.Quiet:
		return "error"
	default:
		return ""
	}
}

// buildLogger creates an slog.Logger writing to w. The config log level is
// the baseline; --verbose and --quiet override it because CLI flags always
// win. Format "auto" picks text on a terminal and JSON otherwise.
func buildLogger(w io.Writer, logging *config.LoggingConfig, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if logging != nil {
		level = parseLevel(logging.LogLevel)
		format = logging.LogFormat
	}

	switch flagLogLevel(flags) {
	case "debug":
		level = slog.LevelDebug
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
