package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/o365-sync/internal/config"
	"github.com/tonimelisma/o365-sync/internal/graph"
	"github.com/tonimelisma/o365-sync/internal/sync"
)

const pidFileName = "watch.pid"

// defaultPIDFile is where watch records its PID for "reload".
func defaultPIDFile() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously on the poll interval",
		Long: `Run a round of passes (users, folders, messages) every sync.poll_interval
until interrupted. Scopes that keep failing are suppressed for a cooldown and
repeated failed rounds back off.

SIGHUP (see "o365-sync reload") re-reads the config file and credentials.
Credential changes in secret files are picked up without a signal. Changes
to filters, concurrency, store, or sink settings need a restart.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().Int("concurrency", 0, "keys synced in parallel (overrides sync.concurrency)")
	cmd.Flags().String("pid-file", defaultPIDFile(), "PID file used by reload")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	pidPath, err := cmd.Flags().GetString("pid-file")
	if err != nil {
		return err
	}

	lock, err := acquireWatchLock(pidPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	filters, err := cc.Cfg.Sync.Filters()
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	eng, err := newEngine(ctx, cc.Cfg.Config, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			logger.Warn("closing engine", slog.String("error", cerr.Error()))
		}
	}()

	holder := config.NewHolder(cc.Cfg.Config, cc.Cfg.Path)
	r := &reloader{holder: holder, tokens: eng.tokens, env: cc.Env, cli: cc.CLI, logger: logger}

	sighup, stopSIGHUP := sighupChannel()
	defer stopSIGHUP()

	watcher := sync.NewWatcher(sync.WatcherConfig{
		Orchestrator: eng.orch,
		Filters:      filters,
		Interval:     cc.Cfg.Sync.Interval(),
		Reload:       r.reloadConfig,
		SIGHUPChan:   sighup,
		Logger:       logger,
		OnReport:     logReport(logger),
	})

	secrets := config.NewSecretWatcher(config.SecretDirs(cc.Cfg.Auth), r.reloadCredentials, logger)

	logger.Info("watch started",
		slog.String("config", cc.Cfg.Path),
		slog.String("pid_file", pidPath),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		// A broken secret watcher only loses hot credential reloads.
		if err := secrets.Run(gctx); err != nil {
			logger.Warn("secret watcher stopped", slog.String("error", err.Error()))
		}

		return nil
	})

	return g.Wait()
}

// credentialSetter is the part of *graph.TokenProvider a reload touches.
type credentialSetter interface {
	SetCredentials(creds graph.Credentials)
}

// reloader applies SIGHUP and secret-file reloads to a running watch.
type reloader struct {
	holder *config.Holder
	tokens credentialSetter
	env    config.EnvOverrides
	cli    config.CLIOverrides
	logger *slog.Logger
}

// reloadConfig re-reads the config file and swaps in new credentials. On
// any error the running settings are kept.
func (r *reloader) reloadConfig(_ context.Context) error {
	resolved, err := config.Reload(r.holder.Path(), r.env, r.cli, r.logger)
	if err != nil {
		return err
	}

	creds, err := config.Credentials(resolved.Auth)
	if err != nil {
		return err
	}

	r.tokens.SetCredentials(creds)

	old, gen := r.holder.Swap(resolved.Config)
	warnRestartNeeded(r.logger, old, resolved.Config)

	r.logger.Info("config reloaded",
		slog.String("path", r.holder.Path()),
		slog.Uint64("generation", gen),
	)

	return nil
}

// reloadCredentials re-reads secret files with the current config.
func (r *reloader) reloadCredentials(_ context.Context) {
	creds, err := config.Credentials(r.holder.Config().Auth)
	if err != nil {
		r.logger.Error("reloading credentials failed, keeping the current ones",
			slog.String("error", err.Error()),
		)

		return
	}

	r.tokens.SetCredentials(creds)
	r.logger.Info("credentials reloaded")
}

// warnRestartNeeded logs settings that changed but only take effect on
// restart.
func warnRestartNeeded(logger *slog.Logger, old, cur *config.Config) {
	changed := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			logger.Warn("setting changed; restart watch to apply", slog.String("section", name))
		}
	}

	changed("sync", old.Sync, cur.Sync)
	changed("store", old.Store, cur.Store)
	changed("sink", old.Sink, cur.Sink)
	changed("graph", old.Graph, cur.Graph)
	changed("network", old.Network, cur.Network)
}

// logReport returns an OnReport callback that logs one line per pass with
// any failed keys.
func logReport(logger *slog.Logger) func(*sync.PassReport) {
	return func(r *sync.PassReport) {
		s := summarize(r)

		level := slog.LevelInfo
		if s.Failed > 0 {
			level = slog.LevelWarn
		}

		logger.Log(context.Background(), level, "pass summary",
			slog.String("run_id", s.RunID),
			slog.String("scope_type", s.Type),
			slog.Int("keys", s.Keys),
			slog.Int("emitted", s.Emitted),
			slog.Int("failed", s.Failed),
			slog.Any("failed_keys", s.FailedKeys),
			slog.Int("skipped", len(r.Skipped)),
		)
	}
}
