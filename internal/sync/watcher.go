package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
)

// Backoff for consecutive failed ticks in watch mode. Below the threshold
// the normal poll interval applies.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failed ticks (starting at the threshold) to
// the extra delay added to the poll interval: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// backoffDuration returns the extra delay for the given number of
// consecutive failed ticks.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}

// WatcherConfig configures watch mode.
type WatcherConfig struct {
	Orchestrator *Orchestrator
	// Filters run in order on every tick; users before folders before
	// messages lets newly seeded scopes sync in the same tick.
	Filters  []checkpoint.Filter
	Interval time.Duration
	// Reload is called on SIGHUP before an immediate tick. A reload error is
	// logged and the previous settings stay in effect.
	Reload     func(ctx context.Context) error
	SIGHUPChan <-chan os.Signal // nil never fires
	Logger     *slog.Logger
	// OnReport, when set, receives every pass report.
	OnReport func(*PassReport)
}

// Watcher runs passes on a fixed interval until its context is canceled.
type Watcher struct {
	cfg      WatcherConfig
	tracker  *failureTracker
	logger   *slog.Logger
	failures int // consecutive failed ticks

	// afterFunc builds the timer channel. Tests override this.
	afterFunc func(d time.Duration) <-chan time.Time
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		cfg:       cfg,
		tracker:   newFailureTracker(logger),
		logger:    logger,
		afterFunc: time.After,
	}
}

// Run ticks immediately, then every interval (plus backoff after repeated
// failed ticks). Returns nil on clean context cancel.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Filters) == 0 {
		return errors.New("sync: watch mode needs at least one scope filter")
	}

	sighup := w.cfg.SIGHUPChan
	if sighup == nil {
		sighup = make(<-chan os.Signal)
	}

	w.logger.Info("watch mode started", slog.Duration("interval", w.cfg.Interval))

	for {
		w.tick(ctx)

		if ctx.Err() != nil {
			w.logger.Info("watch mode stopped")
			return nil
		}

		wait := w.cfg.Interval + backoffDuration(w.failures)
		if wait > w.cfg.Interval {
			w.logger.Warn("backing off after repeated failed passes",
				slog.Int("consecutive_failures", w.failures),
				slog.Duration("next_in", wait),
			)
		}

		select {
		case <-w.afterFunc(wait):
		case <-sighup:
			w.logger.Info("SIGHUP received, reloading config")
			w.reload(ctx)
		case <-ctx.Done():
			w.logger.Info("watch mode stopped")
			return nil
		}
	}
}

// tick runs one pass per filter. A tick fails when a store listing fails or
// every attempted key failed.
func (w *Watcher) tick(ctx context.Context) {
	attempted, failed, listErr := 0, 0, false

	for _, f := range w.cfg.Filters {
		if ctx.Err() != nil {
			return
		}

		report, err := w.cfg.Orchestrator.runPass(ctx, f, w.tracker.suppressed)
		if err != nil {
			w.logger.Error("sync pass failed",
				slog.String("scope_type", f.Type.String()),
				slog.String("error", err.Error()),
			)

			listErr = true

			continue
		}

		w.tracker.observe(report)

		attempted += len(report.Keys)
		failed += report.Failed()

		if w.cfg.OnReport != nil {
			w.cfg.OnReport(report)
		}
	}

	if listErr || (attempted > 0 && failed == attempted) {
		w.failures++
	} else {
		w.failures = 0
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if w.cfg.Reload == nil {
		return
	}

	if err := w.cfg.Reload(ctx); err != nil {
		w.logger.Error("config reload failed, keeping previous settings",
			slog.String("error", err.Error()),
		)

		return
	}

	// A fixed config deserves a fresh start for suppressed keys.
	w.tracker = newFailureTracker(w.logger)
	w.failures = 0
}
