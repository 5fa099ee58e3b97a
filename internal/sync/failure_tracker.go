package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Watch-mode suppression of scope keys that keep failing. A key is benched
// after failureThreshold failures within failureWindow. Once it has been
// benched, a single further failure benches it again for twice as long, up
// to maxSuppression. One success restores it fully.
const (
	failureThreshold = 3
	failureWindow    = 30 * time.Minute
	baseSuppression  = 30 * time.Minute
	maxSuppression   = 12 * time.Hour
)

type keyHealth struct {
	failures int       // consecutive failures since the last bench
	strikes  int       // times benched
	until    time.Time // benched until; zero when active
	lastAt   time.Time
}

// failureTracker decides which scope keys a watch round skips. A mailbox
// that is deleted or locked upstream keeps failing; benching it keeps one
// key from burning a retry and a failure record every round.
type failureTracker struct {
	mu      sync.Mutex
	keys    map[string]*keyHealth
	logger  *slog.Logger
	nowFunc func() time.Time
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		keys:    make(map[string]*keyHealth),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// suppressed reports whether key is benched right now. Its signature fits
// the skip hook of runPass.
func (ft *failureTracker) suppressed(key string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	h, ok := ft.keys[key]

	return ok && ft.nowFunc().Before(h.until)
}

// observe updates every key a pass attempted. Skipped keys are absent from
// the report and keep their state.
func (ft *failureTracker) observe(report *PassReport) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	now := ft.nowFunc()

	for i := range report.Keys {
		out := &report.Keys[i]
		if out.Err == nil {
			delete(ft.keys, out.Key)
			continue
		}

		ft.fail(out.Key, out.Err.Error(), now)
	}
}

// fail records one failure. Caller holds ft.mu.
func (ft *failureTracker) fail(key, errMsg string, now time.Time) {
	h, ok := ft.keys[key]
	if !ok {
		h = &keyHealth{}
		ft.keys[key] = h
	}

	if h.strikes == 0 && now.Sub(h.lastAt) > failureWindow {
		h.failures = 0
	}

	h.failures++
	h.lastAt = now

	if h.strikes == 0 && h.failures < failureThreshold {
		return
	}

	h.strikes++
	h.failures = 0

	d := suppressionFor(h.strikes)
	h.until = now.Add(d)

	ft.logger.Warn("scope suppressed after repeated failures",
		slog.String("scope", key),
		slog.Int("strikes", h.strikes),
		slog.Duration("for", d),
		slog.String("last_error", errMsg),
	)
}

func suppressionFor(strikes int) time.Duration {
	d := baseSuppression
	for i := 1; i < strikes && d < maxSuppression; i++ {
		d *= 2
	}

	return min(d, maxSuppression)
}
