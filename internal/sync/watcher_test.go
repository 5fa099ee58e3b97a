package sync

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
	"github.com/tonimelisma/o365-sync/internal/graph"
)

func allFilters(t *testing.T) []checkpoint.Filter {
	t.Helper()

	return []checkpoint.Filter{
		filterOf(t, checkpoint.TypeUsers),
		filterOf(t, checkpoint.TypeFolders),
		filterOf(t, checkpoint.TypeMessages),
	}
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()

	return ch
}

func never(time.Duration) <-chan time.Time {
	return nil
}

func TestWatcher_SeedsFlowThroughOneTick(t *testing.T) {
	h := newHarness(t, nil)
	h.graph.page("/users/delta", &graph.DeltaPage{Items: items("u1"), DeltaLink: "tokU"})
	h.graph.page("/users/u1/mailFolders/delta", &graph.DeltaPage{Items: items("inbox"), DeltaLink: "tokF"})
	h.graph.page("/users/u1/mailFolders/inbox/messages/delta", &graph.DeltaPage{Items: items("m1"), DeltaLink: "tokM"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports []*PassReport

	w := NewWatcher(WatcherConfig{
		Orchestrator: h.orch,
		Filters:      allFilters(t),
		Interval:     time.Minute,
		Logger:       quietLogger(),
		OnReport: func(r *PassReport) {
			reports = append(reports, r)
			if len(reports) == 3 {
				cancel()
			}
		},
	})
	w.afterFunc = never

	require.NoError(t, w.Run(ctx))

	require.Len(t, reports, 3)
	assert.Equal(t, map[string]string{
		"O365_users_delta":       "tokU",
		"O365_folders|u1":        "tokF",
		"O365_messages|u1|inbox": "tokM",
	}, h.store.Snapshot())
}

func TestWatcher_SuppressesRepeatedlyFailingKey(t *testing.T) {
	h := newHarness(t, map[string]string{"O365_folders|u1": ""})

	boom := errors.New("boom")
	for range 20 {
		h.graph.fail("/users/u1/mailFolders/delta", boom)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := 0

	w := NewWatcher(WatcherConfig{
		Orchestrator: h.orch,
		Filters:      []checkpoint.Filter{filterOf(t, checkpoint.TypeFolders)},
		Interval:     time.Millisecond,
		Logger:       quietLogger(),
		OnReport: func(*PassReport) {
			ticks++
			if ticks == failureThreshold+2 {
				cancel()
			}
		},
	})
	w.afterFunc = immediate

	require.NoError(t, w.Run(ctx))

	// Two attempts (initial + retry) per tick until suppressed.
	assert.Equal(t, 2*failureThreshold, h.graph.callCount("/users/u1/mailFolders/delta"))
	assert.True(t, w.tracker.suppressed("O365_folders|u1"))
	assert.Zero(t, w.failures, "ticks with every key suppressed are not failures")
}

func TestWatcher_SIGHUPReloads(t *testing.T) {
	h := newHarness(t, map[string]string{"O365_folders|u1": ""})
	h.graph.page("/users/u1/mailFolders/delta", &graph.DeltaPage{DeltaLink: "tokF"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sighup := make(chan os.Signal, 1)
	sighup <- syscall.SIGHUP

	reloads := 0

	w := NewWatcher(WatcherConfig{
		Orchestrator: h.orch,
		Filters:      []checkpoint.Filter{filterOf(t, checkpoint.TypeFolders)},
		Interval:     time.Hour,
		SIGHUPChan:   sighup,
		Logger:       quietLogger(),
		Reload: func(context.Context) error {
			reloads++
			cancel()

			return nil
		},
	})
	w.afterFunc = never

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 1, reloads)
}

func TestWatcher_ReloadErrorKeepsRunning(t *testing.T) {
	h := newHarness(t, map[string]string{"O365_folders|u1": ""})
	h.graph.page("/users/u1/mailFolders/delta", &graph.DeltaPage{DeltaLink: "tokF"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sighup := make(chan os.Signal, 1)
	sighup <- syscall.SIGHUP

	passes := 0

	w := NewWatcher(WatcherConfig{
		Orchestrator: h.orch,
		Filters:      []checkpoint.Filter{filterOf(t, checkpoint.TypeFolders)},
		Interval:     time.Hour,
		SIGHUPChan:   sighup,
		Logger:       quietLogger(),
		Reload:       func(context.Context) error { return errors.New("bad toml") },
		OnReport: func(*PassReport) {
			passes++
			if passes == 2 {
				cancel()
			}
		},
	})
	w.afterFunc = never

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 2, passes)
}

func TestWatcher_NoFilters(t *testing.T) {
	w := NewWatcher(WatcherConfig{Logger: quietLogger()})
	assert.Error(t, w.Run(context.Background()))
}
