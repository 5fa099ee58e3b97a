package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
	"github.com/tonimelisma/o365-sync/internal/config"
	"github.com/tonimelisma/o365-sync/internal/sync"
)

const scopeAll = "all"

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass per scope type",
		Long: `Run a single round of delta passes against the tenant.

With --scope all (the default) the users pass runs first, then folders, then
messages, so scopes seeded by one pass are synced by the next. An empty
checkpoint store is bootstrapped with the users baseline.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().String("scope", scopeAll, "scope type to sync: users, folders, messages, or all")
	cmd.Flags().Int("concurrency", 0, "keys synced in parallel (overrides sync.concurrency)")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	scope, err := cmd.Flags().GetString("scope")
	if err != nil {
		return err
	}

	filters, err := scopeFilters(cc.Cfg.Sync, scope)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	eng, err := newEngine(ctx, cc.Cfg.Config, cmd.OutOrStdout(), cmd.ErrOrStderr(), cc.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			cc.Logger.Warn("closing engine", "error", cerr)
		}
	}()

	reports := make([]*sync.PassReport, 0, len(filters))

	for _, f := range filters {
		if ctx.Err() != nil {
			break
		}

		report, err := eng.orch.RunPass(ctx, f)
		if err != nil {
			return err
		}

		reports = append(reports, report)
	}

	if err := printSummary(summaryWriter(cmd, cc.Cfg.Sink), reports, cc.Flags.JSON); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("sync interrupted: %w", ctx.Err())
	}

	failed := 0
	for _, r := range reports {
		failed += r.Failed()
	}

	if failed > 0 {
		return fmt.Errorf("%d scope(s) failed to sync", failed)
	}

	return nil
}

// scopeFilters returns the configured filters for the --scope value, in
// pass order.
func scopeFilters(s config.SyncConfig, scope string) ([]checkpoint.Filter, error) {
	if scope == scopeAll {
		return s.Filters()
	}

	t, err := checkpoint.ParseScopeType(scope)
	if err != nil {
		return nil, fmt.Errorf("--scope: %w", err)
	}

	f, err := s.Filter(t)
	if err != nil {
		return nil, err
	}

	return []checkpoint.Filter{f}, nil
}

// summaryWriter keeps the summary off stdout when the jsonl sink writes
// records there.
func summaryWriter(cmd *cobra.Command, s config.SinkConfig) io.Writer {
	if s.Type == "jsonl" && s.Output == stdStream {
		return cmd.ErrOrStderr()
	}

	return cmd.OutOrStdout()
}

type passSummary struct {
	RunID        string   `json:"run_id"`
	Type         string   `json:"type"`
	Bootstrapped bool     `json:"bootstrapped,omitempty"`
	Keys         int      `json:"keys"`
	Emitted      int      `json:"emitted"`
	Failed       int      `json:"failed"`
	FailedKeys   []string `json:"failed_keys,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
}

func summarize(r *sync.PassReport) passSummary {
	s := passSummary{
		RunID:        r.RunID,
		Type:         r.Type.String(),
		Bootstrapped: r.Bootstrapped,
		Keys:         len(r.Keys),
		Emitted:      r.Emitted(),
		Failed:       r.Failed(),
		DurationMS:   r.Duration.Milliseconds(),
	}

	for i := range r.Keys {
		if r.Keys[i].Err != nil {
			s.FailedKeys = append(s.FailedKeys, r.Keys[i].Key)
		}
	}

	return s
}

func printSummary(w io.Writer, reports []*sync.PassReport, asJSON bool) error {
	summaries := make([]passSummary, len(reports))
	for i, r := range reports {
		summaries[i] = summarize(r)
	}

	if asJSON {
		return printJSON(w, summaries)
	}

	rows := make([][]string, len(reports))
	for i, r := range reports {
		rows[i] = []string{
			summaries[i].Type,
			r.RunID,
			strconv.Itoa(summaries[i].Keys),
			strconv.Itoa(summaries[i].Emitted),
			strconv.Itoa(summaries[i].Failed),
			formatDuration(r.Duration),
		}
	}

	printTable(w, []string{"TYPE", "RUN", "KEYS", "EMITTED", "FAILED", "DURATION"}, rows)

	return nil
}
