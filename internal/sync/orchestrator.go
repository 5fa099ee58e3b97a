package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
	"github.com/tonimelisma/o365-sync/internal/graph"
	"github.com/tonimelisma/o365-sync/internal/sink"
)

// OrchestratorConfig holds the collaborators of an Orchestrator.
type OrchestratorConfig struct {
	Fetcher DeltaFetcher
	// Attachments, when non-nil, is used to list and emit the attachments
	// of every message that has them.
	Attachments AttachmentLister
	Fields      Fields
	Store       checkpoint.Store
	Sink        sink.Sink
	Tokens      Invalidator
	// Concurrency bounds how many keys run at once. Values below 1 mean 1.
	Concurrency int
	Logger      *slog.Logger
}

// Orchestrator runs sync passes over the checkpoint store. One pass covers
// the keys of a single scope type.
type Orchestrator struct {
	paginator   *Paginator
	attachments AttachmentLister
	store       checkpoint.Store
	sink        sink.Sink
	tokens      Invalidator
	concurrency int
	logger      *slog.Logger
	nowFunc     func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = nopInvalidator{}
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Orchestrator{
		paginator:   NewPaginator(cfg.Fetcher, cfg.Fields, logger),
		attachments: cfg.Attachments,
		store:       cfg.Store,
		sink:        cfg.Sink,
		tokens:      tokens,
		concurrency: concurrency,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate() {}

// PassReport summarizes one RunPass.
type PassReport struct {
	RunID        string
	Type         checkpoint.ScopeType
	Bootstrapped bool
	Skipped      []string // keys suppressed by the caller
	Keys         []KeyOutcome
	Duration     time.Duration
}

// Emitted is the total number of records emitted in the pass.
func (r *PassReport) Emitted() int {
	n := 0
	for i := range r.Keys {
		n += r.Keys[i].Emitted
	}

	return n
}

// Failed is the number of keys whose pass failed.
func (r *PassReport) Failed() int {
	n := 0

	for i := range r.Keys {
		if r.Keys[i].Err != nil {
			n++
		}
	}

	return n
}

// Err joins the per-key errors, or returns nil when every key succeeded.
func (r *PassReport) Err() error {
	var errs []error

	for i := range r.Keys {
		if r.Keys[i].Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Keys[i].Key, r.Keys[i].Err))
		}
	}

	return errors.Join(errs...)
}

// RunPass processes every checkpoint key accepted by filter. Per-key
// failures are reported on the sink's failure channel and in the returned
// report; they never stop the other keys. The returned error is non-nil
// only when the store cannot be listed.
func (o *Orchestrator) RunPass(ctx context.Context, filter checkpoint.Filter) (*PassReport, error) {
	return o.runPass(ctx, filter, nil)
}

// runPass is RunPass with a per-key skip predicate, used by watch mode to
// suppress keys that keep failing.
func (o *Orchestrator) runPass(ctx context.Context, filter checkpoint.Filter, skip func(string) bool) (*PassReport, error) {
	start := o.nowFunc()
	report := &PassReport{RunID: uuid.NewString(), Type: filter.Type}

	all, err := o.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing checkpoint keys: %w", err)
	}

	p := &pass{
		o:      o,
		runID:  report.RunID,
		known:  make(map[string]struct{}, len(all)),
		seeded: make(map[string]struct{}),
	}

	for _, k := range all {
		p.known[k] = struct{}{}
	}

	keys := filter.Select(all)

	if len(keys) == 0 {
		if filter.Type != checkpoint.TypeUsers || !filter.Match(checkpoint.UsersKey) {
			o.logger.Info("no checkpoint keys match, nothing to sync",
				slog.String("scope_type", filter.Type.String()),
			)

			report.Duration = o.nowFunc().Sub(start)

			return report, nil
		}

		o.logger.Info("checkpoint store empty, bootstrapping users baseline",
			slog.String("run_id", report.RunID),
		)

		report.Bootstrapped = true
		keys = []string{checkpoint.UsersKey}
	}

	if skip != nil {
		kept := keys[:0:0]

		for _, k := range keys {
			if skip(k) {
				report.Skipped = append(report.Skipped, k)
				continue
			}

			kept = append(kept, k)
		}

		keys = kept
	}

	o.logger.Info("sync pass starting",
		slog.String("run_id", report.RunID),
		slog.String("scope_type", filter.Type.String()),
		slog.Int("keys", len(keys)),
		slog.Int("skipped", len(report.Skipped)),
	)

	report.Keys = make([]KeyOutcome, len(keys))

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for i, key := range keys {
		g.Go(func() error {
			report.Keys[i] = runKey(ctx, key, func(ctx context.Context) (KeyOutcome, error) {
				return p.syncKey(ctx, key)
			})
			p.finish(ctx, &report.Keys[i])

			return nil
		})
	}

	_ = g.Wait()

	report.Duration = o.nowFunc().Sub(start)

	o.logger.Info("sync pass complete",
		slog.String("run_id", report.RunID),
		slog.String("scope_type", filter.Type.String()),
		slog.Int("keys", len(report.Keys)),
		slog.Int("failed", report.Failed()),
		slog.Int("emitted", report.Emitted()),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// pass is the state shared by the keys of one RunPass.
type pass struct {
	o     *Orchestrator
	runID string
	known map[string]struct{} // every key listed at pass start; read-only

	mu     gosync.Mutex
	seeded map[string]struct{}
}

// syncKey fetches one scope and writes its new checkpoint. The token is
// written only after pagination has fully terminated.
func (p *pass) syncKey(ctx context.Context, key string) (KeyOutcome, error) {
	var out KeyOutcome

	scope, err := checkpoint.ParseKey(key)
	if err != nil {
		return out, err
	}

	resume, err := p.o.store.Get(ctx, key)
	if err != nil {
		return out, fmt.Errorf("sync: reading checkpoint: %w", err)
	}

	logger := p.o.logger.With(slog.String("scope", key), slog.String("run_id", p.runID))
	logger.Debug("syncing scope", slog.Bool("incremental", resume != ""))

	token, err := WithRetry(ctx, p.o.tokens, logger, func(ctx context.Context) (string, error) {
		out.Emitted = 0

		return p.o.paginator.Fetch(ctx, scope, resume, func(item ScopedItem) error {
			return p.handleItem(ctx, item, &out)
		})
	})
	if err != nil {
		return out, err
	}

	if err := p.o.store.Put(ctx, key, token); err != nil {
		return out, fmt.Errorf("sync: writing checkpoint: %w", err)
	}

	out.Token = token

	logger.Info("scope synced",
		slog.Int("emitted", out.Emitted),
		slog.Int("seeded", out.Seeded),
	)

	return out, nil
}

// handleItem emits one entry, its attachments, and seeds its child scope.
// Sink and store failures are permanent: a new token will not fix them.
func (p *pass) handleItem(ctx context.Context, item ScopedItem, out *KeyOutcome) error {
	rec := sink.Record{
		Kind:       item.Kind(),
		ID:         item.ID,
		ScopeKey:   item.Scope.Key(),
		RunID:      p.runID,
		Attributes: item.Attributes(),
		Payload:    item.Raw,
	}

	if err := p.o.sink.Emit(ctx, rec); err != nil {
		return Permanent(err)
	}

	out.Emitted++

	if item.Kind() == sink.KindMessage && item.HasAttachments && !item.Removed && p.o.attachments != nil {
		n, err := p.emitAttachments(ctx, item)
		out.Emitted += n

		if err != nil {
			return err
		}
	}

	child, ok, err := item.ChildScope()
	if err != nil {
		p.o.logger.Warn("not seeding child scope",
			slog.String("scope", item.Scope.Key()),
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if !ok {
		return nil
	}

	seeded, err := p.seed(ctx, child.Key())
	if err != nil {
		return Permanent(err)
	}

	if seeded {
		out.Seeded++
	}

	return nil
}

func (p *pass) emitAttachments(ctx context.Context, msg ScopedItem) (int, error) {
	items, err := p.o.attachments.ListAttachments(ctx, msg.Scope.UserID, msg.ID)
	if err != nil {
		return 0, fmt.Errorf("sync: listing attachments of message %s: %w", msg.ID, err)
	}

	for i, att := range items {
		rec := sink.Record{
			Kind:     sink.KindAttachment,
			ID:       att.ID,
			ScopeKey: msg.Scope.Key(),
			RunID:    p.runID,
			Attributes: map[string]string{
				sink.AttrUserID:    msg.Scope.UserID,
				sink.AttrFolderID:  msg.Scope.FolderID,
				sink.AttrMessageID: msg.ID,
			},
			Payload: att.Raw,
		}

		if err := p.o.sink.Emit(ctx, rec); err != nil {
			return i, Permanent(err)
		}
	}

	return len(items), nil
}

// seed writes an empty checkpoint for key unless the key already existed
// at pass start or was seeded earlier in this pass. An existing token is
// never reset.
func (p *pass) seed(ctx context.Context, key string) (bool, error) {
	if _, ok := p.known[key]; ok {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seeded[key]; ok {
		return false, nil
	}

	if err := p.o.store.Put(ctx, key, ""); err != nil {
		return false, fmt.Errorf("sync: seeding %s: %w", key, err)
	}

	p.seeded[key] = struct{}{}

	p.o.logger.Debug("seeded child scope", slog.String("key", key))

	return true, nil
}

// finish logs a failed key and reports it on the failure channel. Failures
// caused by shutdown are logged only.
func (p *pass) finish(ctx context.Context, out *KeyOutcome) {
	if out.Err == nil {
		return
	}

	p.o.logger.Error("scope sync failed",
		slog.String("scope", out.Key),
		slog.String("run_id", p.runID),
		slog.String("error", out.Err.Error()),
	)

	if ctx.Err() != nil {
		return
	}

	f := sink.Failure{
		ScopeKey: out.Key,
		Error:    out.Err.Error(),
		Trace:    out.Trace,
		RunID:    p.runID,
		At:       p.o.nowFunc().UTC(),
	}

	if err := p.o.sink.Fail(ctx, f); err != nil {
		p.o.logger.Error("reporting failure",
			slog.String("scope", out.Key),
			slog.String("error", err.Error()),
		)
	}
}

// IsAuthFailure reports whether a key failed on credentials even after the
// retry, which usually means the app registration itself is broken.
func IsAuthFailure(out KeyOutcome) bool {
	return out.Err != nil && graph.IsAuthError(out.Err)
}
