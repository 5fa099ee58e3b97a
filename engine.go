package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
	"github.com/tonimelisma/o365-sync/internal/config"
	"github.com/tonimelisma/o365-sync/internal/graph"
	"github.com/tonimelisma/o365-sync/internal/sink"
	"github.com/tonimelisma/o365-sync/internal/sync"
)

const (
	stdStream       = "-"
	outputFilePerms = 0o600
	stateDirPerms   = 0o700
	keepAlive       = 30 * time.Second
)

// engine bundles the collaborators one sync or watch run needs.
type engine struct {
	tokens *graph.TokenProvider
	client *graph.Client
	store  checkpoint.Store
	sink   sink.Sink
	orch   *sync.Orchestrator

	closeStore func() error
}

// newHTTPClient builds a client whose dial and header timeouts come from
// [network]. There is no overall timeout: a delta page can be large.
func newHTTPClient(n config.NetworkConfig) *http.Client {
	connect, data := n.Timeouts()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: keepAlive}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = data

	return &http.Client{Transport: transport}
}

// newTokenProvider resolves credentials and builds the provider.
func newTokenProvider(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*graph.TokenProvider, error) {
	creds, err := config.Credentials(cfg.Auth)
	if err != nil {
		return nil, err
	}

	return graph.NewTokenProvider(creds, httpClient, logger), nil
}

// openStore opens the checkpoint store selected by [store]. The returned
// close function is never nil.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (checkpoint.Store, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), stateDirPerms); err != nil {
			return nil, nil, fmt.Errorf("creating state directory: %w", err)
		}

		s, err := checkpoint.OpenSQLite(ctx, cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}

		return s, s.Close, nil
	case "postgres":
		s, err := checkpoint.OpenPostgres(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}

		return s, s.Close, nil
	case "memory":
		logger.Warn("using the in-memory checkpoint store; progress is lost on exit")

		return checkpoint.NewMemoryStore(nil), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// keepOpen hides Close so the sink never closes stdout or stderr.
type keepOpen struct{ io.Writer }

// openOutput returns def for "-" and otherwise opens path for appending.
func openOutput(path string, def io.Writer) (io.Writer, error) {
	if path == stdStream {
		return keepOpen{def}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, outputFilePerms)
	if err != nil {
		return nil, fmt.Errorf("opening sink output: %w", err)
	}

	return f, nil
}

// openSink builds the sink selected by [sink]. stdout and stderr back the
// "-" outputs of the jsonl sink.
func openSink(cfg config.SinkConfig, stdout, stderr io.Writer, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Type {
	case "nats":
		return sink.ConnectNATS(sink.NATSConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.SubjectPrefix,
			Stream:        cfg.Stream,
			Timeout:       cfg.Timeout(),
		}, logger)
	case "jsonl":
		records, err := openOutput(cfg.Output, stdout)
		if err != nil {
			return nil, err
		}

		failures, err := openOutput(cfg.FailureOutput, stderr)
		if err != nil {
			if c, ok := records.(io.Closer); ok {
				c.Close()
			}

			return nil, err
		}

		return sink.NewJSONLSink(records, failures), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

// newEngine wires the token provider, Graph client, store, sink, and
// orchestrator from cfg. Close releases the store and sink.
func newEngine(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, logger *slog.Logger) (*engine, error) {
	httpClient := newHTTPClient(cfg.Network)

	tokens, err := newTokenProvider(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	client := graph.NewClient(cfg.Graph.BaseURL, httpClient, tokens, logger, cfg.Network.UserAgent)

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	out, err := openSink(cfg.Sink, stdout, stderr, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	var attachments sync.AttachmentLister
	if cfg.Graph.Attachments {
		attachments = client
	}

	orch := sync.NewOrchestrator(sync.OrchestratorConfig{
		Fetcher:     client,
		Attachments: attachments,
		Fields: sync.Fields{
			Users:    cfg.Graph.UserFields,
			Folders:  cfg.Graph.FolderFields,
			Messages: cfg.Graph.MessageFields,
			PageSize: cfg.Graph.PageSize,
		},
		Store:       store,
		Sink:        out,
		Tokens:      tokens,
		Concurrency: cfg.Sync.Concurrency,
		Logger:      logger,
	})

	return &engine{
		tokens:     tokens,
		client:     client,
		store:      store,
		sink:       out,
		orch:       orch,
		closeStore: closeStore,
	}, nil
}

// Close flushes the sink and closes the store.
func (e *engine) Close() error {
	return errors.Join(e.sink.Close(), e.closeStore())
}
