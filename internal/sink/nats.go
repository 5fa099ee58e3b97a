package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	headerKind     = "O365-Kind"
	headerScopeKey = "O365-Scope-Key"
	headerRunID    = "O365-Run-Id"

	streamDuplicates = 10 * time.Minute
	streamMaxAge     = 7 * 24 * time.Hour
)

// NATSConfig configures the JetStream sink.
type NATSConfig struct {
	URL           string
	SubjectPrefix string // records go to <prefix>.<kind>s, failures to <prefix>.failures
	Stream        string
	Timeout       time.Duration
}

// publisher is the subset of nats.JetStreamContext the sink uses.
type publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSSink publishes records to NATS JetStream. Attributes travel as
// message headers and the payload is the raw Graph entry.
type NATSSink struct {
	nc     *nats.Conn
	js     publisher
	prefix string
	logger *slog.Logger
}

// ConnectNATS connects, ensures the stream exists, and returns a sink.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{nats.Name("o365-sync")}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("sink: connecting to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("sink: getting JetStream context: %w", err)
	}

	if err := ensureStream(js, cfg.Stream, cfg.SubjectPrefix); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("connected to NATS",
		slog.String("url", nc.ConnectedUrlRedacted()),
		slog.String("stream", cfg.Stream),
		slog.String("subject_prefix", cfg.SubjectPrefix),
	)

	s := newNATSSink(js, cfg.SubjectPrefix, logger)
	s.nc = nc

	return s, nil
}

func newNATSSink(js publisher, prefix string, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &NATSSink{js: js, prefix: prefix, logger: logger}
}

// ensureStream creates the stream covering <prefix>.> unless it exists.
func ensureStream(js nats.JetStreamContext, name, prefix string) error {
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{prefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: streamDuplicates,
		MaxAge:     streamMaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("sink: creating stream %s: %w", name, err)
	}

	return nil
}

// Emit publishes the record. An attachment too large for the server's
// max payload is republished once without contentBytes, so one big file
// cannot stall its folder.
func (s *NATSSink) Emit(ctx context.Context, rec Record) error {
	err := s.publish(ctx, rec)
	if err == nil || rec.Kind != KindAttachment || !errors.Is(err, nats.ErrMaxPayload) {
		return err
	}

	stripped, ok := withoutContent(rec.Payload)
	if !ok {
		return err
	}

	s.logger.Warn("attachment exceeds NATS max payload, publishing without content",
		slog.String("attachment_id", rec.ID),
		slog.String("scope", rec.ScopeKey),
		slog.Int("bytes", len(rec.Payload)),
	)

	attrs := make(map[string]string, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		attrs[k] = v
	}

	attrs[AttrContentOmitted] = "true"
	rec.Attributes = attrs
	rec.Payload = stripped

	return s.publish(ctx, rec)
}

func (s *NATSSink) publish(ctx context.Context, rec Record) error {
	msg := nats.NewMsg(s.subject(string(rec.Kind) + "s"))
	msg.Data = rec.Payload
	msg.Header.Set(headerKind, string(rec.Kind))
	msg.Header.Set(headerScopeKey, rec.ScopeKey)

	if rec.RunID != "" {
		msg.Header.Set(headerRunID, rec.RunID)
	}

	for k, v := range rec.Attributes {
		msg.Header.Set(k, headerValue(v))
	}

	if _, err := s.js.PublishMsg(msg, nats.MsgId(messageID(rec)), nats.Context(ctx)); err != nil {
		return fmt.Errorf("sink: publishing %s %s: %w", rec.Kind, rec.ID, err)
	}

	return nil
}

// withoutContent drops contentBytes from a Graph attachment entry. It
// reports false when the payload is not an object or has no content.
func withoutContent(payload []byte) ([]byte, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, false
	}

	if _, ok := fields["contentBytes"]; !ok {
		return nil, false
	}

	delete(fields, "contentBytes")

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}

	return out, true
}

// Fail publishes the failure as JSON. The error message is also set as a
// header; the trace is body-only since headers cannot carry newlines.
func (s *NATSSink) Fail(ctx context.Context, f Failure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("sink: encoding failure: %w", err)
	}

	msg := nats.NewMsg(s.subject("failures"))
	msg.Data = body
	msg.Header.Set(headerScopeKey, f.ScopeKey)
	msg.Header.Set(AttrCacheKey, f.ScopeKey)
	msg.Header.Set(AttrError, headerValue(f.Error))

	if f.RunID != "" {
		msg.Header.Set(headerRunID, f.RunID)
	}

	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("sink: publishing failure for %s: %w", f.ScopeKey, err)
	}

	return nil
}

func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}

	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("sink: draining NATS connection: %w", err)
	}

	return nil
}

func (s *NATSSink) subject(suffix string) string {
	return s.prefix + "." + suffix
}

// messageID is the JetStream dedup id: the same item with the same content
// published twice inside the duplicate window is stored once.
func messageID(rec Record) string {
	h := fnv.New64a()
	_, _ = h.Write(rec.Payload)

	return fmt.Sprintf("%s|%s|%016x", rec.Kind, rec.ID, h.Sum64())
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
