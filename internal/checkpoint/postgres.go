package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const (
	pgListKeys    = `SELECT key FROM checkpoints`
	pgListEntries = `SELECT key, token FROM checkpoints ORDER BY key`
	pgGetToken    = `SELECT token FROM checkpoints WHERE key = $1` //nolint:gosec // G101: delta cursor, not a credential
	pgDeleteKey   = `DELETE FROM checkpoints WHERE key = $1`

	pgUpsertToken = `INSERT INTO checkpoints (key, token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`
)

// PostgresStore keeps checkpoints in a shared PostgreSQL table, for
// deployments where several hosts run passes against one store.
type PostgresStore struct {
	db      *sqlx.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("checkpoint: postgres dsn is empty")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: connecting to postgres: %w", err)
	}

	if err := runMigrations(ctx, db.DB, goose.DialectPostgres, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("checkpoint store opened", slog.String("driver", "postgres"))

	return &PostgresStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

func (s *PostgresStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, pgListKeys); err != nil {
		return nil, fmt.Errorf("checkpoint: listing keys: %w", err)
	}

	return keys, nil
}

// List returns every entry ordered by key.
func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, pgListEntries); err != nil {
		return nil, fmt.Errorf("checkpoint: listing entries: %w", err)
	}

	return entries, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var token string

	err := s.db.GetContext(ctx, &token, pgGetToken, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("checkpoint: getting %s: %w", key, err)
	}

	return token, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, token string) error {
	if _, err := s.db.ExecContext(ctx, pgUpsertToken, key, token, s.nowFunc().Unix()); err != nil {
		return fmt.Errorf("checkpoint: putting %s: %w", key, err)
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, pgDeleteKey, key); err != nil {
		return fmt.Errorf("checkpoint: deleting %s: %w", key, err)
	}

	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
