package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlListKeys    = `SELECT key FROM checkpoints`
	sqlListEntries = `SELECT key, token FROM checkpoints ORDER BY key`
	sqlGetToken    = `SELECT token FROM checkpoints WHERE key = ?` //nolint:gosec // G101: delta cursor, not a credential
	sqlDeleteKey   = `DELETE FROM checkpoints WHERE key = ?`

	sqlUpsertToken = `INSERT INTO checkpoints (key, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 token = excluded.token,
		 updated_at = excluded.updated_at`
)

// SQLiteStore keeps checkpoints in a local SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens the database at dbPath, creating it if needed, and
// applies pending migrations. WAL with synchronous=FULL keeps a token write
// durable once Put returns.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, goose.DialectSQLite3, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("checkpoint store opened", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies the embedded schema with the goose Provider API.
// SQLite and Postgres share one migration set, so the SQL stays portable.
func runMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("checkpoint: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, subFS)
	if err != nil {
		return fmt.Errorf("checkpoint: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("dialect", string(dialect)),
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlListKeys)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning key: %w", err)
		}

		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: iterating keys: %w", err)
	}

	return keys, nil
}

// List returns every entry ordered by key.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqlListEntries)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Token); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: iterating entries: %w", err)
	}

	return entries, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var token string

	err := s.db.QueryRowContext(ctx, sqlGetToken, key).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("checkpoint: getting %s: %w", key, err)
	}

	return token, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key, token string) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsertToken, key, token, s.nowFunc().Unix()); err != nil {
		return fmt.Errorf("checkpoint: putting %s: %w", key, err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteKey, key); err != nil {
		return fmt.Errorf("checkpoint: deleting %s: %w", key, err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
