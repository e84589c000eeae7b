package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // driver

	"github.com/okian/trustgate/internal/domain/ratelimit"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_attempts (
	id    TEXT PRIMARY KEY,
	key   TEXT NOT NULL,
	at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_attempts_key_at ON rate_limit_attempts (key, at_ms);
`

// SQLiteStore keeps attempt logs in a SQLite table. Suitable for a single
// node; every process sharing the file sees the same counts.
type SQLiteStore struct {
	db *sql.DB
}

var _ ratelimit.Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers in-process and keeps :memory: alive.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps db and creates the schema if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Hit implements ratelimit.Store.
func (s *SQLiteStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	if key == "" {
		return ratelimit.Window{}, ErrInvalidKey
	}
	nowMs := now.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite hit %s: begin: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_attempts WHERE key = ? AND at_ms <= ?`, key, nowMs-window.Milliseconds()); err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite hit %s: expire: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_attempts (id, key, at_ms) VALUES (?, ?, ?)`, uuid.NewString(), key, nowMs); err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite hit %s: record: %w", key, err)
	}

	var count, oldest int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(at_ms) FROM rate_limit_attempts WHERE key = ?`, key).Scan(&count, &oldest); err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite hit %s: count: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite hit %s: commit: %w", key, err)
	}
	return ratelimit.Window{Count: count, Oldest: time.UnixMilli(oldest)}, nil
}

// Purge deletes every attempt older than maxWindow. Hit only trims the key it
// touches, so run this periodically to drop idle keys.
func (s *SQLiteStore) Purge(ctx context.Context, now time.Time, maxWindow time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_attempts WHERE at_ms <= ?`, now.Add(-maxWindow).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
