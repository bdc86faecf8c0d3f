// Package sqlitestore is a docstore.Store backed by a single SQLite database
// (modernc.org/sqlite, no cgo). Each document is one row holding its fields as
// JSON; every ledger transaction is one IMMEDIATE SQL transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path           TEXT PRIMARY KEY,
	parent         TEXT NOT NULL,
	fields         TEXT NOT NULL,
	updated_millis INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent);
`

// Store implements docstore.Store.
type Store struct {
	db          *sql.DB
	path        string
	retry       docstore.RetryPolicy
	busyTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for retry and schema messages.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetryPolicy overrides docstore.DefaultRetryPolicy.
func WithRetryPolicy(p docstore.RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// WithBusyTimeout sets how long SQLite waits for another writer before a
// transaction attempt fails as busy.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// Open opens (and if necessary creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, retry: docstore.DefaultRetryPolicy, busyTimeout: 5 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes transactions inside this process; the
	// IMMEDIATE lock serializes them against other processes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	s.db = db
	s.logger.Debug("sqlite document store opened", zap.String("path", path))
	return s, nil
}

// RunTransaction implements docstore.Store.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return s.retry.Retry(ctx, func() error {
		err := s.attempt(ctx, fn)
		if isBusy(err) {
			s.logger.Debug("sqlite busy, retrying transaction", zap.Error(err))
			return fmt.Errorf("%w: %w", docstore.ErrConflict, err)
		}
		return err
	})
}

func (s *Store) attempt(ctx context.Context, fn docstore.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return err
		}
		return fmt.Errorf("%w: begin: %w", docstore.ErrStoreUnavailable, err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := docstore.NewBufferedTx(func(ctx context.Context, p docstore.Path) (docstore.Fields, bool, error) {
		return load(ctx, sqlTx, p)
	})
	if err := fn(ctx, tx); err != nil {
		tx.Finish()
		return err
	}

	now := time.Now().UnixMilli()
	for _, w := range tx.Finish() {
		data, err := json.Marshal(w.Fields)
		if err != nil {
			return fmt.Errorf("marshalling %s: %w", w.Path, err)
		}
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO documents (path, parent, fields, updated_millis) VALUES (?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET fields = excluded.fields, updated_millis = excluded.updated_millis`,
			w.Path.String(), w.Path.Parent(), string(data), now)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("%w: writing %s: %w", docstore.ErrStoreUnavailable, w.Path, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusy(err) {
			return err
		}
		return fmt.Errorf("%w: commit: %w", docstore.ErrStoreUnavailable, err)
	}
	return nil
}

func load(ctx context.Context, tx *sql.Tx, p docstore.Path) (docstore.Fields, bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT fields FROM documents WHERE path = ?`, p.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var fields docstore.Fields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, false, fmt.Errorf("corrupt document %s: %w", p, err)
	}
	return fields, true, nil
}

// List returns the ids of the documents directly inside collection, sorted.
func (s *Store) List(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE parent = ? ORDER BY path`, strings.Trim(collection, "/"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		ids = append(ids, path[strings.LastIndex(path, "/")+1:])
	}
	return ids, rows.Err()
}

// Close implements docstore.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// isBusy reports whether err means another connection holds the database.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// Extended result codes keep the primary code in the low byte.
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
