// Package store implements the persistent, transactional backing for
// tupcore's node/link database. It is a thin wrapper over database/sql
// + modernc.org/sqlite: open with WAL mode and foreign keys on, embed
// the schema, expose a WithTx-style transaction helper.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps one sqlite connection pool and enforces tupcore's single-writer
// transaction discipline: at most one *Tx may be open at a time.
type DB struct {
	sqlDB    *sql.DB
	inMemory bool

	mu     sync.Mutex
	txOpen bool
}

// Option configures Open/OpenMemory.
type Option func(*openConfig)

type openConfig struct {
	noSync bool
}

// WithNoSync disables durability (PRAGMA synchronous=OFF) for speed.
func WithNoSync() Option {
	return func(c *openConfig) { c.noSync = true }
}

// Open opens or creates a sqlite-backed store at path, running any pending
// schema migrations. The parent directory is created if missing.
func Open(path string, opts ...Option) (*DB, error) {
	cfg := &openConfig{}
	for _, o := range opts {
		o(cfg)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	escaped := strings.ReplaceAll(path, " ", "%20")
	conn := "file:" + escaped + "?_time_format=sqlite"
	return open(conn, false, cfg)
}

// OpenMemory opens an in-memory store, for tests and for callers that want
// a disposable scratch database. sqlite's :memory: databases are
// connection-scoped, so the pool is pinned to a single connection.
func OpenMemory(opts ...Option) (*DB, error) {
	cfg := &openConfig{}
	for _, o := range opts {
		o(cfg)
	}
	return open(":memory:", true, cfg)
}

func open(conn string, inMemory bool, cfg *openConfig) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if inMemory {
		sqlDB.SetMaxOpenConns(1)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if cfg.noSync {
		if _, err := sqlDB.Exec("PRAGMA synchronous=OFF"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("disable synchronous: %w", err)
		}
	}

	if err := migrate(context.Background(), sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB: sqlDB, inMemory: inMemory}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}

// SQL returns the underlying *sql.DB for read-only queries outside of a
// transaction (lookups don't need the writer's exclusivity).
func (d *DB) SQL() *sql.DB { return d.sqlDB }

// Tx is a single writer transaction. Only one may be open on a DB at a
// time; Begin fails with ErrAlreadyOpen otherwise — no nested
// transactions.
type Tx struct {
	db      *DB
	sqlTx   *sql.Tx
	changes int
	closed  bool
}

// Begin opens the single permitted transaction on d.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	d.mu.Lock()
	if d.txOpen {
		d.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	d.txOpen = true
	d.mu.Unlock()

	sqlTx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		d.mu.Lock()
		d.txOpen = false
		d.mu.Unlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{db: d, sqlTx: sqlTx}, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := d.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *Tx) release() {
	t.db.mu.Lock()
	t.db.txOpen = false
	t.db.mu.Unlock()
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrNoTransaction
	}
	t.closed = true
	defer t.release()
	return t.sqlTx.Commit()
}

// Rollback aborts the transaction. Safe to call after Commit (no-op).
func (t *Tx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.release()
	return t.sqlTx.Rollback()
}

// Changes returns the count of rows mutated by Exec calls on this
// transaction since it began, for "no-op build" detection.
func (t *Tx) Changes() int { return t.changes }

// Exec runs a mutating statement and folds its RowsAffected into the
// transaction's change counter. All writes should go through Exec (rather
// than the raw *sql.Tx) so Changes() stays accurate.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.closed {
		return nil, ErrNoTransaction
	}
	res, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return res, err
	}
	if n, err := res.RowsAffected(); err == nil {
		t.changes += int(n)
	}
	return res, nil
}

// Query runs a read query within the transaction (consistent with writes
// made earlier in the same transaction).
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if t.closed {
		return nil, ErrNoTransaction
	}
	return t.sqlTx.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row read query within the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.sqlTx.QueryRowContext(ctx, query, args...)
}
