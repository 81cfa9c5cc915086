package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var baseSchema string

// migration is one forward-only, idempotent schema step. Steps never
// mutate earlier steps' tables destructively — only additive changes
// (new tables, new columns with defaults, backfills) belong here.
type migration struct {
	name string
	run  func(ctx context.Context, tx *sql.Tx) error
}

// migrations is the ordered list of all schema steps this binary knows.
// len(migrations) is the current schema version.
var migrations = []migration{
	{
		name: "001_base_schema",
		run: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, baseSchema); err != nil {
				return fmt.Errorf("apply base schema: %w", err)
			}
			return seedSentinelNodes(ctx, tx)
		},
	},
}

// seedSentinelNodes inserts the three sentinel directories (dot_dt, env_dt,
// exclusion_dt), if they are not already present. Their ids are fixed
// (1, 2, 3); the monotonic allocator in entry.Table starts at 4.
func seedSentinelNodes(ctx context.Context, tx *sql.Tx) error {
	sentinels := []struct {
		id   int64
		name string
	}{
		{1, "."},
		{2, "@env"},
		{3, "@exclusion"},
	}
	for _, s := range sentinels {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO nodes (id, parent_id, name, type, mtime_kind, srcid, display, flags)
			VALUES (?, 0, ?, 'directory', 0, 0, '', '')`, s.id, s.name)
		if err != nil {
			return fmt.Errorf("seed sentinel %d: %w", s.id, err)
		}
	}
	return nil
}

// migrate brings the database up to len(migrations), reading and rewriting
// the single schema_version row as it goes. It refuses to run backwards:
// a version newer than what this binary knows is ErrSchemaTooNew.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&current)
	if err == sql.ErrNoRows {
		current = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	target := int64(len(migrations))
	if current > target {
		return ErrSchemaTooNew
	}

	for i := current; i < target; i++ {
		step := migrations[i]
		if err := step.run(ctx, tx); err != nil {
			return fmt.Errorf("migration %s: %w", step.name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_version (id, version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version`, target); err != nil {
		return fmt.Errorf("write schema_version: %w", err)
	}

	return tx.Commit()
}
