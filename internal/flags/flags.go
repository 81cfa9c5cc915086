// Package flags implements the five named flag sets attached to nodes
// (create, modify, config, variant, transient), a closed string-backed
// enum per kind, one table each, in place of a bitmask.
package flags

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/link"
	"github.com/tupcore/tupcore/internal/reaper"
	"github.com/tupcore/tupcore/internal/store"
)

// Kind is the closed set of flag sets a node can belong to.
type Kind string

const (
	// KindCreate marks nodes inserted since the last flag sweep.
	KindCreate Kind = "create"
	// KindModify marks nodes whose type or mtime changed since the last sweep.
	KindModify Kind = "modify"
	// KindConfig marks nodes read as tup.config variables.
	KindConfig Kind = "config"
	// KindVariant marks nodes produced under a build variant.
	KindVariant Kind = "variant"
	// KindTransient marks nodes that exist only for the current command's run.
	KindTransient Kind = "transient"
)

// Valid reports whether k is one of the known flag kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindModify, KindConfig, KindVariant, KindTransient:
		return true
	}
	return false
}

// rejects reports whether typ is disallowed from entering a set of this
// kind. Create and Modify track observed structural change, so a ghost
// node — a placeholder with no corresponding on-disk or declared entity —
// cannot enter either: there is nothing real that was created or modified.
func (k Kind) rejects(typ entry.Type) bool {
	switch k {
	case KindCreate, KindModify:
		return typ == entry.TypeGhost
	default:
		return false
	}
}

func (k Kind) table() (string, error) {
	switch k {
	case KindCreate:
		return "flag_create", nil
	case KindModify:
		return "flag_modify", nil
	case KindConfig:
		return "flag_config", nil
	case KindVariant:
		return "flag_variant", nil
	case KindTransient:
		return "flag_transient", nil
	default:
		return "", fmt.Errorf("flags: invalid kind %q", k)
	}
}

// Set is a handle onto one node's membership in one flag kind's table. It
// holds no state of its own — every method round-trips to the store — so
// a Set value is cheap to construct and safe to share.
type Set struct {
	db         *store.DB
	kind       Kind
	candidates *reaper.Candidates
}

// New returns a Set bound to db for the given kind.
func New(db *store.DB, kind Kind) (*Set, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("flags: invalid kind %q", kind)
	}
	return &Set{db: db, kind: kind}, nil
}

// SetCandidates wires c so that every member removed from this set is
// marked as a reap candidate. Optional: a Set with no candidates set
// behaves as before, it just doesn't feed the ghost reaper.
func (s *Set) SetCandidates(c *reaper.Candidates) {
	s.candidates = c
}

// Add marks id as a member of the set, within tx. Adding an id already
// present is a no-op: flag sets are sets, not multisets.
func (s *Set) Add(ctx context.Context, tx *store.Tx, id int64) error {
	table, err := s.kind.table()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT OR IGNORE INTO `+table+` (node_id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("flags: add %d to %s: %w", id, s.kind, err)
	}
	return nil
}

// MaybeAdd adds id only if typ is an allowed type for this set's kind —
// e.g. a ghost node can never enter Modify — so callers can route every
// candidate through MaybeAdd without a type switch of their own.
func (s *Set) MaybeAdd(ctx context.Context, tx *store.Tx, id int64, typ entry.Type) error {
	if s.kind.rejects(typ) {
		return nil
	}
	return s.Add(ctx, tx, id)
}

// Remove clears id's membership, if present. Removing an absent id is a
// no-op. Removing id may have dropped a ghost's last reference, so it is
// marked as a reap candidate when candidates are wired.
func (s *Set) Remove(ctx context.Context, tx *store.Tx, id int64) error {
	table, err := s.kind.table()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("flags: remove %d from %s: %w", id, s.kind, err)
	}
	if s.candidates != nil {
		s.candidates.MarkCandidate(id)
	}
	return nil
}

// Contains reports whether id is currently a member of the set.
func (s *Set) Contains(ctx context.Context, id int64) (bool, error) {
	table, err := s.kind.table()
	if err != nil {
		return false, err
	}
	var exists int
	row := s.db.SQL().QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE node_id = ?`, id)
	switch err := row.Scan(&exists); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("flags: contains %d in %s: %w", id, s.kind, err)
	}
}

// Any reports whether the set has any members at all, for cheap
// no-op-sweep-pending checks.
func (s *Set) Any(ctx context.Context) (bool, error) {
	table, err := s.kind.table()
	if err != nil {
		return false, err
	}
	var exists int
	row := s.db.SQL().QueryRowContext(ctx, `SELECT 1 FROM `+table+` LIMIT 1`)
	switch err := row.Scan(&exists); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("flags: any in %s: %w", s.kind, err)
	}
}

// Clear removes every member from the set at once, used after a sweep has
// consumed them: flags are drained, not merely read, by the operation
// that acts on them. Every cleared id is marked as a reap candidate when
// candidates are wired.
func (s *Set) Clear(ctx context.Context, tx *store.Tx) error {
	table, err := s.kind.table()
	if err != nil {
		return err
	}
	var cleared []int64
	if s.candidates != nil {
		rows, err := tx.Query(ctx, `SELECT node_id FROM `+table)
		if err != nil {
			return fmt.Errorf("flags: list %s before clear: %w", s.kind, err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("flags: scan %s row before clear: %w", s.kind, err)
			}
			cleared = append(cleared, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("flags: list %s before clear: %w", s.kind, err)
		}
		rows.Close()
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("flags: clear %s: %w", s.kind, err)
	}
	for _, id := range cleared {
		s.candidates.MarkCandidate(id)
	}
	return nil
}

// ModifyConsumersOf flags every command with a normal input edge from id
// as modify, in one relational statement rather than a per-row loop:
// given a node, add to modify all commands whose inputs include it.
func ModifyConsumersOf(ctx context.Context, tx *store.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT OR IGNORE INTO flag_modify (node_id)
		SELECT to_id FROM links WHERE from_id = ? AND style = ?`,
		id, string(link.StyleNormal)); err != nil {
		return fmt.Errorf("flags: modify consumers of %d: %w", id, err)
	}
	return nil
}

// ModifyProducersOf flags every command that produces id as modify, in
// one relational statement: given a node, add to modify all commands
// whose outputs include it.
func ModifyProducersOf(ctx context.Context, tx *store.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT OR IGNORE INTO flag_modify (node_id)
		SELECT from_id FROM links WHERE to_id = ? AND style = ?`,
		id, string(link.StyleOutput)); err != nil {
		return fmt.Errorf("flags: modify producers of %d: %w", id, err)
	}
	return nil
}

// PropagateDirCreate flags every descendant directory of dirID as create,
// in one recursive relational statement, for use when a directory's
// structure changed and its descendants must be re-scanned.
func PropagateDirCreate(ctx context.Context, tx *store.Tx, dirID int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT OR IGNORE INTO flag_create (node_id)
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM nodes WHERE parent_id = ? AND type IN (?, ?)
			UNION ALL
			SELECT n.id FROM nodes n JOIN descendants d ON n.parent_id = d.id
			WHERE n.type IN (?, ?)
		)
		SELECT id FROM descendants`,
		dirID, string(entry.TypeDirectory), string(entry.TypeGeneratedDirectory),
		string(entry.TypeDirectory), string(entry.TypeGeneratedDirectory)); err != nil {
		return fmt.Errorf("flags: propagate dir create from %d: %w", dirID, err)
	}
	return nil
}

// Iterate lazily yields every member id in ascending order, using a
// Go 1.23 range-over-func sequence instead of callback-driven
// enumeration. The first error encountered is yielded as the second
// value, with a zero id, and ends iteration.
func (s *Set) Iterate(ctx context.Context) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		table, err := s.kind.table()
		if err != nil {
			yield(0, err)
			return
		}
		rows, err := s.db.SQL().QueryContext(ctx, `SELECT node_id FROM `+table+` ORDER BY node_id ASC`)
		if err != nil {
			yield(0, fmt.Errorf("flags: iterate %s: %w", s.kind, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				yield(0, fmt.Errorf("flags: scan %s row: %w", s.kind, err))
				return
			}
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(0, fmt.Errorf("flags: iterate %s: %w", s.kind, err))
		}
	}
}
