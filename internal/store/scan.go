package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tupcore/tupcore/internal/entry"
)

// Scan brackets the ephemeral scan phase: between ScanBegin and
// (*Scan).End, newly seen files do not yet acquire modify flags. At End
// the store reconciles observed state against known state and applies
// create/modify/delete effects in one batch.
type Scan struct {
	tx *Tx

	observed map[scanKey]observedEntry
	deleted  []int64
}

type scanKey struct {
	parent int64
	name   string
}

type observedEntry struct {
	typ   entry.Type
	mtime entry.Mtime
}

// ScanEffects summarizes what (*Scan).End computed and applied.
type ScanEffects struct {
	Created  []int64
	Modified []int64
	Deleted  []int64
}

// ScanBegin opens the scan phase. It holds the store's single transaction
// for the duration of the scan; the caller must call End to release it.
func (d *DB) ScanBegin(ctx context.Context) (*Scan, error) {
	tx, err := d.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Scan{tx: tx, observed: make(map[scanKey]observedEntry)}, nil
}

// NoteExisting records that the scanner observed a path with the given
// parent/name/type/mtime. Effects are computed lazily at End.
func (s *Scan) NoteExisting(parent int64, name string, typ entry.Type, mtime entry.Mtime) error {
	if !typ.Valid() {
		return fmt.Errorf("scan: invalid node type %q", typ)
	}
	s.observed[scanKey{parent, name}] = observedEntry{typ: typ, mtime: mtime}
	return nil
}

// NoteDeleted records that the scanner found id missing from disk.
func (s *Scan) NoteDeleted(id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

// End reconciles everything noted since ScanBegin against the store,
// inserting new nodes (flagged create), updating changed mtimes (flagged
// modify), and removing deleted nodes, then commits.
func (s *Scan) End(ctx context.Context) (*ScanEffects, error) {
	effects := &ScanEffects{}

	for key, obs := range s.observed {
		var (
			id            int64
			existingType  string
			mtimeKindDB   int64
			mtimeSec      sql.NullInt64
			mtimeNsec     sql.NullInt64
		)
		row := s.tx.QueryRow(ctx, `
			SELECT id, type, mtime_kind, mtime_sec, mtime_nsec
			FROM nodes WHERE parent_id = ? AND name = ?`, key.parent, key.name)
		err := row.Scan(&id, &existingType, &mtimeKindDB, &mtimeSec, &mtimeNsec)
		switch {
		case err == sql.ErrNoRows:
			res, err := s.tx.Exec(ctx, `
				INSERT INTO nodes (parent_id, name, type, mtime_kind, mtime_sec, mtime_nsec, srcid, display, flags)
				VALUES (?, ?, ?, ?, ?, ?, 0, '', '')`,
				key.parent, key.name, string(obs.typ), obs.mtime.DBKind(), nullableSec(obs.mtime), nullableNsec(obs.mtime))
			if err != nil {
				return nil, fmt.Errorf("scan insert %d/%s: %w", key.parent, key.name, err)
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("scan insert id %d/%s: %w", key.parent, key.name, err)
			}
			if _, err := s.tx.Exec(ctx, `INSERT OR IGNORE INTO flag_create (node_id) VALUES (?)`, newID); err != nil {
				return nil, fmt.Errorf("flag create %d: %w", newID, err)
			}
			effects.Created = append(effects.Created, newID)
		case err != nil:
			return nil, fmt.Errorf("scan lookup %s: %w", key.name, err)
		default:
			existing := entry.MtimeFromDB(mtimeKindDB, mtimeSec.Int64, mtimeNsec.Int64)
			changed := existingType != string(obs.typ) || !existing.Equal(obs.mtime)
			if changed {
				if _, err := s.tx.Exec(ctx, `
					UPDATE nodes SET type = ?, mtime_kind = ?, mtime_sec = ?, mtime_nsec = ?
					WHERE id = ?`, string(obs.typ), obs.mtime.DBKind(), nullableSec(obs.mtime), nullableNsec(obs.mtime), id); err != nil {
					return nil, fmt.Errorf("scan update %d: %w", id, err)
				}
				if _, err := s.tx.Exec(ctx, `INSERT OR IGNORE INTO flag_modify (node_id) VALUES (?)`, id); err != nil {
					return nil, fmt.Errorf("flag modify %d: %w", id, err)
				}
				effects.Modified = append(effects.Modified, id)
			}
		}
	}

	for _, id := range s.deleted {
		if _, err := s.tx.Exec(ctx, `DELETE FROM links WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
			return nil, fmt.Errorf("scan delete links for %d: %w", id, err)
		}
		if _, err := s.tx.Exec(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("scan delete node %d: %w", id, err)
		}
		for _, table := range flagTables {
			if _, err := s.tx.Exec(ctx, `DELETE FROM `+table+` WHERE node_id = ?`, id); err != nil {
				return nil, fmt.Errorf("scan delete flag row %d: %w", id, err)
			}
		}
		effects.Deleted = append(effects.Deleted, id)
	}

	if err := s.tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit scan: %w", err)
	}
	return effects, nil
}

// flagTables lists every flag-set table, for cascading deletes on node
// removal without the ghost reaper's involvement.
var flagTables = []string{
	"flag_create", "flag_modify", "flag_config", "flag_variant", "flag_transient",
}

func nullableSec(m entry.Mtime) any {
	if !m.IsKnown() {
		return nil
	}
	return m.Seconds()
}

func nullableNsec(m entry.Mtime) any {
	if !m.IsKnown() {
		return nil
	}
	return m.Nanoseconds()
}
