// Package variable implements the variable database: a (scope, name) ->
// (value, backing node) map with ghost-on-miss semantics, generalizing an
// env + file config overlay into per-variant scopes that live inside the
// transactional store instead of the filesystem.
package variable

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/flags"
	"github.com/tupcore/tupcore/internal/link"
	"github.com/tupcore/tupcore/internal/store"
)

// globalScope is the fallback scope consulted when a variant scope lookup
// misses — the environment's own namespace (backed by entry.EnvDirID).
const globalScope = ""

// DB is a handle onto the variable table, layered over the entry cache and
// link engine so ghost creation and sticky-dependency recording stay
// consistent with the rest of the node graph.
type DB struct {
	sqlDB   *store.DB
	entries *entry.Table
	links   *link.Engine
	modify  *flags.Set
}

// New returns a variable DB bound to the given entry table, link engine,
// and modify flag set. modify must be a flags.Set created with
// flags.KindModify.
func New(sqlDB *store.DB, entries *entry.Table, links *link.Engine, modify *flags.Set) *DB {
	return &DB{sqlDB: sqlDB, entries: entries, links: links, modify: modify}
}

// Lookup resolves name in scope, falling back to the global scope on a
// miss. An undefined name ghost-creates a variable node and records a
// sticky edge from requester to it, so a later definition invalidates
// whatever consulted it.
func (d *DB) Lookup(ctx context.Context, tx *store.Tx, scope, name string, requester int64) (value string, backingID int64, err error) {
	value, backingID, found, err := d.lookupRow(ctx, tx, scope, name)
	if err != nil {
		return "", 0, err
	}
	if !found && scope != globalScope {
		value, backingID, found, err = d.lookupRow(ctx, tx, globalScope, name)
		if err != nil {
			return "", 0, err
		}
	}

	if !found {
		backingID, err = d.ghostCreate(ctx, tx, scope, name)
		if err != nil {
			return "", 0, err
		}
		value = ""
	}

	if requester != 0 {
		if err := d.links.CreateLink(ctx, tx, requester, backingID, link.StyleSticky); err != nil {
			return "", 0, fmt.Errorf("variable: sticky link %d->%d: %w", requester, backingID, err)
		}
	}
	return value, backingID, nil
}

func (d *DB) lookupRow(ctx context.Context, tx *store.Tx, scope, name string) (value string, backingID int64, found bool, err error) {
	row := tx.QueryRow(ctx, `SELECT value, backing_id FROM variables WHERE scope = ? AND name = ?`, scope, name)
	switch err := row.Scan(&value, &backingID); err {
	case nil:
		return value, backingID, true, nil
	case sql.ErrNoRows:
		return "", 0, false, nil
	default:
		return "", 0, false, fmt.Errorf("variable: lookup %s/%s: %w", scope, name, err)
	}
}

func (d *DB) ghostCreate(ctx context.Context, tx *store.Tx, scope, name string) (int64, error) {
	ghostName := scope + "\x00" + name
	e, err := d.entries.Insert(ctx, tx, entry.EnvDirID, ghostName, entry.TypeGhost, entry.UnknownMtime(), 0)
	if err != nil {
		return 0, fmt.Errorf("variable: ghost create %s/%s: %w", scope, name, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO variables (scope, name, value, backing_id) VALUES (?, ?, '', ?)`,
		scope, name, e.ID); err != nil {
		return 0, fmt.Errorf("variable: insert row %s/%s: %w", scope, name, err)
	}
	return e.ID, nil
}

// Set assigns value to (scope, name), creating the row if absent or
// promoting a ghost backing node to a real variable node, same id, if
// one exists. Promoting a ghost (or changing the value of an existing
// variable) flags every command holding a sticky edge to the backing
// node as modify, since a later definition invalidates whatever
// consulted the undefined name.
func (d *DB) Set(ctx context.Context, tx *store.Tx, scope, name, value string) (backingID int64, err error) {
	_, existingID, found, err := d.lookupRow(ctx, tx, scope, name)
	if err != nil {
		return 0, err
	}

	if !found {
		e, err := d.entries.Insert(ctx, tx, entry.EnvDirID, scope+"\x00"+name, entry.TypeVariable, entry.UnknownMtime(), 0)
		if err != nil {
			return 0, fmt.Errorf("variable: create %s/%s: %w", scope, name, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO variables (scope, name, value, backing_id) VALUES (?, ?, ?, ?)`,
			scope, name, value, e.ID); err != nil {
			return 0, fmt.Errorf("variable: insert row %s/%s: %w", scope, name, err)
		}
		return e.ID, nil
	}

	backing, err := d.entries.GetOrLoad(ctx, existingID)
	if err != nil {
		return 0, fmt.Errorf("variable: load backing %d: %w", existingID, err)
	}
	if backing.Type == entry.TypeGhost {
		if err := d.entries.Retype(ctx, tx, existingID, entry.TypeVariable); err != nil {
			return 0, fmt.Errorf("variable: promote ghost %d: %w", existingID, err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE variables SET value = ? WHERE scope = ? AND name = ?`, value, scope, name); err != nil {
		return 0, fmt.Errorf("variable: update %s/%s: %w", scope, name, err)
	}
	if err := d.flagStickyConsumers(ctx, tx, existingID); err != nil {
		return 0, err
	}
	return existingID, nil
}

// flagStickyConsumers flags every command with a sticky edge to backingID
// as modify. Sticky variable edges run from the requesting command to the
// backing node (the reverse of a normal input edge), so this is a
// dedicated query rather than flags.ModifyConsumersOf.
func (d *DB) flagStickyConsumers(ctx context.Context, tx *store.Tx, backingID int64) error {
	edges, err := d.links.Incoming(ctx, backingID)
	if err != nil {
		return fmt.Errorf("variable: sticky consumers of %d: %w", backingID, err)
	}
	for _, e := range edges {
		if e.Style != link.StyleSticky {
			continue
		}
		consumer, err := d.entries.GetOrLoad(ctx, e.From)
		if err != nil {
			return fmt.Errorf("variable: load consumer %d: %w", e.From, err)
		}
		if err := d.modify.MaybeAdd(ctx, tx, e.From, consumer.Type); err != nil {
			return fmt.Errorf("variable: flag consumer %d modify: %w", e.From, err)
		}
	}
	return nil
}

// EnvSnapshot records a sticky dependency from cmdID to each declared
// environment variable's backing node, ghost-creating any that are not
// yet defined. This models the parser's "environment variable snapshot"
// at the point a command first runs.
func (d *DB) EnvSnapshot(ctx context.Context, tx *store.Tx, cmdID int64, declared []string) error {
	for _, name := range declared {
		if _, _, err := d.Lookup(ctx, tx, globalScope, name, cmdID); err != nil {
			return fmt.Errorf("variable: env snapshot %s: %w", name, err)
		}
	}
	return nil
}
