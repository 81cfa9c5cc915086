package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tupcore/tupcore/internal/store"
)

// ErrNotFound is returned when a queried id is unknown to the table.
var ErrNotFound = errors.New("entry: not found")

// ErrNameTaken is returned when an insert or rename would violate the
// "(parent_id, name) is unique" invariant.
var ErrNameTaken = errors.New("entry: name already taken under parent")

// ErrInvariant is returned for attempted mutations that would break a
// structural invariant, such as reverting a generated_directory
// mid-commit.
var ErrInvariant = errors.New("entry: invariant violation")

// Table is the canonical in-memory entry cache: id -> *Entry, plus a
// parent -> (name -> id) index for O(1) sibling lookup. It is the
// authoritative view of every node within a transaction; on rollback it
// is reconciled back to a prior Snapshot.
type Table struct {
	db *store.DB

	mu       sync.RWMutex
	byID     map[int64]*Entry
	children map[int64]map[string]int64
	nextID   int64
}

// New creates an empty entry table over db. Call LoadAll to populate it
// from an existing store.
func New(db *store.DB) *Table {
	return &Table{
		db:       db,
		byID:     make(map[int64]*Entry),
		children: make(map[int64]map[string]int64),
		nextID:   firstAllocatedID,
	}
}

// LoadAll populates the cache from every row currently in the store. It is
// meant to be called once after Open, before any other component runs.
func (t *Table) LoadAll(ctx context.Context) error {
	rows, err := t.db.SQL().QueryContext(ctx, `
		SELECT id, parent_id, name, type, mtime_kind, mtime_sec, mtime_nsec, srcid, display, flags
		FROM nodes`)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	t.mu.Lock()
	defer t.mu.Unlock()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		t.indexLocked(e)
		if e.ID >= t.nextID {
			t.nextID = e.ID + 1
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(rows scanner) (*Entry, error) {
	var (
		e          Entry
		typ        string
		mtimeKind  int64
		mtimeSec   sql.NullInt64
		mtimeNsec  sql.NullInt64
	)
	if err := rows.Scan(&e.ID, &e.ParentID, &e.Name, &typ, &mtimeKind, &mtimeSec, &mtimeNsec, &e.Srcid, &e.Display, &e.Flags); err != nil {
		return nil, fmt.Errorf("scan node row: %w", err)
	}
	e.Type = Type(typ)
	e.Mtime = MtimeFromDB(mtimeKind, mtimeSec.Int64, mtimeNsec.Int64)
	return &e, nil
}

// indexLocked adds/overwrites e in both indices. Caller must hold t.mu.
func (t *Table) indexLocked(e *Entry) {
	t.byID[e.ID] = e
	m, ok := t.children[e.ParentID]
	if !ok {
		m = make(map[string]int64)
		t.children[e.ParentID] = m
	}
	m[e.Name] = e.ID
}

// unindexLocked removes e from both indices. Caller must hold t.mu.
func (t *Table) unindexLocked(e *Entry) {
	delete(t.byID, e.ID)
	if m, ok := t.children[e.ParentID]; ok {
		delete(m, e.Name)
		if len(m) == 0 {
			delete(t.children, e.ParentID)
		}
	}
}

// GetOrLoad returns the cached entry, loading it from the store on a cache
// miss. Fails with ErrNotFound if the id is unknown in both places.
func (t *Table) GetOrLoad(ctx context.Context, id int64) (*Entry, error) {
	t.mu.RLock()
	if e, ok := t.byID[id]; ok {
		t.mu.RUnlock()
		return e, nil
	}
	t.mu.RUnlock()

	row := t.db.SQL().QueryRowContext(ctx, `
		SELECT id, parent_id, name, type, mtime_kind, mtime_sec, mtime_nsec, srcid, display, flags
		FROM nodes WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.mu.Lock()
	t.indexLocked(e)
	t.mu.Unlock()
	return e, nil
}

// Lookup resolves (parent, name) to an entry using only the in-memory
// child index — O(1) expected, no store round trip.
func (t *Table) Lookup(parent int64, name string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.children[parent]
	if !ok {
		return nil, false
	}
	id, ok := m[name]
	if !ok {
		return nil, false
	}
	return t.byID[id], true
}

// Children returns every currently cached child of parent, in no
// particular order. Callers that need determinism should sort by ID.
func (t *Table) Children(parent int64) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.children[parent]
	if !ok {
		return nil
	}
	out := make([]*Entry, 0, len(m))
	for _, id := range m {
		out = append(out, t.byID[id])
	}
	return out
}

// Insert allocates a new id and writes the entry to both the store (within
// tx) and the cache.
func (t *Table) Insert(ctx context.Context, tx *store.Tx, parent int64, name string, typ Type, mtime Mtime, srcid int64) (*Entry, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: invalid type %q", ErrInvariant, typ)
	}

	t.mu.Lock()
	if m, ok := t.children[parent]; ok {
		if _, taken := m[name]; taken {
			t.mu.Unlock()
			return nil, ErrNameTaken
		}
	}
	id := t.nextID
	t.nextID++
	t.mu.Unlock()

	_, err := tx.Exec(ctx, `
		INSERT INTO nodes (id, parent_id, name, type, mtime_kind, mtime_sec, mtime_nsec, srcid, display, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '')`,
		id, parent, name, string(typ), mtime.DBKind(), nullableSec(mtime), nullableNsec(mtime), srcid)
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}

	e := &Entry{ID: id, ParentID: parent, Name: name, Type: typ, Mtime: mtime, Srcid: srcid}
	t.mu.Lock()
	t.indexLocked(e)
	t.mu.Unlock()
	return e, nil
}

// Rename moves id to a new (parent, name), rejecting the move if another
// node already occupies that (parent, name) pair: two nodes never share
// a name within the same parent.
func (t *Table) Rename(ctx context.Context, tx *store.Tx, id, newParent int64, newName string) error {
	t.mu.Lock()
	e, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if m, ok := t.children[newParent]; ok {
		if other, taken := m[newName]; taken && other != id {
			t.mu.Unlock()
			return ErrNameTaken
		}
	}
	t.mu.Unlock()

	if _, err := tx.Exec(ctx, `UPDATE nodes SET parent_id = ?, name = ? WHERE id = ?`, newParent, newName, id); err != nil {
		return fmt.Errorf("rename node %d: %w", id, err)
	}

	t.mu.Lock()
	t.unindexLocked(e)
	e.ParentID, e.Name = newParent, newName
	t.indexLocked(e)
	t.mu.Unlock()
	return nil
}

// Retype changes a node's type, rejecting any change from
// generated_directory to directory with ErrInvariant.
func (t *Table) Retype(ctx context.Context, tx *store.Tx, id int64, typ Type) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: invalid type %q", ErrInvariant, typ)
	}
	t.mu.Lock()
	e, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if e.Type == TypeGeneratedDirectory && typ == TypeDirectory {
		t.mu.Unlock()
		return fmt.Errorf("%w: generated_directory cannot revert to directory within a commit", ErrInvariant)
	}
	t.mu.Unlock()

	if _, err := tx.Exec(ctx, `UPDATE nodes SET type = ? WHERE id = ?`, string(typ), id); err != nil {
		return fmt.Errorf("retype node %d: %w", id, err)
	}

	t.mu.Lock()
	e.Type = typ
	t.mu.Unlock()
	return nil
}

// SetMtime updates a node's recorded modification time.
func (t *Table) SetMtime(ctx context.Context, tx *store.Tx, id int64, m Mtime) error {
	t.mu.Lock()
	e, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE nodes SET mtime_kind = ?, mtime_sec = ?, mtime_nsec = ? WHERE id = ?`,
		m.DBKind(), nullableSec(m), nullableNsec(m), id); err != nil {
		return fmt.Errorf("set mtime %d: %w", id, err)
	}
	t.mu.Lock()
	e.Mtime = m
	t.mu.Unlock()
	return nil
}

// SetDisplay updates a command node's human-readable label.
func (t *Table) SetDisplay(ctx context.Context, tx *store.Tx, id int64, display string) error {
	return t.setStringField(ctx, tx, id, "display", display, func(e *Entry) *string { return &e.Display })
}

// SetFlagsText updates a command node's short decorator string.
func (t *Table) SetFlagsText(ctx context.Context, tx *store.Tx, id int64, flags string) error {
	return t.setStringField(ctx, tx, id, "flags", flags, func(e *Entry) *string { return &e.Flags })
}

func (t *Table) setStringField(ctx context.Context, tx *store.Tx, id int64, column, value string, field func(*Entry) *string) error {
	t.mu.Lock()
	e, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE nodes SET `+column+` = ? WHERE id = ?`, value, id); err != nil {
		return fmt.Errorf("set %s on %d: %w", column, id, err)
	}
	t.mu.Lock()
	*field(e) = value
	t.mu.Unlock()
	return nil
}

// SetSrcid updates the node that produced this entry (generated files, and
// per-variant copies).
func (t *Table) SetSrcid(ctx context.Context, tx *store.Tx, id int64, srcid int64) error {
	t.mu.Lock()
	e, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE nodes SET srcid = ? WHERE id = ?`, srcid, id); err != nil {
		return fmt.Errorf("set srcid %d: %w", id, err)
	}
	t.mu.Lock()
	e.Srcid = srcid
	t.mu.Unlock()
	return nil
}

// Remove deletes id from both cache and store, cascading to incident links
// always, and to child entries only if force is set or the subtree is
// already empty.
func (t *Table) Remove(ctx context.Context, tx *store.Tx, id int64, force bool) error {
	t.mu.Lock()
	e, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	children := t.children[id]
	hasChildren := len(children) > 0
	t.mu.Unlock()

	if hasChildren && !force {
		return fmt.Errorf("%w: node %d has children, force not set", ErrInvariant, id)
	}

	if hasChildren && force {
		t.mu.RLock()
		childIDs := make([]int64, 0, len(children))
		for _, cid := range children {
			childIDs = append(childIDs, cid)
		}
		t.mu.RUnlock()
		for _, cid := range childIDs {
			if err := t.Remove(ctx, tx, cid, true); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete incident links for %d: %w", id, err)
	}
	for _, table := range []string{"flag_create", "flag_modify", "flag_config", "flag_variant", "flag_transient"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE node_id = ?`, id); err != nil {
			return fmt.Errorf("delete flag row for %d: %w", id, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}

	t.mu.Lock()
	t.unindexLocked(e)
	t.mu.Unlock()
	return nil
}

// Snapshot captures the cache state so a failed transaction can be undone
// in memory: on rollback the cache is reconciled with the store, entries
// created only in memory are dropped, and fields revert.
type Snapshot struct {
	byID map[int64]Entry
}

// Snapshot copies every cached entry's current field values.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[int64]Entry, len(t.byID))
	for id, e := range t.byID {
		cp[id] = *e
	}
	return Snapshot{byID: cp}
}

// Restore reverts the cache to a prior Snapshot: entries absent from the
// snapshot are dropped, entries present are restored field-by-field.
func (t *Table) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.byID {
		if _, ok := s.byID[id]; !ok {
			delete(t.byID, id)
		}
	}
	t.children = make(map[int64]map[string]int64)
	for id, snap := range s.byID {
		e := snap
		t.byID[id] = &e
		m, ok := t.children[e.ParentID]
		if !ok {
			m = make(map[string]int64)
			t.children[e.ParentID] = m
		}
		m[e.Name] = e.ID
	}
}

func nullableSec(m Mtime) any {
	if !m.IsKnown() {
		return nil
	}
	return m.Seconds()
}

func nullableNsec(m Mtime) any {
	if !m.IsKnown() {
		return nil
	}
	return m.Nanoseconds()
}
