package entry

import (
	"context"
	"testing"

	"github.com/tupcore/tupcore/internal/store"
)

func newTestTable(t *testing.T) (*Table, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tbl := New(db)
	if err := tbl.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	return tbl, db
}

func TestInsertAndLookup(t *testing.T) {
	t.Parallel()
	tbl, db := newTestTable(t)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	e, err := tbl.Insert(ctx, tx, RootDirID, "foo.c", TypeFile, UnknownMtime(), 0)
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	if e.ID < firstAllocatedID {
		t.Errorf("Insert() id = %d, want >= %d", e.ID, firstAllocatedID)
	}

	got, ok := tbl.Lookup(RootDirID, "foo.c")
	if !ok {
		t.Fatal("Lookup() did not find inserted entry")
	}
	if got.ID != e.ID {
		t.Errorf("Lookup() id = %d, want %d", got.ID, e.ID)
	}
}

func TestInsertDuplicateNameTaken(t *testing.T) {
	t.Parallel()
	tbl, db := newTestTable(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tbl.Insert(ctx, tx, RootDirID, "dup.c", TypeFile, UnknownMtime(), 0); err != nil {
			return err
		}
		_, err := tbl.Insert(ctx, tx, RootDirID, "dup.c", TypeFile, UnknownMtime(), 0)
		return err
	})
	if err != ErrNameTaken {
		t.Fatalf("second Insert() error = %v, want %v", err, ErrNameTaken)
	}
}

func TestRetypeGeneratedDirectoryIsOneWay(t *testing.T) {
	t.Parallel()
	tbl, db := newTestTable(t)
	ctx := context.Background()

	var id int64
	err := db.WithTx(ctx, func(tx *store.Tx) error {
		e, err := tbl.Insert(ctx, tx, RootDirID, "gen", TypeGeneratedDirectory, UnknownMtime(), 0)
		if err != nil {
			return err
		}
		id = e.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup Insert() error: %v", err)
	}

	err = db.WithTx(ctx, func(tx *store.Tx) error {
		return tbl.Retype(ctx, tx, id, TypeDirectory)
	})
	if err == nil {
		t.Fatal("Retype() to directory should fail for a generated_directory")
	}
}

func TestRemoveCascadesLinks(t *testing.T) {
	t.Parallel()
	tbl, db := newTestTable(t)
	ctx := context.Background()

	var id int64
	err := db.WithTx(ctx, func(tx *store.Tx) error {
		e, err := tbl.Insert(ctx, tx, RootDirID, "rm.c", TypeFile, UnknownMtime(), 0)
		if err != nil {
			return err
		}
		id = e.ID
		_, err = tx.Exec(ctx, `INSERT INTO links (from_id, to_id, style) VALUES (?, ?, ?)`, id, RootDirID, "normal")
		return err
	})
	if err != nil {
		t.Fatalf("setup error: %v", err)
	}

	err = db.WithTx(ctx, func(tx *store.Tx) error {
		return tbl.Remove(ctx, tx, id, false)
	})
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	if _, ok := tbl.Lookup(RootDirID, "rm.c"); ok {
		t.Error("removed entry still present in cache")
	}

	var linkCount int
	row := db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM links WHERE from_id = ?`, id)
	if err := row.Scan(&linkCount); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if linkCount != 0 {
		t.Errorf("links for removed node = %d, want 0", linkCount)
	}
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()
	tbl, db := newTestTable(t)
	ctx := context.Background()

	snap := tbl.Snapshot()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if _, err := tbl.Insert(ctx, tx, RootDirID, "temp.c", TypeFile, UnknownMtime(), 0); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	tx.Rollback()

	tbl.Restore(snap)

	if _, ok := tbl.Lookup(RootDirID, "temp.c"); ok {
		t.Error("Restore() should have dropped the rolled-back insert from the cache")
	}
}

func TestMtimeEqualAndBefore(t *testing.T) {
	t.Parallel()
	a := KnownMtime(10, 5)
	b := KnownMtime(10, 6)
	if !a.Before(b) {
		t.Error("a should be before b")
	}
	if a.Equal(b) {
		t.Error("a and b should not be equal")
	}
	if !UnknownMtime().Equal(UnknownMtime()) {
		t.Error("two UnknownMtime values should be equal")
	}
	if UnknownMtime().Before(a) {
		t.Error("UnknownMtime should never compare as Before")
	}
}
