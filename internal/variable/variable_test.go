package variable

import (
	"context"
	"testing"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/flags"
	"github.com/tupcore/tupcore/internal/link"
	"github.com/tupcore/tupcore/internal/store"
)

func newTestDB(t *testing.T) (*DB, *entry.Table, *link.Engine, *store.DB) {
	t.Helper()
	sqlDB, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	entries := entry.New(sqlDB)
	if err := entries.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	links := link.New(sqlDB)
	modify, err := flags.New(sqlDB, flags.KindModify)
	if err != nil {
		t.Fatalf("flags.New() error: %v", err)
	}
	return New(sqlDB, entries, links, modify), entries, links, sqlDB
}

func TestLookupGhostCreatesAndRecordsSticky(t *testing.T) {
	t.Parallel()
	vdb, entries, links, sqlDB := newTestDB(t)
	ctx := context.Background()

	var backingID int64
	var requester int64 = 4
	err := sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		e, err := entries.Insert(ctx, tx, entry.RootDirID, "cmd", entry.TypeCommand, entry.UnknownMtime(), 0)
		if err != nil {
			return err
		}
		requester = e.ID

		value, id, err := vdb.Lookup(ctx, tx, "", "CFLAGS", requester)
		if err != nil {
			return err
		}
		if value != "" {
			t.Errorf("Lookup() value = %q, want empty for ghost", value)
		}
		backingID = id
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}

	ghost, err := entries.GetOrLoad(ctx, backingID)
	if err != nil {
		t.Fatalf("GetOrLoad() error: %v", err)
	}
	if ghost.Type != entry.TypeGhost {
		t.Errorf("backing node type = %q, want ghost", ghost.Type)
	}

	exists, err := links.LinkExists(ctx, requester, backingID, link.StyleSticky)
	if err != nil {
		t.Fatalf("LinkExists() error: %v", err)
	}
	if !exists {
		t.Error("Lookup() should record a sticky edge from requester to the backing node")
	}
}

func TestLookupFallsBackToGlobalScope(t *testing.T) {
	t.Parallel()
	vdb, _, _, sqlDB := newTestDB(t)
	ctx := context.Background()

	err := sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := vdb.Set(ctx, tx, globalScope, "CC", "gcc"); err != nil {
			return err
		}
		value, _, err := vdb.Lookup(ctx, tx, "variant-debug", "CC", 0)
		if err != nil {
			return err
		}
		if value != "gcc" {
			t.Errorf("Lookup() fell back value = %q, want %q", value, "gcc")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}
}

func TestSetPromotesGhostToVariable(t *testing.T) {
	t.Parallel()
	vdb, entries, _, sqlDB := newTestDB(t)
	ctx := context.Background()

	var backingID int64
	err := sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		_, id, err := vdb.Lookup(ctx, tx, "", "LDFLAGS", 0)
		if err != nil {
			return err
		}
		backingID = id
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}

	ghost, err := entries.GetOrLoad(ctx, backingID)
	if err != nil {
		t.Fatalf("GetOrLoad() error: %v", err)
	}
	if ghost.Type != entry.TypeGhost {
		t.Fatalf("backing node type = %q, want ghost before Set", ghost.Type)
	}

	err = sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		id, err := vdb.Set(ctx, tx, "", "LDFLAGS", "-lm")
		if err != nil {
			return err
		}
		if id != backingID {
			t.Errorf("Set() id = %d, want same backing id %d", id, backingID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}

	promoted, err := entries.GetOrLoad(ctx, backingID)
	if err != nil {
		t.Fatalf("GetOrLoad() after Set error: %v", err)
	}
	if promoted.Type != entry.TypeVariable {
		t.Errorf("backing node type after Set = %q, want variable", promoted.Type)
	}

	err = sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		value, _, err := vdb.Lookup(ctx, tx, "", "LDFLAGS", 0)
		if err != nil {
			return err
		}
		if value != "-lm" {
			t.Errorf("Lookup() value after Set = %q, want %q", value, "-lm")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}
}

// TestSetFlagsStickyConsumersModify checks that a command reading an
// undefined variable (getting a ghost plus a sticky edge) lands in
// modify once that variable is later set.
func TestSetFlagsStickyConsumersModify(t *testing.T) {
	t.Parallel()
	vdb, entries, _, sqlDB := newTestDB(t)
	ctx := context.Background()

	modify, err := flags.New(sqlDB, flags.KindModify)
	if err != nil {
		t.Fatalf("flags.New() error: %v", err)
	}

	var cc int64
	err = sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		e, err := entries.Insert(ctx, tx, entry.RootDirID, "cc", entry.TypeCommand, entry.UnknownMtime(), 0)
		if err != nil {
			return err
		}
		cc = e.ID
		_, _, err = vdb.Lookup(ctx, tx, "", "CFLAGS", cc)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}

	if ok, err := modify.Contains(ctx, cc); err != nil || ok {
		t.Fatalf("cc should not be in modify before CFLAGS is set, Contains() = (%v, %v)", ok, err)
	}

	err = sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		_, err := vdb.Set(ctx, tx, "", "CFLAGS", "-O2")
		return err
	})
	if err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if ok, err := modify.Contains(ctx, cc); err != nil || !ok {
		t.Fatalf("cc should be in modify after CFLAGS is set, Contains() = (%v, %v)", ok, err)
	}
}

func TestEnvSnapshotRecordsStickyForEachDeclaredName(t *testing.T) {
	t.Parallel()
	vdb, entries, links, sqlDB := newTestDB(t)
	ctx := context.Background()

	var cmdID int64
	err := sqlDB.WithTx(ctx, func(tx *store.Tx) error {
		e, err := entries.Insert(ctx, tx, entry.RootDirID, "cmd2", entry.TypeCommand, entry.UnknownMtime(), 0)
		if err != nil {
			return err
		}
		cmdID = e.ID
		return vdb.EnvSnapshot(ctx, tx, cmdID, []string{"PATH", "HOME"})
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}

	for _, name := range []string{"PATH", "HOME"} {
		var backingID int64
		err := sqlDB.WithTx(ctx, func(tx *store.Tx) error {
			_, id, _, err := vdb.lookupRow(ctx, tx, globalScope, name)
			backingID = id
			return err
		})
		if err != nil {
			t.Fatalf("lookupRow(%s) error: %v", name, err)
		}
		exists, err := links.LinkExists(ctx, cmdID, backingID, link.StyleSticky)
		if err != nil {
			t.Fatalf("LinkExists() error: %v", err)
		}
		if !exists {
			t.Errorf("EnvSnapshot() missing sticky edge for %s", name)
		}
	}
}

func mustTx(t *testing.T, db *store.DB) *store.Tx {
	t.Helper()
	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}
