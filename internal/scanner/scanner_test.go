package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tupcore/tupcore/internal/store"
)

func TestScanOnceCreatesNodesForTreeContents(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.c"), []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir() error: %v", err)
	}

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer db.Close()

	effects, err := ScanOnce(context.Background(), db, root)
	if err != nil {
		t.Fatalf("ScanOnce() error: %v", err)
	}
	if len(effects.Created) != 2 {
		t.Fatalf("Created = %v, want 2 entries (a.c and sub)", effects.Created)
	}
}

func TestScanOnceSecondPassReportsNoChurnForUnchangedTree(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.c"), []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer db.Close()

	if _, err := ScanOnce(context.Background(), db, root); err != nil {
		t.Fatalf("ScanOnce() 1 error: %v", err)
	}
	effects, err := ScanOnce(context.Background(), db, root)
	if err != nil {
		t.Fatalf("ScanOnce() 2 error: %v", err)
	}
	if len(effects.Created) != 0 || len(effects.Modified) != 0 || len(effects.Deleted) != 0 {
		t.Errorf("second scan of an unchanged tree should be a no-op, got %+v", effects)
	}
}
