package migration

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
)

func newTestRepo(t *testing.T) *db.Repository {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newFlatStore(t *testing.T, seed map[string]string) *FlatStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.json")
	flat, err := OpenFlatStore(path)
	if err != nil {
		t.Fatalf("OpenFlatStore() failed: %v", err)
	}
	for key, value := range seed {
		if err := flat.Set(key, json.RawMessage(value)); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}
	return flat
}

// TestImportRunsOnce verifies the import moves every key, marks itself
// done, and a second run is a no-op.
func TestImportRunsOnce(t *testing.T) {
	repo := newTestRepo(t)
	flat := newFlatStore(t, map[string]string{
		"user_profile":    `{"name":"tech one"}`,
		"draft_wo-1":      `{"entry":"42"}`,
		"last_sync_token": `"abc"`,
	})
	ctx := context.Background()

	imp := NewImporter(repo, flat)
	n, err := imp.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("imported = %d, want 3", n)
	}

	value, err := repo.GetKV(ctx, "user_profile")
	if err != nil {
		t.Fatalf("GetKV() after import failed: %v", err)
	}
	if string(value) != `{"name":"tech one"}` {
		t.Errorf("imported value = %s", value)
	}

	n, err = imp.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second run imported = %d, want 0", n)
	}
}

// TestImportSurvivesRestart verifies the done marker persists, so a new
// process does not re-import.
func TestImportSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	flat := newFlatStore(t, map[string]string{"k": `"v"`})

	open := func() (*db.Repository, func()) {
		database, err := db.Open(dataDir)
		if err != nil {
			t.Fatalf("db.Open() failed: %v", err)
		}
		migrator := db.NewMigrator(database.DB)
		if err := migrator.Initialize(); err != nil {
			t.Fatalf("Initialize() failed: %v", err)
		}
		if err := migrator.Up(); err != nil {
			t.Fatalf("Up() failed: %v", err)
		}
		repo := db.NewRepository(database.DB)
		return repo, func() {
			repo.Close()
			database.Close()
		}
	}

	repo, closeRepo := open()
	if n, err := NewImporter(repo, flat).Run(ctx); err != nil || n != 1 {
		t.Fatalf("first run = %d, %v, want 1 import", n, err)
	}
	closeRepo()

	repo2, closeRepo2 := open()
	defer closeRepo2()
	if n, err := NewImporter(repo2, flat).Run(ctx); err != nil || n != 0 {
		t.Errorf("run after restart = %d, %v, want 0 imports", n, err)
	}
}

// TestAdapterPrefersRecordStore verifies the record store wins when both
// hold a key.
func TestAdapterPrefersRecordStore(t *testing.T) {
	repo := newTestRepo(t)
	flat := newFlatStore(t, map[string]string{"k": `"legacy"`})
	ctx := context.Background()

	adapter := NewAdapter(repo, flat)
	if err := adapter.Set(ctx, "k", json.RawMessage(`"current"`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, err := adapter.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(value) != `"current"` {
		t.Errorf("value = %s, want the record store copy", value)
	}
}

// TestAdapterFallsBackOnStoreFailure verifies a broken record store
// still serves legacy values instead of failing reads.
func TestAdapterFallsBackOnStoreFailure(t *testing.T) {
	dataDir := t.TempDir()
	database, err := db.Open(dataDir)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	repo := db.NewRepository(database.DB)

	flat := newFlatStore(t, map[string]string{"k": `"legacy"`})
	adapter := NewAdapter(repo, flat)
	ctx := context.Background()

	// Closing the handle makes every record store call fail.
	repo.Close()
	database.Close()

	value, err := adapter.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() with broken store failed: %v", err)
	}
	if string(value) != `"legacy"` {
		t.Errorf("value = %s, want the legacy copy", value)
	}

	if _, err := adapter.Get(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	// Writes degrade to the legacy file rather than erroring.
	if err := adapter.Set(ctx, "k2", json.RawMessage(`"saved"`)); err != nil {
		t.Fatalf("Set() with broken store failed: %v", err)
	}
	if saved, ok := flat.Get("k2"); !ok || string(saved) != `"saved"` {
		t.Errorf("legacy fallback write missing: %s, %v", saved, ok)
	}
}

// TestFlatStorePersistence verifies the legacy file round-trips through
// a reopen.
func TestFlatStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	flat, err := OpenFlatStore(path)
	if err != nil {
		t.Fatalf("OpenFlatStore() failed: %v", err)
	}
	if err := flat.Set("a", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := flat.Delete("missing"); err != nil {
		t.Fatalf("Delete(missing) failed: %v", err)
	}

	reopened, err := OpenFlatStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != 1 {
		t.Errorf("len after reopen = %d, want 1", reopened.Len())
	}
	if value, ok := reopened.Get("a"); !ok || string(value) != `1` {
		t.Errorf("value after reopen = %s, %v", value, ok)
	}
}
