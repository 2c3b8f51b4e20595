package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, DBFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	invalidPath := filepath.Join(t.TempDir(), "missing", "dir")

	_, err := New(invalidPath)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutAndGetVersion(t *testing.T) {
	store := newTestStore(t)

	rec := VersionRecord{
		Version:   "fd001-v1",
		Path:      "models/fd001_lstm_v1",
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Metrics:   EvalMetrics{MAE: 12.5, RMSE: 16.1, NASAScore: 410.2, Units: 100},
	}
	if err := store.PutVersion(rec); err != nil {
		t.Fatalf("Failed to store version: %v", err)
	}

	got, err := store.GetVersion("fd001-v1")
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if got.Path != rec.Path || got.Metrics.RMSE != 16.1 || got.Metrics.Units != 100 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestPutVersion_RequiresVersion(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutVersion(VersionRecord{Path: "x"}); err == nil {
		t.Error("Expected error for empty version")
	}
}

func TestGetVersion_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetVersion("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListVersions_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []string{"a", "b", "c"} {
		err := store.PutVersion(VersionRecord{Version: v, Path: v, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatalf("Failed to store version %s: %v", v, err)
		}
	}

	list, err := store.ListVersions()
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 versions, got %d", len(list))
	}
	for i, want := range []string{"c", "b", "a"} {
		if list[i].Version != want {
			t.Errorf("list[%d] = %s, want %s", i, list[i].Version, want)
		}
	}
}

func TestListVersions_Empty(t *testing.T) {
	store := newTestStore(t)

	list, err := store.ListVersions()
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no versions, got %d", len(list))
	}
}

func TestSetActive(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	for _, v := range []string{"v1", "v2"} {
		if err := store.PutVersion(VersionRecord{Version: v, Path: "/models/" + v, CreatedAt: now}); err != nil {
			t.Fatalf("Failed to store version: %v", err)
		}
	}

	if _, ok, err := store.ActiveVersion(); err != nil || ok {
		t.Fatalf("Expected no active version, got ok=%v err=%v", ok, err)
	}

	if err := store.SetActive("v1"); err != nil {
		t.Fatalf("Failed to activate v1: %v", err)
	}
	if err := store.SetActive("v2"); err != nil {
		t.Fatalf("Failed to activate v2: %v", err)
	}

	active, ok, err := store.ActiveVersion()
	if err != nil || !ok {
		t.Fatalf("Expected active version, got ok=%v err=%v", ok, err)
	}
	if active.Version != "v2" || !active.IsActive {
		t.Errorf("Unexpected active record: %+v", active)
	}

	v1, err := store.GetVersion("v1")
	if err != nil {
		t.Fatalf("Failed to get v1: %v", err)
	}
	if v1.IsActive {
		t.Error("v1 should no longer be active")
	}
}

func TestSetActive_Unknown(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetActive("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, ok, _ := store.ActiveVersion(); ok {
		t.Error("Failed activation must not set an active version")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.PutVersion(VersionRecord{Version: "v1", Path: "p", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Failed to store version: %v", err)
	}
	if err := store.SetActive("v1"); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	store.Close()

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	active, ok, err := reopened.ActiveVersion()
	if err != nil || !ok || active.Version != "v1" {
		t.Errorf("Expected v1 active after reopen, got %+v ok=%v err=%v", active, ok, err)
	}
}
