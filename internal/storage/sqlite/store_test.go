package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
)

func setupTestSQLiteStore(t *testing.T) (*Store, func()) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	return store, func() { store.Close() }
}

func TestSetAndGet(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	habits := []models.Habit{
		{ID: "h1", Title: "Read", Frequency: models.FrequencyDaily, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "h2", Title: "Walk", Frequency: models.FrequencyWeekly, Reminders: []string{"07:00"}},
	}
	if err := store.Set(ctx, "habits", habits); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var got []models.Habit
	found, err := store.Get(ctx, "habits", &got)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if len(got) != 2 || got[0].ID != "h1" || got[1].Reminders[0] != "07:00" {
		t.Errorf("Get() = %+v", got)
	}
	if !got[0].CreatedAt.Equal(habits[0].CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, habits[0].CreatedAt)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()

	var tier string
	found, err := store.Get(context.Background(), "cachedTier", &tier)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("Get() found = true for missing key")
	}
}

func TestSetOverwrites(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, "cachedTier", "free"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set(ctx, "cachedTier", "premium"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var tier string
	if _, err := store.Get(ctx, "cachedTier", &tier); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if tier != "premium" {
		t.Errorf("cachedTier = %q, want %q", tier, "premium")
	}
}

func TestRemoveAndKeys(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, key := range []string{"reminderMeta:b", "reminderMeta:a", "habits"} {
		if err := store.Set(ctx, key, map[string]string{"k": key}); err != nil {
			t.Fatalf("Set(%q) failed: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "reminderMeta:")
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "reminderMeta:a" || keys[1] != "reminderMeta:b" {
		t.Errorf("Keys() = %v", keys)
	}

	if err := store.Remove(ctx, "reminderMeta:a"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	// Removing a missing key is not an error
	if err := store.Remove(ctx, "reminderMeta:zzz"); err != nil {
		t.Fatalf("Remove() of missing key failed: %v", err)
	}

	all, err := store.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Keys(\"\") = %v, want 2 keys", all)
	}
}

func TestDecodeErrorIsLocal(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, "habits", "not a list"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	var habits []models.Habit
	_, err := store.Get(ctx, "habits", &habits)
	if err == nil {
		t.Fatal("Get() should fail to decode a string into a list")
	}
	if !storage.IsLocal(err) {
		t.Errorf("Get() error = %v, want a local store error", err)
	}
}

func TestEncodeErrorIsLocal(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()

	err := store.Set(context.Background(), "bad", make(chan int))
	if !storage.IsLocal(err) {
		t.Errorf("Set() error = %v, want a local store error", err)
	}
}

func TestLoadUninitialized(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.db"))
	err := store.Load(context.Background())
	if !errors.Is(err, storage.ErrNotInitialized) {
		t.Errorf("Load() error = %v, want ErrNotInitialized", err)
	}

	if _, err := store.Get(context.Background(), "habits", &[]models.Habit{}); !errors.Is(err, storage.ErrNotInitialized) {
		t.Errorf("Get() before Load error = %v, want ErrNotInitialized", err)
	}
}

func TestLoadAfterInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "streakly.db")
	ctx := context.Background()

	store := NewStore(path)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := store.Set(ctx, "themePreference", "dark"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	reopened := NewStore(path)
	if err := reopened.Load(ctx); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	defer reopened.Close()

	var theme string
	found, err := reopened.Get(ctx, "themePreference", &theme)
	if err != nil || !found || theme != "dark" {
		t.Errorf("Get() = %q, %v, %v; want dark, true, nil", theme, found, err)
	}
	if reopened.GetConfigPath() != path {
		t.Errorf("GetConfigPath() = %q, want %q", reopened.GetConfigPath(), path)
	}
}

func TestSchemaVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(filepath.Join(t.TempDir(), "streakly.db"))
	if _, _, err := store.SchemaVersion(ctx); !errors.Is(err, storage.ErrNotInitialized) {
		t.Errorf("SchemaVersion() before Init error = %v, want ErrNotInitialized", err)
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer store.Close()

	current, latest, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if current != latest || latest == 0 {
		t.Errorf("SchemaVersion() = %d, %d; want equal and non-zero", current, latest)
	}
}
