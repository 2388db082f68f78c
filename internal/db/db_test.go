package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) Clock {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Initialize(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, ".rally", "rally.db")); os.IsNotExist(err) {
		t.Error("database file not created")
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestOpen_RequiresInitialize(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Fatal("Open on empty dir should fail")
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	team := &models.Team{ID: "t1", Name: "Falcons"}
	if _, err := db.Upsert(ctx, events.CollectionTeams, team); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var got models.Team
	if err := db.Load(ctx, events.CollectionTeams, "t1", &got); err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.Name != "Falcons" {
		t.Errorf("name = %q, want Falcons", got.Name)
	}
}

func TestOpen_NewerSchemaIsFatal(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := db.setSchemaVersionInternal(SchemaVersion + 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	db.Close()

	_, err = Open(dir)
	if !errors.Is(err, ErrIncompatibleSchema) {
		t.Fatalf("Open error = %v, want ErrIncompatibleSchema", err)
	}
}

func TestMigrations_SkipExistingColumn(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	// Pretend the database predates the attempts column.
	if err := db.setSchemaVersionInternal(1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	version, _ := db.GetSchemaVersion()
	if version != SchemaVersion {
		t.Errorf("version after migrate = %d, want %d", version, SchemaVersion)
	}
	ok, err := db.columnExists("outbox", "attempts")
	if err != nil || !ok {
		t.Errorf("outbox.attempts missing: ok=%v err=%v", ok, err)
	}
}
