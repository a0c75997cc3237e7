package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// testDBPath returns a temporary database path that is cleaned up with the test.
func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// openTestStore opens a store with schema initialized.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func TestOpen(t *testing.T) {
	path := testDBPath(t)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %s, want %s", s.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory was not created: %v", err)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)

	// Second call must not fail.
	if err := s.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	// All five tables exist.
	for _, table := range []string{"notes", "folders", "actions", "sync_queue", "engine_state"} {
		var name string
		err := s.RawDB().QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
}

func TestWithTx_Commit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO engine_state (key, value, updated_at) VALUES ('a', '1', '2026-01-01T00:00:00Z')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	value, ok, err := s.StateGet(ctx, "a")
	if err != nil {
		t.Fatalf("StateGet() failed: %v", err)
	}
	if !ok || value != "1" {
		t.Errorf("StateGet() = (%q, %v), want (\"1\", true)", value, ok)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wantErr := fmt.Errorf("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO engine_state (key, value, updated_at) VALUES ('a', '1', '2026-01-01T00:00:00Z')`); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("WithTx() error = %v, want %v", err, wantErr)
	}

	_, ok, err := s.StateGet(ctx, "a")
	if err != nil {
		t.Fatalf("StateGet() failed: %v", err)
	}
	if ok {
		t.Error("write survived a rolled-back transaction")
	}
}

func TestStateSet_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.StateSet(ctx, "watermark_note", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("StateSet() failed: %v", err)
	}
	if err := s.StateSet(ctx, "watermark_note", "2026-02-01T00:00:00Z"); err != nil {
		t.Fatalf("second StateSet() failed: %v", err)
	}

	value, ok, err := s.StateGet(ctx, "watermark_note")
	if err != nil {
		t.Fatalf("StateGet() failed: %v", err)
	}
	if !ok {
		t.Fatal("StateGet() reported key missing after set")
	}
	if value != "2026-02-01T00:00:00Z" {
		t.Errorf("got %s, want 2026-02-01T00:00:00Z", value)
	}
}

func TestStateGet_Missing(t *testing.T) {
	s := openTestStore(t)

	value, ok, err := s.StateGet(context.Background(), "never_set")
	if err != nil {
		t.Fatalf("StateGet() failed: %v", err)
	}
	if ok || value != "" {
		t.Errorf("StateGet() = (%q, %v), want (\"\", false)", value, ok)
	}
}

func TestForeignKeys_Enforced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// An action pointing at a missing note must be rejected.
	_, err := s.RawDB().ExecContext(ctx, `
		INSERT INTO actions (id, note_id, action_type, title, created_at, updated_at)
		VALUES ('a-1', 'missing-note', 'reminder', 'call dentist',
			'2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	if err == nil {
		t.Error("insert with dangling note_id should have failed")
	}
}
