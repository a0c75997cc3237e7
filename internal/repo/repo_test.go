package repo

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/store"
)

// newTestRepos opens a fresh store in a temp directory and wires the
// repositories over it.
func newTestRepos(t testing.TB) *Repos {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "glide.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return New(db, zerolog.Nop())
}
