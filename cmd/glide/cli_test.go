package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/store"
)

// runGlide executes the real command tree the way main does, minus the
// process exit. Commands that hit the network are not run here; everything
// local-only is fair game.
func runGlide(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("glide %s failed: %v", strings.Join(args, " "), err)
	}
}

// openTestRepos opens the database a command run left behind.
func openTestRepos(t *testing.T) *repo.Repos {
	t.Helper()
	db, err := store.Open(filepath.Join(os.Getenv("GLIDE_HOME"), "glide.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return repo.New(db, zerolog.Nop())
}

func TestCommandTree(t *testing.T) {
	want := []string{
		"login", "logout", "hydrate", "sync", "status", "daemon",
		"queue", "note", "folder", "action", "export", "import", "config",
	}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q is not registered", name)
		}
	}
}

func TestNoteAdd_WritesRowAndQueuesCreate(t *testing.T) {
	t.Setenv("GLIDE_HOME", t.TempDir())

	runGlide(t, "note", "add", "Groceries", "--transcript", "milk, eggs")

	repos := openTestRepos(t)
	ctx := context.Background()
	notes, err := repos.Notes.List(ctx, repo.ListNotesOptions{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Title != "Groceries" {
		t.Fatalf("notes = %d, want the created note", len(notes))
	}
	if notes[0].SyncStatus != model.SyncStatusPending {
		t.Errorf("sync status = %s, want pending", notes[0].SyncStatus)
	}

	entries, err := repos.Queue.EntriesFor(ctx, model.EntityNote, notes[0].ID)
	if err != nil {
		t.Fatalf("EntriesFor() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Op != model.OpCreate {
		t.Fatalf("queue = %+v, want one pending create", entries)
	}
}

func TestNoteRmAndRestore(t *testing.T) {
	t.Setenv("GLIDE_HOME", t.TempDir())

	runGlide(t, "note", "add", "Disposable")
	repos := openTestRepos(t)
	ctx := context.Background()
	notes, err := repos.Notes.List(ctx, repo.ListNotesOptions{})
	if err != nil || len(notes) != 1 {
		t.Fatalf("List() = %d notes (err %v), want 1", len(notes), err)
	}
	id := notes[0].ID

	runGlide(t, "note", "rm", id)
	gone, err := repos.Notes.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if !gone.IsDeleted {
		t.Fatal("note not soft-deleted")
	}

	runGlide(t, "note", "restore", id)
	back, err := repos.Notes.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if back.IsDeleted {
		t.Error("note still deleted after restore")
	}
}

func TestFolderAddSeedsStockSet(t *testing.T) {
	t.Setenv("GLIDE_HOME", t.TempDir())

	runGlide(t, "folder", "add", "Clients")

	repos := openTestRepos(t)
	folders, err := repos.Folders.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	names := map[string]bool{}
	for _, f := range folders {
		names[f.Name] = true
	}
	// stock set plus the new one
	for _, want := range []string{"All Notes", "Work", "Personal", "Ideas", "Clients"} {
		if !names[want] {
			t.Errorf("folder %q missing after add", want)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Setenv("GLIDE_HOME", t.TempDir())
	out := filepath.Join(t.TempDir(), "backup.jsonl")

	runGlide(t, "note", "add", "Carry me over", "--transcript", "survives the move")
	runGlide(t, "export", out)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("export wrote nothing: %v", err)
	}
	if !strings.Contains(string(data), "Carry me over") {
		t.Error("export stream is missing the note")
	}

	// restore into a fresh home
	t.Setenv("GLIDE_HOME", t.TempDir())
	runGlide(t, "import", out)

	repos := openTestRepos(t)
	notes, err := repos.Notes.Search(context.Background(), "carry", 10)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("restored %d matching notes, want 1", len(notes))
	}
	if notes[0].SyncStatus != model.SyncStatusPending {
		t.Errorf("restored note status = %s, want pending (next sync pushes it)", notes[0].SyncStatus)
	}
}

func TestConfigInit_WritesDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GLIDE_HOME", home)

	runGlide(t, "config", "init")

	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	for _, key := range []string{"api:", "base_url:", "sync:", "max_attempts:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("config file is missing %q", key)
		}
	}
}

func TestShortIDAndTruncate(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID() = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID() = %q", got)
	}
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("hello world", 6); got != "hello…" {
		t.Errorf("truncate() = %q", got)
	}
}
