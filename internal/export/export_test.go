package export

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/store"
)

func newRepos(t *testing.T) *repo.Repos {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "glide.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return repo.New(db, zerolog.Nop())
}

// seedSource fills a store with a small tree: two folders (parent and child),
// a note inside the child, and a reminder on that note.
func seedSource(t *testing.T, repos *repo.Repos) (folder, child *model.Folder, note *model.Note, action *model.Action) {
	t.Helper()
	ctx := context.Background()

	folder = model.NewFolder("Projects", "folder", "#4A90D9", "")
	if err := repos.Folders.Create(ctx, folder); err != nil {
		t.Fatalf("Create(folder) failed: %v", err)
	}
	child = model.NewFolder("Clients", "person.2", "", folder.ID)
	if err := repos.Folders.Create(ctx, child); err != nil {
		t.Fatalf("Create(child) failed: %v", err)
	}

	note = model.NewNote("Kickoff call", "Walk through the onboarding flow with Dana.")
	note.ServerID = "note-srv-1"
	note.FolderID = child.ID
	note.Tags = []string{"onboarding", "clients"}
	note.IsPinned = true
	note.DurationSeconds = 93.5
	if err := repos.Notes.Create(ctx, note); err != nil {
		t.Fatalf("Create(note) failed: %v", err)
	}

	action = model.NewAction(note.ID, model.ActionTypeReminder, "Send the onboarding doc")
	due := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	action.DueAt = &due
	if err := repos.Actions.Create(ctx, action); err != nil {
		t.Fatalf("Create(action) failed: %v", err)
	}
	return folder, child, note, action
}

func decodeLine(t *testing.T, line string) record {
	t.Helper()
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("failed to decode line %q: %v", line, err)
	}
	return rec
}

func TestExport_WritesHeaderThenTreeOrder(t *testing.T) {
	repos := newRepos(t)
	seedSource(t, repos)

	var buf bytes.Buffer
	res, err := Export(context.Background(), repos, &buf)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if res.Folders != 2 || res.Notes != 1 || res.Actions != 1 {
		t.Errorf("got %+v, want 2 folders, 1 note, 1 action", res)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5", len(lines))
	}

	first := decodeLine(t, lines[0])
	if first.Kind != kindHeader {
		t.Fatalf("first record kind = %q, want %q", first.Kind, kindHeader)
	}
	var h header
	if err := json.Unmarshal(first.Data, &h); err != nil {
		t.Fatalf("failed to decode header: %v", err)
	}
	if h.Format != formatName || h.Version != formatVersion {
		t.Errorf("header = %+v, want format %q version %d", h, formatName, formatVersion)
	}

	wantKinds := []string{kindHeader, kindFolder, kindFolder, kindNote, kindAction}
	for i, line := range lines {
		if rec := decodeLine(t, line); rec.Kind != wantKinds[i] {
			t.Errorf("line %d kind = %q, want %q", i+1, rec.Kind, wantKinds[i])
		}
	}

	// Parents come before children so the stream can be replayed front to back.
	var f model.Folder
	if err := json.Unmarshal(decodeLine(t, lines[1]).Data, &f); err != nil {
		t.Fatalf("failed to decode folder: %v", err)
	}
	if f.Name != "Projects" {
		t.Errorf("first folder = %q, want the root before its child", f.Name)
	}
}

func TestExport_SkipsTombstones(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	keep := model.NewNote("Keep me", "")
	if err := repos.Notes.Create(ctx, keep); err != nil {
		t.Fatalf("Create(keep) failed: %v", err)
	}
	gone := model.NewNote("Trash me", "")
	if err := repos.Notes.Create(ctx, gone); err != nil {
		t.Fatalf("Create(gone) failed: %v", err)
	}
	if err := repos.Notes.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	var buf bytes.Buffer
	res, err := Export(ctx, repos, &buf)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if res.Notes != 1 {
		t.Errorf("exported %d notes, want 1", res.Notes)
	}
	if strings.Contains(buf.String(), gone.ID) {
		t.Error("stream contains the tombstoned note")
	}
}

func TestImport_RoundTripPreservesEverything(t *testing.T) {
	ctx := context.Background()
	src := newRepos(t)
	folder, child, note, action := seedSource(t, src)

	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := newRepos(t)
	res, err := Import(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Folders != 2 || res.Notes != 1 || res.Actions != 1 {
		t.Errorf("got %+v, want 2 folders, 1 note, 1 action", res)
	}

	gotChild, err := dst.Folders.GetByID(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetByID(child) failed: %v", err)
	}
	if gotChild.ParentID != folder.ID {
		t.Errorf("child parent = %q, want %q", gotChild.ParentID, folder.ID)
	}
	if gotChild.Depth != 1 {
		t.Errorf("child depth = %d, want 1", gotChild.Depth)
	}

	gotNote, err := dst.Notes.GetByID(ctx, note.ID)
	if err != nil {
		t.Fatalf("GetByID(note) failed: %v", err)
	}
	if gotNote.Title != note.Title || gotNote.Transcript != note.Transcript {
		t.Errorf("note content did not survive: %+v", gotNote)
	}
	if gotNote.ServerID != "note-srv-1" {
		t.Errorf("note server id = %q, want note-srv-1", gotNote.ServerID)
	}
	if gotNote.FolderID != child.ID {
		t.Errorf("note folder = %q, want %q", gotNote.FolderID, child.ID)
	}
	if len(gotNote.Tags) != 2 || gotNote.Tags[0] != "onboarding" {
		t.Errorf("note tags = %v, want [onboarding clients]", gotNote.Tags)
	}
	if !gotNote.IsPinned {
		t.Error("note lost its pin")
	}
	if !gotNote.CreatedAt.Equal(note.CreatedAt) {
		t.Errorf("note created_at = %v, want %v", gotNote.CreatedAt, note.CreatedAt)
	}
	if gotNote.SyncStatus != model.SyncStatusPending {
		t.Errorf("note sync status = %q, want pending", gotNote.SyncStatus)
	}

	gotAction, err := dst.Actions.GetByID(ctx, action.ID)
	if err != nil {
		t.Fatalf("GetByID(action) failed: %v", err)
	}
	if gotAction.NoteID != note.ID {
		t.Errorf("action note = %q, want %q", gotAction.NoteID, note.ID)
	}
	if gotAction.DueAt == nil || !gotAction.DueAt.Equal(*action.DueAt) {
		t.Errorf("action due_at = %v, want %v", gotAction.DueAt, action.DueAt)
	}

	// Every restored row re-enters the queue so the next round pushes it.
	pending, err := dst.Queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if pending != res.Total() {
		t.Errorf("queue has %d pending entries, want %d", pending, res.Total())
	}
}

func TestImport_RefusesNonEmptyStore(t *testing.T) {
	ctx := context.Background()
	src := newRepos(t)
	seedSource(t, src)

	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := newRepos(t)
	if err := dst.Folders.Create(ctx, model.NewFolder("Existing", "", "", "")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	res, err := Import(ctx, dst, &buf)
	if err == nil {
		t.Fatal("Import() into a non-empty store succeeded")
	}
	if !strings.Contains(err.Error(), "not empty") {
		t.Errorf("error = %v, want a not-empty complaint", err)
	}
	if res.Total() != 0 {
		t.Errorf("got %+v, want nothing restored", res)
	}
}

func TestImport_ReportsBadLines(t *testing.T) {
	ctx := context.Background()

	// An empty store exports just the header, which makes a handy prefix.
	var buf bytes.Buffer
	if _, err := Export(ctx, newRepos(t), &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	buf.WriteString("not json\n")

	_, err := Import(ctx, newRepos(t), &buf)
	if err == nil {
		t.Fatal("Import() accepted garbage")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error = %v, want the line number", err)
	}
}

func TestImport_ChecksHeader(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stream  string
		wantErr string
	}{
		{
			name:    "empty stream",
			stream:  "",
			wantErr: "no header",
		},
		{
			name:    "missing header",
			stream:  `{"kind":"folder","data":{}}` + "\n",
			wantErr: "expected a header",
		},
		{
			name:    "wrong format",
			stream:  `{"kind":"header","data":{"format":"csv","version":1}}` + "\n",
			wantErr: "unknown format",
		},
		{
			name:    "future version",
			stream:  `{"kind":"header","data":{"format":"glide-export","version":99}}` + "\n",
			wantErr: "unsupported format version",
		},
		{
			name: "duplicate header",
			stream: `{"kind":"header","data":{"format":"glide-export","version":1}}` + "\n" +
				`{"kind":"header","data":{"format":"glide-export","version":1}}` + "\n",
			wantErr: "duplicate header",
		},
		{
			name: "unknown kind",
			stream: `{"kind":"header","data":{"format":"glide-export","version":1}}` + "\n" +
				`{"kind":"widget","data":{}}` + "\n",
			wantErr: "unknown record kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(ctx, newRepos(t), strings.NewReader(tt.stream))
			if err == nil {
				t.Fatal("Import() succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
