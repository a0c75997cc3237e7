// Package export streams the local store to and from JSONL.
//
// Export writes one JSON record per line: a header, then folders in tree
// order, then notes, then actions, so a stream read front to back never
// references something it has not seen. Import restores a stream into an
// empty store with local ids and timestamps preserved; every restored row
// is marked pending, so the next sync round pushes it. Rows that still
// carry a server id push as updates and re-bind to their server copies
// instead of duplicating them.
//
// Tombstones are not exported. A restored store re-syncs against the
// server, which is the authority on deletions anyway.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
)

const (
	formatName    = "glide-export"
	formatVersion = 1
)

const (
	kindHeader = "header"
	kindFolder = "folder"
	kindNote   = "note"
	kindAction = "action"
)

// record is one JSONL line.
type record struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// header is the payload of the first line.
type header struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

// Result counts what crossed the stream.
type Result struct {
	Folders int `json:"folders"`
	Notes   int `json:"notes"`
	Actions int `json:"actions"`
}

// Total returns the number of entities in the result.
func (r Result) Total() int {
	return r.Folders + r.Notes + r.Actions
}

// Export streams the live contents of the store to w as JSONL.
func Export(ctx context.Context, repos *repo.Repos, w io.Writer) (Result, error) {
	var res Result
	enc := json.NewEncoder(w)

	h := header{Format: formatName, Version: formatVersion, ExportedAt: time.Now().UTC()}
	if err := writeRecord(enc, kindHeader, h); err != nil {
		return res, err
	}

	folders, err := repos.Folders.List(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list folders: %w", err)
	}
	for _, f := range folders {
		if err := writeRecord(enc, kindFolder, f); err != nil {
			return res, err
		}
		res.Folders++
	}

	notes, err := repos.Notes.List(ctx, repo.ListNotesOptions{})
	if err != nil {
		return res, fmt.Errorf("failed to list notes: %w", err)
	}
	for _, n := range notes {
		if err := writeRecord(enc, kindNote, n); err != nil {
			return res, err
		}
		res.Notes++
	}

	actions, err := repos.Actions.List(ctx, repo.ListActionsOptions{})
	if err != nil {
		return res, fmt.Errorf("failed to list actions: %w", err)
	}
	for _, a := range actions {
		if err := writeRecord(enc, kindAction, a); err != nil {
			return res, err
		}
		res.Actions++
	}

	return res, nil
}

func writeRecord(enc *json.Encoder, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	if err := enc.Encode(record{Kind: kind, Data: data}); err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	return nil
}

// Import restores a JSONL stream into an empty store. It refuses to run
// against a store that already has content; restoring on top of live data
// would duplicate folders and notes with no way to tell the copies apart.
func Import(ctx context.Context, repos *repo.Repos, r io.Reader) (Result, error) {
	var res Result

	empty, err := storeEmpty(ctx, repos)
	if err != nil {
		return res, err
	}
	if !empty {
		return res, fmt.Errorf("store is not empty; import restores into a fresh database")
	}

	dec := json.NewDecoder(r)
	lineNum := 0
	sawHeader := false
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if !sawHeader {
			if rec.Kind != kindHeader {
				return res, fmt.Errorf("line 1: expected a %s record, got %q", kindHeader, rec.Kind)
			}
			var h header
			if err := json.Unmarshal(rec.Data, &h); err != nil {
				return res, fmt.Errorf("invalid header: %w", err)
			}
			if h.Format != formatName {
				return res, fmt.Errorf("unknown format %q", h.Format)
			}
			if h.Version != formatVersion {
				return res, fmt.Errorf("unsupported format version %d (supported: %d)", h.Version, formatVersion)
			}
			sawHeader = true
			continue
		}

		switch rec.Kind {
		case kindFolder:
			var f model.Folder
			if err := json.Unmarshal(rec.Data, &f); err != nil {
				return res, fmt.Errorf("invalid folder at line %d: %w", lineNum, err)
			}
			if err := repos.Folders.Create(ctx, &f); err != nil {
				return res, fmt.Errorf("failed to restore folder %q (line %d): %w", f.Name, lineNum, err)
			}
			res.Folders++

		case kindNote:
			var n model.Note
			if err := json.Unmarshal(rec.Data, &n); err != nil {
				return res, fmt.Errorf("invalid note at line %d: %w", lineNum, err)
			}
			if err := repos.Notes.Create(ctx, &n); err != nil {
				return res, fmt.Errorf("failed to restore note %q (line %d): %w", n.Title, lineNum, err)
			}
			res.Notes++

		case kindAction:
			var a model.Action
			if err := json.Unmarshal(rec.Data, &a); err != nil {
				return res, fmt.Errorf("invalid action at line %d: %w", lineNum, err)
			}
			if err := repos.Actions.Create(ctx, &a); err != nil {
				return res, fmt.Errorf("failed to restore action %q (line %d): %w", a.Title, lineNum, err)
			}
			res.Actions++

		case kindHeader:
			return res, fmt.Errorf("duplicate header at line %d", lineNum)

		default:
			return res, fmt.Errorf("unknown record kind %q at line %d", rec.Kind, lineNum)
		}
	}

	if !sawHeader {
		return res, fmt.Errorf("stream has no header; not a glide export")
	}
	return res, nil
}

func storeEmpty(ctx context.Context, repos *repo.Repos) (bool, error) {
	folders, err := repos.Folders.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count folders: %w", err)
	}
	notes, err := repos.Notes.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count notes: %w", err)
	}
	actions, err := repos.Actions.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count actions: %w", err)
	}
	return folders+notes+actions == 0, nil
}
