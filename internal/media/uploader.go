// Package media moves spooled recordings to remote storage.
//
// Notes recorded offline keep their audio in a local spool directory and
// carry the file path in LocalAudioPath. The uploader drains that backlog:
// it asks the API for a presigned slot, streams the file with progress
// callbacks, then rewrites the note to point at the remote URL. The rewrite
// goes through the normal repository update, so the new AudioURL lands in
// the change queue and the next sync round pushes it like any other edit.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
)

// ProgressFunc receives upload progress. file is the recording's base name;
// a call with sent == total means the upload is finished (successfully or
// not) and the file should be dropped from any progress display.
type ProgressFunc func(file string, sent, total int64)

// Uploader streams spooled recordings to presigned storage. It is safe to
// call UploadPending repeatedly; notes whose recording already has a remote
// URL are never selected again.
type Uploader struct {
	notes  *repo.Notes
	client *api.Client
	http   *http.Client
	report ProgressFunc
	log    zerolog.Logger
}

// NewUploader creates an uploader. report may be nil when nothing displays
// progress. The engine's ReportUpload method has the ProgressFunc shape, so
// callers usually pass that.
func NewUploader(notes *repo.Notes, client *api.Client, report ProgressFunc, logger zerolog.Logger) *Uploader {
	if report == nil {
		report = func(string, int64, int64) {}
	}
	return &Uploader{
		notes:  notes,
		client: client,
		http:   &http.Client{Timeout: 10 * time.Minute},
		report: report,
		log:    logger.With().Str("component", "media").Logger(),
	}
}

// UploadPending uploads every spooled recording that has no remote URL yet.
// One bad file does not stop the rest: the whole backlog is attempted and
// the first error is returned at the end. Returns the number of uploads
// that completed.
func (u *Uploader) UploadPending(ctx context.Context) (int, error) {
	notes, err := u.notes.ListPendingUploads(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending uploads: %w", err)
	}

	var firstErr error
	done := 0
	for _, n := range notes {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		uploaded, err := u.upload(ctx, n)
		if err != nil {
			u.log.Error().Err(err).
				Str("note_id", n.ID).
				Str("file", n.LocalAudioPath).
				Msg("upload failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if uploaded {
			done++
		}
	}
	return done, firstErr
}

// upload moves one recording. It reports false when nothing crossed the
// wire, as for a recording that vanished from the spool.
func (u *Uploader) upload(ctx context.Context, n *model.Note) (bool, error) {
	fi, err := os.Stat(n.LocalAudioPath)
	if errors.Is(err, fs.ErrNotExist) {
		// The recording is gone from disk; there is nothing left to upload.
		// Clear the path so the note stops showing up in the backlog.
		u.log.Warn().Str("note_id", n.ID).Str("file", n.LocalAudioPath).
			Msg("spooled recording missing, clearing")
		n.LocalAudioPath = ""
		return false, u.notes.Update(ctx, n)
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat recording: %w", err)
	}

	name := filepath.Base(n.LocalAudioPath)
	contentType := contentTypeFor(name)
	target, err := u.client.RequestUploadURL(ctx, api.UploadURLRequest{
		Filename:    name,
		ContentType: contentType,
		SizeBytes:   fi.Size(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to request upload slot: %w", err)
	}

	if err := u.put(ctx, target.UploadURL, n.LocalAudioPath, contentType, fi.Size()); err != nil {
		return false, err
	}

	u.log.Info().Str("note_id", n.ID).Str("file", name).
		Int64("bytes", fi.Size()).Msg("recording uploaded")

	n.AudioURL = target.PublicURL
	n.LocalAudioPath = ""
	if err := u.notes.Update(ctx, n); err != nil {
		return true, fmt.Errorf("failed to record upload: %w", err)
	}
	return true, nil
}

// put streams the file to the presigned slot. The slot URL carries its own
// authorization, so the request goes out on a plain client without the API
// bearer token.
func (u *Uploader) put(ctx context.Context, url, path, contentType string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	u.report(name, 0, size)
	// Whatever happens, the final report drops the file from progress
	// trackers so a dead upload does not sit at 40% forever.
	defer u.report(name, size, size)

	body := &progressReader{r: f, report: func(sent int64) { u.report(name, sent, size) }}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	resp, err := u.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload recording: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload of %s answered %s", name, resp.Status)
	}
	return nil
}

// progressReader reports cumulative bytes as the HTTP transport consumes
// them.
type progressReader struct {
	r      io.Reader
	sent   int64
	report func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent)
	}
	return n, err
}

// contentTypeFor maps recording extensions to MIME types. The spool only
// ever holds audio, so unknown extensions fall back to a generic type.
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
