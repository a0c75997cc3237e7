package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
)

// errDeferred signals that an entry references an entity whose server id is
// not known yet. The entry goes back to pending, costs no attempt, and is
// retried next round, by which time the referenced create should have
// pushed.
var errDeferred = errors.New("referenced entity has no server id yet")

// push drains the change queue oldest-first. Entries that fail individually
// are recorded on the queue and skipped, so one bad payload cannot wedge
// everything behind it; only auth failures, storage errors and cancellation
// abort the phase.
func (e *engine) push(ctx context.Context, res *Result) error {
	// Rounds are single-flighted, so inflight rows here are leftovers from a
	// crash mid-push; put them back in line.
	released, err := e.repos.Queue.ReleaseInflight(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		e.log.Warn().Int("released", released).Msg("released entries left inflight by an interrupted round")
	}

	revived, err := e.repos.Queue.Requeue(ctx, e.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if revived > 0 {
		e.log.Debug().Int("revived", revived).Msg("requeued failed entries for retry")
	}

	// Walk by id cursor rather than re-draining from the top: deferred
	// entries return to pending and would otherwise spin in this round.
	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := e.repos.Queue.DrainAfter(ctx, cursor, e.cfg.PushBatch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, entry := range batch {
			cursor = entry.ID
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.pushEntry(ctx, entry, res); err != nil {
				return err
			}
		}
		e.publishRound(*res)
	}
}

// pushEntry sends one queue entry and settles its outcome: completed,
// deferred, failed (retryable) or rejected (permanent). The returned error
// is non-nil only for conditions that abort the whole phase.
func (e *engine) pushEntry(ctx context.Context, entry *model.ChangeEntry, res *Result) error {
	if err := e.repos.Queue.MarkInflight(ctx, entry.ID); err != nil {
		return err
	}

	var err error
	switch entry.EntityType {
	case model.EntityNote:
		err = e.pushNote(ctx, entry, res)
	case model.EntityFolder:
		err = e.pushFolder(ctx, entry, res)
	case model.EntityAction:
		err = e.pushAction(ctx, entry, res)
	default:
		err = fmt.Errorf("unknown entity type %q", entry.EntityType)
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, errDeferred):
		res.Deferred++
		e.log.Debug().
			Int64("entry", entry.ID).
			Str("entity", entry.EntityID).
			Msg("push deferred until referenced entity syncs")
		return e.repos.Queue.MarkDeferred(ctx, entry.ID)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The round was aborted mid-call, not the entry refused. Put it back
		// without an attempt so repeated aborts cannot burn its retry budget.
		if derr := e.repos.Queue.MarkDeferred(context.WithoutCancel(ctx), entry.ID); derr != nil {
			e.log.Error().Err(derr).Int64("entry", entry.ID).Msg("failed to reset entry after cancellation")
		}
		return err

	case api.IsAuth(err):
		// Credentials are broken for every entry; put this one back
		// untouched and abort the round.
		if derr := e.repos.Queue.MarkDeferred(ctx, entry.ID); derr != nil {
			e.log.Error().Err(derr).Int64("entry", entry.ID).Msg("failed to reset entry after auth error")
		}
		return err

	case api.IsPermanent(err):
		res.Rejected++
		e.log.Warn().Err(err).
			Int64("entry", entry.ID).
			Str("entity", entry.EntityID).
			Str("op", string(entry.Op)).
			Msg("entry rejected by server")
		if qerr := e.repos.Queue.MarkRejected(ctx, entry.ID, err); qerr != nil {
			return qerr
		}
		return e.markEntityError(ctx, entry)

	default:
		// Network trouble, 5xx or a local load failure: counts as an
		// attempt and retries next round.
		res.Failed++
		e.log.Warn().Err(err).
			Int64("entry", entry.ID).
			Str("entity", entry.EntityID).
			Msg("push attempt failed")
		return e.repos.Queue.MarkFailed(ctx, entry.ID, err)
	}
}

func (e *engine) pushNote(ctx context.Context, entry *model.ChangeEntry, res *Result) error {
	note, err := e.repos.Notes.GetByID(ctx, entry.EntityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.dropEntry(ctx, entry)
		}
		return err
	}

	if entry.Op == model.OpDelete {
		if note.ServerID == "" {
			// never reached the server; the tombstone is already final
			return e.complete(ctx, entry, "", res)
		}
		if err := e.client.DeleteNote(ctx, note.ServerID); err != nil && !deletedAlready(err) {
			return err
		}
		return e.complete(ctx, entry, note.ServerID, res)
	}

	snap, err := entry.DecodeNote()
	if err != nil {
		return fmt.Errorf("failed to decode note snapshot: %w", err)
	}

	// The snapshot's folder reference resolves at push time, against the
	// folder's current server id.
	serverFolderID := ""
	if snap.FolderID != "" {
		f, err := e.repos.Folders.GetByID(ctx, snap.FolderID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			// folder gone since the edit; push the note unfiled
		case err != nil:
			return err
		case f.ServerID == "":
			return errDeferred
		default:
			serverFolderID = f.ServerID
		}
	}

	dto := api.NoteToDTO(snap, serverFolderID)
	dto.ID = note.ServerID

	if entry.Op == model.OpCreate && note.ServerID == "" {
		out, err := e.client.CreateNote(ctx, dto)
		if err != nil {
			return err
		}
		return e.complete(ctx, entry, out.ID, res)
	}

	// Updates, plus creates for rows that already carry a server id (bound
	// by adoption during pull, or acknowledged just before a crash): both
	// patch the existing remote note.
	if note.ServerID == "" {
		return fmt.Errorf("note %s has no server id yet", note.ID)
	}
	out, err := e.client.UpdateNote(ctx, note.ServerID, dto)
	if err != nil {
		return err
	}
	return e.complete(ctx, entry, out.ID, res)
}

func (e *engine) pushFolder(ctx context.Context, entry *model.ChangeEntry, res *Result) error {
	folder, err := e.repos.Folders.GetByID(ctx, entry.EntityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.dropEntry(ctx, entry)
		}
		return err
	}

	if entry.Op == model.OpDelete {
		if folder.ServerID == "" {
			return e.complete(ctx, entry, "", res)
		}
		if err := e.client.DeleteFolder(ctx, folder.ServerID); err != nil && !deletedAlready(err) {
			return err
		}
		return e.complete(ctx, entry, folder.ServerID, res)
	}

	snap, err := entry.DecodeFolder()
	if err != nil {
		return fmt.Errorf("failed to decode folder snapshot: %w", err)
	}

	serverParentID := ""
	if snap.ParentID != "" {
		p, err := e.repos.Folders.GetByID(ctx, snap.ParentID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			// parent gone since; push at the root
		case err != nil:
			return err
		case p.ServerID == "":
			return errDeferred
		default:
			serverParentID = p.ServerID
		}
	}

	dto := api.FolderToDTO(snap, serverParentID)
	dto.ID = folder.ServerID

	if entry.Op == model.OpCreate && folder.ServerID == "" {
		out, err := e.client.CreateFolder(ctx, dto)
		if err != nil {
			return err
		}
		return e.complete(ctx, entry, out.ID, res)
	}

	if folder.ServerID == "" {
		return fmt.Errorf("folder %s has no server id yet", folder.ID)
	}
	out, err := e.client.UpdateFolder(ctx, folder.ServerID, dto)
	if err != nil {
		return err
	}
	return e.complete(ctx, entry, out.ID, res)
}

func (e *engine) pushAction(ctx context.Context, entry *model.ChangeEntry, res *Result) error {
	// Deletions work from the snapshot: the row is already gone locally and
	// the snapshot is the only place the server reference survives.
	if entry.Op == model.OpDelete {
		snap, err := entry.DecodeAction()
		if err != nil {
			return fmt.Errorf("failed to decode action snapshot: %w", err)
		}
		if snap.ServerID == "" {
			return e.complete(ctx, entry, "", res)
		}
		if err := e.client.DeleteAction(ctx, snap.ServerID); err != nil && !deletedAlready(err) {
			return err
		}
		return e.complete(ctx, entry, snap.ServerID, res)
	}

	action, err := e.repos.Actions.GetByID(ctx, entry.EntityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// cascade-deleted after this entry was queued
			return e.dropEntry(ctx, entry)
		}
		return err
	}

	snap, err := entry.DecodeAction()
	if err != nil {
		return fmt.Errorf("failed to decode action snapshot: %w", err)
	}

	n, err := e.repos.Notes.GetByID(ctx, snap.NoteID)
	if err != nil {
		return err
	}
	if n.ServerID == "" {
		return errDeferred
	}

	dto := api.ActionToDTO(snap, n.ServerID)
	dto.ID = action.ServerID

	if entry.Op == model.OpCreate && action.ServerID == "" {
		out, err := e.client.CreateAction(ctx, dto)
		if err != nil {
			return err
		}
		return e.complete(ctx, entry, out.ID, res)
	}

	if action.ServerID == "" {
		return fmt.Errorf("action %s has no server id yet", action.ID)
	}
	out, err := e.client.UpdateAction(ctx, action.ServerID, dto)
	if err != nil {
		return err
	}
	return e.complete(ctx, entry, out.ID, res)
}

// complete acknowledges a pushed entry: the queue row is removed and the
// entity's sync bookkeeping lands in the same transaction, so a crash can
// never acknowledge one without the other.
func (e *engine) complete(ctx context.Context, entry *model.ChangeEntry, serverID string, res *Result) error {
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.repos.Queue.MarkCompletedIn(ctx, tx, entry.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		switch entry.EntityType {
		case model.EntityNote:
			return e.repos.Notes.MarkSyncedIn(ctx, tx, entry.EntityID, serverID, now)
		case model.EntityFolder:
			return e.repos.Folders.MarkSyncedIn(ctx, tx, entry.EntityID, serverID, now)
		default:
			return e.repos.Actions.MarkSyncedIn(ctx, tx, entry.EntityID, serverID, now)
		}
	})
	if err != nil {
		return err
	}
	res.Pushed++
	return nil
}

// dropEntry discards an entry whose entity row no longer exists. Nothing
// was pushed, so it does not count toward the round.
func (e *engine) dropEntry(ctx context.Context, entry *model.ChangeEntry) error {
	e.log.Debug().
		Int64("entry", entry.ID).
		Str("entity", entry.EntityID).
		Msg("entity row gone, dropping entry")
	return e.repos.Queue.MarkCompleted(ctx, entry.ID)
}

// markEntityError stamps the entity behind a rejected entry so list views
// can surface it.
func (e *engine) markEntityError(ctx context.Context, entry *model.ChangeEntry) error {
	switch entry.EntityType {
	case model.EntityNote:
		return e.repos.Notes.MarkSyncError(ctx, entry.EntityID)
	case model.EntityFolder:
		return e.repos.Folders.MarkSyncError(ctx, entry.EntityID)
	default:
		return e.repos.Actions.MarkSyncError(ctx, entry.EntityID)
	}
}

// deletedAlready reports whether a remote delete found nothing to delete,
// which is as good as success.
func deletedAlready(err error) bool {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone
	}
	return false
}
