package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/store"
)

// Notes is the repository for voice notes. Every mutation writes the entity
// row and its change-queue entry in one transaction.
type Notes struct {
	db    *store.Store
	queue *Queue
	log   zerolog.Logger
}

const noteColumns = `id, server_id, title, transcript, summary, duration_seconds,
	audio_url, local_audio_path, folder_id, tags, is_pinned, is_archived,
	is_deleted, deleted_at, ai_processed, created_at, updated_at, synced_at, sync_status`

// ListNotesOptions filters List. Zero values mean "no filter".
type ListNotesOptions struct {
	// FolderID restricts results to one folder.
	FolderID string
	// UnfiledOnly restricts results to notes without a folder.
	UnfiledOnly bool
	// IncludeDeleted includes soft-deleted notes.
	IncludeDeleted bool
	// IncludeArchived includes archived notes.
	IncludeArchived bool
	// PinnedOnly restricts results to pinned notes.
	PinnedOnly bool
	// SyncStatus restricts results to one sync status.
	SyncStatus model.SyncStatus
	// Limit caps the result count (0 = no limit); Offset pages through it.
	Limit  int
	Offset int
}

// Create inserts a new note and enqueues its create for sync.
func (r *Notes) Create(ctx context.Context, n *model.Note) error {
	n.SetDefaults()
	n.SyncStatus = model.SyncStatusPending
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to snapshot note: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertNoteIn(ctx, tx, n); err != nil {
			return err
		}
		_, err := r.queue.EnqueueIn(ctx, tx, model.EntityNote, n.ID, model.OpCreate, payload)
		return err
	})
}

// GetByID returns the note with the given local id, including soft-deleted
// ones. Returns ErrNotFound when no row exists.
func (r *Notes) GetByID(ctx context.Context, id string) (*model.Note, error) {
	return r.GetByIDIn(ctx, r.db.RawDB(), id)
}

// GetByIDIn is GetByID against an explicit Querier.
func (r *Notes) GetByIDIn(ctx context.Context, q store.Querier, id string) (*model.Note, error) {
	row := q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetByServerIDIn looks a note up by the id the server assigned to it.
func (r *Notes) GetByServerIDIn(ctx context.Context, q store.Querier, serverID string) (*model.Note, error) {
	row := q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE server_id = ?`, serverID)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("note with server id %s: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// List returns notes matching the options, pinned first, most recently
// updated first.
func (r *Notes) List(ctx context.Context, opts ListNotesOptions) ([]*model.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes`
	var conds []string
	var args []any

	if !opts.IncludeDeleted {
		conds = append(conds, "is_deleted = 0")
	}
	if !opts.IncludeArchived {
		conds = append(conds, "is_archived = 0")
	}
	if opts.FolderID != "" {
		conds = append(conds, "folder_id = ?")
		args = append(args, opts.FolderID)
	}
	if opts.UnfiledOnly {
		conds = append(conds, "folder_id IS NULL")
	}
	if opts.PinnedOnly {
		conds = append(conds, "is_pinned = 1")
	}
	if opts.SyncStatus != "" {
		conds = append(conds, "sync_status = ?")
		args = append(args, opts.SyncStatus)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY is_pinned DESC, updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// Search returns live notes whose title or transcript contains the query,
// case-insensitively, most recently updated first.
func (r *Notes) Search(ctx context.Context, query string, limit int) ([]*model.Note, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE is_deleted = 0
		  AND (LOWER(title) LIKE ? OR LOWER(transcript) LIKE ?)
		ORDER BY updated_at DESC
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// ListPendingUploads returns live notes whose recording is still spooled
// locally and has no remote URL yet.
func (r *Notes) ListPendingUploads(ctx context.Context) ([]*model.Note, error) {
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE is_deleted = 0 AND local_audio_path != '' AND audio_url = ''
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending uploads: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// Update writes the note and enqueues the change. The repository bumps
// UpdatedAt itself so conflict resolution always sees the edit.
func (r *Notes) Update(ctx context.Context, n *model.Note) error {
	n.Touch()
	n.SyncStatus = model.SyncStatusPending
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to snapshot note: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := updateNoteIn(ctx, tx, n); err != nil {
			return err
		}
		_, err := r.queue.EnqueueIn(ctx, tx, model.EntityNote, n.ID, model.OpUpdate, payload)
		return err
	})
}

// Delete soft-deletes the note, hard-deletes its actions, and enqueues the
// deletion. Already-deleted notes are left alone (idempotent). The server
// cascades action deletion itself, so only the note delete is queued; any
// unpushed action entries are discarded.
func (r *Notes) Delete(ctx context.Context, id string) error {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.IsDeleted {
		return nil
	}
	n.MarkDeleted()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.cascadeActionsIn(ctx, tx, id); err != nil {
			return err
		}

		queued, err := r.queue.EnqueueIn(ctx, tx, model.EntityNote, id, model.OpDelete, nil)
		if err != nil {
			return err
		}
		if !queued {
			// The server never saw this note; the local tombstone is final.
			n.SyncStatus = model.SyncStatusSynced
		}
		return updateNoteIn(ctx, tx, n)
	})
}

// cascadeActionsIn drops the note's actions and their unpushed queue
// entries. Shared by the local delete path and winning remote tombstones.
func (r *Notes) cascadeActionsIn(ctx context.Context, q store.Querier, noteID string) error {
	rows, err := q.QueryContext(ctx, `SELECT id FROM actions WHERE note_id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("failed to list actions for note %s: %w", noteID, err)
	}
	var actionIDs []string
	for rows.Next() {
		var aid string
		if err := rows.Scan(&aid); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan action id: %w", err)
		}
		actionIDs = append(actionIDs, aid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate action ids: %w", err)
	}

	for _, aid := range actionIDs {
		if _, err := r.queue.discardPendingIn(ctx, q, model.EntityAction, aid); err != nil {
			return err
		}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM actions WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("failed to delete actions for note %s: %w", noteID, err)
	}
	return nil
}

// Restore clears a soft delete and enqueues the change.
func (r *Notes) Restore(ctx context.Context, id string) (*model.Note, error) {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsDeleted {
		return n, nil
	}
	n.Restore()
	if err := r.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Count returns the number of live notes.
func (r *Notes) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.RawDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE is_deleted = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// MarkSynced records a server acknowledgment: adopts the server id on first
// push and stamps the note synced, unless newer local edits queued up in the
// meantime.
func (r *Notes) MarkSynced(ctx context.Context, id, serverID string, at time.Time) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return r.MarkSyncedIn(ctx, tx, id, serverID, at)
	})
}

// MarkSyncedIn is MarkSynced inside a caller-managed transaction, so the
// queue entry removal and the entity stamp commit together.
func (r *Notes) MarkSyncedIn(ctx context.Context, q store.Querier, id, serverID string, at time.Time) error {
	stillPending, err := r.queue.HasPendingIn(ctx, q, model.EntityNote, id)
	if err != nil {
		return err
	}
	status := model.SyncStatusSynced
	if stillPending {
		status = model.SyncStatusPending
	}

	query := `UPDATE notes SET sync_status = ?, synced_at = ?`
	args := []any{status, formatTime(at)}
	if serverID != "" {
		query += `, server_id = ?`
		args = append(args, serverID)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark note %s synced: %w", id, err)
	}
	return nil
}

// MarkSyncError stamps the note with a terminal sync status after a
// permanent server rejection.
func (r *Notes) MarkSyncError(ctx context.Context, id string) error {
	_, err := r.db.RawDB().ExecContext(ctx,
		`UPDATE notes SET sync_status = ? WHERE id = ?`, model.SyncStatusError, id)
	if err != nil {
		return fmt.Errorf("failed to mark note %s errored: %w", id, err)
	}
	return nil
}

// ApplyRemoteIn applies a remote version inside the pull transaction using
// last-write-wins on UpdatedAt. The caller has already resolved the remote
// folder reference to a local folder id and checked that no local entries
// are pending for this note.
func (r *Notes) ApplyRemoteIn(ctx context.Context, q store.Querier, remote *model.Note) (ApplyResult, error) {
	if remote.ServerID == "" {
		return 0, fmt.Errorf("remote note %s has no server id", remote.ID)
	}

	local, err := r.GetByServerIDIn(ctx, q, remote.ServerID)
	if err != nil && !isNotFound(err) {
		return 0, err
	}

	now := time.Now().UTC()
	if local == nil {
		if remote.IsDeleted {
			return ApplySkippedMissing, nil
		}
		remote.SetDefaults()
		remote.SyncStatus = model.SyncStatusSynced
		remote.SyncedAt = &now
		if err := insertNoteIn(ctx, q, remote); err != nil {
			return 0, err
		}
		return ApplyInserted, nil
	}

	if remote.UpdatedAt.Equal(local.UpdatedAt) {
		return ApplySkippedEqual, nil
	}
	if remote.UpdatedAt.Before(local.UpdatedAt) {
		return ApplySkippedOlder, nil
	}

	// Remote wins. Keep the local identity and the spooled recording path;
	// everything else follows the server.
	remote.ID = local.ID
	remote.LocalAudioPath = local.LocalAudioPath
	remote.SyncStatus = model.SyncStatusSynced
	remote.SyncedAt = &now
	if err := updateNoteIn(ctx, q, remote); err != nil {
		return 0, err
	}
	if remote.IsDeleted && !local.IsDeleted {
		// A remote deletion that wins cascades exactly like a local one.
		if err := r.cascadeActionsIn(ctx, q, local.ID); err != nil {
			return 0, err
		}
		return ApplyDeleted, nil
	}
	return ApplyUpdated, nil
}

func insertNoteIn(ctx context.Context, q store.Querier, n *model.Note) error {
	tags, err := encodeStrings(n.Tags)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO notes (
		id, server_id, title, transcript, summary, duration_seconds,
		audio_url, local_audio_path, folder_id, tags, is_pinned, is_archived,
		is_deleted, deleted_at, ai_processed, created_at, updated_at, synced_at, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		n.ID,
		stringToNull(n.ServerID),
		n.Title,
		n.Transcript,
		n.Summary,
		n.DurationSeconds,
		n.AudioURL,
		n.LocalAudioPath,
		stringToNull(n.FolderID),
		tags,
		boolToInt(n.IsPinned),
		boolToInt(n.IsArchived),
		boolToInt(n.IsDeleted),
		timeToNullString(n.DeletedAt),
		boolToInt(n.AIProcessed),
		formatTime(n.CreatedAt),
		formatTime(n.UpdatedAt),
		timeToNullString(n.SyncedAt),
		n.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to insert note %s: %w", n.ID, err)
	}
	return nil
}

func updateNoteIn(ctx context.Context, q store.Querier, n *model.Note) error {
	tags, err := encodeStrings(n.Tags)
	if err != nil {
		return err
	}
	query := `
	UPDATE notes SET
		server_id = ?, title = ?, transcript = ?, summary = ?, duration_seconds = ?,
		audio_url = ?, local_audio_path = ?, folder_id = ?, tags = ?,
		is_pinned = ?, is_archived = ?, is_deleted = ?, deleted_at = ?,
		ai_processed = ?, created_at = ?, updated_at = ?, synced_at = ?, sync_status = ?
	WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		stringToNull(n.ServerID),
		n.Title,
		n.Transcript,
		n.Summary,
		n.DurationSeconds,
		n.AudioURL,
		n.LocalAudioPath,
		stringToNull(n.FolderID),
		tags,
		boolToInt(n.IsPinned),
		boolToInt(n.IsArchived),
		boolToInt(n.IsDeleted),
		timeToNullString(n.DeletedAt),
		boolToInt(n.AIProcessed),
		formatTime(n.CreatedAt),
		formatTime(n.UpdatedAt),
		timeToNullString(n.SyncedAt),
		n.SyncStatus,
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", n.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("note %s: %w", n.ID, ErrNotFound)
	}
	return nil
}

// scanNotes reads note rows into model records.
func scanNotes(rows *sql.Rows) ([]*model.Note, error) {
	var notes []*model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate note rows: %w", err)
	}
	return notes, nil
}

func scanNote(row rowScanner) (*model.Note, error) {
	var (
		n          model.Note
		serverID   sql.NullString
		folderID   sql.NullString
		tags       sql.NullString
		isPinned   int
		isArchived int
		isDeleted  int
		deletedAt  sql.NullString
		processed  int
		createdAt  string
		updatedAt  string
		syncedAt   sql.NullString
		syncStatus string
	)
	err := row.Scan(&n.ID, &serverID, &n.Title, &n.Transcript, &n.Summary, &n.DurationSeconds,
		&n.AudioURL, &n.LocalAudioPath, &folderID, &tags, &isPinned, &isArchived,
		&isDeleted, &deletedAt, &processed, &createdAt, &updatedAt, &syncedAt, &syncStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}

	n.ServerID = nullToString(serverID)
	n.FolderID = nullToString(folderID)
	n.IsPinned = isPinned != 0
	n.IsArchived = isArchived != 0
	n.IsDeleted = isDeleted != 0
	n.AIProcessed = processed != 0
	n.SyncStatus = model.SyncStatus(syncStatus)

	if n.Tags, err = decodeStrings(tags); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if n.DeletedAt, err = nullStringToTime(deletedAt); err != nil {
		return nil, err
	}
	if n.SyncedAt, err = nullStringToTime(syncedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// isNotFound reports whether err wraps ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
