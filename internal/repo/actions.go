package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/store"
)

// Actions is the repository for extracted actions. Actions are hard-deleted:
// they carry no tombstone, the owning note's lifecycle is the durable record.
type Actions struct {
	db    *store.Store
	queue *Queue
	log   zerolog.Logger
}

const actionColumns = `id, server_id, note_id, action_type, status, priority,
	title, details, scheduled_at, due_at, location, attendees,
	email_to, email_subject, email_body, external_ref,
	created_at, updated_at, synced_at, sync_status`

// Create inserts a new action and enqueues its create for sync. The owning
// note must exist.
func (r *Actions) Create(ctx context.Context, a *model.Action) error {
	a.SetDefaults()
	a.SyncStatus = model.SyncStatusPending
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to snapshot action: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertActionIn(ctx, tx, a); err != nil {
			return err
		}
		_, err := r.queue.EnqueueIn(ctx, tx, model.EntityAction, a.ID, model.OpCreate, payload)
		return err
	})
}

// CreateBatch inserts every action in one transaction, one queue entry each.
// The whole batch is validated up front; a single invalid action rejects the
// batch. This is the fan-out path for AI extraction results, which arrive as
// a set per note.
func (r *Actions) CreateBatch(ctx context.Context, actions []*model.Action) error {
	if len(actions) == 0 {
		return nil
	}
	for _, a := range actions {
		a.SetDefaults()
		a.SyncStatus = model.SyncStatusPending
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid action %q: %w", a.Title, err)
		}
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, a := range actions {
			payload, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("failed to snapshot action: %w", err)
			}
			if err := insertActionIn(ctx, tx, a); err != nil {
				return err
			}
			if _, err := r.queue.EnqueueIn(ctx, tx, model.EntityAction, a.ID, model.OpCreate, payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID returns the action with the given local id. Returns ErrNotFound
// when no row exists.
func (r *Actions) GetByID(ctx context.Context, id string) (*model.Action, error) {
	return r.GetByIDIn(ctx, r.db.RawDB(), id)
}

// GetByIDIn is GetByID against an explicit Querier.
func (r *Actions) GetByIDIn(ctx context.Context, q store.Querier, id string) (*model.Action, error) {
	row := q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByServerIDIn looks an action up by the id the server assigned to it.
func (r *Actions) GetByServerIDIn(ctx context.Context, q store.Querier, serverID string) (*model.Action, error) {
	row := q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE server_id = ?`, serverID)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("action with server id %s: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByNote returns the actions attached to a note, oldest first.
func (r *Actions) ListByNote(ctx context.Context, noteID string) ([]*model.Action, error) {
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE note_id = ?
		ORDER BY created_at ASC, id ASC`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions for note %s: %w", noteID, err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// ListActionsOptions filters List. Zero values mean "no filter".
type ListActionsOptions struct {
	Status model.ActionStatus
	Type   model.ActionType
	Limit  int
}

// List returns actions matching the options, soonest due first, then most
// recently created.
func (r *Actions) List(ctx context.Context, opts ListActionsOptions) ([]*model.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions`
	var conds []string
	var args []any

	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Type != "" {
		conds = append(conds, "action_type = ?")
		args = append(args, opts.Type)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_at IS NULL, due_at ASC, created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// Update writes the action and enqueues the change.
func (r *Actions) Update(ctx context.Context, a *model.Action) error {
	a.Touch()
	a.SyncStatus = model.SyncStatusPending
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to snapshot action: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := updateActionIn(ctx, tx, a); err != nil {
			return err
		}
		_, err := r.queue.EnqueueIn(ctx, tx, model.EntityAction, a.ID, model.OpUpdate, payload)
		return err
	})
}

// MarkExecuted records a successful execution with the external service's
// correlation id and enqueues the change.
func (r *Actions) MarkExecuted(ctx context.Context, id, externalRef string) (*model.Action, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.MarkExecuted(externalRef)
	if err := r.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes the action row and enqueues the deletion. Unpushed entries
// for the action are discarded first; if the server never saw the action,
// nothing is queued at all. Actions have no tombstone, so the delete entry
// carries a final snapshot - it is the only place the server reference
// survives for the push.
func (r *Actions) Delete(ctx context.Context, id string) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to snapshot action: %w", err)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete action %s: %w", id, err)
		}
		_, err := r.queue.EnqueueIn(ctx, tx, model.EntityAction, id, model.OpDelete, payload)
		return err
	})
}

// Count returns the total number of actions.
func (r *Actions) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.RawDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

// MarkSynced records a server acknowledgment for the action.
func (r *Actions) MarkSynced(ctx context.Context, id, serverID string, at time.Time) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return r.MarkSyncedIn(ctx, tx, id, serverID, at)
	})
}

// MarkSyncedIn is MarkSynced inside a caller-managed transaction.
func (r *Actions) MarkSyncedIn(ctx context.Context, q store.Querier, id, serverID string, at time.Time) error {
	stillPending, err := r.queue.HasPendingIn(ctx, q, model.EntityAction, id)
	if err != nil {
		return err
	}
	status := model.SyncStatusSynced
	if stillPending {
		status = model.SyncStatusPending
	}

	query := `UPDATE actions SET sync_status = ?, synced_at = ?`
	args := []any{status, formatTime(at)}
	if serverID != "" {
		query += `, server_id = ?`
		args = append(args, serverID)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark action %s synced: %w", id, err)
	}
	return nil
}

// MarkSyncError stamps the action with a terminal sync status.
func (r *Actions) MarkSyncError(ctx context.Context, id string) error {
	_, err := r.db.RawDB().ExecContext(ctx,
		`UPDATE actions SET sync_status = ? WHERE id = ?`, model.SyncStatusError, id)
	if err != nil {
		return fmt.Errorf("failed to mark action %s errored: %w", id, err)
	}
	return nil
}

// ApplyRemoteIn applies a remote version inside the pull transaction using
// last-write-wins on UpdatedAt. The caller has already resolved the remote
// note reference to a local note id; a remote action whose note does not
// exist locally is skipped. Remote deletions remove the row outright.
func (r *Actions) ApplyRemoteIn(ctx context.Context, q store.Querier, remote *model.Action, deleted bool) (ApplyResult, error) {
	if remote.ServerID == "" {
		return 0, fmt.Errorf("remote action %s has no server id", remote.ID)
	}

	local, err := r.GetByServerIDIn(ctx, q, remote.ServerID)
	if err != nil && !isNotFound(err) {
		return 0, err
	}

	now := time.Now().UTC()
	if local == nil {
		if deleted {
			return ApplySkippedMissing, nil
		}
		remote.SetDefaults()
		remote.SyncStatus = model.SyncStatusSynced
		remote.SyncedAt = &now
		if err := insertActionIn(ctx, q, remote); err != nil {
			return 0, err
		}
		return ApplyInserted, nil
	}

	if deleted {
		if _, err := q.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, local.ID); err != nil {
			return 0, fmt.Errorf("failed to delete action %s: %w", local.ID, err)
		}
		return ApplyDeleted, nil
	}

	if remote.UpdatedAt.Equal(local.UpdatedAt) {
		return ApplySkippedEqual, nil
	}
	if remote.UpdatedAt.Before(local.UpdatedAt) {
		return ApplySkippedOlder, nil
	}

	remote.ID = local.ID
	remote.NoteID = local.NoteID
	remote.SyncStatus = model.SyncStatusSynced
	remote.SyncedAt = &now
	if err := updateActionIn(ctx, q, remote); err != nil {
		return 0, err
	}
	return ApplyUpdated, nil
}

func insertActionIn(ctx context.Context, q store.Querier, a *model.Action) error {
	attendees, err := encodeStrings(a.Attendees)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO actions (
		id, server_id, note_id, action_type, status, priority,
		title, details, scheduled_at, due_at, location, attendees,
		email_to, email_subject, email_body, external_ref,
		created_at, updated_at, synced_at, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		a.ID,
		stringToNull(a.ServerID),
		a.NoteID,
		a.Type,
		a.Status,
		a.Priority,
		a.Title,
		a.Details,
		timeToNullString(a.ScheduledAt),
		timeToNullString(a.DueAt),
		a.Location,
		attendees,
		a.EmailTo,
		a.EmailSubject,
		a.EmailBody,
		a.ExternalRef,
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
		timeToNullString(a.SyncedAt),
		a.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action %s: %w", a.ID, err)
	}
	return nil
}

func updateActionIn(ctx context.Context, q store.Querier, a *model.Action) error {
	attendees, err := encodeStrings(a.Attendees)
	if err != nil {
		return err
	}
	query := `
	UPDATE actions SET
		server_id = ?, note_id = ?, action_type = ?, status = ?, priority = ?,
		title = ?, details = ?, scheduled_at = ?, due_at = ?, location = ?, attendees = ?,
		email_to = ?, email_subject = ?, email_body = ?, external_ref = ?,
		created_at = ?, updated_at = ?, synced_at = ?, sync_status = ?
	WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		stringToNull(a.ServerID),
		a.NoteID,
		a.Type,
		a.Status,
		a.Priority,
		a.Title,
		a.Details,
		timeToNullString(a.ScheduledAt),
		timeToNullString(a.DueAt),
		a.Location,
		attendees,
		a.EmailTo,
		a.EmailSubject,
		a.EmailBody,
		a.ExternalRef,
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
		timeToNullString(a.SyncedAt),
		a.SyncStatus,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update action %s: %w", a.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func scanActions(rows *sql.Rows) ([]*model.Action, error) {
	var actions []*model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action rows: %w", err)
	}
	return actions, nil
}

func scanAction(row rowScanner) (*model.Action, error) {
	var (
		a           model.Action
		serverID    sql.NullString
		typ         string
		status      string
		priority    string
		scheduledAt sql.NullString
		dueAt       sql.NullString
		attendees   sql.NullString
		createdAt   string
		updatedAt   string
		syncedAt    sql.NullString
		syncStatus  string
	)
	err := row.Scan(&a.ID, &serverID, &a.NoteID, &typ, &status, &priority,
		&a.Title, &a.Details, &scheduledAt, &dueAt, &a.Location, &attendees,
		&a.EmailTo, &a.EmailSubject, &a.EmailBody, &a.ExternalRef,
		&createdAt, &updatedAt, &syncedAt, &syncStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	a.ServerID = nullToString(serverID)
	a.Type = model.ActionType(typ)
	a.Status = model.ActionStatus(status)
	a.Priority = model.Priority(priority)
	a.SyncStatus = model.SyncStatus(syncStatus)

	if a.Attendees, err = decodeStrings(attendees); err != nil {
		return nil, err
	}
	if a.ScheduledAt, err = nullStringToTime(scheduledAt); err != nil {
		return nil, err
	}
	if a.DueAt, err = nullStringToTime(dueAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.SyncedAt, err = nullStringToTime(syncedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
