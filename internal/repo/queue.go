package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/store"
)

// Queue is the durable change queue: every offline mutation lands here in the
// same transaction as its entity write, and the sync engine drains it in id
// order, which is FIFO per entity.
//
// Coalescing rules on enqueue:
//   - While a create for the entity is still unpushed, newer creates and
//     updates fold into it - the latest payload wins, the op stays create.
//   - Updates never coalesce with other updates; they drain in order.
//   - A delete discards every unpushed entry for the entity. If that
//     included the create, the delete itself is dropped too: the server
//     never saw the entity, so there is nothing left to sync.
type Queue struct {
	db  *store.Store
	log zerolog.Logger
}

const entryColumns = `id, entity_type, entity_id, op, payload, status, attempts, last_error, created_at, updated_at`

// Enqueue records a mutation in its own transaction. Repositories normally
// use EnqueueIn inside the transaction that wrote the entity; this form
// exists for callers that manage no entity row of their own.
func (r *Queue) Enqueue(ctx context.Context, entityType model.EntityType, entityID string, op model.Op, payload []byte) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := r.EnqueueIn(ctx, tx, entityType, entityID, op, payload)
		return err
	})
}

// EnqueueIn records a mutation inside a caller-managed transaction and
// applies the coalescing rules. It reports whether an entry remains queued
// for the entity afterwards (false only when a delete cancelled out an
// unpushed create).
func (r *Queue) EnqueueIn(ctx context.Context, q store.Querier, entityType model.EntityType, entityID string, op model.Op, payload []byte) (bool, error) {
	if !entityType.IsValid() {
		return false, fmt.Errorf("invalid entity type: %s", entityType)
	}
	if entityID == "" {
		return false, fmt.Errorf("entity_id is required")
	}
	if !op.IsValid() {
		return false, fmt.Errorf("invalid op: %s", op)
	}
	if op != model.OpDelete && len(payload) == 0 {
		return false, fmt.Errorf("payload is required for %s entries", op)
	}

	now := formatTime(time.Now())

	switch op {
	case model.OpCreate, model.OpUpdate:
		// Fold into an unpushed create: the server has not seen the entity,
		// so the newest snapshot is still a single create intent. A failed
		// create is revived with the fresh payload; its attempt count stays.
		res, err := q.ExecContext(ctx, `
			UPDATE sync_queue
			SET payload = ?, status = 'pending', updated_at = ?
			WHERE entity_type = ? AND entity_id = ? AND op = 'create'
			  AND status IN ('pending', 'failed')`,
			string(payload), now, entityType, entityID)
		if err != nil {
			return false, fmt.Errorf("failed to coalesce into pending create: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read coalesce result: %w", err)
		}
		if n > 0 {
			r.log.Debug().Str("entity", string(entityType)).Str("id", entityID).Msg("coalesced into pending create")
			return true, nil
		}

	case model.OpDelete:
		hadCreate, err := r.discardPendingIn(ctx, q, entityType, entityID)
		if err != nil {
			return false, err
		}
		if hadCreate {
			// Created and deleted before any sync: nothing to tell the server.
			r.log.Debug().Str("entity", string(entityType)).Str("id", entityID).Msg("delete cancelled unpushed create")
			return false, nil
		}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_type, entity_id, op, payload, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 0, '', ?, ?)`,
		entityType, entityID, op, stringToNull(string(payload)), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s %s/%s: %w", op, entityType, entityID, err)
	}
	return true, nil
}

// discardPendingIn deletes every unpushed entry for the entity and reports
// whether a create was among them. Inflight entries are left alone: the
// server may already have seen them.
func (r *Queue) discardPendingIn(ctx context.Context, q store.Querier, entityType model.EntityType, entityID string) (bool, error) {
	var hadCreate bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM sync_queue
			WHERE entity_type = ? AND entity_id = ? AND op = 'create'
			  AND status IN ('pending', 'failed', 'rejected'))`,
		entityType, entityID).Scan(&hadCreate)
	if err != nil {
		return false, fmt.Errorf("failed to check for pending create: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND status IN ('pending', 'failed', 'rejected')`,
		entityType, entityID)
	if err != nil {
		return false, fmt.Errorf("failed to discard pending entries: %w", err)
	}
	return hadCreate, nil
}

// Drain returns up to batchSize pending entries in id order.
func (r *Queue) Drain(ctx context.Context, batchSize int) ([]*model.ChangeEntry, error) {
	return r.DrainAfter(ctx, 0, batchSize)
}

// DrainAfter returns up to batchSize pending entries with id > afterID, in id
// order. The push phase pages through the queue with this cursor so entries
// it deliberately skipped (dependency not acknowledged yet) are not returned
// again within the same run.
func (r *Queue) DrainAfter(ctx context.Context, afterID int64, batchSize int) ([]*model.ChangeEntry, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE status = 'pending' AND id > ?
		ORDER BY id ASC
		LIMIT ?`, afterID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// MarkInflight transitions an entry to inflight before its push attempt.
func (r *Queue) MarkInflight(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, model.ChangeInflight, "")
}

// MarkDeferred returns an inflight entry to pending without counting an
// attempt. Used when an entry references an entity that has not been
// assigned a server id yet; it will be retried on the next sync round.
func (r *Queue) MarkDeferred(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, model.ChangePending, "")
}

// MarkCompleted removes an acknowledged entry from the queue.
func (r *Queue) MarkCompleted(ctx context.Context, id int64) error {
	return r.MarkCompletedIn(ctx, r.db.RawDB(), id)
}

// MarkCompletedIn removes an acknowledged entry inside a caller-managed
// transaction, so the entity's sync bookkeeping commits with it.
func (r *Queue) MarkCompletedIn(ctx context.Context, q store.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to complete entry %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a recoverable push failure: increments the attempt
// counter and captures the error text. The entry stays queued and is
// requeued automatically while under the attempt ceiling.
func (r *Queue) MarkFailed(ctx context.Context, id int64, pushErr error) error {
	msg := ""
	if pushErr != nil {
		msg = pushErr.Error()
	}
	_, err := r.db.RawDB().ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		msg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d failed: %w", id, err)
	}
	return nil
}

// MarkRejected records a permanent server rejection. The entry is kept for
// inspection but excluded from automatic retries.
func (r *Queue) MarkRejected(ctx context.Context, id int64, pushErr error) error {
	msg := ""
	if pushErr != nil {
		msg = pushErr.Error()
	}
	_, err := r.db.RawDB().ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'rejected', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		msg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d rejected: %w", id, err)
	}
	return nil
}

// ReleaseInflight returns inflight entries to pending without counting an
// attempt. Rounds are single-flighted, so an inflight row at the start of a
// push phase is a leftover from a process that died mid-push; left alone it
// would never drain again and would defer pulls for its entity forever.
// Returns how many entries were released.
func (r *Queue) ReleaseInflight(ctx context.Context) (int, error) {
	res, err := r.db.RawDB().ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', updated_at = ?
		WHERE status = 'inflight'`,
		formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to release inflight entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read release count: %w", err)
	}
	return int(n), nil
}

// Requeue flips failed entries under the attempt ceiling back to pending.
// Returns how many entries were revived. The engine calls this at the start
// of each push phase.
func (r *Queue) Requeue(ctx context.Context, maxAttempts int) (int, error) {
	res, err := r.db.RawDB().ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', updated_at = ?
		WHERE status = 'failed' AND attempts < ?`,
		formatTime(time.Now()), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read requeue count: %w", err)
	}
	return int(n), nil
}

// Retryable returns failed entries still under the attempt ceiling.
func (r *Queue) Retryable(ctx context.Context, maxAttempts int) ([]*model.ChangeEntry, error) {
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE status = 'failed' AND attempts < ?
		ORDER BY id ASC`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// RetryAllFailed revives every failed and rejected entry with a fresh
// attempt budget. This backs the user-facing bulk "retry" affordance.
func (r *Queue) RetryAllFailed(ctx context.Context) (int, error) {
	res, err := r.db.RawDB().ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', attempts = 0, last_error = '', updated_at = ?
		WHERE status IN ('failed', 'rejected')`,
		formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	r.log.Info().Int64("entries", n).Msg("revived failed queue entries")
	return int(n), nil
}

// HasPending reports whether unresolved entries exist for the entity. The
// pull phase defers remote versions of such entities so an in-flight local
// edit is not clobbered.
func (r *Queue) HasPending(ctx context.Context, entityType model.EntityType, entityID string) (bool, error) {
	return r.HasPendingIn(ctx, r.db.RawDB(), entityType, entityID)
}

// HasPendingIn is HasPending against an explicit Querier.
func (r *Queue) HasPendingIn(ctx context.Context, q store.Querier, entityType model.EntityType, entityID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM sync_queue
			WHERE entity_type = ? AND entity_id = ? AND status IN ('pending', 'inflight', 'failed'))`,
		entityType, entityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending entries: %w", err)
	}
	return exists, nil
}

// EntriesFor returns every queue entry for one entity in id order.
func (r *Queue) EntriesFor(ctx context.Context, entityType model.EntityType, entityID string) ([]*model.ChangeEntry, error) {
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for %s/%s: %w", entityType, entityID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// All returns every queue entry in id order, for inspection.
func (r *Queue) All(ctx context.Context) ([]*model.ChangeEntry, error) {
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+entryColumns+` FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PendingCount returns the number of entries still waiting to reach the
// server (pending, inflight, or failed under manual care).
func (r *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.RawDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status IN ('pending', 'inflight', 'failed')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}

// FailedCount returns the number of entries needing attention: failed plus
// permanently rejected.
func (r *Queue) FailedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.RawDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status IN ('failed', 'rejected')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed entries: %w", err)
	}
	return count, nil
}

func (r *Queue) setStatus(ctx context.Context, id int64, status model.ChangeStatus, lastError string) error {
	_, err := r.db.RawDB().ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set entry %d status: %w", id, err)
	}
	return nil
}

// scanEntries reads queue rows into ChangeEntry records.
func scanEntries(rows *sql.Rows) ([]*model.ChangeEntry, error) {
	var entries []*model.ChangeEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*model.ChangeEntry, error) {
	var (
		entry      model.ChangeEntry
		payload    sql.NullString
		createdAt  string
		updatedAt  string
		entityType string
		op         string
		status     string
	)
	if err := row.Scan(&entry.ID, &entityType, &entry.EntityID, &op, &payload,
		&status, &entry.Attempts, &entry.LastError, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	entry.EntityType = model.EntityType(entityType)
	entry.Op = model.Op(op)
	entry.Status = model.ChangeStatus(status)
	if payload.Valid {
		entry.Payload = []byte(payload.String)
	}

	var err error
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}
