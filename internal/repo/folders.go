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

// Folders is the repository for the folder tree. It owns the structural
// invariants: depth is always parent depth + 1, sort order stays dense
// within a sibling set, and the tree never contains a cycle. Structural
// changes go through Move; Update only touches name, icon, and color.
type Folders struct {
	db    *store.Store
	queue *Queue
	log   zerolog.Logger
}

const folderColumns = `id, server_id, name, icon, color, is_system, parent_id,
	sort_order, depth, is_deleted, deleted_at, created_at, updated_at, synced_at, sync_status`

// seededStateKey marks that the stock folder set has been created once.
const seededStateKey = "folders_seeded"

// Create inserts a new folder as the last sibling under its parent and
// enqueues the create. Duplicate live names are rejected case-insensitively.
func (r *Folders) Create(ctx context.Context, f *model.Folder) error {
	f.SetDefaults()
	f.SyncStatus = model.SyncStatusPending

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if f.ParentID != "" {
			parent, err := r.GetByIDIn(ctx, tx, f.ParentID)
			if err != nil {
				return fmt.Errorf("parent folder: %w", err)
			}
			if parent.IsDeleted {
				return fmt.Errorf("parent folder %s: %w", f.ParentID, ErrNotFound)
			}
			f.Depth = parent.Depth + 1
		} else {
			f.Depth = 0
		}

		taken, err := nameTakenIn(ctx, tx, f.Name, f.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("folder %q: %w", f.Name, ErrDuplicateName)
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sort_order) + 1, 0)
			FROM folders
			WHERE is_deleted = 0 AND `+parentCond(f.ParentID), parentArgs(f.ParentID)...,
		).Scan(&f.SortOrder); err != nil {
			return fmt.Errorf("failed to pick sort order: %w", err)
		}

		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid folder: %w", err)
		}
		if err := insertFolderIn(ctx, tx, f); err != nil {
			return err
		}

		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to snapshot folder: %w", err)
		}
		_, err = r.queue.EnqueueIn(ctx, tx, model.EntityFolder, f.ID, model.OpCreate, payload)
		return err
	})
}

// EnsureDefaults seeds the stock folder set ("All Notes" plus Work, Personal,
// Ideas) into an empty database. It runs at most once per database: a state
// flag records the seeding, and a database that already holds folders (for
// example after hydration) is marked seeded without inserting anything.
func (r *Folders) EnsureDefaults(ctx context.Context) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, seeded, err := store.StateGetIn(ctx, tx, seededStateKey)
		if err != nil {
			return err
		}
		if seeded {
			return nil
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count folders: %w", err)
		}
		if count == 0 {
			for _, f := range model.DefaultFolders() {
				if err := f.Validate(); err != nil {
					return fmt.Errorf("invalid default folder: %w", err)
				}
				if err := insertFolderIn(ctx, tx, f); err != nil {
					return err
				}
				payload, err := json.Marshal(f)
				if err != nil {
					return fmt.Errorf("failed to snapshot folder: %w", err)
				}
				if _, err := r.queue.EnqueueIn(ctx, tx, model.EntityFolder, f.ID, model.OpCreate, payload); err != nil {
					return err
				}
			}
			r.log.Info().Int("folders", len(model.DefaultFolders())).Msg("seeded default folders")
		}

		return store.StateSetIn(ctx, tx, seededStateKey, time.Now().UTC().Format(time.RFC3339))
	})
}

// GetByID returns the folder with the given local id, including soft-deleted
// ones. Returns ErrNotFound when no row exists.
func (r *Folders) GetByID(ctx context.Context, id string) (*model.Folder, error) {
	return r.GetByIDIn(ctx, r.db.RawDB(), id)
}

// GetByIDIn is GetByID against an explicit Querier.
func (r *Folders) GetByIDIn(ctx context.Context, q store.Querier, id string) (*model.Folder, error) {
	row := q.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// GetByServerIDIn looks a folder up by the id the server assigned to it.
func (r *Folders) GetByServerIDIn(ctx context.Context, q store.Querier, serverID string) (*model.Folder, error) {
	row := q.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE server_id = ?`, serverID)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("folder with server id %s: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns all live folders, walking the tree top-down: parents before
// children, siblings in sort order.
func (r *Folders) List(ctx context.Context) ([]*model.Folder, error) {
	rows, err := r.db.RawDB().QueryContext(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE is_deleted = 0
		ORDER BY depth ASC, sort_order ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// GetChildren returns the live children of a folder in sort order. An empty
// parentID returns the roots.
func (r *Folders) GetChildren(ctx context.Context, parentID string) ([]*model.Folder, error) {
	return listChildrenIn(ctx, r.db.RawDB(), parentID)
}

// GetPath returns the chain from the root down to the given folder,
// inclusive.
func (r *Folders) GetPath(ctx context.Context, id string) ([]*model.Folder, error) {
	// Walk leaf to root, numbering the hops, then flip the order.
	rows, err := r.db.RawDB().QueryContext(ctx, `
		WITH RECURSIVE lineage AS (
			SELECT `+folderColumns+`, 0 AS hop
			FROM folders WHERE id = ?
			UNION ALL
			SELECT `+prefixColumns(folderColumns, "f.")+`, l.hop + 1
			FROM folders f
			JOIN lineage l ON f.id = l.parent_id
		)
		SELECT `+folderColumns+` FROM lineage ORDER BY hop DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve folder path: %w", err)
	}
	defer rows.Close()

	path, err := scanFolders(rows)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	return path, nil
}

// Update writes name, icon, and color and enqueues the change. Structural
// fields (parent, depth, sort order) are preserved from the stored row; use
// Move to change them. Renaming a system folder is rejected.
func (r *Folders) Update(ctx context.Context, f *model.Folder) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stored, err := r.GetByIDIn(ctx, tx, f.ID)
		if err != nil {
			return err
		}
		if stored.IsSystem && !strings.EqualFold(stored.Name, f.Name) {
			return fmt.Errorf("folder %q: %w", stored.Name, ErrSystemFolder)
		}
		if !strings.EqualFold(stored.Name, f.Name) {
			taken, err := nameTakenIn(ctx, tx, f.Name, f.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("folder %q: %w", f.Name, ErrDuplicateName)
			}
		}

		f.IsSystem = stored.IsSystem
		f.ParentID = stored.ParentID
		f.Depth = stored.Depth
		f.SortOrder = stored.SortOrder
		f.Touch()
		f.SyncStatus = model.SyncStatusPending
		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid folder: %w", err)
		}
		return r.writeChangeIn(ctx, tx, f)
	})
}

// Move reparents a folder and places it at the given position among its new
// siblings (negative or past-the-end positions append). Depths are
// recomputed across the whole subtree and both sibling sets are
// re-normalized; every row that changed is enqueued so other devices
// converge on the same tree.
func (r *Folders) Move(ctx context.Context, id, newParentID string, position int) error {
	if newParentID == id {
		return fmt.Errorf("folder %s: %w", id, ErrCycle)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		f, err := r.GetByIDIn(ctx, tx, id)
		if err != nil {
			return err
		}
		if f.IsDeleted {
			return fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		if f.IsSystem {
			return fmt.Errorf("folder %q: %w", f.Name, ErrSystemFolder)
		}

		newDepth := 0
		if newParentID != "" {
			parent, err := r.GetByIDIn(ctx, tx, newParentID)
			if err != nil {
				return fmt.Errorf("target folder: %w", err)
			}
			if parent.IsDeleted {
				return fmt.Errorf("target folder %s: %w", newParentID, ErrNotFound)
			}
			inside, err := isDescendantIn(ctx, tx, id, newParentID)
			if err != nil {
				return err
			}
			if inside {
				return fmt.Errorf("folder %s into its own subtree: %w", id, ErrCycle)
			}
			newDepth = parent.Depth + 1
		}

		oldParentID := f.ParentID
		depthDelta := newDepth - f.Depth

		// Shift every descendant by the depth delta.
		if depthDelta != 0 {
			descendants, err := r.descendantsIn(ctx, tx, id)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				d.Depth += depthDelta
				d.Touch()
				d.SyncStatus = model.SyncStatusPending
				if err := r.writeChangeIn(ctx, tx, d); err != nil {
					return err
				}
			}
		}

		// Close the gap in the old sibling set.
		if oldParentID != newParentID {
			oldSiblings, err := listChildrenIn(ctx, tx, oldParentID)
			if err != nil {
				return err
			}
			rank := 0
			for _, s := range oldSiblings {
				if s.ID == id {
					continue
				}
				if s.SortOrder != rank {
					s.SortOrder = rank
					s.Touch()
					s.SyncStatus = model.SyncStatusPending
					if err := r.writeChangeIn(ctx, tx, s); err != nil {
						return err
					}
				}
				rank++
			}
		}

		// Slot the folder into the new sibling set.
		newSiblings, err := listChildrenIn(ctx, tx, newParentID)
		if err != nil {
			return err
		}
		ordered := make([]*model.Folder, 0, len(newSiblings)+1)
		for _, s := range newSiblings {
			if s.ID != id {
				ordered = append(ordered, s)
			}
		}
		if position < 0 || position > len(ordered) {
			position = len(ordered)
		}
		f.ParentID = newParentID
		f.Depth = newDepth
		ordered = append(ordered[:position], append([]*model.Folder{f}, ordered[position:]...)...)

		for rank, s := range ordered {
			changed := s.SortOrder != rank || s.ID == id
			s.SortOrder = rank
			if !changed {
				continue
			}
			s.Touch()
			s.SyncStatus = model.SyncStatusPending
			if err := s.Validate(); err != nil {
				return fmt.Errorf("invalid folder: %w", err)
			}
			if err := r.writeChangeIn(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete soft-deletes an empty folder and enqueues the deletion. System
// folders and folders that still hold live notes or subfolders are rejected.
// Already-deleted folders are left alone.
func (r *Folders) Delete(ctx context.Context, id string) error {
	f, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f.IsDeleted {
		return nil
	}
	if f.IsSystem {
		return fmt.Errorf("folder %q: %w", f.Name, ErrSystemFolder)
	}
	f.MarkDeleted()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var occupied int
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM folders WHERE parent_id = ? AND is_deleted = 0)
			    OR EXISTS(SELECT 1 FROM notes WHERE folder_id = ? AND is_deleted = 0)`,
			id, id).Scan(&occupied)
		if err != nil {
			return fmt.Errorf("failed to check folder contents: %w", err)
		}
		if occupied != 0 {
			return fmt.Errorf("folder %q: %w", f.Name, ErrFolderNotEmpty)
		}

		queued, err := r.queue.EnqueueIn(ctx, tx, model.EntityFolder, id, model.OpDelete, nil)
		if err != nil {
			return err
		}
		if !queued {
			f.SyncStatus = model.SyncStatusSynced
		}
		return updateFolderIn(ctx, tx, f)
	})
}

// Count returns the number of live folders.
func (r *Folders) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.RawDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM folders WHERE is_deleted = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count folders: %w", err)
	}
	return count, nil
}

// MarkSynced records a server acknowledgment for the folder.
func (r *Folders) MarkSynced(ctx context.Context, id, serverID string, at time.Time) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return r.MarkSyncedIn(ctx, tx, id, serverID, at)
	})
}

// MarkSyncedIn is MarkSynced inside a caller-managed transaction.
func (r *Folders) MarkSyncedIn(ctx context.Context, q store.Querier, id, serverID string, at time.Time) error {
	stillPending, err := r.queue.HasPendingIn(ctx, q, model.EntityFolder, id)
	if err != nil {
		return err
	}
	status := model.SyncStatusSynced
	if stillPending {
		status = model.SyncStatusPending
	}

	query := `UPDATE folders SET sync_status = ?, synced_at = ?`
	args := []any{status, formatTime(at)}
	if serverID != "" {
		query += `, server_id = ?`
		args = append(args, serverID)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark folder %s synced: %w", id, err)
	}
	return nil
}

// MarkSyncError stamps the folder with a terminal sync status.
func (r *Folders) MarkSyncError(ctx context.Context, id string) error {
	_, err := r.db.RawDB().ExecContext(ctx,
		`UPDATE folders SET sync_status = ? WHERE id = ?`, model.SyncStatusError, id)
	if err != nil {
		return fmt.Errorf("failed to mark folder %s errored: %w", id, err)
	}
	return nil
}

// ApplyRemoteIn applies a remote version inside the pull transaction using
// last-write-wins on UpdatedAt. The caller has already mapped the remote
// parent reference to a local folder id. A remote folder this device has no
// server-id binding for is first matched against live local folders by name;
// a match adopts the server id instead of inserting a duplicate (both sides
// seed the same stock set on a fresh account).
func (r *Folders) ApplyRemoteIn(ctx context.Context, q store.Querier, remote *model.Folder) (ApplyResult, error) {
	if remote.ServerID == "" {
		return 0, fmt.Errorf("remote folder %s has no server id", remote.ID)
	}

	local, err := r.GetByServerIDIn(ctx, q, remote.ServerID)
	if err != nil && !isNotFound(err) {
		return 0, err
	}

	adopted := false
	if local == nil {
		local, err = matchUnboundFolderIn(ctx, q, remote.Name)
		if err != nil {
			return 0, err
		}
		adopted = local != nil
	}

	now := time.Now().UTC()
	if local == nil {
		if remote.IsDeleted {
			return ApplySkippedMissing, nil
		}
		remote.SetDefaults()
		remote.SyncStatus = model.SyncStatusSynced
		remote.SyncedAt = &now
		if err := insertFolderIn(ctx, q, remote); err != nil {
			return 0, err
		}
		return ApplyInserted, nil
	}

	if adopted {
		// Bind the server id even when the content loses last-write-wins,
		// so the next push patches instead of re-creating.
		if _, err := q.ExecContext(ctx,
			`UPDATE folders SET server_id = ? WHERE id = ?`, remote.ServerID, local.ID); err != nil {
			return 0, fmt.Errorf("failed to adopt server id for folder %s: %w", local.ID, err)
		}
	}

	if remote.UpdatedAt.Equal(local.UpdatedAt) {
		return ApplySkippedEqual, nil
	}
	if remote.UpdatedAt.Before(local.UpdatedAt) {
		return ApplySkippedOlder, nil
	}

	remote.ID = local.ID
	remote.IsSystem = remote.IsSystem || local.IsSystem
	remote.SyncStatus = model.SyncStatusSynced
	remote.SyncedAt = &now
	if err := updateFolderIn(ctx, q, remote); err != nil {
		return 0, err
	}
	if remote.IsDeleted && !local.IsDeleted {
		return ApplyDeleted, nil
	}
	return ApplyUpdated, nil
}

// writeChangeIn updates the folder row and enqueues the update entry.
func (r *Folders) writeChangeIn(ctx context.Context, q store.Querier, f *model.Folder) error {
	if err := updateFolderIn(ctx, q, f); err != nil {
		return err
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to snapshot folder: %w", err)
	}
	_, err = r.queue.EnqueueIn(ctx, q, model.EntityFolder, f.ID, model.OpUpdate, payload)
	return err
}

// descendantsIn returns every folder below root, excluding root itself.
func (r *Folders) descendantsIn(ctx context.Context, q store.Querier, rootID string) ([]*model.Folder, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id
		)
		SELECT `+folderColumns+`
		FROM folders
		WHERE id IN (SELECT id FROM subtree) AND id != ?`, rootID, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect subtree: %w", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// isDescendantIn reports whether candidateID sits in the subtree rooted at
// rootID (root included).
func isDescendantIn(ctx context.Context, q store.Querier, rootID, candidateID string) (bool, error) {
	var found int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id
		)
		SELECT EXISTS(SELECT 1 FROM subtree WHERE id = ?)`, rootID, candidateID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check subtree membership: %w", err)
	}
	return found != 0, nil
}

// listChildrenIn returns the live children of parentID in sort order
// (empty parentID = roots).
func listChildrenIn(ctx context.Context, q store.Querier, parentID string) ([]*model.Folder, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE is_deleted = 0 AND `+parentCond(parentID)+`
		ORDER BY sort_order ASC, name ASC`, parentArgs(parentID)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// nameTakenIn reports whether another live folder already uses the name,
// case-insensitively.
func nameTakenIn(ctx context.Context, q store.Querier, name, excludeID string) (bool, error) {
	var taken int
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM folders
			WHERE is_deleted = 0 AND LOWER(name) = LOWER(?) AND id != ?
		)`, name, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check folder name: %w", err)
	}
	return taken != 0, nil
}

// matchUnboundFolderIn finds a live local folder with the given name that
// has no server id yet.
func matchUnboundFolderIn(ctx context.Context, q store.Querier, name string) (*model.Folder, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE is_deleted = 0 AND server_id IS NULL AND LOWER(name) = LOWER(?)
		LIMIT 1`, name)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// parentCond returns the WHERE fragment selecting children of a parent;
// parentArgs returns its bind arguments. Roots have a NULL parent.
func parentCond(parentID string) string {
	if parentID == "" {
		return "parent_id IS NULL"
	}
	return "parent_id = ?"
}

func parentArgs(parentID string) []any {
	if parentID == "" {
		return nil
	}
	return []any{parentID}
}

// prefixColumns qualifies every column in a comma-separated list with a
// table alias, for use inside joins.
func prefixColumns(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func insertFolderIn(ctx context.Context, q store.Querier, f *model.Folder) error {
	query := `
	INSERT INTO folders (
		id, server_id, name, icon, color, is_system, parent_id,
		sort_order, depth, is_deleted, deleted_at, created_at, updated_at, synced_at, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		f.ID,
		stringToNull(f.ServerID),
		f.Name,
		f.Icon,
		f.Color,
		boolToInt(f.IsSystem),
		stringToNull(f.ParentID),
		f.SortOrder,
		f.Depth,
		boolToInt(f.IsDeleted),
		timeToNullString(f.DeletedAt),
		formatTime(f.CreatedAt),
		formatTime(f.UpdatedAt),
		timeToNullString(f.SyncedAt),
		f.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to insert folder %s: %w", f.ID, err)
	}
	return nil
}

func updateFolderIn(ctx context.Context, q store.Querier, f *model.Folder) error {
	query := `
	UPDATE folders SET
		server_id = ?, name = ?, icon = ?, color = ?, is_system = ?, parent_id = ?,
		sort_order = ?, depth = ?, is_deleted = ?, deleted_at = ?,
		created_at = ?, updated_at = ?, synced_at = ?, sync_status = ?
	WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		stringToNull(f.ServerID),
		f.Name,
		f.Icon,
		f.Color,
		boolToInt(f.IsSystem),
		stringToNull(f.ParentID),
		f.SortOrder,
		f.Depth,
		boolToInt(f.IsDeleted),
		timeToNullString(f.DeletedAt),
		formatTime(f.CreatedAt),
		formatTime(f.UpdatedAt),
		timeToNullString(f.SyncedAt),
		f.SyncStatus,
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update folder %s: %w", f.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("folder %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

func scanFolders(rows *sql.Rows) ([]*model.Folder, error) {
	var folders []*model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate folder rows: %w", err)
	}
	return folders, nil
}

func scanFolder(row rowScanner) (*model.Folder, error) {
	var (
		f          model.Folder
		serverID   sql.NullString
		parentID   sql.NullString
		isSystem   int
		isDeleted  int
		deletedAt  sql.NullString
		createdAt  string
		updatedAt  string
		syncedAt   sql.NullString
		syncStatus string
	)
	err := row.Scan(&f.ID, &serverID, &f.Name, &f.Icon, &f.Color, &isSystem, &parentID,
		&f.SortOrder, &f.Depth, &isDeleted, &deletedAt, &createdAt, &updatedAt, &syncedAt, &syncStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan folder: %w", err)
	}

	f.ServerID = nullToString(serverID)
	f.ParentID = nullToString(parentID)
	f.IsSystem = isSystem != 0
	f.IsDeleted = isDeleted != 0
	f.SyncStatus = model.SyncStatus(syncStatus)

	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if f.DeletedAt, err = nullStringToTime(deletedAt); err != nil {
		return nil, err
	}
	if f.SyncedAt, err = nullStringToTime(syncedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
