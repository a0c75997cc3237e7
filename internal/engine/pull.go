package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/store"
)

// pull fetches remote changes newer than each entity type's watermark and
// applies them with last-write-wins. Folders land first so note and action
// references resolve, notes before actions for the same reason.
func (e *engine) pull(ctx context.Context, res *Result) error {
	return e.pullAll(ctx, res, true)
}

func (e *engine) pullAll(ctx context.Context, res *Result, includeDeleted bool) error {
	if err := e.pullFolders(ctx, res, includeDeleted); err != nil {
		return err
	}
	if err := e.pullNotes(ctx, res, includeDeleted); err != nil {
		return err
	}
	return e.pullActions(ctx, res, includeDeleted)
}

// pullFolders pages folder changes down. Pages arrive ordered by updated_at,
// which is not parent-before-child, so each page applies in dependency
// passes and anything whose parent has not arrived yet is parked until all
// pages landed.
func (e *engine) pullFolders(ctx context.Context, res *Result, includeDeleted bool) error {
	since, err := e.watermark(ctx, model.EntityFolder)
	if err != nil {
		return err
	}

	var orphans []api.FolderDTO
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		dtos, hasMore, err := e.client.ListFolders(ctx, api.ListQuery{
			Since:          since,
			IncludeDeleted: includeDeleted,
			Page:           page,
			PerPage:        e.cfg.PageSize,
		})
		if err != nil {
			return err
		}
		if len(dtos) == 0 {
			break
		}

		err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
			stuck, wm, err := e.applyFolderSet(ctx, tx, dtos, res)
			if err != nil {
				return err
			}
			orphans = append(orphans, stuck...)
			if !wm.IsZero() {
				return setWatermarkIn(ctx, tx, model.EntityFolder, wm)
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.publishRound(*res)

		if !hasMore {
			break
		}
	}

	if len(orphans) > 0 {
		if err := e.applyOrphanFolders(ctx, orphans, res); err != nil {
			return err
		}
		e.publishRound(*res)
	}
	return nil
}

// applyFolderSet applies every DTO whose parent is resolvable, making
// passes until nothing more resolves. Returns the still-blocked DTOs and
// the newest applied updated_at.
func (e *engine) applyFolderSet(ctx context.Context, tx *sql.Tx, dtos []api.FolderDTO, res *Result) ([]api.FolderDTO, time.Time, error) {
	var watermark time.Time
	remaining := dtos
	for len(remaining) > 0 {
		progress := false
		var blocked []api.FolderDTO
		for _, d := range remaining {
			parentID, depth, ok, err := e.resolveParent(ctx, tx, d.ParentID)
			if err != nil {
				return nil, time.Time{}, err
			}
			if !ok {
				blocked = append(blocked, d)
				continue
			}
			if err := e.applyFolder(ctx, tx, d, parentID, depth, res); err != nil {
				return nil, time.Time{}, err
			}
			if d.UpdatedAt.After(watermark) {
				watermark = d.UpdatedAt
			}
			progress = true
		}
		remaining = blocked
		if !progress {
			break
		}
	}
	return remaining, watermark, nil
}

// applyOrphanFolders gives folders that were blocked during paging a final
// resolution pass, now that every page has landed. A parent that never
// arrived at all leaves its child attached at the root rather than dropped;
// the next change to the child reattaches it.
func (e *engine) applyOrphanFolders(ctx context.Context, orphans []api.FolderDTO, res *Result) error {
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		stuck, wm, err := e.applyFolderSet(ctx, tx, orphans, res)
		if err != nil {
			return err
		}
		for _, d := range stuck {
			parentID, depth, ok, err := e.resolveParent(ctx, tx, d.ParentID)
			if err != nil {
				return err
			}
			if !ok {
				e.log.Warn().
					Str("name", d.Name).
					Str("parent_server_id", d.ParentID).
					Msg("folder parent unknown, attaching at root")
				parentID, depth = "", 0
			}
			if err := e.applyFolder(ctx, tx, d, parentID, depth, res); err != nil {
				return err
			}
			if d.UpdatedAt.After(wm) {
				wm = d.UpdatedAt
			}
		}
		if !wm.IsZero() {
			return setWatermarkIn(ctx, tx, model.EntityFolder, wm)
		}
		return nil
	})
}

// applyFolder applies one remote folder unless local changes for it are
// still queued, in which case the local version rides out this round and
// the push phase reconciles.
func (e *engine) applyFolder(ctx context.Context, tx *sql.Tx, d api.FolderDTO, parentID string, depth int, res *Result) error {
	deferred, err := e.deferApply(ctx, tx, model.EntityFolder, d.ID, res)
	if err != nil || deferred {
		return err
	}
	outcome, err := e.repos.Folders.ApplyRemoteIn(ctx, tx, d.ToModel(parentID, depth))
	if err != nil {
		return err
	}
	countOutcome(res, outcome)
	return nil
}

func (e *engine) pullNotes(ctx context.Context, res *Result, includeDeleted bool) error {
	since, err := e.watermark(ctx, model.EntityNote)
	if err != nil {
		return err
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		dtos, hasMore, err := e.client.ListNotes(ctx, api.ListQuery{
			Since:          since,
			IncludeDeleted: includeDeleted,
			Page:           page,
			PerPage:        e.cfg.PageSize,
		})
		if err != nil {
			return err
		}
		if len(dtos) == 0 {
			break
		}
		if err := e.applyNotePage(ctx, dtos, res); err != nil {
			return err
		}
		e.publishRound(*res)

		if !hasMore {
			break
		}
	}
	return nil
}

func (e *engine) applyNotePage(ctx context.Context, dtos []api.NoteDTO, res *Result) error {
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var wm time.Time
		for _, d := range dtos {
			deferred, err := e.deferApply(ctx, tx, model.EntityNote, d.ID, res)
			if err != nil {
				return err
			}
			if !deferred {
				folderID, err := e.localFolderID(ctx, tx, d.FolderID)
				if err != nil {
					return err
				}
				outcome, err := e.repos.Notes.ApplyRemoteIn(ctx, tx, d.ToModel(folderID))
				if err != nil {
					return err
				}
				countOutcome(res, outcome)
			}
			if d.UpdatedAt.After(wm) {
				wm = d.UpdatedAt
			}
		}
		if !wm.IsZero() {
			return setWatermarkIn(ctx, tx, model.EntityNote, wm)
		}
		return nil
	})
}

func (e *engine) pullActions(ctx context.Context, res *Result, includeDeleted bool) error {
	since, err := e.watermark(ctx, model.EntityAction)
	if err != nil {
		return err
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		dtos, hasMore, err := e.client.ListActions(ctx, api.ListQuery{
			Since:          since,
			IncludeDeleted: includeDeleted,
			Page:           page,
			PerPage:        e.cfg.PageSize,
		})
		if err != nil {
			return err
		}
		if len(dtos) == 0 {
			break
		}
		if err := e.applyActionPage(ctx, dtos, res); err != nil {
			return err
		}
		e.publishRound(*res)

		if !hasMore {
			break
		}
	}
	return nil
}

func (e *engine) applyActionPage(ctx context.Context, dtos []api.ActionDTO, res *Result) error {
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var wm time.Time
		for _, d := range dtos {
			deferred, err := e.deferApply(ctx, tx, model.EntityAction, d.ID, res)
			if err != nil {
				return err
			}
			if !deferred {
				noteID := ""
				if !d.IsDeleted {
					n, err := e.repos.Notes.GetByServerIDIn(ctx, tx, d.NoteID)
					if errors.Is(err, repo.ErrNotFound) {
						// Notes pull before actions, so a missing note is
						// deleted, not merely unseen. Its actions die with
						// it; skip.
						res.Skipped++
						if d.UpdatedAt.After(wm) {
							wm = d.UpdatedAt
						}
						continue
					}
					if err != nil {
						return err
					}
					noteID = n.ID
				}
				outcome, err := e.repos.Actions.ApplyRemoteIn(ctx, tx, d.ToModel(noteID), d.IsDeleted)
				if err != nil {
					return err
				}
				countOutcome(res, outcome)
			}
			if d.UpdatedAt.After(wm) {
				wm = d.UpdatedAt
			}
		}
		if !wm.IsZero() {
			return setWatermarkIn(ctx, tx, model.EntityAction, wm)
		}
		return nil
	})
}

// deferApply reports whether a remote change must wait because the local
// entity still has queued changes. The watermark advances past deferred
// changes: once the local edits push, the server state converges to them
// anyway.
func (e *engine) deferApply(ctx context.Context, tx *sql.Tx, t model.EntityType, serverID string, res *Result) (bool, error) {
	localID, err := e.localIDFor(ctx, tx, t, serverID)
	if err != nil {
		return false, err
	}
	if localID == "" {
		return false, nil
	}
	pending, err := e.repos.Queue.HasPendingIn(ctx, tx, t, localID)
	if err != nil {
		return false, err
	}
	if pending {
		res.Deferred++
		e.log.Debug().
			Str("type", string(t)).
			Str("entity", localID).
			Msg("pull deferred, local changes still queued")
	}
	return pending, nil
}

// localIDFor maps a server id to the local row id, empty when the entity
// has never been seen locally.
func (e *engine) localIDFor(ctx context.Context, tx *sql.Tx, t model.EntityType, serverID string) (string, error) {
	var localID string
	var err error
	switch t {
	case model.EntityNote:
		var n *model.Note
		if n, err = e.repos.Notes.GetByServerIDIn(ctx, tx, serverID); err == nil {
			localID = n.ID
		}
	case model.EntityFolder:
		var f *model.Folder
		if f, err = e.repos.Folders.GetByServerIDIn(ctx, tx, serverID); err == nil {
			localID = f.ID
		}
	default:
		var a *model.Action
		if a, err = e.repos.Actions.GetByServerIDIn(ctx, tx, serverID); err == nil {
			localID = a.ID
		}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return localID, nil
}

// resolveParent maps a remote parent reference to a local folder id and the
// child's depth. ok is false while the parent has not been pulled yet.
func (e *engine) resolveParent(ctx context.Context, q store.Querier, serverParentID string) (string, int, bool, error) {
	if serverParentID == "" {
		return "", 0, true, nil
	}
	p, err := e.repos.Folders.GetByServerIDIn(ctx, q, serverParentID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return p.ID, p.Depth + 1, true, nil
}

// localFolderID maps a remote folder reference for a note. An unknown
// reference files the note unfiled rather than dropping it.
func (e *engine) localFolderID(ctx context.Context, q store.Querier, serverID string) (string, error) {
	if serverID == "" {
		return "", nil
	}
	f, err := e.repos.Folders.GetByServerIDIn(ctx, q, serverID)
	if errors.Is(err, repo.ErrNotFound) {
		e.log.Warn().
			Str("folder_server_id", serverID).
			Msg("note references unknown folder, filing as unfiled")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func countOutcome(res *Result, outcome repo.ApplyResult) {
	if outcome.Applied() {
		res.Pulled++
	} else {
		res.Skipped++
	}
}
