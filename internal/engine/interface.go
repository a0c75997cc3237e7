// Package engine drives offline-first synchronization between the local
// database and the Glide backend. A sync round pushes the durable change
// queue oldest-first, then pulls remote changes per entity type from a
// persisted watermark, resolving conflicts by last-write-wins on the
// entity's updated_at. A brand-new database goes through hydration first:
// a one-time full pull that seeds the local store before the first round.
//
// The engine is safe for concurrent use. Overlapping Sync calls collapse
// into a single round whose result every caller shares, and a started round
// always runs to completion even if the caller that triggered it goes away.
package engine

import (
	"context"
	"time"

	"github.com/glideapp/glide-sync/internal/flight"
)

// Engine coordinates hydration and sync rounds against the backend.
type Engine interface {
	// Hydrate performs the one-time initial pull that seeds an empty local
	// database, then runs a normal round so offline work queued before
	// login is pushed as well. Hydration is idempotent: once the bootstrap
	// marker is persisted, Hydrate returns immediately, and an interrupted
	// hydration simply reruns from scratch on the next call.
	//
	// Example:
	//
	//	if err := eng.Hydrate(ctx); err != nil {
	//		return fmt.Errorf("initial sync failed: %w", err)
	//	}
	Hydrate(ctx context.Context) error

	// Sync runs one push+pull round and returns its counts. Concurrent
	// callers while a round is in flight share that round's result instead
	// of starting another. If the database has never been hydrated, the
	// round begins with hydration.
	//
	// Example:
	//
	//	res, err := eng.Sync(ctx)
	//	if err != nil {
	//		log.Error().Err(err).Msg("sync failed")
	//	} else {
	//		log.Info().Int("pushed", res.Pushed).Int("pulled", res.Pulled).Msg("in sync")
	//	}
	//
	// Returns an error when the backend rejects the credentials, the
	// network is unreachable mid-round, or the local database fails.
	// Individual entries that fail to push do not fail the round; they are
	// recorded on the queue and counted in the result.
	Sync(ctx context.Context) (Result, error)

	// State reports the engine's current lifecycle state.
	State() State

	// Progress returns the most recent in-memory progress snapshot. It is
	// cheap and safe to call from render loops.
	Progress() Progress

	// Snapshot refreshes queue counters and persisted sync state from the
	// database and returns the resulting progress. Use this for one-shot
	// status displays in a fresh process.
	Snapshot(ctx context.Context) (Progress, error)

	// Subscribe registers a progress listener. The returned channel
	// receives a snapshot after every meaningful transition (state change,
	// batch pushed, page applied, upload progress). Slow consumers miss
	// intermediate snapshots rather than blocking the engine. The returned
	// func unsubscribes and closes the channel.
	Subscribe() (<-chan Progress, func())

	// DeviceID returns this installation's stable identifier, generating
	// and persisting one on first use.
	DeviceID(ctx context.Context) (string, error)

	// ReportUpload feeds recording-upload progress into the progress
	// stream. sent == total marks the upload finished and drops it from
	// subsequent snapshots.
	ReportUpload(file string, sent, total int64)

	// Stats reports how many rounds ran and how many concurrent callers
	// were collapsed into an already-running round.
	Stats() flight.Metrics
}

// State is the engine's lifecycle state.
type State string

const (
	// StateIdle means no round is running.
	StateIdle State = "idle"
	// StateHydrating means the one-time initial pull is running.
	StateHydrating State = "hydrating"
	// StateSyncing means a push+pull round is running.
	StateSyncing State = "syncing"
	// StateError means the last round failed; the next Sync clears it.
	StateError State = "error"
)

// Result is the outcome of one sync round. Counts accumulate across the
// hydration, push and pull phases of the round.
type Result struct {
	// Pushed counts queue entries acknowledged by the server.
	Pushed int `json:"pushed"`
	// Failed counts entries that hit a retryable error this round.
	Failed int `json:"failed"`
	// Rejected counts entries the server refused permanently this round.
	Rejected int `json:"rejected"`
	// Deferred counts work postponed to a later round: pushes waiting on
	// an unassigned server id and pulls skipped while local changes for
	// the same entity are still queued.
	Deferred int `json:"deferred"`
	// Pulled counts remote changes applied locally.
	Pulled int `json:"pulled"`
	// Skipped counts remote changes ignored by conflict resolution.
	Skipped int `json:"skipped"`
	// Duration is the wall-clock time of the round.
	Duration time.Duration `json:"duration"`
}

// Progress is a point-in-time view of the engine for status displays.
type Progress struct {
	State    State `json:"state"`
	Hydrated bool  `json:"hydrated"`
	// Pending and Failed are queue depths as of the last refresh.
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	// Round holds the counts of the running or most recently finished
	// round.
	Round Result `json:"round"`
	// Uploads lists recordings currently being uploaded, ordered by file
	// name.
	Uploads []UploadProgress `json:"uploads,omitempty"`
	// LastSyncAt is zero until a round has completed successfully.
	LastSyncAt time.Time `json:"last_sync_at"`
	LastError  string    `json:"last_error,omitempty"`
	// At is when this snapshot was taken.
	At time.Time `json:"at"`
}

// UploadProgress describes one in-flight recording upload.
type UploadProgress struct {
	File  string `json:"file"`
	Sent  int64  `json:"sent"`
	Total int64  `json:"total"`
}
