package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/store"
)

// Keys in the engine_state table. Watermarks are stored per entity type as
// watermark_notes, watermark_folders and watermark_actions.
const (
	keyBootstrap  = "bootstrap"
	keyDeviceID   = "device_id"
	keyLastSyncAt = "last_sync_at"
	keyLastError  = "last_error"

	// bootstrapHydrated marks the initial pull complete. A missing key or
	// any other value means hydration has not finished and must (re)run.
	bootstrapHydrated = "hydrated"
)

func watermarkKey(t model.EntityType) string {
	return "watermark_" + string(t) + "s"
}

// hydrated reports whether the one-time initial pull has completed.
func (e *engine) hydrated(ctx context.Context) (bool, error) {
	v, ok, err := e.db.StateGet(ctx, keyBootstrap)
	if err != nil {
		return false, fmt.Errorf("failed to read bootstrap state: %w", err)
	}
	return ok && v == bootstrapHydrated, nil
}

// watermark returns the last pulled updated_at for an entity type, or nil
// when that type has never been pulled.
func (e *engine) watermark(ctx context.Context, t model.EntityType) (*time.Time, error) {
	v, ok, err := e.db.StateGet(ctx, watermarkKey(t))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s watermark: %w", t, err)
	}
	if !ok || v == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s watermark %q: %w", t, v, err)
	}
	return &ts, nil
}

// setWatermarkIn advances a watermark inside the transaction that applied
// the page it describes, so a crash can re-pull but never skip.
func setWatermarkIn(ctx context.Context, q store.Querier, t model.EntityType, ts time.Time) error {
	return store.StateSetIn(ctx, q, watermarkKey(t), ts.UTC().Format(time.RFC3339Nano))
}

// DeviceID implements Engine.DeviceID.
func (e *engine) DeviceID(ctx context.Context) (string, error) {
	v, ok, err := e.db.StateGet(ctx, keyDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && v != "" {
		return v, nil
	}
	id := uuid.NewString()
	if err := e.db.StateSet(ctx, keyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	e.log.Debug().Str("device_id", id).Msg("assigned device id")
	return id, nil
}

// recordSuccess stamps a completed round and clears any stored error.
func (e *engine) recordSuccess(ctx context.Context, at time.Time) {
	if err := e.db.StateSet(ctx, keyLastSyncAt, at.UTC().Format(time.RFC3339Nano)); err != nil {
		e.log.Error().Err(err).Msg("failed to record sync time")
	}
	if err := e.db.StateSet(ctx, keyLastError, ""); err != nil {
		e.log.Error().Err(err).Msg("failed to clear sync error")
	}
}

// recordError stores the round's failure for status displays.
func (e *engine) recordError(ctx context.Context, runErr error) {
	if err := e.db.StateSet(ctx, keyLastError, runErr.Error()); err != nil {
		e.log.Error().Err(err).Msg("failed to record sync error")
	}
}

// lastSyncAt returns the completion time of the last successful round, zero
// when none has completed yet.
func (e *engine) lastSyncAt(ctx context.Context) (time.Time, error) {
	v, ok, err := e.db.StateGet(ctx, keyLastSyncAt)
	if err != nil || !ok || v == "" {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time %q: %w", v, err)
	}
	return ts, nil
}

// lastError returns the stored failure of the most recent round, empty when
// it succeeded.
func (e *engine) lastError(ctx context.Context) (string, error) {
	v, _, err := e.db.StateGet(ctx, keyLastError)
	if err != nil {
		return "", err
	}
	return v, nil
}
