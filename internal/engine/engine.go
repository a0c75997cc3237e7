package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/flight"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/store"
)

// Config tunes a sync round.
type Config struct {
	// PageSize is how many remote changes one pull request fetches.
	PageSize int
	// PushBatch is how many queue entries one drain pass loads.
	PushBatch int
	// MaxAttempts is the retry ceiling for failed entries. At or past it an
	// entry stays parked until a manual retry.
	MaxAttempts int
}

// DefaultConfig returns the tuning used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		PageSize:    100,
		PushBatch:   50,
		MaxAttempts: 5,
	}
}

type engine struct {
	db     *store.Store
	repos  *repo.Repos
	client *api.Client
	cfg    Config
	log    zerolog.Logger

	// group collapses concurrent Sync calls into one run and detaches the
	// run from its trigger's context, so a started round finishes even if
	// the caller gives up waiting.
	group flight.Group[Result]

	mu      sync.Mutex
	prog    Progress
	uploads map[string]UploadProgress
	subs    map[int]chan Progress
	nextSub int
}

// New returns an Engine over an opened store and API client. Zero Config
// fields fall back to DefaultConfig.
func New(db *store.Store, repos *repo.Repos, client *api.Client, cfg Config, logger zerolog.Logger) Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PushBatch <= 0 {
		cfg.PushBatch = def.PushBatch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &engine{
		db:      db,
		repos:   repos,
		client:  client,
		cfg:     cfg,
		log:     logger.With().Str("component", "engine").Logger(),
		prog:    Progress{State: StateIdle},
		uploads: make(map[string]UploadProgress),
		subs:    make(map[int]chan Progress),
	}
}

// Hydrate implements Engine.Hydrate.
func (e *engine) Hydrate(ctx context.Context) error {
	ok, err := e.hydrated(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = e.group.Do(ctx, e.run)
	return err
}

// Sync implements Engine.Sync.
func (e *engine) Sync(ctx context.Context) (Result, error) {
	return e.group.Do(ctx, e.run)
}

// Stats implements Engine.Stats.
func (e *engine) Stats() flight.Metrics {
	return e.group.Stats()
}

// run is one full round: hydration when the database is fresh, then push,
// then pull. flight.Group guarantees at most one run at a time.
func (e *engine) run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	hydrated, err := e.hydrated(ctx)
	if err != nil {
		return res, e.fail(ctx, err)
	}
	if !hydrated {
		if err := e.hydrate(ctx, &res); err != nil {
			res.Duration = time.Since(start)
			return res, e.fail(ctx, err)
		}
	}

	e.setState(StateSyncing)
	if err := e.push(ctx, &res); err != nil {
		res.Duration = time.Since(start)
		return res, e.fail(ctx, fmt.Errorf("failed to push changes: %w", err))
	}
	if err := e.pull(ctx, &res); err != nil {
		res.Duration = time.Since(start)
		return res, e.fail(ctx, fmt.Errorf("failed to pull changes: %w", err))
	}

	res.Duration = time.Since(start)
	e.finish(ctx, res)
	e.log.Info().
		Int("pushed", res.Pushed).
		Int("pulled", res.Pulled).
		Int("deferred", res.Deferred).
		Int("failed", res.Failed).
		Int("rejected", res.Rejected).
		Dur("took", res.Duration).
		Msg("sync round complete")
	return res, nil
}

// hydrate seeds an empty database with a full pull, seeds the stock folders
// if the account had none, and persists the bootstrap marker last so an
// interrupted hydration reruns from scratch.
func (e *engine) hydrate(ctx context.Context, res *Result) error {
	e.setState(StateHydrating)
	e.log.Info().Msg("hydrating local database")
	start := time.Now()

	// Tombstones are useless against an empty database; skip them and let
	// the first incremental pull discard any the watermark missed.
	if err := e.pullAll(ctx, res, false); err != nil {
		return fmt.Errorf("failed to hydrate: %w", err)
	}
	if err := e.repos.Folders.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed default folders: %w", err)
	}
	if err := e.db.StateSet(ctx, keyBootstrap, bootstrapHydrated); err != nil {
		return fmt.Errorf("failed to persist bootstrap state: %w", err)
	}

	e.log.Info().
		Int("pulled", res.Pulled).
		Dur("took", time.Since(start)).
		Msg("hydration complete")
	return nil
}

// fail records a round failure and moves to StateError. Returns err so
// callers can propagate in one line.
func (e *engine) fail(ctx context.Context, err error) error {
	e.log.Error().Err(err).Msg("sync round failed")
	e.recordError(ctx, err)

	e.mu.Lock()
	e.prog.State = StateError
	e.prog.LastError = err.Error()
	e.publishLocked()
	e.mu.Unlock()
	return err
}

// finish records a completed round and returns the engine to idle.
func (e *engine) finish(ctx context.Context, res Result) {
	now := time.Now().UTC()
	e.recordSuccess(ctx, now)

	pending, perr := e.repos.Queue.PendingCount(ctx)
	if perr != nil {
		e.log.Error().Err(perr).Msg("failed to refresh pending count")
	}
	failed, ferr := e.repos.Queue.FailedCount(ctx)
	if ferr != nil {
		e.log.Error().Err(ferr).Msg("failed to refresh failed count")
	}

	e.mu.Lock()
	e.prog.State = StateIdle
	e.prog.Hydrated = true
	e.prog.Round = res
	e.prog.LastSyncAt = now
	e.prog.LastError = ""
	if perr == nil {
		e.prog.Pending = pending
	}
	if ferr == nil {
		e.prog.Failed = failed
	}
	e.publishLocked()
	e.mu.Unlock()
}
