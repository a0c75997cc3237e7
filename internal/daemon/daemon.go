// Package daemon runs the background sync loop.
//
// The daemon owns trigger policy: rounds run on an interval, when
// connectivity comes back after an outage, when a recording lands in the
// spool, and on demand. Automatic triggers are debounced so a burst of
// activity produces one round; manual triggers bypass the debounce. The
// engine itself collapses overlapping rounds, so the daemon never tracks
// whether one is already running.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/engine"
	"github.com/glideapp/glide-sync/internal/media"
	"github.com/glideapp/glide-sync/internal/status"
)

// Config holds daemon configuration.
type Config struct {
	// SyncInterval is how often a round runs with no other trigger.
	SyncInterval time.Duration

	// PollInterval is how often connectivity is probed.
	PollInterval time.Duration

	// Debounce is the minimum gap between automatic rounds. Manual
	// triggers ignore it.
	Debounce time.Duration

	// SpoolDir is the directory recordings land in. Empty disables the
	// spool watcher.
	SpoolDir string

	// SpoolDebounce is how long the spool must stay quiet before its
	// backlog is processed.
	SpoolDebounce time.Duration

	// StatusAddr is the host:port for the local status feed. Empty
	// disables it.
	StatusAddr string
}

// DefaultConfig returns sensible defaults. The spool watcher and status
// feed stay off until configured.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  5 * time.Minute,
		PollInterval:  30 * time.Second,
		Debounce:      10 * time.Second,
		SpoolDebounce: 2 * time.Second,
	}
}

// trigger asks the run loop for a round. force bypasses the debounce.
type trigger struct {
	reason string
	force  bool
}

// Daemon owns the background loop plus the spool watcher and status feed.
type Daemon struct {
	eng      engine.Engine
	client   *api.Client
	uploader *media.Uploader
	cfg      Config
	log      zerolog.Logger

	watcher *media.Watcher
	feed    *status.Server

	triggers chan trigger

	mu      sync.Mutex
	running bool
	online  bool
	lastRun time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a daemon. uploader may be nil when no spool is configured.
func New(eng engine.Engine, client *api.Client, uploader *media.Uploader, cfg Config, logger zerolog.Logger) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.SpoolDebounce <= 0 {
		cfg.SpoolDebounce = def.SpoolDebounce
	}

	return &Daemon{
		eng:      eng,
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		log:      logger.With().Str("component", "daemon").Logger(),
		triggers: make(chan trigger, 8),
		// Assume online until a probe says otherwise; the startup round
		// finds out for real.
		online: true,
	}, nil
}

// Start launches the background goroutines and returns. ctx bounds the
// daemon's lifetime: cancelling it has the same effect as Stop, except Stop
// also waits for the goroutines to drain.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	if d.cfg.StatusAddr != "" {
		d.feed = status.New(d.eng, d.cfg.StatusAddr, d.log)
		if err := d.feed.Start(); err != nil {
			d.teardown()
			return fmt.Errorf("failed to start status feed: %w", err)
		}
	}

	if d.cfg.SpoolDir != "" {
		w, err := media.NewWatcher(d.cfg.SpoolDir, d.cfg.SpoolDebounce, d.log)
		if err != nil {
			d.teardown()
			return err
		}
		if err := w.Start(); err != nil {
			d.teardown()
			return err
		}
		d.watcher = w
		d.wg.Add(1)
		go d.watchSpool(runCtx, w)
	}

	d.wg.Add(3)
	go d.tick(runCtx)
	go d.pollConnectivity(runCtx)
	go d.runLoop(runCtx)

	d.log.Info().
		Dur("interval", d.cfg.SyncInterval).
		Dur("debounce", d.cfg.Debounce).
		Str("spool", d.cfg.SpoolDir).
		Msg("daemon started")

	// Catch up on whatever happened while the daemon was down.
	d.fire(trigger{reason: "startup"})
	return nil
}

// Stop shuts the daemon down and blocks until every goroutine has exited.
// Stopping a daemon that never started is a no-op.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.log.Warn().Err(err).Msg("failed to stop spool watcher")
		}
	}
	if d.feed != nil {
		if err := d.feed.Stop(); err != nil {
			d.log.Warn().Err(err).Msg("failed to stop status feed")
		}
	}
	d.wg.Wait()
	d.log.Info().Msg("daemon stopped")
}

// teardown reverses a partial Start.
func (d *Daemon) teardown() {
	d.mu.Lock()
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()
	cancel()
	if d.feed != nil {
		_ = d.feed.Stop()
	}
}

// Running reports whether the daemon has been started and not yet stopped.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// SyncNow queues an immediate round, bypassing the debounce window. It does
// not wait for the round to finish.
func (d *Daemon) SyncNow() {
	d.fire(trigger{reason: "manual", force: true})
}

// StatusAddr returns the address of the status feed, or empty when the feed
// is off.
func (d *Daemon) StatusAddr() string {
	if d.feed == nil {
		return ""
	}
	return d.feed.Addr()
}

// fire queues a trigger without blocking. When the queue is full a round is
// imminent anyway, so dropping is fine.
func (d *Daemon) fire(tr trigger) {
	select {
	case d.triggers <- tr:
	default:
	}
}

// runLoop serializes rounds: one trigger, one round.
func (d *Daemon) runLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-d.triggers:
			if !tr.force && !d.due() {
				d.log.Debug().Str("reason", tr.reason).Msg("trigger debounced")
				continue
			}
			d.runOnce(ctx, tr.reason)
		}
	}
}

// due reports whether enough time has passed since the last round for an
// automatic trigger to fire.
func (d *Daemon) due() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRun.IsZero() || time.Since(d.lastRun) >= d.cfg.Debounce
}

func (d *Daemon) runOnce(ctx context.Context, reason string) {
	d.mu.Lock()
	d.lastRun = time.Now()
	d.mu.Unlock()

	// Spooled recordings first: their uploads enqueue note updates that
	// the round about to run should carry.
	if d.uploader != nil {
		if n, err := d.uploader.UploadPending(ctx); err != nil {
			d.log.Warn().Err(err).Msg("spool uploads incomplete")
		} else if n > 0 {
			d.log.Info().Int("uploaded", n).Msg("spool drained")
		}
	}

	res, err := d.eng.Sync(ctx)
	if err != nil {
		d.log.Error().Err(err).Str("reason", reason).Msg("sync round failed")
		return
	}
	d.log.Info().
		Str("reason", reason).
		Int("pushed", res.Pushed).
		Int("pulled", res.Pulled).
		Dur("took", res.Duration).
		Msg("sync round complete")
}

// tick fires the interval trigger.
func (d *Daemon) tick(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.fire(trigger{reason: "interval"})
		}
	}
}

// pollConnectivity probes the API and fires a trigger on the offline-to-
// online transition, so edits made during an outage push as soon as the
// network returns instead of waiting out the interval.
func (d *Daemon) pollConnectivity(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := d.client.Ping(probeCtx)
			cancel()

			now := err == nil
			d.mu.Lock()
			was := d.online
			d.online = now
			d.mu.Unlock()

			if now && !was {
				d.log.Info().Msg("connectivity restored")
				d.fire(trigger{reason: "online"})
			}
		}
	}
}

// watchSpool forwards spool activity to the trigger queue.
func (d *Daemon) watchSpool(ctx context.Context, w *media.Watcher) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.C():
			if !ok {
				return
			}
			d.fire(trigger{reason: "recording spooled"})
		}
	}
}
