package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/engine"
	"github.com/glideapp/glide-sync/internal/flight"
)

// countingEngine counts sync rounds; the daemon's trigger policy is what is
// under test, not the engine.
type countingEngine struct {
	mu    sync.Mutex
	syncs int
}

func (e *countingEngine) Hydrate(ctx context.Context) error { return nil }

func (e *countingEngine) Sync(ctx context.Context) (engine.Result, error) {
	e.mu.Lock()
	e.syncs++
	e.mu.Unlock()
	return engine.Result{}, nil
}

func (e *countingEngine) State() engine.State       { return engine.StateIdle }
func (e *countingEngine) Progress() engine.Progress { return engine.Progress{} }

func (e *countingEngine) Snapshot(ctx context.Context) (engine.Progress, error) {
	return engine.Progress{}, nil
}

func (e *countingEngine) Subscribe() (<-chan engine.Progress, func()) {
	ch := make(chan engine.Progress, 1)
	return ch, func() {}
}

func (e *countingEngine) DeviceID(ctx context.Context) (string, error) { return "test-device", nil }
func (e *countingEngine) ReportUpload(file string, sent, total int64)  {}
func (e *countingEngine) Stats() flight.Metrics                        { return flight.Metrics{} }

func (e *countingEngine) rounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncs
}

// healthServer fakes the deployment's health endpoint with a toggle.
type healthServer struct {
	mu      sync.Mutex
	healthy bool
	probes  int
}

func (h *healthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.URL.Path == "/health" {
		h.probes++
		if !h.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *healthServer) setHealthy(v bool) {
	h.mu.Lock()
	h.healthy = v
	h.mu.Unlock()
}

func (h *healthServer) probeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probes
}

func newTestClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	tokens := api.NewTokenSource(
		api.TokenPair{AccessToken: "test-token", RefreshToken: "refresh"},
		func(ctx context.Context, refreshToken string) (api.TokenPair, error) {
			return api.TokenPair{AccessToken: "test-token", RefreshToken: "refresh"}, nil
		},
		nil,
		zerolog.Nop(),
	)
	return api.New(baseURL, tokens, zerolog.Nop())
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemon_StartupRunsARound(t *testing.T) {
	health := &healthServer{healthy: true}
	srv := httptest.NewServer(health)
	defer srv.Close()

	eng := &countingEngine{}
	d, err := New(eng, newTestClient(t, srv.URL), nil, Config{
		SyncInterval: time.Hour,
		PollInterval: time.Hour,
		Debounce:     time.Hour,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	if !d.Running() {
		t.Error("daemon not running after Start()")
	}
	waitFor(t, 2*time.Second, "startup round", func() bool { return eng.rounds() == 1 })
}

func TestDaemon_Lifecycle(t *testing.T) {
	if _, err := New(nil, newTestClient(t, "http://127.0.0.1:1"), nil, Config{}, zerolog.Nop()); err == nil {
		t.Error("New() accepted a nil engine")
	}
	if _, err := New(&countingEngine{}, nil, nil, Config{}, zerolog.Nop()); err == nil {
		t.Error("New() accepted a nil client")
	}

	d, err := New(&countingEngine{}, newTestClient(t, "http://127.0.0.1:1"), nil, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}
	d.Stop()
	if d.Running() {
		t.Error("daemon still running after Stop()")
	}
	d.Stop() // second Stop is a no-op
}

func TestDaemon_DebouncesAutomaticTriggers(t *testing.T) {
	health := &healthServer{healthy: true}
	srv := httptest.NewServer(health)
	defer srv.Close()

	eng := &countingEngine{}
	d, err := New(eng, newTestClient(t, srv.URL), nil, Config{
		SyncInterval: 20 * time.Millisecond,
		PollInterval: time.Hour,
		Debounce:     time.Hour,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "startup round", func() bool { return eng.rounds() == 1 })

	// many interval ticks later, the debounce has swallowed all of them
	time.Sleep(300 * time.Millisecond)
	if got := eng.rounds(); got != 1 {
		t.Errorf("rounds = %d, want 1 (interval triggers inside the debounce window)", got)
	}
}

func TestDaemon_SyncNowBypassesDebounce(t *testing.T) {
	health := &healthServer{healthy: true}
	srv := httptest.NewServer(health)
	defer srv.Close()

	eng := &countingEngine{}
	d, err := New(eng, newTestClient(t, srv.URL), nil, Config{
		SyncInterval: time.Hour,
		PollInterval: time.Hour,
		Debounce:     time.Hour,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "startup round", func() bool { return eng.rounds() == 1 })

	d.SyncNow()
	waitFor(t, 2*time.Second, "manual round", func() bool { return eng.rounds() == 2 })
}

func TestDaemon_SyncsWhenConnectivityReturns(t *testing.T) {
	health := &healthServer{healthy: false}
	srv := httptest.NewServer(health)
	defer srv.Close()

	eng := &countingEngine{}
	d, err := New(eng, newTestClient(t, srv.URL), nil, Config{
		SyncInterval: time.Hour,
		PollInterval: 20 * time.Millisecond,
		Debounce:     time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "startup round", func() bool { return eng.rounds() == 1 })

	// let the poller observe the outage, then restore the network
	waitFor(t, 2*time.Second, "failed probe", func() bool { return health.probeCount() >= 1 })
	health.setHealthy(true)

	waitFor(t, 2*time.Second, "connectivity round", func() bool { return eng.rounds() >= 2 })
}

func TestDaemon_SpooledRecordingTriggersRound(t *testing.T) {
	health := &healthServer{healthy: true}
	srv := httptest.NewServer(health)
	defer srv.Close()

	spool := filepath.Join(t.TempDir(), "spool")
	eng := &countingEngine{}
	d, err := New(eng, newTestClient(t, srv.URL), nil, Config{
		SyncInterval:  time.Hour,
		PollInterval:  time.Hour,
		Debounce:      time.Millisecond,
		SpoolDir:      spool,
		SpoolDebounce: 20 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "startup round", func() bool { return eng.rounds() == 1 })

	if err := os.WriteFile(filepath.Join(spool, "memo.m4a"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	waitFor(t, 2*time.Second, "spool round", func() bool { return eng.rounds() >= 2 })
}
