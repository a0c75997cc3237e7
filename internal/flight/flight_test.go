package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_CollapsesConcurrentCallers(t *testing.T) {
	var g Group[int]
	var executions int32
	release := make(chan struct{})

	const callers = 20
	results := make([]int, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Do(context.Background(), func(context.Context) (int, error) {
				atomic.AddInt32(&executions, 1)
				<-release
				return 42, nil
			})
		}(i)
	}

	// Let every caller reach the group before the run completes.
	for {
		if g.InFlight() && g.Stats().Deduped == callers-1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&executions); n != 1 {
		t.Fatalf("fn executed %d times, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if results[i] != 42 {
			t.Errorf("caller %d: got %d, want 42", i, results[i])
		}
	}

	stats := g.Stats()
	if stats.Runs != 1 {
		t.Errorf("runs = %d, want 1", stats.Runs)
	}
	if stats.Deduped != callers-1 {
		t.Errorf("deduped = %d, want %d", stats.Deduped, callers-1)
	}
	if stats.LastRun.IsZero() {
		t.Error("last run time not recorded")
	}
}

func TestDo_SequentialCallsRunSeparately(t *testing.T) {
	var g Group[string]

	for i := 0; i < 3; i++ {
		got, err := g.Do(context.Background(), func(context.Context) (string, error) {
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("Do() failed: %v", err)
		}
		if got != "ok" {
			t.Errorf("got %q, want ok", got)
		}
	}

	if runs := g.Stats().Runs; runs != 3 {
		t.Errorf("runs = %d, want 3 (no deduplication across sequential calls)", runs)
	}
}

func TestDo_SharesErrors(t *testing.T) {
	var g Group[int]
	boom := errors.New("refresh rejected")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Do(context.Background(), func(context.Context) (int, error) {
				<-release
				return 0, boom
			})
		}(i)
	}
	for g.Stats().Deduped == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("caller %d: err = %v, want the shared error", i, err)
		}
	}
}

func TestDo_WaiterCancellationDoesNotStopRun(t *testing.T) {
	var g Group[int]
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	go g.Do(context.Background(), func(runCtx context.Context) (int, error) {
		close(started)
		<-release
		sawCancel.Store(runCtx.Err() != nil)
		return 7, nil
	})
	<-started

	// A second caller joins, then gives up.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Do(ctx, func(context.Context) (int, error) {
		t.Error("joined caller must not start a second run")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(release)
	for g.InFlight() {
		time.Sleep(time.Millisecond)
	}
	if sawCancel.Load() {
		t.Error("run context was cancelled by a departing waiter")
	}
	if runs := g.Stats().Runs; runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestDo_LeaderCancellationDetachesRun(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	finished := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := g.Do(ctx, func(runCtx context.Context) (int, error) {
			<-release
			finished <- runCtx.Err()
			return 1, nil
		})
		_ = err
	}()

	for !g.InFlight() {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)

	select {
	case err := <-finished:
		if err != nil {
			t.Errorf("run context err = %v, want nil (detached from leader)", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run never finished after the leader left")
	}
}
