// Package flight collapses concurrent identical work onto one execution.
//
// A Group guards an operation that is wasteful or harmful to run twice at
// the same time - a token refresh, a full sync pass. The first caller
// becomes the leader and runs the function; callers arriving while it runs
// wait for, and share, the leader's result. The execution itself is detached
// from any single caller's context: a caller that gives up waiting does not
// cancel the work for everyone else.
package flight

import (
	"context"
	"sync"
	"time"
)

// Group deduplicates concurrent calls to Do. The zero value is ready to use.
type Group[T any] struct {
	mu      sync.Mutex
	current *call[T]

	runs    int64
	deduped int64
	lastRun time.Time
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Metrics is a snapshot of a Group's counters.
type Metrics struct {
	// Runs is the number of executions actually performed.
	Runs int64
	// Deduped is the number of callers served by another caller's run.
	Deduped int64
	// LastRun is when the most recent execution finished.
	LastRun time.Time
}

// Do executes fn, or joins an execution already in progress, and returns its
// result. fn receives a context detached from ctx: cancelling one waiter
// never cancels the shared run. A caller whose own ctx expires while waiting
// gets ctx.Err(); the run continues for the others.
func (g *Group[T]) Do(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	g.mu.Lock()
	if c := g.current; c != nil {
		g.deduped++
		g.mu.Unlock()
		return g.wait(ctx, c)
	}

	c := &call[T]{done: make(chan struct{})}
	g.current = c
	g.runs++
	g.mu.Unlock()

	go func() {
		val, err := fn(context.WithoutCancel(ctx))

		g.mu.Lock()
		c.val, c.err = val, err
		g.current = nil
		g.lastRun = time.Now()
		g.mu.Unlock()
		close(c.done)
	}()

	return g.wait(ctx, c)
}

// InFlight reports whether an execution is currently running.
func (g *Group[T]) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}

// Stats returns a snapshot of the group's counters.
func (g *Group[T]) Stats() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Metrics{Runs: g.runs, Deduped: g.deduped, LastRun: g.lastRun}
}

func (g *Group[T]) wait(ctx context.Context, c *call[T]) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
