package engine

import (
	"context"
	"sort"
	"time"
)

// subscriberBuffer is how many snapshots a slow subscriber can lag before
// it starts missing intermediate ones.
const subscriberBuffer = 8

// State implements Engine.State.
func (e *engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prog.State
}

// Progress implements Engine.Progress.
func (e *engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Snapshot implements Engine.Snapshot.
func (e *engine) Snapshot(ctx context.Context) (Progress, error) {
	pending, err := e.repos.Queue.PendingCount(ctx)
	if err != nil {
		return Progress{}, err
	}
	failed, err := e.repos.Queue.FailedCount(ctx)
	if err != nil {
		return Progress{}, err
	}
	hydrated, err := e.hydrated(ctx)
	if err != nil {
		return Progress{}, err
	}
	lastAt, err := e.lastSyncAt(ctx)
	if err != nil {
		return Progress{}, err
	}
	lastErr, err := e.lastError(ctx)
	if err != nil {
		return Progress{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.prog.Pending = pending
	e.prog.Failed = failed
	e.prog.Hydrated = hydrated
	e.prog.LastSyncAt = lastAt
	e.prog.LastError = lastErr
	return e.snapshotLocked(), nil
}

// Subscribe implements Engine.Subscribe. The new listener is primed with
// the current snapshot so it never renders an empty view.
func (e *engine) Subscribe() (<-chan Progress, func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Progress, subscriberBuffer)
	e.subs[id] = ch
	ch <- e.snapshotLocked()
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// ReportUpload implements Engine.ReportUpload.
func (e *engine) ReportUpload(file string, sent, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if total > 0 && sent >= total {
		delete(e.uploads, file)
	} else {
		e.uploads[file] = UploadProgress{File: file, Sent: sent, Total: total}
	}
	e.publishLocked()
}

// setState transitions the lifecycle state and notifies subscribers.
func (e *engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prog.State == s {
		return
	}
	e.prog.State = s
	e.publishLocked()
}

// publishRound refreshes the live round counts mid-run.
func (e *engine) publishRound(res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prog.Round = res
	e.publishLocked()
}

// snapshotLocked copies the current progress with a detached Uploads slice.
// Callers hold e.mu.
func (e *engine) snapshotLocked() Progress {
	p := e.prog
	p.At = time.Now().UTC()
	p.Uploads = nil
	if len(e.uploads) > 0 {
		p.Uploads = make([]UploadProgress, 0, len(e.uploads))
		for _, u := range e.uploads {
			p.Uploads = append(p.Uploads, u)
		}
		sort.Slice(p.Uploads, func(i, j int) bool { return p.Uploads[i].File < p.Uploads[j].File })
	}
	return p
}

// publishLocked fans the current snapshot out without blocking: a full
// subscriber channel loses this snapshot, never a future one. Callers hold
// e.mu.
func (e *engine) publishLocked() {
	p := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- p:
		default:
		}
	}
}
