package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glideapp/glide-sync/internal/model"
)

func TestEnqueue_UpdateFoldsIntoPendingCreate(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpCreate, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}

	entries, err := r.Queue.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Op != model.OpCreate {
		t.Errorf("op = %s, want create", entries[0].Op)
	}
	if string(entries[0].Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want the newer snapshot", entries[0].Payload)
	}
}

func TestEnqueue_UpdatesNeverCoalesce(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	entries, err := r.Queue.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if string(entries[0].Payload) != `{"v":1}` || string(entries[1].Payload) != `{"v":2}` {
		t.Errorf("updates drained out of order: %s, %s", entries[0].Payload, entries[1].Payload)
	}
}

func TestEnqueue_DeleteCancelsUnpushedCreate(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpCreate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpDelete, nil); err != nil {
		t.Fatalf("Enqueue(delete) failed: %v", err)
	}

	entries, err := r.Queue.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0: server never saw the entity", len(entries))
	}
}

func TestEnqueue_DeleteDiscardsUpdatesButStays(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	// No unpushed create: the entity has already been synced once.
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpDelete, nil); err != nil {
		t.Fatalf("Enqueue(delete) failed: %v", err)
	}

	entries, err := r.Queue.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Op != model.OpDelete {
		t.Errorf("op = %s, want delete", entries[0].Op)
	}
}

func TestEnqueue_DeleteLeavesInflightAlone(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpCreate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	entries, err := r.Queue.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if err := r.Queue.MarkInflight(ctx, entries[0].ID); err != nil {
		t.Fatalf("MarkInflight() failed: %v", err)
	}

	// The create is on the wire; the delete must queue behind it.
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpDelete, nil); err != nil {
		t.Fatalf("Enqueue(delete) failed: %v", err)
	}

	all, err := r.Queue.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}
	if all[0].Status != model.ChangeInflight || all[1].Op != model.OpDelete {
		t.Errorf("got %s/%s then %s/%s, want inflight create then pending delete",
			all[0].Op, all[0].Status, all[1].Op, all[1].Status)
	}
}

func TestReleaseInflight_RevivesInterruptedEntries(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	// A process died between MarkInflight and settling the outcome.
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, err := r.Queue.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if err := r.Queue.MarkInflight(ctx, entries[0].ID); err != nil {
		t.Fatalf("MarkInflight() failed: %v", err)
	}

	// Restart: no drain, requeue or bulk retry sees the entry.
	if got, _ := r.Queue.Drain(ctx, 10); len(got) != 0 {
		t.Fatalf("Drain() returned %d inflight entries", len(got))
	}
	if n, _ := r.Queue.Requeue(ctx, 5); n != 0 {
		t.Fatalf("Requeue() revived %d inflight entries", n)
	}

	n, err := r.Queue.ReleaseInflight(ctx)
	if err != nil {
		t.Fatalf("ReleaseInflight() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("released %d entries, want 1", n)
	}

	got, err := r.Queue.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != entries[0].ID {
		t.Fatalf("drained %d entries, want the released one back", len(got))
	}
	if got[0].Attempts != 0 {
		t.Errorf("release cost %d attempts, want 0", got[0].Attempts)
	}
}

func TestEnqueue_UpdateRevivesFailedCreate(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpCreate, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	entries, _ := r.Queue.All(ctx)
	if err := r.Queue.MarkFailed(ctx, entries[0].ID, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}

	entries, err := r.Queue.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Op != model.OpCreate || e.Status != model.ChangePending {
		t.Errorf("got %s/%s, want pending create", e.Op, e.Status)
	}
	if string(e.Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want the newer snapshot", e.Payload)
	}
	if e.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (history preserved)", e.Attempts)
	}
}

func TestDrain_FIFOAndBatchSize(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n%d", i)
		if err := r.Queue.Enqueue(ctx, model.EntityNote, id, model.OpCreate, []byte(`{}`)); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	batch, err := r.Queue.Drain(ctx, 3)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("got %d entries, want 3", len(batch))
	}
	for i, e := range batch {
		if want := fmt.Sprintf("n%d", i); e.EntityID != want {
			t.Errorf("entry %d = %s, want %s", i, e.EntityID, want)
		}
	}

	rest, err := r.Queue.DrainAfter(ctx, batch[2].ID, 10)
	if err != nil {
		t.Fatalf("DrainAfter() failed: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("got %d entries after cursor, want 2", len(rest))
	}
	if rest[0].EntityID != "n3" {
		t.Errorf("first after cursor = %s, want n3", rest[0].EntityID)
	}
}

func TestMarkCompleted_RemovesEntry(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityFolder, "f1", model.OpCreate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, _ := r.Queue.All(ctx)
	if err := r.Queue.MarkCompleted(ctx, entries[0].ID); err != nil {
		t.Fatalf("MarkCompleted() failed: %v", err)
	}

	count, err := r.Queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d pending, want 0", count)
	}
	has, err := r.Queue.HasPending(ctx, model.EntityFolder, "f1")
	if err != nil {
		t.Fatalf("HasPending() failed: %v", err)
	}
	if has {
		t.Error("HasPending() = true after completion, want false")
	}
}

func TestRequeue_RespectsAttemptCeiling(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, _ := r.Queue.All(ctx)
	id := entries[0].ID

	for i := 0; i < 3; i++ {
		requeued, err := r.Queue.Requeue(ctx, 3)
		if err != nil {
			t.Fatalf("Requeue() failed: %v", err)
		}
		if i > 0 && requeued != 1 {
			t.Fatalf("round %d: requeued %d, want 1", i, requeued)
		}
		if err := r.Queue.MarkFailed(ctx, id, errors.New("connection refused")); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
	}

	// Three attempts recorded; the ceiling is reached.
	requeued, err := r.Queue.Requeue(ctx, 3)
	if err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}
	if requeued != 0 {
		t.Errorf("requeued %d past the ceiling, want 0", requeued)
	}

	entries, _ = r.Queue.All(ctx)
	if entries[0].Status != model.ChangeFailed {
		t.Errorf("status = %s, want failed", entries[0].Status)
	}
	if entries[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", entries[0].Attempts)
	}
	if entries[0].LastError != "connection refused" {
		t.Errorf("last_error = %q, want the push error", entries[0].LastError)
	}
}

func TestRetryAllFailed_ResetsAttempts(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n2", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, _ := r.Queue.All(ctx)
	if err := r.Queue.MarkFailed(ctx, entries[0].ID, errors.New("timeout")); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}
	if err := r.Queue.MarkRejected(ctx, entries[1].ID, errors.New("409 conflict")); err != nil {
		t.Fatalf("MarkRejected() failed: %v", err)
	}

	n, err := r.Queue.RetryAllFailed(ctx)
	if err != nil {
		t.Fatalf("RetryAllFailed() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("retried %d entries, want 2", n)
	}

	entries, _ = r.Queue.All(ctx)
	for _, e := range entries {
		if e.Status != model.ChangePending {
			t.Errorf("entry %d status = %s, want pending", e.ID, e.Status)
		}
		if e.Attempts != 0 {
			t.Errorf("entry %d attempts = %d, want 0", e.ID, e.Attempts)
		}
	}
}

func TestFailedCount_IncludesRejected(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n1", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := r.Queue.Enqueue(ctx, model.EntityNote, "n2", model.OpUpdate, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, _ := r.Queue.All(ctx)
	r.Queue.MarkFailed(ctx, entries[0].ID, errors.New("timeout"))
	r.Queue.MarkRejected(ctx, entries[1].ID, errors.New("410 gone"))

	failed, err := r.Queue.FailedCount(ctx)
	if err != nil {
		t.Fatalf("FailedCount() failed: %v", err)
	}
	if failed != 2 {
		t.Errorf("got %d failed, want 2", failed)
	}

	// Rejected entries are terminal: they do not defer pulls.
	has, err := r.Queue.HasPending(ctx, model.EntityNote, "n2")
	if err != nil {
		t.Fatalf("HasPending() failed: %v", err)
	}
	if has {
		t.Error("HasPending() = true for rejected entry, want false")
	}
}

func BenchmarkEnqueueDrain(b *testing.B) {
	r := newTestRepos(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("n%d", i)
		if err := r.Queue.Enqueue(ctx, model.EntityNote, id, model.OpCreate, []byte(`{"title":"bench"}`)); err != nil {
			b.Fatalf("Enqueue() failed: %v", err)
		}
		if i%50 == 49 {
			if _, err := r.Queue.Drain(ctx, 50); err != nil {
				b.Fatalf("Drain() failed: %v", err)
			}
		}
	}
}
