package tickets

import (
	"context"
	"testing"
	"time"

	"medialift/internal/models"
)

func TestMemoryStoreBeginSupersedes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "lecture.mp4")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if first.Generation != 1 || first.Progress != 0 || first.Status != StatusInit {
		t.Fatalf("unexpected first ticket %+v", first)
	}

	second, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "retake.mp4")
	if err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if second.Generation != 2 {
		t.Fatalf("generation = %d, want 2", second.Generation)
	}
	if second.Filename != "retake.mp4" {
		t.Fatalf("filename = %q", second.Filename)
	}

	current, ok, err := store.Get(ctx, "object-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if current.Generation != 2 {
		t.Fatalf("store kept generation %d", current.Generation)
	}
}

func TestMemoryStoreStaleUpdateDiscarded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "a.mp4")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	fresh, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "b.mp4")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, applied, err := store.Update(ctx, "object-1", stale.Generation, 80, StatusUploading); err != nil || applied {
		t.Fatalf("stale update applied=%v err=%v", applied, err)
	}
	if _, applied, err := store.Update(ctx, "object-1", fresh.Generation, 40, StatusUploading); err != nil || !applied {
		t.Fatalf("current update applied=%v err=%v", applied, err)
	}

	current, _, err := store.Get(ctx, "object-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Progress != 40 || current.Status != StatusUploading {
		t.Fatalf("unexpected ticket after updates %+v", current)
	}
}

func TestMemoryStoreProgressClamped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ticket, err := store.Begin(ctx, models.ObjectTypeDocument, "doc-1", "notes.pdf")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if updated, _, _ := store.Update(ctx, "doc-1", ticket.Generation, 150, StatusUploading); updated.Progress != 100 {
		t.Fatalf("progress = %d, want 100", updated.Progress)
	}
	if updated, _, _ := store.Update(ctx, "doc-1", ticket.Generation, -5, StatusUploading); updated.Progress != 0 {
		t.Fatalf("progress = %d, want 0", updated.Progress)
	}
}

func TestMemoryStoreTerminalStatusSticky(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, terminal := range []Status{StatusSuccess, StatusErrPolicy, StatusErrUpload} {
		ticket, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "a.mp4")
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if _, applied, err := store.Update(ctx, "object-1", ticket.Generation, 50, terminal); err != nil || !applied {
			t.Fatalf("terminal update applied=%v err=%v", applied, err)
		}
		// A progress event from the same attempt that was still in flight
		// when the transfer finished must not reopen the ticket.
		if _, applied, _ := store.Update(ctx, "object-1", ticket.Generation, 60, StatusUploading); applied {
			t.Fatalf("uploading applied over %s", terminal)
		}
		current, _, _ := store.Get(ctx, "object-1")
		if current.Status != terminal || current.Progress != 50 {
			t.Fatalf("ticket left %s: %+v", terminal, current)
		}
		// A fresh attempt still restarts the cycle.
		restarted, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "b.mp4")
		if err != nil {
			t.Fatalf("begin after %s: %v", terminal, err)
		}
		if restarted.Status != StatusInit || restarted.Generation <= ticket.Generation {
			t.Fatalf("restart after %s: %+v", terminal, restarted)
		}
	}
}

func TestMemoryStoreResetKeepsGenerations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	before, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "a.mp4")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Reset(ctx, "object-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "object-1"); ok {
		t.Fatal("ticket survived reset")
	}

	// Pre-reset attempts must stay stale against the next generation.
	after, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "b.mp4")
	if err != nil {
		t.Fatalf("begin after reset: %v", err)
	}
	if after.Generation <= before.Generation {
		t.Fatalf("generation %d did not advance past %d", after.Generation, before.Generation)
	}
	if _, applied, _ := store.Update(ctx, "object-1", before.Generation, 99, StatusSuccess); applied {
		t.Fatal("pre-reset generation applied after reset")
	}
}

func TestMemoryStoreListSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.Begin(ctx, models.ObjectTypeVideo, id, id+".mp4"); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d tickets", len(listed))
	}
	for i, want := range []string{"a", "b", "c"} {
		if listed[i].ObjectID != want {
			t.Fatalf("position %d holds %q, want %q", i, listed[i].ObjectID, want)
		}
	}
}

func TestMemoryStoreRequiresObjectID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Begin(ctx, models.ObjectTypeVideo, "   ", "a.mp4"); err != ErrObjectIDRequired {
		t.Fatalf("begin error = %v", err)
	}
	if _, _, err := store.Get(ctx, ""); err != ErrObjectIDRequired {
		t.Fatalf("get error = %v", err)
	}
	if err := store.Reset(ctx, ""); err != ErrObjectIDRequired {
		t.Fatalf("reset error = %v", err)
	}
}

func TestMemoryStoreUpdatedAtAdvances(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	ticket, err := store.Begin(ctx, models.ObjectTypeVideo, "object-1", "a.mp4")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	current = current.Add(5 * time.Second)
	updated, applied, err := store.Update(ctx, "object-1", ticket.Generation, 10, StatusUploading)
	if err != nil || !applied {
		t.Fatalf("update applied=%v err=%v", applied, err)
	}
	if !updated.UpdatedAt.After(ticket.UpdatedAt) {
		t.Fatalf("UpdatedAt %v did not advance past %v", updated.UpdatedAt, ticket.UpdatedAt)
	}
}
