//go:build integration

package queue

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestQueue_EnqueueDedupsByJobKey(t *testing.T) {
	ctx := context.Background()
	q := New(testPool(t))

	if err := q.EnqueueBackfill(ctx, 999001, true); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.EnqueueBackfill(ctx, 999001, true); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	statuses, err := q.StatusForFIDs(ctx, []uint64{999001})
	if err != nil {
		t.Fatalf("StatusForFIDs: %v", err)
	}
	if statuses[999001] != StatusPending {
		t.Fatalf("status = %q, want pending", statuses[999001])
	}

	counts, err := q.CountsFor(ctx, Backfill)
	if err != nil {
		t.Fatalf("CountsFor: %v", err)
	}
	if counts.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1 (dedup should prevent a second row)", counts.Waiting)
	}
}

func TestQueue_LeaseCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	q := New(testPool(t))

	if err := q.EnqueueBackfill(ctx, 999002, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Lease(ctx, Backfill, "worker-1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if job.JobKey != "backfill:999002" {
		t.Fatalf("job key = %q", job.JobKey)
	}

	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	statuses, err := q.StatusForFIDs(ctx, []uint64{999002})
	if err != nil {
		t.Fatalf("StatusForFIDs: %v", err)
	}
	if statuses[999002] != StatusAbsent {
		t.Fatalf("status after complete = %q, want absent", statuses[999002])
	}
}

func TestQueue_PauseStopsLeasing(t *testing.T) {
	ctx := context.Background()
	q := New(testPool(t))

	if err := q.EnqueueBackfill(ctx, 999003, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Pause(ctx, Backfill); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	defer q.Resume(ctx, Backfill)

	if _, err := q.Lease(ctx, Backfill, "worker-1"); err != ErrNotFound {
		t.Fatalf("Lease on paused queue = %v, want ErrNotFound", err)
	}
}

func TestQueue_ClearRemovesPendingOnly(t *testing.T) {
	ctx := context.Background()
	q := New(testPool(t))

	if err := q.EnqueueBackfill(ctx, 999004, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Clear(ctx, Backfill); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	statuses, err := q.StatusForFIDs(ctx, []uint64{999004})
	if err != nil {
		t.Fatalf("StatusForFIDs: %v", err)
	}
	if statuses[999004] != StatusAbsent {
		t.Fatalf("status after clear = %q, want absent", statuses[999004])
	}
}
