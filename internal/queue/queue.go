// Package queue implements the durable job-queue contract (spec.md §6)
// against Postgres: INSERT ... ON CONFLICT DO NOTHING against a partial
// unique index to dedup in-flight jobs by key, and an UPDATE over a
// FOR UPDATE SKIP LOCKED subselect that sets locked_by/locked_at to claim
// exclusive processing of a row. Leases do not expire: an active job stays
// active until Complete or Fail is called for it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Named queues from spec.md §6.
const (
	Backfill     = "backfill"
	Realtime     = "realtime"
	ProcessEvent = "process-event"
)

// Status values returned by Counts and StatusForFIDs.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDelayed   = "delayed"
	StatusAbsent    = "absent"
)

// ErrNotFound is returned by Lease when no claimable job exists.
var ErrNotFound = errors.New("queue: no job available")

// Job is one unit of durable work.
type Job struct {
	ID         uuid.UUID
	Queue      string
	JobKey     string
	Payload    json.RawMessage
	Status     string
	Attempts   int
	MaxRetries int
	AvailableAt time.Time
}

// Queue is a Postgres-backed implementation of the queue-layer contract.
type Queue struct {
	db *pgxpool.Pool
}

// New wraps an existing pool. The caller is responsible for running the
// schema migration (internal/repository) before first use.
func New(db *pgxpool.Pool) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a job. If key is non-empty and a job with the same
// (queue, job_key) is already pending or active, Enqueue is a no-op — this
// is the dedup mechanic backfill:<fid> and process-event:<event_id> rely on.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, key string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	const stmt = `
		INSERT INTO jobs (id, queue, job_key, payload, status, attempts, available_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, 0, now(), now(), now())
		ON CONFLICT (queue, job_key) WHERE job_key IS NOT NULL AND status IN ('pending', 'active')
		DO NOTHING
	`
	_, err = q.db.Exec(ctx, stmt, uuid.New(), queueName, key, body, StatusPending)
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", queueName, err)
	}
	return nil
}

// formatBackfillKey builds the backfill:<fid> dedup key. EnqueueBackfill and
// StatusForFIDs both use it, so StatusForFIDs finds the job a fid was
// enqueued under.
func formatBackfillKey(fid uint64) string {
	return fmt.Sprintf("backfill:%d", fid)
}

// EnqueueBackfill satisfies registry.Enqueuer: a backfill job keyed
// backfill:<fid>, so at most one is ever in flight per fid.
func (q *Queue) EnqueueBackfill(ctx context.Context, fid uint64, isRoot bool) error {
	return q.Enqueue(ctx, Backfill, backfillPayload{FID: fid, IsRoot: isRoot}, formatBackfillKey(fid))
}

type backfillPayload struct {
	FID    uint64 `json:"fid"`
	IsRoot bool   `json:"is_root"`
}

// EnqueueProcessEvent enqueues a process-event job keyed by the hub event
// id, so double-delivery of the same realtime event converges to one job.
func (q *Queue) EnqueueProcessEvent(ctx context.Context, eventID uint64, rawEvent json.RawMessage) error {
	return q.Enqueue(ctx, ProcessEvent, processEventPayload{Event: rawEvent}, fmt.Sprintf("process-event:%d", eventID))
}

type processEventPayload struct {
	Event json.RawMessage `json:"event"`
}

// Lease atomically claims one pending, non-paused, due job from queueName
// for worker, marking it active. Returns ErrNotFound if nothing is
// claimable.
func (q *Queue) Lease(ctx context.Context, queueName, worker string) (*Job, error) {
	const stmt = `
		UPDATE jobs SET status = $1, locked_by = $2, locked_at = now(), updated_at = now()
		WHERE id = (
			SELECT j.id FROM jobs j
			LEFT JOIN queue_state s ON s.queue = j.queue
			WHERE j.queue = $3 AND j.status = $4 AND j.available_at <= now()
			  AND COALESCE(s.paused, false) = false
			ORDER BY j.available_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue, job_key, payload, status, attempts, available_at
	`
	row := q.db.QueryRow(ctx, stmt, StatusActive, worker, queueName, StatusPending)
	var j Job
	var key *string
	if err := row.Scan(&j.ID, &j.Queue, &key, &j.Payload, &j.Status, &j.Attempts, &j.AvailableAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("queue: lease %s: %w", queueName, err)
	}
	if key != nil {
		j.JobKey = *key
	}
	return &j, nil
}

// Complete marks a leased job done.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2`, StatusCompleted, id)
	return err
}

// Fail records a failed attempt. If attempts reaches maxRetries the job is
// marked failed terminally; otherwise it is rescheduled with exponential
// backoff (base 1s) and left pending for redelivery.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, maxRetries int, cause error) error {
	const selectStmt = `SELECT attempts FROM jobs WHERE id = $1`
	var attempts int
	if err := q.db.QueryRow(ctx, selectStmt, id).Scan(&attempts); err != nil {
		return fmt.Errorf("queue: fail lookup: %w", err)
	}
	attempts++

	if maxRetries > 0 && attempts >= maxRetries {
		_, err := q.db.Exec(ctx, `UPDATE jobs SET status = $1, attempts = $2, updated_at = now() WHERE id = $3`,
			StatusFailed, attempts, id)
		return err
	}

	backoff := time.Duration(1<<uint(attempts)) * time.Second
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = $1, attempts = $2, available_at = now() + $3::interval, updated_at = now()
		WHERE id = $4
	`, StatusPending, attempts, backoff.String(), id)
	return err
}

// Pause stops a queue from yielding new leases; in-flight jobs are
// unaffected.
func (q *Queue) Pause(ctx context.Context, queueName string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO queue_state (queue, paused) VALUES ($1, true)
		ON CONFLICT (queue) DO UPDATE SET paused = true
	`, queueName)
	return err
}

// Resume re-enables leasing.
func (q *Queue) Resume(ctx context.Context, queueName string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO queue_state (queue, paused) VALUES ($1, false)
		ON CONFLICT (queue) DO UPDATE SET paused = false
	`, queueName)
	return err
}

// Clear deletes every pending job on a queue. Active jobs already leased by
// a worker are left to finish.
func (q *Queue) Clear(ctx context.Context, queueName string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM jobs WHERE queue = $1 AND status = $2`, queueName, StatusPending)
	return err
}

// Counts reports the per-status job count for a queue.
type Counts struct {
	Active    int
	Waiting   int
	Completed int
	Failed    int
	Delayed   int
	Paused    bool
}

func (q *Queue) CountsFor(ctx context.Context, queueName string) (Counts, error) {
	const stmt = `
		SELECT
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'pending' AND available_at <= now()),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'pending' AND available_at > now())
		FROM jobs WHERE queue = $1
	`
	var c Counts
	if err := q.db.QueryRow(ctx, stmt, queueName).Scan(&c.Active, &c.Waiting, &c.Completed, &c.Failed, &c.Delayed); err != nil {
		return Counts{}, fmt.Errorf("queue: counts %s: %w", queueName, err)
	}

	var paused bool
	err := q.db.QueryRow(ctx, `SELECT paused FROM queue_state WHERE queue = $1`, queueName).Scan(&paused)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Counts{}, fmt.Errorf("queue: paused lookup %s: %w", queueName, err)
	}
	c.Paused = paused
	return c, nil
}

// StatusForFIDs reports the current backfill status (pending/active/absent)
// for each fid, matching on the backfill:<fid> job key. Used by the
// registry's List to compute the "waiting" aggregate.
func (q *Queue) StatusForFIDs(ctx context.Context, fids []uint64) (map[uint64]string, error) {
	out := make(map[uint64]string, len(fids))
	for _, fid := range fids {
		out[fid] = StatusAbsent
	}
	if len(fids) == 0 {
		return out, nil
	}

	keys := make([]string, len(fids))
	keyToFID := make(map[string]uint64, len(fids))
	for i, fid := range fids {
		k := formatBackfillKey(fid)
		keys[i] = k
		keyToFID[k] = fid
	}

	rows, err := q.db.Query(ctx, `
		SELECT job_key, status FROM jobs
		WHERE queue = $1 AND job_key = ANY($2) AND status IN ('pending', 'active')
	`, Backfill, keys)
	if err != nil {
		return nil, fmt.Errorf("queue: status_for_fids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, err
		}
		if fid, ok := keyToFID[key]; ok {
			out[fid] = status
		}
	}
	return out, rows.Err()
}
