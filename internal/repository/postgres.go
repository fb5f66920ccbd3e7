// Package repository is the sole SQL surface of the ingestion core: target
// registry rows, message tables, the derived UserView, SyncState, and (via
// the batched-upsert helper) everything the backfill and event-processor
// paths write.
package repository

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hubindexer/internal/models"
	"hubindexer/internal/registry"
)

//go:embed schema.sql
var schemaSQL string

// Repository is a pgxpool-backed store. It implements registry.Repository.
type Repository struct {
	db *pgxpool.Pool
}

// New opens a pool against databaseURL, sized from POSTGRES_MAX_CONNS (default
// 10), mirroring the teacher's env-driven pool sizing.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("repository: parse config: %w", err)
	}
	if raw := os.Getenv("POSTGRES_MAX_CONNS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxConns = int32(n)
		}
	} else {
		cfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}
	return &Repository{db: pool}, nil
}

// Migrate applies schema.sql. It is idempotent (IF NOT EXISTS throughout)
// so it is safe to run on every process start.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() { r.db.Close() }

// Pool exposes the underlying pool for the queue package, which owns its
// own SQL surface against the same database.
func (r *Repository) Pool() *pgxpool.Pool { return r.db }

var _ registry.Repository = (*Repository)(nil)

// InsertTargetIfAbsent is the "ensure-target" routine from the design
// notes: a single atomic insert-or-noop. The caller (registry) only
// triggers its cache/queue side effects when inserted is true.
func (r *Repository) InsertTargetIfAbsent(ctx context.Context, fid uint64, isRoot bool) (bool, error) {
	const stmt = `
		INSERT INTO targets (fid, is_root, added_at) VALUES ($1, $2, now())
		ON CONFLICT (fid) DO NOTHING
		RETURNING fid
	`
	var got int64
	err := r.db.QueryRow(ctx, stmt, fid, isRoot).Scan(&got)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("repository: insert target: %w", err)
	}
	return true, nil
}

// DeleteTarget removes a Target row. Historical messages are left in place
// by design; cleanup is a separate operator job.
func (r *Repository) DeleteTarget(ctx context.Context, fid uint64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM targets WHERE fid = $1`, fid)
	return err
}

// UpdateTarget sets is_root when non-nil.
func (r *Repository) UpdateTarget(ctx context.Context, fid uint64, isRoot *bool) error {
	if isRoot == nil {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE targets SET is_root = $1 WHERE fid = $2`, *isRoot, fid)
	return err
}

// MarkSynced sets last_synced_at = now(), the final step of a successful
// backfill.
func (r *Repository) MarkSynced(ctx context.Context, fid uint64) error {
	_, err := r.db.Exec(ctx, `UPDATE targets SET last_synced_at = now() WHERE fid = $1`, fid)
	return err
}

// AllTargetFIDs supports registry bootstrap.
func (r *Repository) AllTargetFIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.Query(ctx, `SELECT fid FROM targets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUint64s(rows)
}

// AllRootTargetFIDs supports registry bootstrap of the root-target mirror.
func (r *Repository) AllRootTargetFIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.Query(ctx, `SELECT fid FROM targets WHERE is_root`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUint64s(rows)
}

func (r *Repository) InsertClientTargetIfAbsent(ctx context.Context, fid uint64) (bool, error) {
	const stmt = `
		INSERT INTO client_targets (client_fid, added_at) VALUES ($1, now())
		ON CONFLICT (client_fid) DO NOTHING
		RETURNING client_fid
	`
	var got int64
	err := r.db.QueryRow(ctx, stmt, fid).Scan(&got)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("repository: insert client target: %w", err)
	}
	return true, nil
}

func (r *Repository) DeleteClientTarget(ctx context.Context, fid uint64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM client_targets WHERE client_fid = $1`, fid)
	return err
}

func (r *Repository) AllClientTargetFIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.Query(ctx, `SELECT client_fid FROM client_targets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUint64s(rows)
}

func scanUint64s(rows pgx.Rows) ([]uint64, error) {
	var out []uint64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		out = append(out, uint64(fid))
	}
	return out, rows.Err()
}

// ListTargets implements the admin listing's SQL-side pagination and
// filters. Sort defaults to added_at desc.
func (r *Repository) ListTargets(ctx context.Context, params registry.ListParams) ([]models.Target, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Search != nil && *params.Search != "" {
		where += fmt.Sprintf(" AND fid::text LIKE %s", arg("%"+*params.Search+"%"))
	}
	if params.IsRoot != nil {
		where += fmt.Sprintf(" AND is_root = %s", arg(*params.IsRoot))
	}
	if params.SyncStatus != nil {
		switch *params.SyncStatus {
		case "synced":
			where += " AND last_synced_at IS NOT NULL"
		case "unsynced":
			where += " AND last_synced_at IS NULL"
		}
	}
	if params.DateFrom != nil {
		where += fmt.Sprintf(" AND added_at >= %s", arg(*params.DateFrom))
	}
	if params.DateTo != nil {
		where += fmt.Sprintf(" AND added_at <= %s", arg(*params.DateTo))
	}

	sortBy := "added_at"
	switch params.SortBy {
	case "fid", "last_synced_at":
		sortBy = params.SortBy
	}
	sortOrder := "DESC"
	if params.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	var total int
	countQuery := "SELECT count(*) FROM targets " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: count targets: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT fid, is_root, added_at, last_synced_at FROM targets %s ORDER BY %s %s LIMIT %s OFFSET %s",
		where, sortBy, sortOrder, arg(limit), arg(params.Offset),
	)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: list targets: %w", err)
	}
	defer rows.Close()

	var out []models.Target
	for rows.Next() {
		var t models.Target
		var fid int64
		if err := rows.Scan(&fid, &t.IsRoot, &t.AddedAt, &t.LastSyncedAt); err != nil {
			return nil, 0, err
		}
		t.FID = uint64(fid)
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// GetSyncState reads the named cursor row. If the row is absent it returns a
// state with last_event_id=0 without writing anything (schema.sql already
// seeds the row, so this is a defensive fallback).
func (r *Repository) GetSyncState(ctx context.Context, name string) (models.SyncState, error) {
	const stmt = `SELECT name, last_event_id, updated_at FROM sync_state WHERE name = $1`
	var s models.SyncState
	var lastEventID int64
	err := r.db.QueryRow(ctx, stmt, name).Scan(&s.Name, &lastEventID, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return models.SyncState{Name: name, LastEventID: 0}, nil
	}
	if err != nil {
		return models.SyncState{}, fmt.Errorf("repository: get sync state: %w", err)
	}
	s.LastEventID = uint64(lastEventID)
	return s, nil
}

// UpsertSyncState persists the realtime cursor, overwriting whatever value
// is stored. The operator reset tool (cmd/tools/reset-cursor) does not call
// this method; it deletes the row with its own SQL.
func (r *Repository) UpsertSyncState(ctx context.Context, name string, lastEventID uint64) error {
	const stmt = `
		INSERT INTO sync_state (name, last_event_id, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET last_event_id = EXCLUDED.last_event_id, updated_at = now()
	`
	_, err := r.db.Exec(ctx, stmt, name, lastEventID)
	return err
}
