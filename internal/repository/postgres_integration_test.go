//go:build integration

package repository

import (
	"context"
	"os"
	"testing"

	"hubindexer/internal/models"
	"hubindexer/internal/registry"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	repo, err := New(context.Background(), url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func TestInsertTargetIfAbsent_SecondCallIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	inserted, err := repo.InsertTargetIfAbsent(ctx, 888001, true)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = repo.InsertTargetIfAbsent(ctx, 888001, true)
	if err != nil || inserted {
		t.Fatalf("second insert: inserted=%v err=%v, want inserted=false", inserted, err)
	}
}

func TestUpsertCasts_ConflictDoNothingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	repo.InsertTargetIfAbsent(ctx, 888002, true)

	c := models.Cast{Hash: "0xcasttest1", FID: 888002, Text: "hi"}
	if err := repo.UpsertCasts(ctx, []models.Cast{c}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := repo.UpsertCasts(ctx, []models.Cast{c}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int
	repo.db.QueryRow(ctx, `SELECT count(*) FROM casts WHERE hash = $1`, c.Hash).Scan(&count)
	if count != 1 {
		t.Fatalf("row count = %d, want 1", count)
	}
}

func TestListTargets_FiltersByRoot(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	repo.InsertTargetIfAbsent(ctx, 888003, true)
	repo.InsertTargetIfAbsent(ctx, 888004, false)

	isRoot := true
	res, total, err := repo.ListTargets(ctx, registry.ListParams{Limit: 50, IsRoot: &isRoot})
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if total == 0 {
		t.Fatal("expected at least one root target")
	}
	for _, target := range res {
		if !target.IsRoot {
			t.Fatalf("unexpected non-root target in filtered results: %+v", target)
		}
	}
}
