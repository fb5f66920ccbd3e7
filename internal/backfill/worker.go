// Package backfill implements the one-shot full-history import for a newly
// tracked fid, plus root-target graph expansion (spec.md §4.4).
package backfill

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"hubindexer/internal/decode"
	"hubindexer/internal/hub"
	"hubindexer/internal/models"
)

// HubSource is the subset of hub.Client a backfill job needs.
type HubSource interface {
	GetAllUserDataByFid(ctx context.Context, fid uint64) ([]hub.Message, error)
	GetAllCastsByFid(ctx context.Context, fid uint64) ([]hub.Message, error)
	GetAllReactionsByFid(ctx context.Context, fid uint64) ([]hub.Message, error)
	GetAllLinksByFid(ctx context.Context, fid uint64) ([]hub.Message, error)
	GetAllVerificationsByFid(ctx context.Context, fid uint64) ([]hub.Message, error)
	GetAllOnChainSignersByFid(ctx context.Context, fid uint64) ([]hub.OnChainEvent, error)
}

// Repository is the SQL surface a backfill job writes through. batchSize is
// fixed at 500 per spec.md §4.4 for every table this worker writes.
const batchSize = 500

type Repository interface {
	UpsertCasts(ctx context.Context, casts []models.Cast) error
	UpsertReactions(ctx context.Context, reactions []models.Reaction) error
	UpsertLinks(ctx context.Context, links []models.Link) error
	UpsertVerifications(ctx context.Context, verifications []models.Verification) error
	UpsertUserDataEntries(ctx context.Context, entries []models.UserDataEntry) error
	UpsertOnChainEvents(ctx context.Context, events []models.OnChainEvent) error
	RefreshUserView(ctx context.Context, fid uint64) error
	MarkSynced(ctx context.Context, fid uint64) error
}

// TargetEnsurer is the registry surface used for root-target graph
// expansion: inserting a non-root Target for every followed fid.
type TargetEnsurer interface {
	EnsureTarget(ctx context.Context, fid uint64, isRoot bool) error
}

// Job is a single backfill unit of work, matching the backfill queue's
// payload shape.
type Job struct {
	FID    uint64
	IsRoot bool
}

// Worker runs backfill jobs against one hub client and one repository.
type Worker struct {
	hub      HubSource
	repo     Repository
	registry TargetEnsurer
}

// New builds a Worker. A process typically runs a small pool of these
// (concurrency.backfill, default 5), one hub client shared or per-worker —
// either is fine since the hub client itself serializes requests.
func New(h HubSource, repo Repository, reg TargetEnsurer) *Worker {
	return &Worker{hub: h, repo: repo, registry: reg}
}

// Run executes one backfill job end to end. It returns an error on any
// step's failure and deliberately does NOT mark the target synced in that
// case — the queue layer's retry will reprocess, and since every write is
// conflict-do-nothing, reprocessing is safe.
func (w *Worker) Run(ctx context.Context, job Job) error {
	fetched, err := w.fetchAll(ctx, job.FID)
	if err != nil {
		return fmt.Errorf("backfill: fetch fid %d: %w", job.FID, err)
	}

	links, err := w.writeAll(ctx, fetched)
	if err != nil {
		return fmt.Errorf("backfill: write fid %d: %w", job.FID, err)
	}

	if job.IsRoot {
		if err := w.expandGraph(ctx, job.FID, links); err != nil {
			return fmt.Errorf("backfill: expand graph for fid %d: %w", job.FID, err)
		}
	}

	if err := w.repo.RefreshUserView(ctx, job.FID); err != nil {
		return fmt.Errorf("backfill: refresh user view for fid %d: %w", job.FID, err)
	}

	if err := w.repo.MarkSynced(ctx, job.FID); err != nil {
		return fmt.Errorf("backfill: mark synced fid %d: %w", job.FID, err)
	}
	return nil
}

type fetchedMessages struct {
	userData      []hub.Message
	casts         []hub.Message
	reactions     []hub.Message
	links         []hub.Message
	verifications []hub.Message
	onChain       []hub.OnChainEvent
}

// fetchAll runs all six fetches concurrently, bounded by the errgroup's
// implicit fan-out (one goroutine per kind — six is a small, fixed width,
// not an unbounded worker pool).
func (w *Worker) fetchAll(ctx context.Context, fid uint64) (fetchedMessages, error) {
	var out fetchedMessages
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) { out.userData, err = w.hub.GetAllUserDataByFid(ctx, fid); return })
	g.Go(func() (err error) { out.casts, err = w.hub.GetAllCastsByFid(ctx, fid); return })
	g.Go(func() (err error) { out.reactions, err = w.hub.GetAllReactionsByFid(ctx, fid); return })
	g.Go(func() (err error) { out.links, err = w.hub.GetAllLinksByFid(ctx, fid); return })
	g.Go(func() (err error) { out.verifications, err = w.hub.GetAllVerificationsByFid(ctx, fid); return })
	g.Go(func() (err error) { out.onChain, err = w.hub.GetAllOnChainSignersByFid(ctx, fid); return })

	if err := g.Wait(); err != nil {
		return fetchedMessages{}, err
	}
	return out, nil
}

// writeAll decodes and upserts every fetched kind in 500-row batches,
// returning the decoded links so the caller can run graph expansion
// without re-fetching.
func (w *Worker) writeAll(ctx context.Context, f fetchedMessages) ([]models.Link, error) {
	var casts []models.Cast
	for _, m := range f.casts {
		if c, ok := decode.Cast(m); ok {
			casts = append(casts, c)
		}
	}
	if err := batchUpsert(ctx, casts, w.repo.UpsertCasts); err != nil {
		return nil, err
	}

	var reactions []models.Reaction
	for _, m := range f.reactions {
		if r, ok := decode.Reaction(m); ok {
			reactions = append(reactions, r)
		}
	}
	if err := batchUpsert(ctx, reactions, w.repo.UpsertReactions); err != nil {
		return nil, err
	}

	var links []models.Link
	for _, m := range f.links {
		if l, ok := decode.Link(m); ok {
			links = append(links, l)
		}
	}
	if err := batchUpsert(ctx, links, w.repo.UpsertLinks); err != nil {
		return nil, err
	}

	var verifications []models.Verification
	for _, m := range f.verifications {
		if v, ok := decode.Verification(m); ok {
			verifications = append(verifications, v)
		}
	}
	if err := batchUpsert(ctx, verifications, w.repo.UpsertVerifications); err != nil {
		return nil, err
	}

	var userData []models.UserDataEntry
	for _, m := range f.userData {
		if u, ok := decode.UserData(m); ok {
			userData = append(userData, u)
		}
	}
	if err := batchUpsert(ctx, userData, w.repo.UpsertUserDataEntries); err != nil {
		return nil, err
	}

	var onChain []models.OnChainEvent
	for _, e := range f.onChain {
		if oc, ok := decode.OnChainEvent(e); ok {
			onChain = append(onChain, oc)
		}
	}
	if err := batchUpsert(ctx, onChain, w.repo.UpsertOnChainEvents); err != nil {
		return nil, err
	}

	return links, nil
}

func batchUpsert[T any](ctx context.Context, rows []T, upsert func(context.Context, []T) error) error {
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := upsert(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// expandGraph ensures a non-root Target exists for every distinct
// target_fid this fid follows, deduplicated within the job so a fid
// followed twice (e.g. seen in both an add and a stale remove-then-readd)
// only triggers one ensure-target call.
func (w *Worker) expandGraph(ctx context.Context, fid uint64, links []models.Link) error {
	seen := make(map[uint64]bool)
	for _, l := range links {
		if l.FID != fid || l.Type != "follow" {
			continue
		}
		if seen[l.TargetFID] {
			continue
		}
		seen[l.TargetFID] = true
		if err := w.registry.EnsureTarget(ctx, l.TargetFID, false); err != nil {
			return fmt.Errorf("ensure target %d: %w", l.TargetFID, err)
		}
	}
	return nil
}
