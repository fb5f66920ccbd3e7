// Package processor implements the event processor: the idempotent, batched
// writer that turns decoded hub events into upserts/deletes against the
// relational store (spec.md §4.6). Each Processor instance owns six
// in-memory buffers (one per table) and is meant to be driven by a single
// goroutine — no locks guard the buffers, matching the ownership model the
// design notes call for (one goroutine/thread per instance).
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"hubindexer/internal/decode"
	"hubindexer/internal/hub"
	"hubindexer/internal/models"
)

// BatchSize and BatchTimeout are the spec.md §4.6 flush thresholds.
const (
	BatchSize    = 100
	BatchTimeout = time.Second
)

// Repository is the SQL surface a Processor writes through.
type Repository interface {
	UpsertCasts(ctx context.Context, casts []models.Cast) error
	DeleteCast(ctx context.Context, hash string) error
	UpsertReactions(ctx context.Context, reactions []models.Reaction) error
	DeleteReaction(ctx context.Context, hash string) error
	UpsertLinks(ctx context.Context, links []models.Link) error
	DeleteLink(ctx context.Context, hash string) error
	UpsertVerifications(ctx context.Context, verifications []models.Verification) error
	DeleteVerification(ctx context.Context, hash string) error
	UpsertUserDataEntries(ctx context.Context, entries []models.UserDataEntry) error
	UpsertOnChainEvents(ctx context.Context, events []models.OnChainEvent) error
	RefreshUserView(ctx context.Context, fid uint64) error
}

// buffers holds the six per-table pending-write slices plus the set of fids
// touched by pending user-data writes, so UserView refresh after a flush
// only recomputes what actually changed.
type buffers struct {
	casts             []models.Cast
	reactions         []models.Reaction
	links             []models.Link
	verifications     []models.Verification
	onChainEvents     []models.OnChainEvent
	userData          []models.UserDataEntry
	userDataAffected  map[uint64]struct{}
}

func (b *buffers) pending() int {
	return len(b.casts) + len(b.reactions) + len(b.links) + len(b.verifications) + len(b.onChainEvents) + len(b.userData)
}

func (b *buffers) reset() {
	b.casts = nil
	b.reactions = nil
	b.links = nil
	b.verifications = nil
	b.onChainEvents = nil
	b.userData = nil
	b.userDataAffected = nil
}

// Processor accumulates per-table batches and flushes on size or time
// threshold. Not safe for concurrent use — each instance is single-threaded
// w.r.t. its own buffers, per spec.md §4.6's concurrency caveat; run
// multiple instances behind the process-event queue's worker pool for
// throughput, with correctness resting on conflict-do-nothing inserts and
// hash-keyed deletes.
type Processor struct {
	repo         Repository
	batchSize    int
	batchTimeout time.Duration

	buf   buffers
	timer *time.Timer
}

// New builds a Processor with the spec.md defaults (override via config for
// batch_size/batch_timeout_ms).
func New(repo Repository, batchSize int, batchTimeout time.Duration) *Processor {
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	if batchTimeout <= 0 {
		batchTimeout = BatchTimeout
	}
	return &Processor{repo: repo, batchSize: batchSize, batchTimeout: batchTimeout}
}

// Due returns the processor's flush timer channel, or nil if no timer is
// currently running. The caller's dispatch loop selects on this alongside
// its job source so a batch that's been waiting BATCH_TIMEOUT flushes even
// with no new events arriving.
func (p *Processor) Due() <-chan time.Time {
	if p.timer == nil {
		return nil
	}
	return p.timer.C
}

// Handle processes one process-event job payload: decode, route to a
// buffer (MERGE_*) or perform an immediate delete (*_REMOVE, PRUNE, REVOKE).
// After an append, Handle flushes synchronously if the batch threshold is
// reached; otherwise it arms the timeout timer if not already running.
func (p *Processor) Handle(ctx context.Context, rawEvent json.RawMessage) error {
	var e hub.Event
	if err := json.Unmarshal(rawEvent, &e); err != nil {
		return fmt.Errorf("processor: decode event payload: %w", err)
	}
	d := decode.DecodeEvent(e)

	switch d.Kind {
	case decode.KindMergeCast:
		p.buf.casts = append(p.buf.casts, *d.Cast)
	case decode.KindMergeReaction:
		p.buf.reactions = append(p.buf.reactions, *d.Reaction)
	case decode.KindMergeLink:
		p.buf.links = append(p.buf.links, *d.Link)
	case decode.KindMergeVerification:
		p.buf.verifications = append(p.buf.verifications, *d.Verification)
	case decode.KindMergeUserData:
		p.buf.userData = append(p.buf.userData, *d.UserData)
		if p.buf.userDataAffected == nil {
			p.buf.userDataAffected = make(map[uint64]struct{})
		}
		p.buf.userDataAffected[d.UserData.FID] = struct{}{}
	case decode.KindMergeOnChainEvent:
		p.buf.onChainEvents = append(p.buf.onChainEvents, *d.OnChainEvent)

	case decode.KindMergeCastRemove, decode.KindPruneCast, decode.KindRevokeCast:
		if err := p.repo.DeleteCast(ctx, d.RemoveHash); err != nil {
			log.Printf("[processor] delete cast %s: %v", d.RemoveHash, err)
		}
		return nil
	case decode.KindMergeReactionRemove, decode.KindPruneReaction, decode.KindRevokeReaction:
		if err := p.repo.DeleteReaction(ctx, d.RemoveHash); err != nil {
			log.Printf("[processor] delete reaction %s: %v", d.RemoveHash, err)
		}
		return nil
	case decode.KindMergeLinkRemove, decode.KindPruneLink, decode.KindRevokeLink:
		if err := p.repo.DeleteLink(ctx, d.RemoveHash); err != nil {
			log.Printf("[processor] delete link %s: %v", d.RemoveHash, err)
		}
		return nil
	case decode.KindMergeVerificationRemove, decode.KindPruneVerification, decode.KindRevokeVerification:
		if err := p.repo.DeleteVerification(ctx, d.RemoveHash); err != nil {
			log.Printf("[processor] delete verification %s: %v", d.RemoveHash, err)
		}
		return nil

	case decode.KindUnknown:
		return nil
	}

	if p.buf.pending() >= p.batchSize {
		return p.Flush(ctx)
	}
	p.armTimer()
	return nil
}

func (p *Processor) armTimer() {
	if p.timer != nil {
		return
	}
	p.timer = time.NewTimer(p.batchTimeout)
}

// Flush writes every non-empty buffer through the batched-upsert helper and
// clears it regardless of outcome — a poison record in one table must not
// stall the others, and the next delivery of the same event will retry
// naturally since every insert is conflict-do-nothing (spec.md §7).
func (p *Processor) Flush(ctx context.Context) error {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	var firstErr error
	note := func(table string, err error) {
		if err == nil {
			return
		}
		log.Printf("[processor] flush %s: %v", table, err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(p.buf.casts) > 0 {
		note("casts", p.repo.UpsertCasts(ctx, p.buf.casts))
	}
	if len(p.buf.reactions) > 0 {
		note("reactions", p.repo.UpsertReactions(ctx, p.buf.reactions))
	}
	if len(p.buf.links) > 0 {
		note("links", p.repo.UpsertLinks(ctx, p.buf.links))
	}
	if len(p.buf.verifications) > 0 {
		note("verifications", p.repo.UpsertVerifications(ctx, p.buf.verifications))
	}
	if len(p.buf.onChainEvents) > 0 {
		note("on_chain_events", p.repo.UpsertOnChainEvents(ctx, p.buf.onChainEvents))
	}
	if len(p.buf.userData) > 0 {
		note("user_data_entries", p.repo.UpsertUserDataEntries(ctx, p.buf.userData))
		for fid := range p.buf.userDataAffected {
			if err := p.repo.RefreshUserView(ctx, fid); err != nil {
				log.Printf("[processor] refresh user view fid %d: %v", fid, err)
			}
		}
	}

	p.buf.reset()
	return firstErr
}

// Pending reports the number of buffered rows awaiting flush, across all
// six tables.
func (p *Processor) Pending() int { return p.buf.pending() }
