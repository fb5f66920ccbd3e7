// Package realtime implements the realtime worker: a single-instance,
// cursor-driven consumer that tails the hub event stream, filters for
// relevance to the target registry, enqueues process-event jobs, and
// performs dynamic target expansion/demotion (spec.md §4.5).
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"hubindexer/internal/decode"
	"hubindexer/internal/hub"
	"hubindexer/internal/models"
)

// SyncStateName is the single SyncState row this worker reads and writes.
const SyncStateName = "last_event_id"

// pageSize is fixed at 100 per spec.md §4.5 step 1.
const pageSize = 100

// HubSource is the subset of hub.Client the realtime worker needs.
type HubSource interface {
	GetEvents(ctx context.Context, opts hub.EventsOpts) (*hub.EventsPage, error)
}

// Registry is the subset of registry.Registry the relevance filter and
// dynamic expansion (§4.5.1/§4.5.2) depend on.
type Registry interface {
	IsTarget(fid uint64) bool
	IsClientTarget(fid uint64) bool
	IsRootTarget(fid uint64) bool
	EnsureTarget(ctx context.Context, fid uint64, isRoot bool) error
	PromoteToRoot(ctx context.Context, fid uint64) error
	Remove(ctx context.Context, fid uint64) error
}

// FollowChecker answers the unfollow-pruning join (registry.RootFollowerChecker).
type FollowChecker interface {
	RemainingRootFollower(ctx context.Context, targetFID, excludeFID uint64) (bool, error)
}

// Enqueuer is the queue-layer surface used to hand off relevant events.
type Enqueuer interface {
	EnqueueProcessEvent(ctx context.Context, eventID uint64, rawEvent json.RawMessage) error
}

// CursorStore persists SyncState("last_event_id").
type CursorStore interface {
	GetSyncState(ctx context.Context, name string) (models.SyncState, error)
	UpsertSyncState(ctx context.Context, name string, lastEventID uint64) error
}

// Worker runs the realtime tailing loop. Concurrency must be 1: a single
// instance owns the cursor.
type Worker struct {
	hub      HubSource
	registry Registry
	follows  FollowChecker
	queue    Enqueuer
	cursor   CursorStore

	// enableClientDiscovery gates the SIGNER_ADD dynamic-expansion path
	// (strategy.enable_client_discovery).
	enableClientDiscovery bool
}

// New builds a Worker.
func New(h HubSource, reg Registry, follows FollowChecker, queue Enqueuer, cursor CursorStore, enableClientDiscovery bool) *Worker {
	return &Worker{hub: h, registry: reg, follows: follows, queue: queue, cursor: cursor, enableClientDiscovery: enableClientDiscovery}
}

// Tick runs one cycle of the realtime job's algorithm (spec.md §4.5): fetch
// one page of events from the cursor, filter/enqueue/expand each in order,
// and persist the advanced cursor on exit. Run calls it repeatedly; main.go
// runs Run in its own goroutine, so no `realtime` queue job is involved.
func (w *Worker) Tick(ctx context.Context, startCursor *uint64) (newCursor uint64, err error) {
	cursor, err := w.resolveCursor(ctx, startCursor)
	if err != nil {
		return 0, err
	}

	page, err := w.hub.GetEvents(ctx, hub.EventsOpts{FromEventID: cursor, PageSize: pageSize})
	if err != nil {
		return cursor, fmt.Errorf("realtime: get events: %w", err)
	}

	for _, e := range page.Events {
		w.processOne(ctx, e)
		cursor = e.ID
	}

	if perr := w.persistCursor(ctx, cursor); perr != nil {
		log.Printf("[realtime] persist cursor: %v", perr)
	}
	return cursor, nil
}

func (w *Worker) resolveCursor(ctx context.Context, startCursor *uint64) (uint64, error) {
	if startCursor != nil {
		return *startCursor, nil
	}
	state, err := w.cursor.GetSyncState(ctx, SyncStateName)
	if err != nil {
		return 0, fmt.Errorf("realtime: load cursor: %w", err)
	}
	return state.LastEventID, nil
}

// Run drives Tick continuously, carrying the cursor in memory between
// ticks, until ctx is cancelled or a Tick returns an error (such as a hub
// request that failed after all retries); that error is returned. main.go
// runs the worker in-process through this method.
func (w *Worker) Run(ctx context.Context) error {
	var cursor *uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, err := w.Tick(ctx, cursor)
		if err != nil {
			return err
		}
		cursor = &next
	}
}

// processOne handles a single hub event: relevance filter, enqueue, dynamic
// expansion. Per-event failures are logged and do not halt the stream — the
// cursor still advances regardless of outcome (spec.md §4.5 step 3).
func (w *Worker) processOne(ctx context.Context, e hub.Event) {
	decoded := decode.DecodeEvent(e)

	if !w.isRelevant(e, decoded) {
		return
	}

	raw, err := json.Marshal(e)
	if err != nil {
		log.Printf("[realtime] marshal event %d: %v", e.ID, err)
		return
	}
	if err := w.queue.EnqueueProcessEvent(ctx, e.ID, raw); err != nil {
		log.Printf("[realtime] enqueue process-event for event %d: %v", e.ID, err)
		return
	}

	if err := w.expand(ctx, decoded); err != nil {
		log.Printf("[realtime] dynamic expansion for event %d: %v", e.ID, err)
	}
}

// isRelevant implements the relevance filter of spec.md §4.5.1.
func (w *Worker) isRelevant(e hub.Event, d decode.Event) bool {
	switch e.Type {
	case hub.WireEventTypeMergeMessage:
		if e.MergeMessageBody == nil {
			return false
		}
		return w.messageRelevant(e.MergeMessageBody.Message, d)

	case hub.WireEventTypePruneMessage:
		if e.PruneMessageBody == nil {
			return false
		}
		return w.registry.IsTarget(e.PruneMessageBody.Message.Data.FID)

	case hub.WireEventTypeRevokeMessage:
		if e.RevokeMessageBody == nil {
			return false
		}
		return w.registry.IsTarget(e.RevokeMessageBody.Message.Data.FID)

	case hub.WireEventTypeMergeOnChain:
		if e.MergeOnChainEventBody == nil {
			return false
		}
		oc := e.MergeOnChainEventBody.OnChainEvent
		if oc.Type == hub.WireOnChainEventTypeSignerAdd && w.registry.IsClientTarget(oc.FID) {
			return true
		}
		return w.registry.IsTarget(oc.FID)
	}
	return false
}

func (w *Worker) messageRelevant(m hub.Message, d decode.Event) bool {
	if w.registry.IsTarget(m.Data.FID) {
		return true
	}
	switch m.Data.Type {
	case hub.WireMessageTypeCastAdd:
		if m.Data.CastAddBody != nil && m.Data.CastAddBody.ParentCastID != nil {
			return w.registry.IsTarget(m.Data.CastAddBody.ParentCastID.FID)
		}
	case hub.WireMessageTypeReactionAdd:
		if m.Data.ReactionBody != nil && m.Data.ReactionBody.TargetCastID != nil {
			return w.registry.IsTarget(m.Data.ReactionBody.TargetCastID.FID)
		}
	case hub.WireMessageTypeLinkAdd:
		if m.Data.LinkBody != nil {
			return w.registry.IsTarget(m.Data.LinkBody.TargetFID)
		}
	}
	return false
}

// expand implements the dynamic expansion/demotion of spec.md §4.5.2.
func (w *Worker) expand(ctx context.Context, d decode.Event) error {
	switch d.Kind {
	case decode.KindMergeLink:
		if d.Link == nil || d.Link.Type != "follow" {
			return nil
		}
		if !w.registry.IsRootTarget(d.Link.FID) {
			return nil
		}
		return w.registry.EnsureTarget(ctx, d.Link.TargetFID, false)

	case decode.KindMergeLinkRemove:
		if !w.registry.IsRootTarget(d.FID) {
			return nil
		}
		if w.registry.IsRootTarget(d.TargetFID) {
			// Never remove a root target, even if its last root follower
			// just unfollowed it.
			return nil
		}
		remaining, err := w.follows.RemainingRootFollower(ctx, d.TargetFID, d.FID)
		if err != nil {
			return fmt.Errorf("check remaining root followers of %d: %w", d.TargetFID, err)
		}
		if remaining {
			return nil
		}
		return w.registry.Remove(ctx, d.TargetFID)

	case decode.KindMergeOnChainEvent:
		if !w.enableClientDiscovery {
			return nil
		}
		if d.OnChainEvent == nil || d.OnChainEvent.Type != models.OnChainSignerAdd {
			return nil
		}
		if !w.registry.IsClientTarget(d.OnChainEvent.FID) {
			return nil
		}
		return w.registry.PromoteToRoot(ctx, d.OnChainEvent.FID)
	}
	return nil
}

func (w *Worker) persistCursor(ctx context.Context, cursor uint64) error {
	if err := w.cursor.UpsertSyncState(ctx, SyncStateName, cursor); err != nil {
		return fmt.Errorf("realtime: persist cursor: %w", err)
	}
	return nil
}
