package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"hubindexer/internal/hub"
	"hubindexer/internal/models"
)

type fakeHub struct {
	pages []hub.EventsPage
	calls []hub.EventsOpts
}

func (f *fakeHub) GetEvents(ctx context.Context, opts hub.EventsOpts) (*hub.EventsPage, error) {
	f.calls = append(f.calls, opts)
	idx := len(f.calls) - 1
	if idx >= len(f.pages) {
		return &hub.EventsPage{}, nil
	}
	return &f.pages[idx], nil
}

type fakeRegistry struct {
	targets       map[uint64]bool
	clientTargets map[uint64]bool
	roots         map[uint64]bool
	removed       []uint64
	ensured       map[uint64]bool
	promoted      []uint64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		targets:       map[uint64]bool{},
		clientTargets: map[uint64]bool{},
		roots:         map[uint64]bool{},
		ensured:       map[uint64]bool{},
	}
}

func (r *fakeRegistry) IsTarget(fid uint64) bool       { return r.targets[fid] }
func (r *fakeRegistry) IsClientTarget(fid uint64) bool { return r.clientTargets[fid] }
func (r *fakeRegistry) IsRootTarget(fid uint64) bool   { return r.roots[fid] }
func (r *fakeRegistry) EnsureTarget(ctx context.Context, fid uint64, isRoot bool) error {
	r.targets[fid] = true
	r.ensured[fid] = true
	if isRoot {
		r.roots[fid] = true
	}
	return nil
}
func (r *fakeRegistry) PromoteToRoot(ctx context.Context, fid uint64) error {
	r.targets[fid] = true
	r.roots[fid] = true
	r.promoted = append(r.promoted, fid)
	return nil
}
func (r *fakeRegistry) Remove(ctx context.Context, fid uint64) error {
	delete(r.targets, fid)
	delete(r.roots, fid)
	r.removed = append(r.removed, fid)
	return nil
}

type fakeFollows struct {
	remaining map[uint64]bool
}

func (f *fakeFollows) RemainingRootFollower(ctx context.Context, targetFID, excludeFID uint64) (bool, error) {
	return f.remaining[targetFID], nil
}

type fakeEnqueuer struct {
	enqueued []uint64
}

func (q *fakeEnqueuer) EnqueueProcessEvent(ctx context.Context, eventID uint64, raw json.RawMessage) error {
	q.enqueued = append(q.enqueued, eventID)
	return nil
}

type fakeCursor struct {
	state models.SyncState
}

func (c *fakeCursor) GetSyncState(ctx context.Context, name string) (models.SyncState, error) {
	return c.state, nil
}
func (c *fakeCursor) UpsertSyncState(ctx context.Context, name string, lastEventID uint64) error {
	c.state.LastEventID = lastEventID
	return nil
}

func mergeEventCastAdd(id, fid uint64, hash string) hub.Event {
	return hub.Event{
		ID:   id,
		Type: hub.WireEventTypeMergeMessage,
		MergeMessageBody: &struct {
			Message         hub.Message   `json:"message"`
			DeletedMessages []hub.Message `json:"deletedMessages,omitempty"`
		}{
			Message: hub.Message{
				Hash: hash,
				Data: hub.MessageData{Type: hub.WireMessageTypeCastAdd, FID: fid, Timestamp: 1, CastAddBody: &hub.CastAddBody{Text: "hi"}},
			},
		},
	}
}

func mergeEventLinkAdd(id, fid, targetFID uint64) hub.Event {
	return hub.Event{
		ID:   id,
		Type: hub.WireEventTypeMergeMessage,
		MergeMessageBody: &struct {
			Message         hub.Message   `json:"message"`
			DeletedMessages []hub.Message `json:"deletedMessages,omitempty"`
		}{
			Message: hub.Message{
				Hash: "0xfeed",
				Data: hub.MessageData{Type: hub.WireMessageTypeLinkAdd, FID: fid, Timestamp: 1, LinkBody: &hub.LinkBody{Type: "follow", TargetFID: targetFID}},
			},
		},
	}
}

func TestTick_RelevantEventEnqueuedAndCursorAdvances(t *testing.T) {
	h := &fakeHub{pages: []hub.EventsPage{{Events: []hub.Event{mergeEventCastAdd(5, 1, "0xA1")}}}}
	reg := newFakeRegistry()
	reg.targets[1] = true
	q := &fakeEnqueuer{}
	cursor := &fakeCursor{}

	w := New(h, reg, &fakeFollows{}, q, cursor, false)
	next, err := w.Tick(context.Background(), nil)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if next != 5 {
		t.Fatalf("cursor = %d, want 5", next)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != 5 {
		t.Fatalf("expected event 5 enqueued, got %v", q.enqueued)
	}
	if cursor.state.LastEventID != 5 {
		t.Fatalf("persisted cursor = %d, want 5", cursor.state.LastEventID)
	}
}

func TestTick_IrrelevantEventStillAdvancesCursor(t *testing.T) {
	h := &fakeHub{pages: []hub.EventsPage{{Events: []hub.Event{mergeEventCastAdd(9, 999, "0xA1")}}}}
	reg := newFakeRegistry() // fid 999 is not a target
	q := &fakeEnqueuer{}
	cursor := &fakeCursor{}

	w := New(h, reg, &fakeFollows{}, q, cursor, false)
	next, err := w.Tick(context.Background(), nil)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if next != 9 {
		t.Fatalf("cursor = %d, want 9", next)
	}
	if len(q.enqueued) != 0 {
		t.Fatal("expected no enqueue for irrelevant event")
	}
}

func TestExpand_LinkAddFromRootAddsNonRootTarget(t *testing.T) {
	h := &fakeHub{pages: []hub.EventsPage{{Events: []hub.Event{mergeEventLinkAdd(1, 1, 2)}}}}
	reg := newFakeRegistry()
	reg.targets[1] = true
	reg.roots[1] = true
	q := &fakeEnqueuer{}
	cursor := &fakeCursor{}

	w := New(h, reg, &fakeFollows{}, q, cursor, false)
	if _, err := w.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !reg.targets[2] {
		t.Fatal("expected target_fid 2 added as a Target")
	}
	if reg.roots[2] {
		t.Fatal("expected target_fid 2 added as non-root")
	}
}

func TestExpand_SignerAddPromotesClientTargetToRoot(t *testing.T) {
	e := hub.Event{
		ID:   1,
		Type: hub.WireEventTypeMergeOnChain,
		MergeOnChainEventBody: &struct {
			OnChainEvent hub.OnChainEvent `json:"onChainEvent"`
		}{
			OnChainEvent: hub.OnChainEvent{Type: hub.WireOnChainEventTypeSignerAdd, FID: 6},
		},
	}
	h := &fakeHub{pages: []hub.EventsPage{{Events: []hub.Event{e}}}}
	reg := newFakeRegistry()
	reg.clientTargets[6] = true
	q := &fakeEnqueuer{}
	cursor := &fakeCursor{}

	w := New(h, reg, &fakeFollows{}, q, cursor, true)
	if _, err := w.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(reg.promoted) != 1 || reg.promoted[0] != 6 {
		t.Fatalf("expected fid 6 promoted to root, got %v", reg.promoted)
	}
}

func TestExpand_UnfollowRemovesTargetOnlyWithNoRemainingRootFollower(t *testing.T) {
	e := hub.Event{
		ID:   1,
		Type: hub.WireEventTypeMergeMessage,
		MergeMessageBody: &struct {
			Message         hub.Message   `json:"message"`
			DeletedMessages []hub.Message `json:"deletedMessages,omitempty"`
		}{
			Message: hub.Message{
				Hash: "0xdead",
				Data: hub.MessageData{Type: hub.WireMessageTypeLinkRemove, FID: 1, Timestamp: 1, LinkBody: &hub.LinkBody{Type: "follow", TargetFID: 2}},
			},
		},
	}
	h := &fakeHub{pages: []hub.EventsPage{{Events: []hub.Event{e}}}}
	reg := newFakeRegistry()
	reg.targets[1] = true
	reg.roots[1] = true
	reg.targets[2] = true
	q := &fakeEnqueuer{}
	cursor := &fakeCursor{}
	follows := &fakeFollows{remaining: map[uint64]bool{}}

	w := New(h, reg, follows, q, cursor, false)
	if _, err := w.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(reg.removed) != 1 || reg.removed[0] != 2 {
		t.Fatalf("expected fid 2 removed, got %v", reg.removed)
	}
}

func TestExpand_UnfollowKeepsTargetWithRemainingRootFollower(t *testing.T) {
	e := hub.Event{
		ID:   1,
		Type: hub.WireEventTypeMergeMessage,
		MergeMessageBody: &struct {
			Message         hub.Message   `json:"message"`
			DeletedMessages []hub.Message `json:"deletedMessages,omitempty"`
		}{
			Message: hub.Message{
				Hash: "0xdead",
				Data: hub.MessageData{Type: hub.WireMessageTypeLinkRemove, FID: 1, Timestamp: 1, LinkBody: &hub.LinkBody{Type: "follow", TargetFID: 2}},
			},
		},
	}
	h := &fakeHub{pages: []hub.EventsPage{{Events: []hub.Event{e}}}}
	reg := newFakeRegistry()
	reg.targets[1] = true
	reg.roots[1] = true
	reg.targets[2] = true
	q := &fakeEnqueuer{}
	cursor := &fakeCursor{}
	follows := &fakeFollows{remaining: map[uint64]bool{2: true}}

	w := New(h, reg, follows, q, cursor, false)
	if _, err := w.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(reg.removed) != 0 {
		t.Fatalf("expected fid 2 kept, but it was removed")
	}
}
