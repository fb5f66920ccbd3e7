package decode

import (
	"hubindexer/internal/hub"
	"hubindexer/internal/models"
)

// Kind classifies a decoded hub event for routing to the event processor's
// per-table buffers.
type Kind string

const (
	KindMergeCast               Kind = "merge_cast"
	KindMergeCastRemove         Kind = "merge_cast_remove"
	KindMergeReaction           Kind = "merge_reaction"
	KindMergeReactionRemove     Kind = "merge_reaction_remove"
	KindMergeLink               Kind = "merge_link"
	KindMergeLinkRemove         Kind = "merge_link_remove"
	KindMergeVerification       Kind = "merge_verification"
	KindMergeVerificationRemove Kind = "merge_verification_remove"
	KindMergeUserData           Kind = "merge_user_data"
	KindPruneCast               Kind = "prune_cast"
	KindPruneReaction           Kind = "prune_reaction"
	KindPruneLink               Kind = "prune_link"
	KindPruneVerification       Kind = "prune_verification"
	KindRevokeCast              Kind = "revoke_cast"
	KindRevokeReaction          Kind = "revoke_reaction"
	KindRevokeLink              Kind = "revoke_link"
	KindRevokeVerification      Kind = "revoke_verification"
	KindMergeOnChainEvent       Kind = "merge_on_chain_event"
	KindUnknown                 Kind = "unknown"
)

// Event is the flattened, decoded form of one hub.Event, ready for the
// processor to route to the right buffer without re-inspecting wire shapes.
type Event struct {
	ID   uint64
	Kind Kind

	Cast         *models.Cast
	Reaction     *models.Reaction
	Link         *models.Link
	Verification *models.Verification
	UserData     *models.UserDataEntry
	OnChainEvent *models.OnChainEvent

	// RemoveHash is set for *_remove and prune/revoke kinds: the hash of the
	// row to delete from the corresponding table.
	RemoveHash string

	// FID/TargetFID are populated for link removals so the realtime worker
	// can react to unfollows of root targets without re-decoding the
	// message.
	FID       uint64
	TargetFID uint64
}

// DecodeEvent flattens a raw hub event into an Event. Event types or message
// types this build doesn't recognize decode to KindUnknown and should be
// ignored by callers, not treated as errors: hubs evolve their wire protocol
// independently of this indexer's release cadence.
func DecodeEvent(e hub.Event) Event {
	out := Event{ID: e.ID, Kind: KindUnknown}

	switch e.Type {
	case hub.WireEventTypeMergeMessage:
		if e.MergeMessageBody == nil {
			return out
		}
		decodeMerge(&out, e.MergeMessageBody.Message)

	case hub.WireEventTypePruneMessage:
		if e.PruneMessageBody == nil {
			return out
		}
		decodePrune(&out, e.PruneMessageBody.Message)

	case hub.WireEventTypeRevokeMessage:
		if e.RevokeMessageBody == nil {
			return out
		}
		decodeRevoke(&out, e.RevokeMessageBody.Message)

	case hub.WireEventTypeMergeOnChain:
		if e.MergeOnChainEventBody == nil {
			return out
		}
		if oc, ok := OnChainEvent(e.MergeOnChainEventBody.OnChainEvent); ok {
			out.Kind = KindMergeOnChainEvent
			out.OnChainEvent = &oc
			out.FID = oc.FID
		}
	}

	return out
}

func decodeMerge(out *Event, m hub.Message) {
	if c, ok := Cast(m); ok {
		out.Kind, out.Cast, out.FID = KindMergeCast, &c, c.FID
		return
	}
	if hash, ok := CastRemoveTarget(m); ok {
		out.Kind, out.RemoveHash, out.FID = KindMergeCastRemove, hash, m.Data.FID
		return
	}
	if r, ok := Reaction(m); ok {
		out.Kind, out.Reaction, out.FID = KindMergeReaction, &r, r.FID
		return
	}
	if hash, ok := ReactionRemoveTarget(m); ok && m.Data.Type == hub.WireMessageTypeReactionRemove {
		out.Kind, out.RemoveHash, out.FID = KindMergeReactionRemove, hash, m.Data.FID
		return
	}
	if l, ok := Link(m); ok {
		out.Kind, out.Link, out.FID, out.TargetFID = KindMergeLink, &l, l.FID, l.TargetFID
		return
	}
	if hash, fid, targetFID, ok := LinkRemoveTarget(m); ok {
		out.Kind, out.RemoveHash, out.FID, out.TargetFID = KindMergeLinkRemove, hash, fid, targetFID
		return
	}
	if v, ok := Verification(m); ok {
		out.Kind, out.Verification, out.FID = KindMergeVerification, &v, v.FID
		return
	}
	if hash, ok := VerificationRemoveTarget(m); ok && m.Data.Type == hub.WireMessageTypeVerificationRemove {
		out.Kind, out.RemoveHash, out.FID = KindMergeVerificationRemove, hash, m.Data.FID
		return
	}
	if u, ok := UserData(m); ok {
		out.Kind, out.UserData, out.FID = KindMergeUserData, &u, u.FID
		return
	}
}

func decodePrune(out *Event, m hub.Message) {
	switch m.Data.Type {
	case hub.WireMessageTypeCastAdd:
		out.Kind, out.RemoveHash, out.FID = KindPruneCast, Hash(m.Hash), m.Data.FID
	case hub.WireMessageTypeReactionAdd:
		out.Kind, out.RemoveHash, out.FID = KindPruneReaction, Hash(m.Hash), m.Data.FID
	case hub.WireMessageTypeLinkAdd:
		out.Kind, out.RemoveHash, out.FID = KindPruneLink, Hash(m.Hash), m.Data.FID
	case hub.WireMessageTypeVerificationAddEth:
		out.Kind, out.RemoveHash, out.FID = KindPruneVerification, Hash(m.Hash), m.Data.FID
	}
}

func decodeRevoke(out *Event, m hub.Message) {
	switch m.Data.Type {
	case hub.WireMessageTypeCastAdd:
		out.Kind, out.RemoveHash, out.FID = KindRevokeCast, Hash(m.Hash), m.Data.FID
	case hub.WireMessageTypeReactionAdd:
		out.Kind, out.RemoveHash, out.FID = KindRevokeReaction, Hash(m.Hash), m.Data.FID
	case hub.WireMessageTypeLinkAdd:
		out.Kind, out.RemoveHash, out.FID = KindRevokeLink, Hash(m.Hash), m.Data.FID
	case hub.WireMessageTypeVerificationAddEth:
		out.Kind, out.RemoveHash, out.FID = KindRevokeVerification, Hash(m.Hash), m.Data.FID
	}
}
