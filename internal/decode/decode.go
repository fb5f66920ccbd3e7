// Package decode maps hub wire messages and events onto the internal record
// types in internal/models. Every function here is pure: no I/O, no clock
// reads beyond what the wire payload itself carries.
package decode

import (
	"encoding/json"
	"strings"
	"time"

	"hubindexer/internal/hub"
	"hubindexer/internal/models"
)

// Timestamp converts a wire Farcaster-epoch-seconds value to an absolute UTC
// instant.
func Timestamp(wireTS int64) time.Time {
	return time.Unix(hub.FarcasterEpoch+wireTS, 0).UTC()
}

// Hash canonicalizes a wire hash to lowercase with a 0x prefix. Hub JSON
// already encodes hashes as 0x-hex, but case is not guaranteed to be stable
// across hub implementations.
func Hash(h string) string {
	h = strings.ToLower(h)
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}

var reactionTypes = map[string]models.ReactionType{
	hub.WireReactionTypeLike:   models.ReactionLike,
	hub.WireReactionTypeRecast: models.ReactionRecast,
}

var userDataTypes = map[string]models.UserDataType{
	hub.WireUserDataTypePFP:           models.UserDataPFP,
	hub.WireUserDataTypeDisplay:       models.UserDataDisplay,
	hub.WireUserDataTypeBio:           models.UserDataBio,
	hub.WireUserDataTypeUsername:      models.UserDataUsername,
	hub.WireUserDataTypeURL:           models.UserDataURL,
	hub.WireUserDataTypeLocation:      models.UserDataLocation,
	hub.WireUserDataTypeTwitter:       models.UserDataTwitter,
	hub.WireUserDataTypeGithub:        models.UserDataGithub,
	hub.WireUserDataTypeBanner:        models.UserDataBanner,
	hub.WireUserDataTypePrimaryEth:    models.UserDataEthereumAddress,
	hub.WireUserDataTypePrimarySolana: models.UserDataSolanaAddress,
}

var onChainEventTypes = map[string]models.OnChainEventType{
	hub.WireOnChainEventTypeSignerAdd:    models.OnChainSignerAdd,
	hub.WireOnChainEventTypeSignerRemove: models.OnChainSignerRemove,
	hub.WireOnChainEventTypeIDRegister:   models.OnChainIDRegister,
	hub.WireOnChainEventTypeStorageRent:  models.OnChainStorageRent,
}

// Cast decodes a CAST_ADD message. Returns ok=false for any other message
// type.
func Cast(m hub.Message) (c models.Cast, ok bool) {
	if m.Data.Type != hub.WireMessageTypeCastAdd || m.Data.CastAddBody == nil {
		return models.Cast{}, false
	}
	body := m.Data.CastAddBody
	c = models.Cast{
		Hash:      Hash(m.Hash),
		FID:       m.Data.FID,
		Text:      body.Text,
		Timestamp: Timestamp(m.Data.Timestamp),
	}
	if body.ParentCastID != nil {
		ph := Hash(body.ParentCastID.Hash)
		c.ParentHash = &ph
		pf := body.ParentCastID.FID
		c.ParentFID = &pf
	}
	if body.ParentURL != nil {
		c.ParentURL = body.ParentURL
	}
	if len(body.Embeds) > 0 && string(body.Embeds) != "null" {
		s := string(body.Embeds)
		c.Embeds = &s
	}
	return c, true
}

// CastRemoveTarget returns the hash of the cast a CAST_REMOVE message
// deletes.
func CastRemoveTarget(m hub.Message) (hash string, ok bool) {
	if m.Data.Type != hub.WireMessageTypeCastRemove || m.Data.CastRemoveBody == nil {
		return "", false
	}
	return Hash(m.Data.CastRemoveBody.TargetHash), true
}

// Reaction decodes a REACTION_ADD message.
func Reaction(m hub.Message) (r models.Reaction, ok bool) {
	if m.Data.Type != hub.WireMessageTypeReactionAdd || m.Data.ReactionBody == nil {
		return models.Reaction{}, false
	}
	body := m.Data.ReactionBody
	rt, known := reactionTypes[body.Type]
	if !known || body.TargetCastID == nil {
		return models.Reaction{}, false
	}
	return models.Reaction{
		Hash:       Hash(m.Hash),
		FID:        m.Data.FID,
		Type:       rt,
		TargetHash: Hash(body.TargetCastID.Hash),
		Timestamp:  Timestamp(m.Data.Timestamp),
	}, true
}

// ReactionRemoveTarget returns the hash a REACTION_REMOVE message deletes.
func ReactionRemoveTarget(m hub.Message) (hash string, ok bool) {
	if m.Data.Type != hub.WireMessageTypeReactionRemove {
		return "", false
	}
	return Hash(m.Hash), true
}

// Link decodes a LINK_ADD (follow) message.
func Link(m hub.Message) (l models.Link, ok bool) {
	if m.Data.Type != hub.WireMessageTypeLinkAdd || m.Data.LinkBody == nil {
		return models.Link{}, false
	}
	body := m.Data.LinkBody
	return models.Link{
		Hash:      Hash(m.Hash),
		FID:       m.Data.FID,
		TargetFID: body.TargetFID,
		Type:      body.Type,
		Timestamp: Timestamp(m.Data.Timestamp),
	}, true
}

// LinkRemoveTarget returns the hash a LINK_REMOVE message deletes, along with
// the fid pair it affects so callers can react to unfollows.
func LinkRemoveTarget(m hub.Message) (hash string, fid uint64, targetFID uint64, ok bool) {
	if m.Data.Type != hub.WireMessageTypeLinkRemove || m.Data.LinkBody == nil {
		return "", 0, 0, false
	}
	return Hash(m.Hash), m.Data.FID, m.Data.LinkBody.TargetFID, true
}

// Verification decodes a VERIFICATION_ADD_ETH_ADDRESS message.
func Verification(m hub.Message) (v models.Verification, ok bool) {
	if m.Data.Type != hub.WireMessageTypeVerificationAddEth || m.Data.VerificationAddAddressBody == nil {
		return models.Verification{}, false
	}
	body := m.Data.VerificationAddAddressBody
	return models.Verification{
		Hash:      Hash(m.Hash),
		FID:       m.Data.FID,
		Address:   strings.ToLower(body.Address),
		Protocol:  body.Protocol,
		Timestamp: Timestamp(m.Data.Timestamp),
	}, true
}

// VerificationRemoveTarget returns the hash a VERIFICATION_REMOVE message
// deletes.
func VerificationRemoveTarget(m hub.Message) (hash string, ok bool) {
	if m.Data.Type != hub.WireMessageTypeVerificationRemove {
		return "", false
	}
	return Hash(m.Hash), true
}

// UserData decodes a USER_DATA_ADD message. Unknown wire types decode to
// UserDataUnknown rather than being dropped, so callers can still persist
// the raw value without silently losing profile writes as new wire types
// are added upstream.
func UserData(m hub.Message) (u models.UserDataEntry, ok bool) {
	if m.Data.Type != hub.WireMessageTypeUserDataAdd || m.Data.UserDataBody == nil {
		return models.UserDataEntry{}, false
	}
	body := m.Data.UserDataBody
	t, known := userDataTypes[body.Type]
	if !known {
		t = models.UserDataUnknown
	}
	return models.UserDataEntry{
		Hash:      Hash(m.Hash),
		FID:       m.Data.FID,
		Type:      t,
		Value:     body.Value,
		Timestamp: Timestamp(m.Data.Timestamp),
	}, true
}

// OnChainEvent decodes a hub on-chain signer/id-registry event. Returns
// ok=false for event types not in the known set.
func OnChainEvent(e hub.OnChainEvent) (oc models.OnChainEvent, ok bool) {
	t, known := onChainEventTypes[e.Type]
	if !known {
		return models.OnChainEvent{}, false
	}
	oc = models.OnChainEvent{
		Type:            t,
		ChainID:         e.ChainID,
		BlockNumber:     e.BlockNumber,
		BlockHash:       Hash(e.BlockHash),
		BlockTimestamp:  time.Unix(e.BlockTimestamp, 0).UTC(),
		TransactionHash: Hash(e.TransactionHash),
		LogIndex:        e.LogIndex,
		FID:             e.FID,
	}
	if e.SignerEventBody != nil {
		if body, err := json.Marshal(e.SignerEventBody); err == nil {
			oc.SignerEventBody = body
		}
	}
	if e.IDRegisterEventBody != nil {
		if body, err := json.Marshal(e.IDRegisterEventBody); err == nil {
			oc.IDRegisterEventBody = body
		}
	}
	return oc, true
}
