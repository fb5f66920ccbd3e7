package hub

import "encoding/json"

// FarcasterEpoch is the Unix second at which the hub's message timestamps
// are zeroed (2021-01-01T00:00:00Z). Wire timestamps are seconds since this
// epoch; internal records use absolute instants.
const FarcasterEpoch int64 = 1609459200

// Wire-level message type tags, as returned by a hub's JSON API.
const (
	WireMessageTypeCastAdd              = "MESSAGE_TYPE_CAST_ADD"
	WireMessageTypeCastRemove           = "MESSAGE_TYPE_CAST_REMOVE"
	WireMessageTypeReactionAdd          = "MESSAGE_TYPE_REACTION_ADD"
	WireMessageTypeReactionRemove       = "MESSAGE_TYPE_REACTION_REMOVE"
	WireMessageTypeLinkAdd              = "MESSAGE_TYPE_LINK_ADD"
	WireMessageTypeLinkRemove           = "MESSAGE_TYPE_LINK_REMOVE"
	WireMessageTypeVerificationAddEth   = "MESSAGE_TYPE_VERIFICATION_ADD_ETH_ADDRESS"
	WireMessageTypeVerificationRemove   = "MESSAGE_TYPE_VERIFICATION_REMOVE"
	WireMessageTypeUserDataAdd          = "MESSAGE_TYPE_USER_DATA_ADD"
)

const (
	WireReactionTypeLike   = "REACTION_TYPE_LIKE"
	WireReactionTypeRecast = "REACTION_TYPE_RECAST"
)

const (
	WireUserDataTypePFP             = "USER_DATA_TYPE_PFP"
	WireUserDataTypeDisplay         = "USER_DATA_TYPE_DISPLAY"
	WireUserDataTypeBio             = "USER_DATA_TYPE_BIO"
	WireUserDataTypeUsername        = "USER_DATA_TYPE_USERNAME"
	WireUserDataTypeURL             = "USER_DATA_TYPE_URL"
	WireUserDataTypeLocation        = "USER_DATA_TYPE_LOCATION"
	WireUserDataTypeTwitter         = "USER_DATA_TYPE_TWITTER"
	WireUserDataTypeGithub          = "USER_DATA_TYPE_GITHUB"
	WireUserDataTypeBanner          = "USER_DATA_TYPE_BANNER"
	WireUserDataTypePrimaryEth      = "USER_DATA_TYPE_USER_DATA_PRIMARY_ADDRESS_ETHEREUM"
	WireUserDataTypePrimarySolana   = "USER_DATA_TYPE_USER_DATA_PRIMARY_ADDRESS_SOLANA"
)

const (
	WireEventTypeMergeMessage    = "HUB_EVENT_TYPE_MERGE_MESSAGE"
	WireEventTypePruneMessage    = "HUB_EVENT_TYPE_PRUNE_MESSAGE"
	WireEventTypeRevokeMessage   = "HUB_EVENT_TYPE_REVOKE_MESSAGE"
	WireEventTypeMergeOnChain    = "HUB_EVENT_TYPE_MERGE_ON_CHAIN_EVENT"
)

const (
	WireOnChainEventTypeSignerAdd    = "EVENT_TYPE_SIGNER_ADD"
	WireOnChainEventTypeSignerRemove = "EVENT_TYPE_SIGNER_REMOVE"
	WireOnChainEventTypeIDRegister   = "EVENT_TYPE_ID_REGISTER"
	WireOnChainEventTypeStorageRent  = "EVENT_TYPE_STORAGE_RENT"
)

// CastID identifies a cast by its author and hash.
type CastID struct {
	FID  uint64 `json:"fid"`
	Hash string `json:"hash"`
}

// MessageData is the signed payload of a hub message.
type MessageData struct {
	Type      string `json:"type"`
	FID       uint64 `json:"fid"`
	Timestamp int64  `json:"timestamp"`
	Network   string `json:"network"`

	CastAddBody            *CastAddBody            `json:"castAddBody,omitempty"`
	CastRemoveBody         *CastRemoveBody         `json:"castRemoveBody,omitempty"`
	ReactionBody           *ReactionBody           `json:"reactionBody,omitempty"`
	LinkBody                *LinkBody              `json:"linkBody,omitempty"`
	VerificationAddAddressBody *VerificationAddAddressBody `json:"verificationAddAddressBody,omitempty"`
	VerificationRemoveBody  *VerificationRemoveBody `json:"verificationRemoveBody,omitempty"`
	UserDataBody            *UserDataBody           `json:"userDataBody,omitempty"`
}

// Message is a signed hub message: data + hash + signature metadata.
type Message struct {
	Data   MessageData `json:"data"`
	Hash   string      `json:"hash"`
	Signer string      `json:"signer"`
}

type CastAddBody struct {
	Text          string          `json:"text"`
	Embeds        json.RawMessage `json:"embeds,omitempty"`
	ParentCastID  *CastID         `json:"parentCastId,omitempty"`
	ParentURL     *string         `json:"parentUrl,omitempty"`
}

type CastRemoveBody struct {
	TargetHash string `json:"targetHash"`
}

type ReactionBody struct {
	Type          string  `json:"type"`
	TargetCastID  *CastID `json:"targetCastId,omitempty"`
}

type LinkBody struct {
	Type      string `json:"type"`
	TargetFID uint64 `json:"targetFid"`
}

type VerificationAddAddressBody struct {
	Address  string `json:"address"`
	Protocol string `json:"protocol"`
}

type VerificationRemoveBody struct {
	Address string `json:"address"`
}

type UserDataBody struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SignerEventBody / IDRegisterEventBody are the on-chain log bodies Farcaster's
// id-registry/key-registry contracts emit, as surfaced by the hub.
type SignerEventBody struct {
	Key           string `json:"key"`
	KeyType       int    `json:"keyType"`
	EventType     string `json:"eventType"`
	Metadata      string `json:"metadata,omitempty"`
}

type IDRegisterEventBody struct {
	To        string `json:"to"`
	EventType string `json:"eventType"`
	From      string `json:"from,omitempty"`
}

// OnChainEvent is an on-chain signer/id-registry event as reported by a hub.
type OnChainEvent struct {
	Type                string               `json:"type"`
	ChainID             uint64               `json:"chainId"`
	BlockNumber         uint64               `json:"blockNumber"`
	BlockHash           string               `json:"blockHash"`
	BlockTimestamp      int64                `json:"blockTimestamp"`
	TransactionHash     string               `json:"transactionHash"`
	LogIndex            uint32               `json:"logIndex"`
	FID                 uint64               `json:"fid"`
	SignerEventBody     *SignerEventBody     `json:"signerEventBody,omitempty"`
	IDRegisterEventBody *IDRegisterEventBody `json:"idRegisterEventBody,omitempty"`
}

// Event is one entry of the hub's event stream.
type Event struct {
	ID                 uint64        `json:"id"`
	Type               string        `json:"type"`
	MergeMessageBody   *struct {
		Message          Message   `json:"message"`
		DeletedMessages  []Message `json:"deletedMessages,omitempty"`
	} `json:"mergeMessageBody,omitempty"`
	PruneMessageBody  *struct {
		Message Message `json:"message"`
	} `json:"pruneMessageBody,omitempty"`
	RevokeMessageBody *struct {
		Message Message `json:"message"`
	} `json:"revokeMessageBody,omitempty"`
	MergeOnChainEventBody *struct {
		OnChainEvent OnChainEvent `json:"onChainEvent"`
	} `json:"mergeOnChainEventBody,omitempty"`
}

// HubInfo is the response of GET /v1/info.
type HubInfo struct {
	Version string `json:"version"`
	Stats   struct {
		NumMessages uint64 `json:"numMessages"`
		NumFIDs     uint64 `json:"numFidEvents"`
	} `json:"dbStats"`
}

// EventsPage is the response of GET /v1/events.
type EventsPage struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// MessagesPage is the response shape shared by all the per-fid "by fid"
// endpoints (casts/reactions/links/verifications/userData).
type MessagesPage struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

// OnChainEventsPage is the response of GET /v1/onChainSignersByFid.
type OnChainEventsPage struct {
	Events        []OnChainEvent `json:"events"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}
