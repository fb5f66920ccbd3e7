// Package models holds the internal record types materialized from the hub
// wire protocol. These are plain structs; the SQL schema that backs them is
// owned by the repository package, not by this package.
package models

import "time"

// Target is a tracked fid. Unique by FID.
type Target struct {
	FID          uint64     `json:"fid"`
	IsRoot       bool       `json:"is_root"`
	AddedAt      time.Time  `json:"added_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// ClientTarget is a fid whose SIGNER_ADD on-chain events are watched to
// detect new-user signups on a specific client.
type ClientTarget struct {
	ClientFID uint64    `json:"client_fid"`
	AddedAt   time.Time `json:"added_at"`
}

// Cast is a post. Unique by Hash, immutable once written except by delete.
type Cast struct {
	Hash      string    `json:"hash"`
	FID       uint64    `json:"fid"`
	Text      string    `json:"text"`
	ParentHash *string  `json:"parent_hash,omitempty"`
	ParentFID  *uint64  `json:"parent_fid,omitempty"`
	ParentURL  *string  `json:"parent_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Embeds    *string   `json:"embeds,omitempty"` // JSON array string, nil if absent
}

// ReactionType enumerates the internal reaction tags.
type ReactionType string

const (
	ReactionLike   ReactionType = "like"
	ReactionRecast ReactionType = "recast"
)

// Reaction is a like or recast. Unique by Hash.
type Reaction struct {
	Hash       string       `json:"hash"`
	FID        uint64       `json:"fid"`
	Type       ReactionType `json:"type"`
	TargetHash string       `json:"target_hash"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Link is a follow edge. Unique by Hash.
type Link struct {
	Hash      string    `json:"hash"`
	FID       uint64    `json:"fid"`
	TargetFID uint64    `json:"target_fid"`
	Type      string    `json:"type"` // always "follow" today
	Timestamp time.Time `json:"timestamp"`
}

// Verification is an address claim. Unique by Hash.
type Verification struct {
	Hash      string    `json:"hash"`
	FID       uint64    `json:"fid"`
	Address   string    `json:"address"`
	Protocol  string    `json:"protocol"` // "ethereum"
	Timestamp time.Time `json:"timestamp"`
}

// UserDataType enumerates the internal profile-attribute tags.
type UserDataType string

const (
	UserDataPFP              UserDataType = "pfp"
	UserDataDisplay          UserDataType = "display"
	UserDataBio              UserDataType = "bio"
	UserDataUsername         UserDataType = "username"
	UserDataURL              UserDataType = "url"
	UserDataLocation         UserDataType = "location"
	UserDataTwitter          UserDataType = "twitter"
	UserDataGithub           UserDataType = "github"
	UserDataBanner           UserDataType = "banner"
	UserDataEthereumAddress  UserDataType = "ethereum_address"
	UserDataSolanaAddress    UserDataType = "solana_address"
	UserDataUnknown          UserDataType = "unknown"
)

// UserDataEntry is one profile-attribute write. Latest timestamp wins per
// (FID, Type).
type UserDataEntry struct {
	Hash      string       `json:"hash"`
	FID       uint64       `json:"fid"`
	Type      UserDataType `json:"type"`
	Value     string       `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// UserView is the derived per-fid projection of the latest UserDataEntry of
// each type seen so far.
type UserView struct {
	FID              uint64 `json:"fid"`
	PFP              string `json:"pfp,omitempty"`
	Display          string `json:"display,omitempty"`
	Bio              string `json:"bio,omitempty"`
	Username         string `json:"username,omitempty"`
	URL              string `json:"url,omitempty"`
	Location         string `json:"location,omitempty"`
	Twitter          string `json:"twitter,omitempty"`
	Github           string `json:"github,omitempty"`
	Banner           string `json:"banner,omitempty"`
	EthereumAddress  string `json:"ethereum_address,omitempty"`
	SolanaAddress    string `json:"solana_address,omitempty"`
}

// OnChainEventType enumerates the on-chain signer/id-registry event kinds.
type OnChainEventType string

const (
	OnChainSignerAdd      OnChainEventType = "SIGNER_ADD"
	OnChainSignerRemove   OnChainEventType = "SIGNER_REMOVE"
	OnChainIDRegister     OnChainEventType = "ID_REGISTER"
	OnChainStorageRent    OnChainEventType = "STORAGE_RENT"
)

// OnChainEvent is a signer/id-registry event. Unique by (TransactionHash, LogIndex).
type OnChainEvent struct {
	Type                OnChainEventType `json:"type"`
	ChainID             uint64           `json:"chain_id"`
	BlockNumber         uint64           `json:"block_number"`
	BlockHash           string           `json:"block_hash"`
	BlockTimestamp      time.Time        `json:"block_timestamp"`
	TransactionHash     string           `json:"transaction_hash"`
	LogIndex            uint32           `json:"log_index"`
	FID                 uint64           `json:"fid"`
	SignerEventBody     []byte           `json:"signer_event_body,omitempty"`     // JSON
	IDRegisterEventBody []byte           `json:"id_register_event_body,omitempty"` // JSON
}

// SyncState holds a single named cursor row, e.g. "last_event_id".
type SyncState struct {
	Name        string    `json:"name"`
	LastEventID uint64    `json:"last_event_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}
