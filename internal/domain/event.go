package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketEventKind classifies a marketplace notification.
type MarketEventKind string

const (
	MarketEventCreated     MarketEventKind = "created"
	MarketEventSold        MarketEventKind = "sold"
	MarketEventRemoved     MarketEventKind = "removed"
	MarketEventSireSettled MarketEventKind = "sire_settled"
)

// Terminal reports whether the event ends the offer for its token.
func (k MarketEventKind) Terminal() bool {
	switch k {
	case MarketEventSold, MarketEventRemoved, MarketEventSireSettled:
		return true
	default:
		return false
	}
}

// MarketEvent is one marketplace notification decoded from the ledger. Events
// are delivered at least once and may arrive out of emission order after a
// reconnect, so consumers treat each one as "set state for TokenID" and never
// as a delta.
type MarketEvent struct {
	Kind        MarketEventKind `json:"kind"`
	OfferKind   OfferKind       `json:"offer_kind,omitempty"`
	TokenID     uint64          `json:"token_id"`
	Owner       common.Address  `json:"owner"`
	TxHash      common.Hash     `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
	Removed     bool            `json:"removed"`
	ReceivedAt  time.Time       `json:"received_at"`
	Raw         []byte          `json:"-"`
}

// BirthEvent is emitted by the kitty contract when a new kitty is created,
// including the kitten of a successful breed.
type BirthEvent struct {
	Owner      common.Address `json:"owner"`
	KittyID    uint64         `json:"kitty_id"`
	MumID      uint64         `json:"mum_id"`
	DadID      uint64         `json:"dad_id"`
	Genes      *big.Int       `json:"genes,omitempty"`
	TxHash     common.Hash    `json:"tx_hash"`
	ReceivedAt time.Time      `json:"received_at"`
}
