package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt acknowledges that the ledger accepted a write. It says nothing
// about settlement.
type Receipt struct {
	TxHash common.Hash    `json:"tx_hash"`
	From   common.Address `json:"from"`
}

// Subscription is a live upstream event feed. It mirrors the shape of
// go-ethereum's event.Subscription.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// MarketGateway is the remote marketplace contract.
type MarketGateway interface {
	ActiveOfferIDs(ctx context.Context, kind OfferKind) ([]uint64, error)
	// OfferTerms returns ErrNotActive when the token has no active offer.
	OfferTerms(ctx context.Context, tokenID uint64) (OfferTerms, error)
	SendOffer(ctx context.Context, kind OfferKind, tokenID uint64, price *big.Int) (Receipt, error)
	SendBuy(ctx context.Context, tokenID uint64, price *big.Int) (Receipt, error)
	SendBuySire(ctx context.Context, tokenID, matronID uint64, price *big.Int) (Receipt, error)
	SendRemoveOffer(ctx context.Context, tokenID uint64) (Receipt, error)
	// Operator is the marketplace contract address, used for approvals.
	Operator() common.Address
}

// KittyLedger is the entity-ownership contract.
type KittyLedger interface {
	Kitty(ctx context.Context, id uint64) (Kitty, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (Receipt, error)
	SendBreed(ctx context.Context, mumID, dadID uint64) (Receipt, error)
}

// Identity is the account every call and write is made from.
type Identity interface {
	Address() common.Address
}
