package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// OfferKind distinguishes a sale offer from an offer of siring rights.
type OfferKind string

const (
	OfferKindSell OfferKind = "sell"
	OfferKindSire OfferKind = "sire"
)

// OfferKinds lists every kind the marketplace contract supports.
var OfferKinds = []OfferKind{OfferKindSell, OfferKindSire}

// ParseOfferKind converts a user-supplied string into an OfferKind.
func ParseOfferKind(s string) (OfferKind, error) {
	switch OfferKind(strings.ToLower(strings.TrimSpace(s))) {
	case OfferKindSell:
		return OfferKindSell, nil
	case OfferKindSire:
		return OfferKindSire, nil
	default:
		return "", fmt.Errorf("unknown offer kind %q", s)
	}
}

// OfferTerms are the raw terms the marketplace contract holds for one token.
type OfferTerms struct {
	TokenID uint64
	Seller  common.Address
	Price   *big.Int // wei
	Kind    OfferKind
	Active  bool
}

// Offer is a standing proposal to sell a kitty, or to sell siring rights for
// it, at a fixed price. Price is always in wei.
type Offer struct {
	TokenID uint64         `json:"token_id"`
	Seller  common.Address `json:"seller"`
	Price   *big.Int       `json:"price"`
	Kind    OfferKind      `json:"kind"`
	Active  bool           `json:"active"`
	Kitty   *Kitty         `json:"kitty,omitempty"`
}

// NewOffer builds an Offer from contract terms and an optional kitty snapshot.
func NewOffer(terms OfferTerms, kitty *Kitty) Offer {
	return Offer{
		TokenID: terms.TokenID,
		Seller:  terms.Seller,
		Price:   terms.Price,
		Kind:    terms.Kind,
		Active:  terms.Active,
		Kitty:   kitty,
	}.Clone()
}

// Clone returns a deep copy so callers can never mutate cached state.
func (o Offer) Clone() Offer {
	out := o
	if o.Price != nil {
		out.Price = new(big.Int).Set(o.Price)
	}
	if o.Kitty != nil {
		k := o.Kitty.Clone()
		out.Kitty = &k
	}
	return out
}
