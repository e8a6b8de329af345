package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// revertNotActive is the revert reason getOffer uses for a token without an
// active offer.
const revertNotActive = "offer not active"

// ActiveOfferIDs returns the token ids with an active offer of kind.
func (c *Client) ActiveOfferIDs(ctx context.Context, kind domain.OfferKind) ([]uint64, error) {
	method := "getAllTokenOnSale"
	if kind == domain.OfferKindSire {
		method = "getAllSireOffers"
	}
	out, err := c.call(ctx, c.market, method)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("ledger: %s: got %d outputs", method, len(out))
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: %s: unexpected %T", method, out[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		if !id.IsUint64() {
			return nil, fmt.Errorf("ledger: %s: token id %s overflows", method, id)
		}
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

// OfferTerms reads the offer for tokenID. A revert with the "offer not
// active" reason, or terms flagged inactive, yield domain.ErrNotActive.
func (c *Client) OfferTerms(ctx context.Context, tokenID uint64) (domain.OfferTerms, error) {
	out, err := c.call(ctx, c.market, "getOffer", tokenArg(tokenID))
	if err != nil {
		if strings.Contains(err.Error(), revertNotActive) {
			return domain.OfferTerms{}, domain.ErrNotActive
		}
		c.logger.WarnContext(ctx, "getOffer failed",
			slog.Uint64("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return domain.OfferTerms{}, fmt.Errorf("ledger: getOffer %d: %w", tokenID, err)
	}
	terms, err := decodeOffer(out)
	if err != nil {
		return domain.OfferTerms{}, fmt.Errorf("ledger: getOffer %d: %w", tokenID, err)
	}
	if !terms.Active {
		return domain.OfferTerms{}, domain.ErrNotActive
	}
	return terms, nil
}

func decodeOffer(out []any) (domain.OfferTerms, error) {
	if len(out) != 6 {
		return domain.OfferTerms{}, fmt.Errorf("got %d outputs, want 6", len(out))
	}
	seller, ok := out[0].(common.Address)
	if !ok {
		return domain.OfferTerms{}, fmt.Errorf("seller: unexpected %T", out[0])
	}
	price, err := asBig(out[1])
	if err != nil {
		return domain.OfferTerms{}, fmt.Errorf("price: %w", err)
	}
	tokenID, err := asUint64(out[3])
	if err != nil {
		return domain.OfferTerms{}, fmt.Errorf("token id: %w", err)
	}
	isSire, ok := out[4].(bool)
	if !ok {
		return domain.OfferTerms{}, fmt.Errorf("isSireOffer: unexpected %T", out[4])
	}
	active, ok := out[5].(bool)
	if !ok {
		return domain.OfferTerms{}, fmt.Errorf("active: unexpected %T", out[5])
	}
	kind := domain.OfferKindSell
	if isSire {
		kind = domain.OfferKindSire
	}
	return domain.OfferTerms{
		TokenID: tokenID,
		Seller:  seller,
		Price:   new(big.Int).Set(price),
		Kind:    kind,
		Active:  active,
	}, nil
}

// SendOffer creates a sale or siring offer for tokenID at price wei.
func (c *Client) SendOffer(ctx context.Context, kind domain.OfferKind, tokenID uint64, price *big.Int) (domain.Receipt, error) {
	method := "setOffer"
	if kind == domain.OfferKindSire {
		method = "setSireOffer"
	}
	r, err := c.transact(ctx, c.market, nil, method, price, tokenArg(tokenID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: %s %d: %w", method, tokenID, err)
	}
	return r, nil
}

// SendBuy buys tokenID paying price wei.
func (c *Client) SendBuy(ctx context.Context, tokenID uint64, price *big.Int) (domain.Receipt, error) {
	r, err := c.transact(ctx, c.market, price, "buyKitty", tokenArg(tokenID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: buyKitty %d: %w", tokenID, err)
	}
	return r, nil
}

// SendBuySire buys the siring rights of tokenID for matronID.
func (c *Client) SendBuySire(ctx context.Context, tokenID, matronID uint64, price *big.Int) (domain.Receipt, error) {
	r, err := c.transact(ctx, c.market, price, "buySireRites", tokenArg(tokenID), tokenArg(matronID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: buySireRites %d: %w", tokenID, err)
	}
	return r, nil
}

// SendRemoveOffer withdraws the offer for tokenID.
func (c *Client) SendRemoveOffer(ctx context.Context, tokenID uint64) (domain.Receipt, error) {
	r, err := c.transact(ctx, c.market, nil, "removeOffer", tokenArg(tokenID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: removeOffer %d: %w", tokenID, err)
	}
	return r, nil
}
