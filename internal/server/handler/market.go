package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
	"github.com/alanyoungcy/kittymarket/internal/service"
)

// MarketService defines what the market handler needs from the service
// layer.
type MarketService interface {
	ListOffers(ctx context.Context, kind domain.OfferKind) ([]domain.Offer, error)
	GetOffer(ctx context.Context, tokenID uint64) (domain.Offer, bool, error)
	Snapshot(kind domain.OfferKind) []domain.Offer
	Sell(ctx context.Context, tokenID uint64, price decimal.Decimal) (domain.Receipt, error)
	SetSireOffer(ctx context.Context, tokenID uint64, price decimal.Decimal) (domain.Receipt, error)
	Buy(ctx context.Context, offer domain.Offer) (domain.Receipt, error)
	BuySireRites(ctx context.Context, offer domain.Offer, matronID uint64) (domain.Receipt, error)
	RemoveOffer(ctx context.Context, tokenID uint64) (domain.Receipt, error)
	Status(name string) (domain.RequestState, bool)
	Statuses() map[string]domain.RequestState
	Reset(name string) error
	IsApproved(ctx context.Context) (bool, error)
	Approve(ctx context.Context) (domain.Receipt, error)
}

// MarketHandler serves offer listing and marketplace writes.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, logger: logger}
}

// offerView adds a display price to an offer.
type offerView struct {
	domain.Offer
	PriceEther string `json:"price_ether"`
}

func viewOf(o domain.Offer) offerView {
	return offerView{Offer: o, PriceEther: service.PriceInEther(o.Price)}
}

// writeAccepted is the response to every marketplace write.
type writeAccepted struct {
	Request string              `json:"request"`
	TxHash  string              `json:"tx_hash"`
	State   domain.RequestState `json:"state"`
	Message string              `json:"message,omitempty"`
}

type priceBody struct {
	Price string `json:"price"`
}

type buySireBody struct {
	MatronID uint64 `json:"matron_id"`
}

// ListOffers returns the active offers of one kind. cached=true serves the
// in-memory view without a ledger round trip.
// GET /api/offers?kind=sell|sire&cached=true
func (h *MarketHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	kind := domain.OfferKindSell
	if q := r.URL.Query().Get("kind"); q != "" {
		var err error
		if kind, err = domain.ParseOfferKind(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var offers []domain.Offer
	if r.URL.Query().Get("cached") == "true" {
		offers = h.market.Snapshot(kind)
	} else {
		var err error
		if offers, err = h.market.ListOffers(r.Context(), kind); err != nil {
			writeServiceError(w, r, h.logger, "list offers", err)
			return
		}
	}

	views := make([]offerView, 0, len(offers))
	for _, o := range offers {
		views = append(views, viewOf(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "offers": views})
}

// GetOffer returns the active offer for one token.
// GET /api/offers/{tokenID}
func (h *MarketHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenParam(w, r, "tokenID")
	if !ok {
		return
	}
	offer, found, err := h.market.GetOffer(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get offer", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no active offer")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(offer))
}

// Sell lists a kitty for sale.
// POST /api/offers/{tokenID}/sell {"price":"1.5"}
func (h *MarketHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.createOffer(w, r, lifecycle.Selling, h.market.Sell)
}

// SetSireOffer offers a kitty's siring rights.
// POST /api/offers/{tokenID}/sire {"price":"0.25"}
func (h *MarketHandler) SetSireOffer(w http.ResponseWriter, r *http.Request) {
	h.createOffer(w, r, lifecycle.Siring, h.market.SetSireOffer)
}

func (h *MarketHandler) createOffer(
	w http.ResponseWriter,
	r *http.Request,
	capability string,
	send func(context.Context, uint64, decimal.Decimal) (domain.Receipt, error),
) {
	id, ok := tokenParam(w, r, "tokenID")
	if !ok {
		return
	}
	var body priceBody
	if !decodeBody(w, r, &body) {
		return
	}
	price, err := service.ParseEther(body.Price)
	if err != nil {
		writeServiceError(w, r, h.logger, capability, err)
		return
	}
	receipt, err := send(r.Context(), id, price)
	h.accepted(w, r, lifecycle.Key(capability, id), receipt, err)
}

// Buy purchases the kitty on sale.
// POST /api/offers/{tokenID}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	offer, ok := h.activeOffer(w, r)
	if !ok {
		return
	}
	receipt, err := h.market.Buy(r.Context(), offer)
	h.accepted(w, r, lifecycle.Key(lifecycle.Buying, offer.TokenID), receipt, err)
}

// BuySireRites pays for siring with the caller's matron.
// POST /api/offers/{tokenID}/buy-sire {"matron_id":12}
func (h *MarketHandler) BuySireRites(w http.ResponseWriter, r *http.Request) {
	var body buySireBody
	if !decodeBody(w, r, &body) {
		return
	}
	offer, ok := h.activeOffer(w, r)
	if !ok {
		return
	}
	receipt, err := h.market.BuySireRites(r.Context(), offer, body.MatronID)
	h.accepted(w, r, lifecycle.Key(lifecycle.BuyingSire, offer.TokenID), receipt, err)
}

// RemoveOffer withdraws an offer.
// DELETE /api/offers/{tokenID}
func (h *MarketHandler) RemoveOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenParam(w, r, "tokenID")
	if !ok {
		return
	}
	receipt, err := h.market.RemoveOffer(r.Context(), id)
	h.accepted(w, r, lifecycle.Key(lifecycle.Removing, id), receipt, err)
}

// Approval reports whether the marketplace may move the account's kitties.
// GET /api/approval
func (h *MarketHandler) Approval(w http.ResponseWriter, r *http.Request) {
	approved, err := h.market.IsApproved(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "approval check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": approved})
}

// Approve grants the marketplace operator rights.
// POST /api/approval
func (h *MarketHandler) Approve(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.market.Approve(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"tx_hash": receipt.TxHash.Hex()})
}

func (h *MarketHandler) activeOffer(w http.ResponseWriter, r *http.Request) (domain.Offer, bool) {
	id, ok := tokenParam(w, r, "tokenID")
	if !ok {
		return domain.Offer{}, false
	}
	offer, found, err := h.market.GetOffer(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get offer", err)
		return domain.Offer{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "no active offer")
		return domain.Offer{}, false
	}
	return offer, true
}

// accepted answers a write with the tracker state it produced.
func (h *MarketHandler) accepted(w http.ResponseWriter, r *http.Request, name string, receipt domain.Receipt, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, name, err)
		return
	}
	st, _ := h.market.Status(name)
	writeJSON(w, http.StatusAccepted, writeAccepted{
		Request: name,
		TxHash:  receipt.TxHash.Hex(),
		State:   st,
		Message: lifecycle.Message(st),
	})
}
