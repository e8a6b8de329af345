package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
	"github.com/alanyoungcy/kittymarket/internal/offercache"
)

// MarketService is the single entry point collaborators use to list, buy
// and create marketplace offers. Every write drives a lifecycle tracker
// keyed by capability and token; the matching market event confirms it.
type MarketService struct {
	cache    *offercache.Cache
	gateway  domain.MarketGateway
	kitties  domain.KittyLedger
	identity domain.Identity
	trackers *lifecycle.Registry
	logger   *slog.Logger
	events   *eventLog
	writes   *writeRunner
}

// NewMarketService creates a MarketService. identity is the acting account
// for approval checks.
func NewMarketService(
	cache *offercache.Cache,
	gateway domain.MarketGateway,
	kitties domain.KittyLedger,
	identity domain.Identity,
	trackers *lifecycle.Registry,
	logger *slog.Logger,
) *MarketService {
	events := &eventLog{logger: logger}
	return &MarketService{
		cache:    cache,
		gateway:  gateway,
		kitties:  kitties,
		identity: identity,
		trackers: trackers,
		logger:   logger,
		events:   events,
		writes:   &writeRunner{trackers: trackers, events: events, logger: logger},
	}
}

// WithConfirmTimeout sets the confirmation watchdog.
func (s *MarketService) WithConfirmTimeout(d time.Duration) *MarketService {
	s.writes.confirmTimeout = d
	return s
}

// WithAudit records writes and observed events in store.
func (s *MarketService) WithAudit(store domain.AuditStore) *MarketService {
	s.events.store = store
	return s
}

// WithBus publishes observed events on bus.
func (s *MarketService) WithBus(bus domain.SignalBus) *MarketService {
	s.events.bus = bus
	return s
}

// ListOffers reloads and returns the active offers of kind.
func (s *MarketService) ListOffers(ctx context.Context, kind domain.OfferKind) ([]domain.Offer, error) {
	offers, err := s.cache.LoadAll(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("market_service: list %s offers: %w", kind, err)
	}
	return offers, nil
}

// GetOffer resolves the offer for tokenID. ok is false when the token has
// no active offer.
func (s *MarketService) GetOffer(ctx context.Context, tokenID uint64) (domain.Offer, bool, error) {
	offer, ok, err := s.cache.GetOne(ctx, tokenID)
	if err != nil {
		return domain.Offer{}, false, fmt.Errorf("market_service: get offer %d: %w", tokenID, err)
	}
	return offer, ok, nil
}

// Snapshot returns the cached offers of kind without touching the ledger.
func (s *MarketService) Snapshot(kind domain.OfferKind) []domain.Offer {
	return s.cache.Snapshot(kind)
}

// Sell lists tokenID for sale at price ether.
func (s *MarketService) Sell(ctx context.Context, tokenID uint64, price decimal.Decimal) (domain.Receipt, error) {
	return s.offer(ctx, lifecycle.Selling, domain.OfferKindSell, tokenID, price)
}

// SetSireOffer offers the siring rights of tokenID at price ether.
func (s *MarketService) SetSireOffer(ctx context.Context, tokenID uint64, price decimal.Decimal) (domain.Receipt, error) {
	return s.offer(ctx, lifecycle.Siring, domain.OfferKindSire, tokenID, price)
}

func (s *MarketService) offer(ctx context.Context, capability string, kind domain.OfferKind, tokenID uint64, price decimal.Decimal) (domain.Receipt, error) {
	return s.drive(ctx, capability, tokenID, func(ctx context.Context) (domain.Receipt, error) {
		wei, err := EtherToWei(price)
		if err != nil {
			return domain.Receipt{}, err
		}
		return s.gateway.SendOffer(ctx, kind, tokenID, wei)
	})
}

// Buy pays offer.Price for the kitty on sale.
func (s *MarketService) Buy(ctx context.Context, offer domain.Offer) (domain.Receipt, error) {
	return s.drive(ctx, lifecycle.Buying, offer.TokenID, func(ctx context.Context) (domain.Receipt, error) {
		if err := validateOffer(offer, domain.OfferKindSell); err != nil {
			return domain.Receipt{}, err
		}
		return s.gateway.SendBuy(ctx, offer.TokenID, offer.Price)
	})
}

// BuySireRites pays offer.Price to breed the offered sire with matronID.
func (s *MarketService) BuySireRites(ctx context.Context, offer domain.Offer, matronID uint64) (domain.Receipt, error) {
	return s.drive(ctx, lifecycle.BuyingSire, offer.TokenID, func(ctx context.Context) (domain.Receipt, error) {
		if err := validateOffer(offer, domain.OfferKindSire); err != nil {
			return domain.Receipt{}, err
		}
		if matronID == offer.TokenID {
			return domain.Receipt{}, domain.ErrSameParent
		}
		return s.gateway.SendBuySire(ctx, offer.TokenID, matronID, offer.Price)
	})
}

// RemoveOffer withdraws the offer for tokenID.
func (s *MarketService) RemoveOffer(ctx context.Context, tokenID uint64) (domain.Receipt, error) {
	return s.drive(ctx, lifecycle.Removing, tokenID, func(ctx context.Context) (domain.Receipt, error) {
		return s.gateway.SendRemoveOffer(ctx, tokenID)
	})
}

func validateOffer(o domain.Offer, want domain.OfferKind) error {
	switch {
	case o.Kind != want:
		return fmt.Errorf("%w: offer %d is a %s offer", domain.ErrInvalidOffer, o.TokenID, o.Kind)
	case !o.Active:
		return fmt.Errorf("%w: offer %d", domain.ErrNotActive, o.TokenID)
	case o.Price == nil || o.Price.Sign() <= 0:
		return fmt.Errorf("%w: offer %d has no price", domain.ErrInvalidOffer, o.TokenID)
	}
	return nil
}

func (s *MarketService) drive(ctx context.Context, capability string, tokenID uint64, send func(context.Context) (domain.Receipt, error)) (domain.Receipt, error) {
	return s.writes.run(ctx, capability, lifecycle.Key(capability, tokenID), send, func(ctx context.Context) {
		// The send is provisional; re-read the token so the cache reflects
		// whatever the ledger already holds.
		s.refresh(ctx, tokenID)
	})
}

func (s *MarketService) refresh(ctx context.Context, tokenID uint64) {
	err := s.cache.ApplyEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventCreated, TokenID: tokenID})
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: provisional refresh failed",
			slog.Uint64("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}
}

// HandleEvent is the market event subscriber. It confirms the tracker the
// event settles, then reconciles the cache entry for the token.
func (s *MarketService) HandleEvent(ctx context.Context, ev domain.MarketEvent) error {
	if !ev.Removed {
		for _, capability := range capabilitiesFor(ev) {
			s.writes.confirm(ctx, lifecycle.Key(capability, ev.TokenID))
		}
	}

	s.events.publish(ctx, domain.ChannelMarket, ev)
	s.events.record(ctx, "market_event", map[string]any{
		"kind":     string(ev.Kind),
		"token_id": ev.TokenID,
		"owner":    ev.Owner.Hex(),
		"tx_hash":  ev.TxHash.Hex(),
		"removed":  ev.Removed,
	})

	if err := s.cache.ApplyEvent(ctx, ev); err != nil {
		return fmt.Errorf("market_service: apply %s event for %d: %w", ev.Kind, ev.TokenID, err)
	}
	return nil
}

// capabilitiesFor lists the writes an event settles.
func capabilitiesFor(ev domain.MarketEvent) []string {
	switch ev.Kind {
	case domain.MarketEventCreated:
		switch ev.OfferKind {
		case domain.OfferKindSell:
			return []string{lifecycle.Selling}
		case domain.OfferKindSire:
			return []string{lifecycle.Siring}
		default:
			return []string{lifecycle.Selling, lifecycle.Siring}
		}
	case domain.MarketEventSold:
		return []string{lifecycle.Buying}
	case domain.MarketEventSireSettled:
		return []string{lifecycle.BuyingSire}
	case domain.MarketEventRemoved:
		return []string{lifecycle.Removing}
	default:
		return nil
	}
}

// Status returns the state of the named request.
func (s *MarketService) Status(name string) (domain.RequestState, bool) {
	t, ok := s.trackers.Lookup(name)
	if !ok {
		return domain.RequestState{}, false
	}
	return t.State(), true
}

// Statuses returns every tracked request.
func (s *MarketService) Statuses() map[string]domain.RequestState {
	return s.trackers.Snapshot()
}

// Reset returns a terminal request to Idle and forgets it.
func (s *MarketService) Reset(name string) error {
	t, ok := s.trackers.Lookup(name)
	if !ok {
		return fmt.Errorf("market_service: reset %s: %w", name, domain.ErrNotFound)
	}
	if err := t.Reset(); err != nil {
		return fmt.Errorf("market_service: reset %s: %w", name, err)
	}
	s.trackers.Release(name)
	return nil
}

// IsApproved reports whether the marketplace may move the acting account's
// kitties.
func (s *MarketService) IsApproved(ctx context.Context) (bool, error) {
	owner := s.identity.Address()
	if owner == (common.Address{}) {
		return false, domain.ErrNoAccount
	}
	ok, err := s.kitties.IsApprovedForAll(ctx, owner, s.gateway.Operator())
	if err != nil {
		return false, fmt.Errorf("market_service: is approved: %w", domain.NewGatewayError("isApprovedForAll", err))
	}
	return ok, nil
}

// Approve makes the marketplace an operator for the acting account.
func (s *MarketService) Approve(ctx context.Context) (domain.Receipt, error) {
	r, err := s.kitties.SetApprovalForAll(ctx, s.gateway.Operator(), true)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("market_service: approve: %w", domain.NewGatewayError("setApprovalForAll", err))
	}
	s.events.record(ctx, "approval_sent", map[string]any{
		"operator": s.gateway.Operator().Hex(),
		"tx_hash":  r.TxHash.Hex(),
	})
	return r, nil
}

// PriceInEther renders an offer price for display.
func PriceInEther(wei *big.Int) string {
	return WeiToEther(wei).String()
}
