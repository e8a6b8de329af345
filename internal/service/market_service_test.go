package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

func watchStatuses(h *harness, name string) func() []domain.RequestStatus {
	var mu sync.Mutex
	var got []domain.RequestStatus
	h.trackers.Get(name).Watch(func(_ string, _, to domain.RequestState) {
		mu.Lock()
		got = append(got, to.Status)
		mu.Unlock()
	})
	return func() []domain.RequestStatus {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.RequestStatus(nil), got...)
	}
}

func sameStatuses(a, b []domain.RequestStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSell_ConfirmedByCreatedEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	name := lifecycle.Key(lifecycle.Selling, uint64(5))
	statuses := watchStatuses(h, name)

	if st, _ := h.market.Status(name); st.Status != domain.RequestIdle {
		t.Fatalf("initial status = %s", st.Status)
	}

	r, err := h.market.Sell(ctx, 5, decimal.RequireFromString("1.5"))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	want := []domain.RequestStatus{domain.RequestLoading, domain.RequestSucceeded}
	if got := statuses(); !sameStatuses(got, want) {
		t.Fatalf("after send = %v, want %v", got, want)
	}

	err = h.market.HandleEvent(ctx, domain.MarketEvent{
		Kind:      domain.MarketEventCreated,
		OfferKind: domain.OfferKindSell,
		TokenID:   5,
		TxHash:    r.TxHash,
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	want = append(want, domain.RequestConfirmed)
	if got := statuses(); !sameStatuses(got, want) {
		t.Fatalf("after event = %v, want %v", got, want)
	}

	offer, ok := h.cache.Lookup(5)
	if !ok {
		t.Fatal("offer 5 not cached")
	}
	if offer.Kind != domain.OfferKindSell || !offer.Active {
		t.Fatalf("offer = %+v", offer)
	}
	if offer.Price.String() != "1500000000000000000" {
		t.Fatalf("price = %s wei", offer.Price)
	}
}

func TestBuy_RejectedLeavesCacheUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.ledger.list(7, domain.OfferKindSell, big.NewInt(2e18))
	offers, err := h.market.ListOffers(ctx, domain.OfferKindSell)
	if err != nil || len(offers) != 1 {
		t.Fatalf("ListOffers = %v, %v", offers, err)
	}

	h.ledger.sendErr = errors.New("insufficient funds for gas * price + value")
	name := lifecycle.Key(lifecycle.Buying, uint64(7))
	statuses := watchStatuses(h, name)

	_, err = h.market.Buy(ctx, offers[0])
	var ge *domain.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("Buy err = %v, want *GatewayError", err)
	}

	want := []domain.RequestStatus{domain.RequestLoading, domain.RequestFailed}
	if got := statuses(); !sameStatuses(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	st, _ := h.market.Status(name)
	if !strings.Contains(st.Error, "insufficient funds") {
		t.Fatalf("error message = %q", st.Error)
	}
	if lifecycle.Message(st) != st.Error {
		t.Fatalf("display message = %q", lifecycle.Message(st))
	}

	after := h.market.Snapshot(domain.OfferKindSell)
	if len(after) != 1 || after[0].TokenID != 7 || after[0].Price.Cmp(offers[0].Price) != 0 {
		t.Fatalf("cache changed: %+v", after)
	}
}

func TestListThenSold(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	for _, id := range []uint64{10, 20, 30} {
		h.ledger.list(id, domain.OfferKindSell, big.NewInt(1e18))
	}
	if _, err := h.market.ListOffers(ctx, domain.OfferKindSell); err != nil {
		t.Fatal(err)
	}

	h.ledger.unlist(20)
	if err := h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventSold, OfferKind: domain.OfferKindSell, TokenID: 20}); err != nil {
		t.Fatal(err)
	}

	for _, offers := range [][]domain.Offer{
		h.market.Snapshot(domain.OfferKindSell),
		mustList(t, h, domain.OfferKindSell),
	} {
		if len(offers) != 2 || offers[0].TokenID != 10 || offers[1].TokenID != 30 {
			t.Fatalf("offers = %v", offers)
		}
	}
}

func mustList(t *testing.T, h *harness, kind domain.OfferKind) []domain.Offer {
	t.Helper()
	offers, err := h.market.ListOffers(context.Background(), kind)
	if err != nil {
		t.Fatal(err)
	}
	return offers
}

func TestListThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.ledger.list(3, domain.OfferKindSell, big.NewInt(42))
	h.ledger.list(4, domain.OfferKindSell, big.NewInt(43))

	for _, listed := range mustList(t, h, domain.OfferKindSell) {
		got, ok, err := h.market.GetOffer(ctx, listed.TokenID)
		if err != nil || !ok {
			t.Fatalf("GetOffer(%d) = %v, %v", listed.TokenID, ok, err)
		}
		if got.TokenID != listed.TokenID || got.Seller != listed.Seller || got.Kind != listed.Kind ||
			got.Active != listed.Active || got.Price.Cmp(listed.Price) != 0 || got.Kitty.ID != listed.Kitty.ID {
			t.Fatalf("GetOffer = %+v, listed %+v", got, listed)
		}
	}

	if _, ok, err := h.market.GetOffer(ctx, 99); ok || err != nil {
		t.Fatalf("GetOffer(99) = %v, %v", ok, err)
	}
}

func TestWrite_DuplicateInFlightIsBusy(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	price := decimal.RequireFromString("1")

	if _, err := h.market.Sell(ctx, 5, price); err != nil {
		t.Fatal(err)
	}
	if _, err := h.market.Sell(ctx, 5, price); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second Sell = %v, want ErrBusy", err)
	}
	if _, err := h.market.Sell(ctx, 6, price); err != nil {
		t.Fatalf("Sell of another token: %v", err)
	}
	if n := len(h.ledger.sends()); n != 2 {
		t.Fatalf("sent %d writes, want 2", n)
	}
}

func TestWrite_EventBeatsAcknowledgment(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.ledger.list(8, domain.OfferKindSell, big.NewInt(1e18))
	offer, ok, err := h.market.GetOffer(ctx, 8)
	if err != nil || !ok {
		t.Fatal(err)
	}

	h.ledger.onSend = func() {
		h.ledger.unlist(8)
		_ = h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventSold, TokenID: 8})
	}
	if _, err := h.market.Buy(ctx, offer); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	st, _ := h.market.Status(lifecycle.Key(lifecycle.Buying, uint64(8)))
	if st.Status != domain.RequestConfirmed {
		t.Fatalf("status = %s, want confirmed", st.Status)
	}
	if _, ok := h.cache.Lookup(8); ok {
		t.Fatal("sold offer still cached")
	}
}

func TestBuy_RejectsWrongOffer(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	sire := domain.Offer{TokenID: 1, Kind: domain.OfferKindSire, Active: true, Price: big.NewInt(1)}
	if _, err := h.market.Buy(ctx, sire); !errors.Is(err, domain.ErrInvalidOffer) {
		t.Fatalf("Buy(sire) = %v, want ErrInvalidOffer", err)
	}
	var ge *domain.GatewayError
	if _, err := h.market.Buy(ctx, domain.Offer{TokenID: 2, Kind: domain.OfferKindSell, Active: true, Price: big.NewInt(1)}); errors.As(err, &ge) {
		t.Fatalf("valid buy failed: %v", err)
	}
	if _, err := h.market.BuySireRites(ctx, domain.Offer{TokenID: 3, Kind: domain.OfferKindSire, Active: true, Price: big.NewInt(1)}, 3); !errors.Is(err, domain.ErrSameParent) {
		t.Fatalf("BuySireRites(self) = %v, want ErrSameParent", err)
	}
	st, _ := h.market.Status(lifecycle.Key(lifecycle.Buying, uint64(1)))
	if st.Status != domain.RequestFailed {
		t.Fatalf("status = %s, want failed", st.Status)
	}
	if len(h.ledger.sends()) != 1 {
		t.Fatalf("sends = %v", h.ledger.sends())
	}
}

func TestSireFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	if _, err := h.market.SetSireOffer(ctx, 11, decimal.RequireFromString("0.25")); err != nil {
		t.Fatal(err)
	}
	if err := h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventCreated, OfferKind: domain.OfferKindSire, TokenID: 11}); err != nil {
		t.Fatal(err)
	}
	sires := h.market.Snapshot(domain.OfferKindSire)
	if len(sires) != 1 || sires[0].Price.String() != "250000000000000000" {
		t.Fatalf("sire offers = %+v", sires)
	}

	if _, err := h.market.BuySireRites(ctx, sires[0], 12); err != nil {
		t.Fatal(err)
	}
	h.ledger.unlist(11)
	if err := h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventSireSettled, TokenID: 11}); err != nil {
		t.Fatal(err)
	}
	st, _ := h.market.Status(lifecycle.Key(lifecycle.BuyingSire, uint64(11)))
	if st.Status != domain.RequestConfirmed {
		t.Fatalf("buying sire = %s", st.Status)
	}
	if len(h.market.Snapshot(domain.OfferKindSire)) != 0 {
		t.Fatal("settled sire offer still cached")
	}
}

func TestRemoveAndReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.ledger.list(4, domain.OfferKindSell, big.NewInt(1))
	name := lifecycle.Key(lifecycle.Removing, uint64(4))

	if _, err := h.market.RemoveOffer(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if err := h.market.Reset(name); err == nil {
		t.Fatal("Reset of a pending request succeeded")
	}

	h.ledger.unlist(4)
	if err := h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventRemoved, TokenID: 4}); err != nil {
		t.Fatal(err)
	}
	if err := h.market.Reset(name); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok := h.market.Status(name); ok {
		t.Fatal("released request still reported")
	}
	if err := h.market.Reset(name); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Reset unknown = %v", err)
	}
}

func TestConfirmTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.market.WithConfirmTimeout(20 * time.Millisecond)

	if _, err := h.market.Sell(ctx, 9, decimal.RequireFromString("1")); err != nil {
		t.Fatal(err)
	}
	name := lifecycle.Key(lifecycle.Selling, uint64(9))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := h.market.Status(name); st.Status == domain.RequestFailed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watchdog never failed the request")
}

func TestRemovedLogDoesNotConfirm(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	if _, err := h.market.Sell(ctx, 2, decimal.RequireFromString("1")); err != nil {
		t.Fatal(err)
	}
	err := h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventCreated, OfferKind: domain.OfferKindSell, TokenID: 2, Removed: true})
	if err != nil {
		t.Fatal(err)
	}
	st, _ := h.market.Status(lifecycle.Key(lifecycle.Selling, uint64(2)))
	if st.Status != domain.RequestSucceeded {
		t.Fatalf("status = %s, want succeeded", st.Status)
	}
}

func TestApproval(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	ok, err := h.market.IsApproved(ctx)
	if err != nil || ok {
		t.Fatalf("IsApproved = %v, %v", ok, err)
	}
	if _, err := h.market.Approve(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = h.market.IsApproved(ctx)
	if err != nil || !ok {
		t.Fatalf("IsApproved after approve = %v, %v", ok, err)
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	if _, err := h.market.Sell(ctx, 1, decimal.RequireFromString("1")); err != nil {
		t.Fatal(err)
	}
	_ = h.market.HandleEvent(ctx, domain.MarketEvent{Kind: domain.MarketEventCreated, OfferKind: domain.OfferKindSell, TokenID: 1})

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	if len(h.audit.events) != 2 || h.audit.events[0] != "write_sent" || h.audit.events[1] != "market_event" {
		t.Fatalf("audit = %v", h.audit.events)
	}
}
