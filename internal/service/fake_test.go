package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
	"github.com/alanyoungcy/kittymarket/internal/offercache"
)

var (
	marketOperator = common.HexToAddress("0x28ccB94Bd17cE7F2B70C785Ed89a614d97266FFF")
	actingAccount  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type staticIdentity common.Address

func (i staticIdentity) Address() common.Address { return common.Address(i) }

// fakeLedger is an in-memory marketplace and kitty contract. Writes take
// effect on the stored terms immediately.
type fakeLedger struct {
	mu        sync.Mutex
	terms     map[uint64]domain.OfferTerms
	approved  bool
	sendErr   error
	onSend    func()
	sent      []string
	txCounter int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{terms: make(map[uint64]domain.OfferTerms)}
}

func (f *fakeLedger) list(id uint64, kind domain.OfferKind, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms[id] = domain.OfferTerms{TokenID: id, Seller: actingAccount, Price: wei, Kind: kind, Active: true}
}

func (f *fakeLedger) unlist(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.terms, id)
}

func (f *fakeLedger) write(name string, apply func()) (domain.Receipt, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return domain.Receipt{}, err
	}
	f.sent = append(f.sent, name)
	f.txCounter++
	hash := common.BigToHash(big.NewInt(f.txCounter))
	hook := f.onSend
	f.mu.Unlock()

	if apply != nil {
		apply()
	}
	if hook != nil {
		hook()
	}
	return domain.Receipt{TxHash: hash, From: actingAccount}, nil
}

func (f *fakeLedger) ActiveOfferIDs(_ context.Context, kind domain.OfferKind) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint64
	for id, t := range f.terms {
		if t.Kind == kind {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeLedger) OfferTerms(_ context.Context, id uint64) (domain.OfferTerms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.terms[id]
	if !ok {
		return domain.OfferTerms{}, domain.ErrNotActive
	}
	t.Price = new(big.Int).Set(t.Price)
	return t, nil
}

func (f *fakeLedger) SendOffer(_ context.Context, kind domain.OfferKind, id uint64, price *big.Int) (domain.Receipt, error) {
	return f.write(fmt.Sprintf("offer %s %d", kind, id), func() { f.list(id, kind, price) })
}

func (f *fakeLedger) SendBuy(_ context.Context, id uint64, _ *big.Int) (domain.Receipt, error) {
	return f.write(fmt.Sprintf("buy %d", id), nil)
}

func (f *fakeLedger) SendBuySire(_ context.Context, id, matron uint64, _ *big.Int) (domain.Receipt, error) {
	return f.write(fmt.Sprintf("buy sire %d for %d", id, matron), nil)
}

func (f *fakeLedger) SendRemoveOffer(_ context.Context, id uint64) (domain.Receipt, error) {
	return f.write(fmt.Sprintf("remove %d", id), nil)
}

func (f *fakeLedger) Operator() common.Address { return marketOperator }

func (f *fakeLedger) Kitty(_ context.Context, id uint64) (domain.Kitty, error) {
	return domain.Kitty{ID: id, Genes: big.NewInt(int64(id)), Owner: actingAccount}, nil
}

func (f *fakeLedger) IsApprovedForAll(_ context.Context, owner, operator common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner != actingAccount || operator != marketOperator {
		return false, errors.New("unexpected approval query")
	}
	return f.approved, nil
}

func (f *fakeLedger) SetApprovalForAll(_ context.Context, operator common.Address, approved bool) (domain.Receipt, error) {
	return f.write("approve", func() {
		f.mu.Lock()
		f.approved = approved && operator == marketOperator
		f.mu.Unlock()
	})
}

func (f *fakeLedger) SendBreed(_ context.Context, mum, dad uint64) (domain.Receipt, error) {
	return f.write(fmt.Sprintf("breed %d %d", mum, dad), nil)
}

func (f *fakeLedger) sends() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// memAudit collects audit entries.
type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	ledger   *fakeLedger
	cache    *offercache.Cache
	trackers *lifecycle.Registry
	market   *MarketService
	breed    *BreedService
	audit    *memAudit
}

func newHarness() *harness {
	led := newFakeLedger()
	logger := discardLogger()
	cache := offercache.New(led, led, offercache.WithLogger(logger))
	trackers := lifecycle.NewRegistry()
	audit := &memAudit{}
	return &harness{
		ledger:   led,
		cache:    cache,
		trackers: trackers,
		market:   NewMarketService(cache, led, led, staticIdentity(actingAccount), trackers, logger).WithAudit(audit),
		breed:    NewBreedService(led, trackers, logger).WithAudit(audit),
		audit:    audit,
	}
}

// memBus records published payloads per channel.
type memBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func newMemBus() *memBus { return &memBus{msgs: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	b.msgs[channel] = append(b.msgs[channel], payload)
	b.mu.Unlock()
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("memBus: subscribe not supported")
}

func (b *memBus) published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.msgs[channel]...)
}
