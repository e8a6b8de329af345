package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/kittymarket/internal/crypto"
	"github.com/alanyoungcy/kittymarket/internal/domain"
)

var (
	marketAddr = common.HexToAddress("0x28ccB94Bd17cE7F2B70C785Ed89a614d97266FFF")
	kittyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	sellerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// fakeBackend answers contract calls from canned per-method responders and
// records sent transactions.
type fakeBackend struct {
	t         *testing.T
	marketABI abi.ABI
	kittyABI  abi.ABI

	mu       sync.Mutex
	respond  map[string]func(args []any) ([]byte, error)
	sent     []*types.Transaction
	logsSink chan<- types.Log
	subErr   chan error
	subCount int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	m, err := MarketplaceABI()
	if err != nil {
		t.Fatal(err)
	}
	k, err := KittyABI()
	if err != nil {
		t.Fatal(err)
	}
	return &fakeBackend{t: t, marketABI: m, kittyABI: k, respond: make(map[string]func([]any) ([]byte, error))}
}

func (f *fakeBackend) on(method string, fn func(args []any) ([]byte, error)) {
	f.mu.Lock()
	f.respond[method] = fn
	f.mu.Unlock()
}

func (f *fakeBackend) pack(contract abi.ABI, method string, vals ...any) []byte {
	f.t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(vals...)
	if err != nil {
		f.t.Fatalf("pack %s: %v", method, err)
	}
	return out
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	contract := f.marketABI
	if msg.To != nil && *msg.To == kittyAddr {
		contract = f.kittyABI
	}
	m, err := contract.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn, ok := f.respond[m.Name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no responder for %s", m.Name)
	}
	return fn(args)
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.logsSink = ch
	f.subCount++
	errc := make(chan error, 1)
	f.subErr = errc
	f.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case err := <-errc:
			return err
		case <-quit:
			return nil
		}
	}), nil
}

func newTestClient(t *testing.T) (*Client, *fakeBackend, *crypto.Wallet) {
	t.Helper()
	be := newFakeBackend(t)
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	w := crypto.NewWallet(big.NewInt(1337), key)
	c, err := New(be, Config{
		MarketAddress:      marketAddr,
		KittyAddress:       kittyAddr,
		ResubscribeBackoff: 10 * time.Millisecond,
	}, w, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c, be, w
}

func TestActiveOfferIDs(t *testing.T) {
	c, be, _ := newTestClient(t)
	be.on("getAllTokenOnSale", func([]any) ([]byte, error) {
		return be.pack(be.marketABI, "getAllTokenOnSale", []*big.Int{big.NewInt(10), big.NewInt(20)}), nil
	})
	be.on("getAllSireOffers", func([]any) ([]byte, error) {
		return be.pack(be.marketABI, "getAllSireOffers", []*big.Int{big.NewInt(3)}), nil
	})

	sell, err := c.ActiveOfferIDs(context.Background(), domain.OfferKindSell)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if len(sell) != 2 || sell[0] != 10 || sell[1] != 20 {
		t.Fatalf("sell ids = %v", sell)
	}
	sire, err := c.ActiveOfferIDs(context.Background(), domain.OfferKindSire)
	if err != nil {
		t.Fatalf("sire: %v", err)
	}
	if len(sire) != 1 || sire[0] != 3 {
		t.Fatalf("sire ids = %v", sire)
	}
}

func TestOfferTerms(t *testing.T) {
	c, be, _ := newTestClient(t)
	be.on("getOffer", func(args []any) ([]byte, error) {
		id := args[0].(*big.Int).Uint64()
		switch id {
		case 1:
			return be.pack(be.marketABI, "getOffer", sellerAddr, big.NewInt(1500), big.NewInt(0), big.NewInt(1), true, true), nil
		case 2:
			return be.pack(be.marketABI, "getOffer", sellerAddr, big.NewInt(1), big.NewInt(0), big.NewInt(2), false, false), nil
		case 3:
			return nil, errors.New("execution reverted: offer not active")
		default:
			return nil, errors.New("connection reset by peer")
		}
	})

	terms, err := c.OfferTerms(context.Background(), 1)
	if err != nil {
		t.Fatalf("OfferTerms(1): %v", err)
	}
	if terms.Kind != domain.OfferKindSire || terms.Price.Int64() != 1500 || terms.Seller != sellerAddr || !terms.Active {
		t.Fatalf("terms = %+v", terms)
	}

	for _, id := range []uint64{2, 3} {
		if _, err := c.OfferTerms(context.Background(), id); !errors.Is(err, domain.ErrNotActive) {
			t.Errorf("OfferTerms(%d) = %v, want ErrNotActive", id, err)
		}
	}

	_, err = c.OfferTerms(context.Background(), 4)
	if err == nil || errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("OfferTerms(4) = %v, want transport error", err)
	}
}

func TestKitty(t *testing.T) {
	c, be, _ := newTestClient(t)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	be.on("getKitty", func([]any) ([]byte, error) {
		return be.pack(be.kittyABI, "getKitty",
			big.NewInt(1234567), uint64(1_600_000_000), uint64(1_600_000_600),
			uint32(1), uint32(2), uint16(3), uint16(4), owner), nil
	})

	k, err := c.Kitty(context.Background(), 9)
	if err != nil {
		t.Fatalf("Kitty: %v", err)
	}
	if k.ID != 9 || k.Genes.Int64() != 1234567 || k.MumID != 1 || k.DadID != 2 ||
		k.Generation != 3 || k.CooldownIndex != 4 || k.Owner != owner {
		t.Fatalf("kitty = %+v", k)
	}
	if k.BirthTime.Unix() != 1_600_000_000 {
		t.Fatalf("BirthTime = %v", k.BirthTime)
	}
}

func TestIsApprovedForAll(t *testing.T) {
	c, be, w := newTestClient(t)
	be.on("isApprovedForAll", func(args []any) ([]byte, error) {
		ok := args[0].(common.Address) == w.Address() && args[1].(common.Address) == marketAddr
		return be.pack(be.kittyABI, "isApprovedForAll", ok), nil
	})
	ok, err := c.IsApprovedForAll(context.Background(), w.Address(), c.Operator())
	if err != nil || !ok {
		t.Fatalf("IsApprovedForAll = %v, %v", ok, err)
	}
}

func TestSendBuy_CarriesValue(t *testing.T) {
	c, be, w := newTestClient(t)

	r, err := c.SendBuy(context.Background(), 5, big.NewInt(1_500_000_000_000_000_000))
	if err != nil {
		t.Fatalf("SendBuy: %v", err)
	}
	if r.From != w.Address() {
		t.Fatalf("receipt from %s, want %s", r.From.Hex(), w.Address().Hex())
	}
	if len(be.sent) != 1 {
		t.Fatalf("sent %d transactions", len(be.sent))
	}
	tx := be.sent[0]
	if tx.Hash() != r.TxHash {
		t.Fatal("receipt hash does not match sent tx")
	}
	if *tx.To() != marketAddr {
		t.Fatalf("tx to %s", tx.To().Hex())
	}
	if tx.Value().String() != "1500000000000000000" {
		t.Fatalf("tx value %s", tx.Value())
	}
	m, err := be.marketABI.MethodById(tx.Data()[:4])
	if err != nil || m.Name != "buyKitty" {
		t.Fatalf("method = %v, %v", m, err)
	}
}

func TestSendOffer_SireUsesSetSireOffer(t *testing.T) {
	c, be, _ := newTestClient(t)
	if _, err := c.SendOffer(context.Background(), domain.OfferKindSire, 7, big.NewInt(100)); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	m, err := be.marketABI.MethodById(be.sent[0].Data()[:4])
	if err != nil || m.Name != "setSireOffer" {
		t.Fatalf("method = %v, %v", m, err)
	}
	args, err := m.Inputs.Unpack(be.sent[0].Data()[4:])
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(*big.Int).Int64() != 100 || args[1].(*big.Int).Int64() != 7 {
		t.Fatalf("args = %v", args)
	}
}

func TestSendWithoutAccount(t *testing.T) {
	c, _, w := newTestClient(t)
	if err := w.Switch(common.Address{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SendRemoveOffer(context.Background(), 1); !errors.Is(err, domain.ErrNoAccount) {
		t.Fatalf("err = %v, want ErrNoAccount", err)
	}
}
