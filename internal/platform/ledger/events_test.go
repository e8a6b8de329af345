package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

func marketLog(t *testing.T, c *Client, txType string, owner common.Address, tokenID int64) types.Log {
	t.Helper()
	ev := c.marketABI.Events[eventMarketTransaction]
	data, err := ev.Inputs.Pack(txType, owner, big.NewInt(tokenID))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     marketAddr,
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
	}
}

func TestDecodeMarketLog(t *testing.T) {
	c, _, _ := newTestClient(t)

	tests := []struct {
		txType    string
		kind      domain.MarketEventKind
		offerKind domain.OfferKind
	}{
		{"Create offer", domain.MarketEventCreated, domain.OfferKindSell},
		{"Create sire offer", domain.MarketEventCreated, domain.OfferKindSire},
		{"Buy", domain.MarketEventSold, domain.OfferKindSell},
		{"Remove offer", domain.MarketEventRemoved, ""},
		{"Sire Rites", domain.MarketEventSireSettled, domain.OfferKindSire},
	}
	for _, tt := range tests {
		t.Run(tt.txType, func(t *testing.T) {
			ev, err := c.DecodeMarketLog(marketLog(t, c, tt.txType, sellerAddr, 5))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.Kind != tt.kind || ev.OfferKind != tt.offerKind {
				t.Fatalf("kind = %s/%s, want %s/%s", ev.Kind, ev.OfferKind, tt.kind, tt.offerKind)
			}
			if ev.TokenID != 5 || ev.Owner != sellerAddr || ev.BlockNumber != 42 || ev.LogIndex != 3 {
				t.Fatalf("event = %+v", ev)
			}
		})
	}
}

func TestDecodeMarketLog_Rejects(t *testing.T) {
	c, _, _ := newTestClient(t)

	unknown := marketLog(t, c, "Teleport", sellerAddr, 1)
	if _, err := c.DecodeMarketLog(unknown); err == nil {
		t.Error("unknown TxType decoded")
	}

	wrongTopic := marketLog(t, c, "Buy", sellerAddr, 1)
	wrongTopic.Topics = []common.Hash{common.HexToHash("0xdead")}
	if _, err := c.DecodeMarketLog(wrongTopic); err == nil {
		t.Error("foreign event decoded")
	}

	short := marketLog(t, c, "Buy", sellerAddr, 1)
	short.Data = short.Data[:20]
	if _, err := c.DecodeMarketLog(short); err == nil {
		t.Error("truncated data decoded")
	}
}

func TestDecodeBirthLog(t *testing.T) {
	c, _, _ := newTestClient(t)
	ev := c.kittyABI.Events[eventBirth]
	data, err := ev.Inputs.Pack(sellerAddr, big.NewInt(30), big.NewInt(10), big.NewInt(20), big.NewInt(777))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.DecodeBirthLog(types.Log{Topics: []common.Hash{ev.ID}, Data: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.KittyID != 30 || b.MumID != 10 || b.DadID != 20 || b.Genes.Int64() != 777 || b.Owner != sellerAddr {
		t.Fatalf("birth = %+v", b)
	}
}

func TestSubscribeMarketEvents_Resubscribes(t *testing.T) {
	c, be, _ := newTestClient(t)

	sink := make(chan domain.MarketEvent, 4)
	sub, err := c.SubscribeMarketEvents(context.Background(), sink)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	waitSubs := func(n int) chan<- types.Log {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			be.mu.Lock()
			count, logs := be.subCount, be.logsSink
			be.mu.Unlock()
			if count >= n {
				return logs
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("never reached %d subscriptions", n)
		return nil
	}

	logs := waitSubs(1)
	logs <- marketLog(t, c, "Buy", sellerAddr, 11)
	select {
	case ev := <-sink:
		if ev.Kind != domain.MarketEventSold || ev.TokenID != 11 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	be.mu.Lock()
	be.subErr <- errors.New("websocket: close 1006")
	be.mu.Unlock()

	logs = waitSubs(2)
	logs <- marketLog(t, c, "Remove offer", sellerAddr, 12)
	select {
	case ev := <-sink:
		if ev.Kind != domain.MarketEventRemoved || ev.TokenID != 12 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after resubscribe")
	}
}
