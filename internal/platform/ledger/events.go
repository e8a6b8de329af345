package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// errFilterClosed forces a resubscribe when the node closes a log filter
// without reporting an error.
var errFilterClosed = errors.New("ledger: log filter closed")

// Marketplace TxType strings as emitted by the contract.
const (
	txCreateOffer     = "create offer"
	txCreateSireOffer = "create sire offer"
	txBuy             = "buy"
	txRemoveOffer     = "remove offer"
	txSireRites       = "sire rites"
)

// DecodeMarketLog turns a MarketTransaction log into a MarketEvent.
func (c *Client) DecodeMarketLog(l types.Log) (domain.MarketEvent, error) {
	ev, ok := c.marketABI.Events[eventMarketTransaction]
	if !ok {
		return domain.MarketEvent{}, fmt.Errorf("ledger: abi has no %s event", eventMarketTransaction)
	}
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return domain.MarketEvent{}, fmt.Errorf("ledger: log is not %s", eventMarketTransaction)
	}
	vals, err := c.marketABI.Unpack(eventMarketTransaction, l.Data)
	if err != nil {
		return domain.MarketEvent{}, fmt.Errorf("ledger: unpack %s: %w", eventMarketTransaction, err)
	}
	if len(vals) != 3 {
		return domain.MarketEvent{}, fmt.Errorf("ledger: %s: got %d fields", eventMarketTransaction, len(vals))
	}
	txType, ok := vals[0].(string)
	if !ok {
		return domain.MarketEvent{}, fmt.Errorf("ledger: %s: TxType is %T", eventMarketTransaction, vals[0])
	}
	owner, ok := vals[1].(common.Address)
	if !ok {
		return domain.MarketEvent{}, fmt.Errorf("ledger: %s: owner is %T", eventMarketTransaction, vals[1])
	}
	tokenID, err := asUint64(vals[2])
	if err != nil {
		return domain.MarketEvent{}, fmt.Errorf("ledger: %s: token id: %w", eventMarketTransaction, err)
	}

	out := domain.MarketEvent{
		TokenID:     tokenID,
		Owner:       owner,
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Removed:     l.Removed,
		ReceivedAt:  time.Now().UTC(),
		Raw:         append([]byte(nil), l.Data...),
	}
	switch strings.ToLower(strings.TrimSpace(txType)) {
	case txCreateOffer:
		out.Kind, out.OfferKind = domain.MarketEventCreated, domain.OfferKindSell
	case txCreateSireOffer:
		out.Kind, out.OfferKind = domain.MarketEventCreated, domain.OfferKindSire
	case txBuy:
		out.Kind, out.OfferKind = domain.MarketEventSold, domain.OfferKindSell
	case txRemoveOffer:
		out.Kind = domain.MarketEventRemoved
	case txSireRites:
		out.Kind, out.OfferKind = domain.MarketEventSireSettled, domain.OfferKindSire
	default:
		return domain.MarketEvent{}, fmt.Errorf("ledger: unknown TxType %q", txType)
	}
	return out, nil
}

// DecodeBirthLog turns a Birth log into a BirthEvent.
func (c *Client) DecodeBirthLog(l types.Log) (domain.BirthEvent, error) {
	ev, ok := c.kittyABI.Events[eventBirth]
	if !ok {
		return domain.BirthEvent{}, fmt.Errorf("ledger: abi has no %s event", eventBirth)
	}
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return domain.BirthEvent{}, fmt.Errorf("ledger: log is not %s", eventBirth)
	}
	vals, err := c.kittyABI.Unpack(eventBirth, l.Data)
	if err != nil {
		return domain.BirthEvent{}, fmt.Errorf("ledger: unpack %s: %w", eventBirth, err)
	}
	if len(vals) != 5 {
		return domain.BirthEvent{}, fmt.Errorf("ledger: %s: got %d fields", eventBirth, len(vals))
	}
	owner, ok := vals[0].(common.Address)
	if !ok {
		return domain.BirthEvent{}, fmt.Errorf("ledger: %s: owner is %T", eventBirth, vals[0])
	}
	var ids [3]uint64
	for i := range ids {
		n, err := asUint64(vals[i+1])
		if err != nil {
			return domain.BirthEvent{}, fmt.Errorf("ledger: %s: field %d: %w", eventBirth, i+1, err)
		}
		ids[i] = n
	}
	genes, err := asBig(vals[4])
	if err != nil {
		return domain.BirthEvent{}, fmt.Errorf("ledger: %s: genes: %w", eventBirth, err)
	}
	return domain.BirthEvent{
		Owner:      owner,
		KittyID:    ids[0],
		MumID:      ids[1],
		DadID:      ids[2],
		Genes:      genes,
		TxHash:     l.TxHash,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// SubscribeMarketEvents streams decoded MarketTransaction logs into sink.
// The underlying log filter is re-established with backoff when the node
// drops it.
func (c *Client) SubscribeMarketEvents(_ context.Context, sink chan<- domain.MarketEvent) (domain.Subscription, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.cfg.MarketAddress},
		Topics:    [][]common.Hash{{c.marketABI.Events[eventMarketTransaction].ID}},
	}
	return subscribeLogs(c, eventMarketTransaction, q, c.DecodeMarketLog, sink), nil
}

// SubscribeBirths streams decoded Birth logs into sink.
func (c *Client) SubscribeBirths(_ context.Context, sink chan<- domain.BirthEvent) (domain.Subscription, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.cfg.KittyAddress},
		Topics:    [][]common.Hash{{c.kittyABI.Events[eventBirth].ID}},
	}
	return subscribeLogs(c, eventBirth, q, c.DecodeBirthLog, sink), nil
}

func subscribeLogs[E any](c *Client, name string, q ethereum.FilterQuery, decode func(types.Log) (E, error), sink chan<- E) event.Subscription {
	logger := c.logger.With(slog.String("event", name))
	return event.ResubscribeErr(c.cfg.ResubscribeBackoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			logger.Warn("log subscription dropped, resubscribing", slog.String("error", lastErr.Error()))
		}
		logs := make(chan types.Log, 64)
		sub, err := c.backend.SubscribeFilterLogs(ctx, q, logs)
		if err != nil {
			logger.Warn("log subscription failed", slog.String("error", err.Error()))
			return nil, err
		}
		logger.Info("log subscription established")
		return event.NewSubscription(func(quit <-chan struct{}) error {
			defer sub.Unsubscribe()
			for {
				select {
				case l := <-logs:
					ev, err := decode(l)
					if err != nil {
						logger.Warn("skipping undecodable log",
							slog.String("tx", l.TxHash.Hex()),
							slog.String("error", err.Error()),
						)
						continue
					}
					select {
					case sink <- ev:
					case <-quit:
						return nil
					}
				case err := <-sub.Err():
					if err == nil {
						err = errFilterClosed
					}
					return err
				case <-quit:
					return nil
				}
			}
		}), nil
	})
}
