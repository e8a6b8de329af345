// Package ledger talks to the marketplace and kitty contracts over an
// Ethereum JSON-RPC endpoint.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

const (
	defaultCallTimeout = 15 * time.Second
	defaultResubscribe = 30 * time.Second
)

// Signer supplies call and transaction options for the acting account.
type Signer interface {
	domain.Identity
	CallOpts(ctx context.Context) *bind.CallOpts
	TransactOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error)
}

// Config locates the contracts.
type Config struct {
	MarketAddress common.Address
	KittyAddress  common.Address
	// CallTimeout bounds each read call.
	CallTimeout time.Duration
	// ResubscribeBackoff caps the wait between log subscription retries.
	ResubscribeBackoff time.Duration
}

// Client implements domain.MarketGateway and domain.KittyLedger.
type Client struct {
	backend bind.ContractBackend
	signer  Signer
	logger  *slog.Logger
	cfg     Config

	marketABI abi.ABI
	kittyABI  abi.ABI
	market    *bind.BoundContract
	kitties   *bind.BoundContract

	closer func()
}

var (
	_ domain.MarketGateway = (*Client)(nil)
	_ domain.KittyLedger   = (*Client)(nil)
)

// Dial connects to rpcURL and verifies the node serves chainID.
func Dial(ctx context.Context, rpcURL string, chainID *big.Int, cfg Config, signer Signer, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial: %w", err)
	}
	got, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: chain id: %w", err)
	}
	if chainID != nil && chainID.Sign() > 0 && got.Cmp(chainID) != 0 {
		eth.Close()
		return nil, fmt.Errorf("ledger: node chain id %s, configured %s", got, chainID)
	}
	c, err := New(eth, cfg, signer, logger)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// New builds a client over an existing backend.
func New(backend bind.ContractBackend, cfg Config, signer Signer, logger *slog.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger: nil backend")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ResubscribeBackoff <= 0 {
		cfg.ResubscribeBackoff = defaultResubscribe
	}
	marketABI, err := MarketplaceABI()
	if err != nil {
		return nil, err
	}
	kittyABI, err := KittyABI()
	if err != nil {
		return nil, err
	}
	return &Client{
		backend:   backend,
		signer:    signer,
		logger:    logger.With(slog.String("component", "ledger")),
		cfg:       cfg,
		marketABI: marketABI,
		kittyABI:  kittyABI,
		market:    bind.NewBoundContract(cfg.MarketAddress, marketABI, backend, backend, backend),
		kitties:   bind.NewBoundContract(cfg.KittyAddress, kittyABI, backend, backend, backend),
	}, nil
}

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Operator returns the marketplace contract address.
func (c *Client) Operator() common.Address { return c.cfg.MarketAddress }

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var out []any
	if err := contract.Call(c.callOpts(ctx), &out, method, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callOpts(ctx context.Context) *bind.CallOpts {
	if c.signer == nil {
		return &bind.CallOpts{Context: ctx}
	}
	return c.signer.CallOpts(ctx)
}

func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, value *big.Int, method string, args ...any) (domain.Receipt, error) {
	if c.signer == nil {
		return domain.Receipt{}, domain.ErrNoAccount
	}
	opts, err := c.signer.TransactOpts(ctx, value)
	if err != nil {
		return domain.Receipt{}, err
	}
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return domain.Receipt{}, err
	}
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.String("from", opts.From.Hex()),
	)
	return domain.Receipt{TxHash: tx.Hash(), From: opts.From}, nil
}

func asBig(v any) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("unexpected %T, want *big.Int", v)
	}
	return b, nil
}

func asUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case *big.Int:
		if n == nil || !n.IsUint64() {
			return 0, fmt.Errorf("value %v overflows uint64", n)
		}
		return n.Uint64(), nil
	default:
		return 0, fmt.Errorf("unexpected %T, want unsigned integer", v)
	}
}

func tokenArg(id uint64) *big.Int { return new(big.Int).SetUint64(id) }
