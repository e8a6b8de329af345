package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// Wallet holds the loaded account keys and tracks which one is acting.
// Every ledger call and write is made from the acting account.
type Wallet struct {
	chainID *big.Int

	mu     sync.RWMutex
	keys   map[common.Address]*ecdsa.PrivateKey
	active common.Address
}

var _ domain.Identity = (*Wallet)(nil)

// NewWallet creates a wallet for chainID. The first key becomes the acting
// account.
func NewWallet(chainID *big.Int, keys ...*ecdsa.PrivateKey) *Wallet {
	w := &Wallet{
		chainID: new(big.Int).Set(chainID),
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
	}
	for i, k := range keys {
		addr := ethcrypto.PubkeyToAddress(k.PublicKey)
		w.keys[addr] = k
		if i == 0 {
			w.active = addr
		}
	}
	return w
}

// Address returns the acting account, or the zero address when none is set.
func (w *Wallet) Address() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// Accounts lists every loaded account.
func (w *Wallet) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, 0, len(w.keys))
	for a := range w.keys {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Switch makes addr the acting account. The zero address clears it; an
// address with no loaded key is rejected.
func (w *Wallet) Switch(addr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if addr != (common.Address{}) {
		if _, ok := w.keys[addr]; !ok {
			return fmt.Errorf("crypto: switch to %s: %w", addr.Hex(), domain.ErrNoAccount)
		}
	}
	w.active = addr
	return nil
}

// CallOpts returns read options bound to ctx and the acting account.
func (w *Wallet) CallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: w.Address()}
}

// TransactOpts returns signing options for the acting account carrying
// value wei.
func (w *Wallet) TransactOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	w.mu.RLock()
	pk, ok := w.keys[w.active]
	w.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNoAccount
	}
	opts, err := bind.NewKeyedTransactorWithChainID(pk, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("crypto: transactor: %w", err)
	}
	opts.Context = ctx
	if value != nil {
		opts.Value = new(big.Int).Set(value)
	}
	return opts, nil
}
