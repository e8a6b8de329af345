package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// Accounts is the wallet view the account service needs.
type Accounts interface {
	domain.Identity
	Accounts() []common.Address
}

// AccountService lets a wallet collaborator change the acting account. The
// change is applied through the market event channel, whose identity hooks
// move the wallet.
type AccountService struct {
	wallet  Accounts
	changed func([]common.Address)
	events  *eventLog
	logger  *slog.Logger
}

// NewAccountService creates an AccountService. changed receives the new
// account list with the acting account first.
func NewAccountService(wallet Accounts, changed func([]common.Address), logger *slog.Logger) *AccountService {
	return &AccountService{
		wallet:  wallet,
		changed: changed,
		events:  &eventLog{logger: logger},
		logger:  logger,
	}
}

// WithAudit records account switches in store.
func (s *AccountService) WithAudit(store domain.AuditStore) *AccountService {
	s.events.store = store
	return s
}

// Accounts lists every loaded account.
func (s *AccountService) Accounts() []common.Address {
	return s.wallet.Accounts()
}

// Acting returns the account every read and write is made from.
func (s *AccountService) Acting() common.Address {
	return s.wallet.Address()
}

// Switch makes addr the acting account. The zero address clears it. An
// address the wallet holds no key for is rejected before anything changes.
func (s *AccountService) Switch(ctx context.Context, addr common.Address) error {
	loaded := s.wallet.Accounts()
	if addr != (common.Address{}) && !slices.Contains(loaded, addr) {
		return fmt.Errorf("account_service: switch %s: %w", addr.Hex(), domain.ErrNoAccount)
	}

	prev := s.wallet.Address()
	if addr == prev {
		return nil
	}

	list := []common.Address{}
	if addr != (common.Address{}) {
		list = append(list, addr)
		for _, a := range loaded {
			if a != addr {
				list = append(list, a)
			}
		}
	}
	s.changed(list)

	if got := s.wallet.Address(); got != addr {
		return fmt.Errorf("account_service: switch %s: acting account is %s: %w", addr.Hex(), got.Hex(), domain.ErrNoAccount)
	}

	s.logger.InfoContext(ctx, "account_service: acting account switched",
		slog.String("from", prev.Hex()),
		slog.String("to", addr.Hex()),
	)
	s.events.record(ctx, "account_switched", map[string]any{
		"from": prev.Hex(),
		"to":   addr.Hex(),
	})
	return nil
}
