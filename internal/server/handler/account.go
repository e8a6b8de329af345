package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AccountService defines what the account handler needs from the service
// layer.
type AccountService interface {
	Accounts() []common.Address
	Acting() common.Address
	Switch(ctx context.Context, addr common.Address) error
}

// AccountHandler lets a wallet UI list the loaded accounts and pick the
// acting one.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type accountsView struct {
	Acting   string   `json:"acting"`
	Accounts []string `json:"accounts"`
}

type switchBody struct {
	Address string `json:"address"`
}

func (h *AccountHandler) view() accountsView {
	loaded := h.accounts.Accounts()
	v := accountsView{
		Acting:   h.accounts.Acting().Hex(),
		Accounts: make([]string, 0, len(loaded)),
	}
	for _, a := range loaded {
		v.Accounts = append(v.Accounts, a.Hex())
	}
	return v
}

// ListAccounts returns the loaded accounts and the acting one.
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

// SwitchAccount changes the acting account. An empty address clears it.
// POST /api/account {"address":"0x..."}
func (h *AccountHandler) SwitchAccount(w http.ResponseWriter, r *http.Request) {
	var body switchBody
	if !decodeBody(w, r, &body) {
		return
	}
	var addr common.Address
	if body.Address != "" {
		if !common.IsHexAddress(body.Address) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		addr = common.HexToAddress(body.Address)
	}
	if err := h.accounts.Switch(r.Context(), addr); err != nil {
		writeServiceError(w, r, h.logger, "switch account", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}
