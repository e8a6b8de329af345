package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/service"
)

// BreedService defines what the breed handler needs from the service layer.
type BreedService interface {
	Breed(ctx context.Context, mumID, dadID uint64) (domain.Receipt, error)
}

// BreedHandler serves breeding requests.
type BreedHandler struct {
	breed  BreedService
	status func(name string) (domain.RequestState, bool)
	logger *slog.Logger
}

// NewBreedHandler creates a BreedHandler. status reads tracker state for the
// response body.
func NewBreedHandler(breed BreedService, status func(string) (domain.RequestState, bool), logger *slog.Logger) *BreedHandler {
	return &BreedHandler{breed: breed, status: status, logger: logger}
}

type breedBody struct {
	MumID uint64 `json:"mum_id"`
	DadID uint64 `json:"dad_id"`
}

// Breed sends a breed transaction for two owned kitties.
// POST /api/breed {"mum_id":3,"dad_id":7}
func (h *BreedHandler) Breed(w http.ResponseWriter, r *http.Request) {
	var body breedBody
	if !decodeBody(w, r, &body) {
		return
	}
	name := service.BreedKey(body.MumID, body.DadID)
	receipt, err := h.breed.Breed(r.Context(), body.MumID, body.DadID)
	if err != nil {
		writeServiceError(w, r, h.logger, name, err)
		return
	}
	st, _ := h.status(name)
	writeJSON(w, http.StatusAccepted, writeAccepted{
		Request: name,
		TxHash:  receipt.TxHash.Hex(),
		State:   st,
	})
}
