package handler

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

type requestView struct {
	Name    string              `json:"name"`
	State   domain.RequestState `json:"state"`
	Message string              `json:"message,omitempty"`
}

// ListRequests returns every tracked request, sorted by name.
// GET /api/requests
func (h *MarketHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	states := h.market.Statuses()
	views := make([]requestView, 0, len(states))
	for name, st := range states {
		views = append(views, requestView{Name: name, State: st, Message: lifecycle.Message(st)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

// GetRequest returns one request by name, e.g. /api/requests/selling/5.
// GET /api/requests/*
func (h *MarketHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	st, ok := h.market.Status(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown request")
		return
	}
	writeJSON(w, http.StatusOK, requestView{Name: name, State: st, Message: lifecycle.Message(st)})
}

// ResetRequest clears a confirmed or failed request.
// DELETE /api/requests/*
func (h *MarketHandler) ResetRequest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if err := h.market.Reset(name); err != nil {
		writeServiceError(w, r, h.logger, "reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
