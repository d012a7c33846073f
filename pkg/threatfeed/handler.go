package threatfeed

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sasewaddle/controlplane/internal/httpserver"
)

// Handler exposes the Threat-Feed Ingestor & Lookup HTTP surface.
type Handler struct {
	logger *slog.Logger
	store  *Store
	lookup *Lookup
}

func NewHandler(logger *slog.Logger, store *Store, lookup *Lookup) *Handler {
	return &Handler{logger: logger, store: store, lookup: lookup}
}

// AdminRoutes mounts the feed status surface and the on-demand lookup used
// by operators to check a single value.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/threat-feeds/status", h.handleStatus)
	r.Get("/threat-feeds/check", h.handleCheck)
	return r
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	updates, err := h.store.RecentUpdates(r.Context(), limit)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"updates": updates})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("value")
	if value == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "value query parameter is required")
		return
	}
	indicatorType := r.URL.Query().Get("type")

	result, err := h.lookup.Check(r.Context(), value, indicatorType)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}
