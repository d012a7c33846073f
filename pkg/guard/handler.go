package guard

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/httpserver"
)

// Handler exposes administrative control over the Request Guard's rule set
// and emergency-mode flag.
type Handler struct {
	logger  *slog.Logger
	limiter *Limiter
	anomaly *AnomalyDetector
}

func NewHandler(logger *slog.Logger, limiter *Limiter, anomaly *AnomalyDetector) *Handler {
	return &Handler{logger: logger, limiter: limiter, anomaly: anomaly}
}

// AdminRoutes mounts the rate-limit rule CRUD and emergency-mode surface.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/guard/rules", h.handleList)
	r.Put("/guard/rules", h.handleReplace)
	r.Get("/guard/emergency-mode", h.handleEmergencyStatus)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{"rules": h.limiter.Rules()})
}

// handleReplace atomically swaps the active rule set; reloads are explicit
// administrative actions. Rules without an ID are assigned one.
func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request) {
	var rules []Rule
	if err := httpserver.Decode(r, &rules); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = uuid.NewString()
		}
	}
	h.limiter.SetRules(rules)
	httpserver.Respond(w, http.StatusOK, map[string]any{"rules": h.limiter.Rules()})
}

func (h *Handler) handleEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	active, err := h.anomaly.EmergencyModeActive(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"emergency_mode": active})
}
