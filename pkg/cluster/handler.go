package cluster

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/httpserver"
	"github.com/sasewaddle/controlplane/pkg/ca"
)

// Handler exposes the Cluster Registry HTTP surface.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	ca       *ca.Service
}

func NewHandler(logger *slog.Logger, registry *Registry, caSvc *ca.Service) *Handler {
	return &Handler{logger: logger, registry: registry, ca: caSvc}
}

// PublicRoutes mounts enrollment, which happens before a cluster has any
// credential to authenticate with.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/clusters/register", h.handleRegister)
	return r
}

// AuthenticatedRoutes mounts endpoints a cluster calls using its own
// credentials once enrolled.
func (h *Handler) AuthenticatedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/clusters/{id}/heartbeat", h.handleHeartbeat)
	r.Get("/clusters/{id}/headend-config", h.handleHeadendConfig)
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	c, rawKey, err := h.registry.Register(r.Context(), req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	var certs any
	if h.ca != nil {
		bundle, err := h.ca.IssueHeadendCert(r.Context(), c.ID, c.Name, []string{req.HeadendURL})
		if err != nil {
			h.logger.Error("issuing headend certificate", "cluster_id", c.ID, "error", err)
		} else {
			certs = bundle
		}
	}

	httpserver.Respond(w, http.StatusCreated, RegisterResponse{
		ClusterID:    c.ID,
		APIKey:       rawKey,
		Certificates: certs,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster id")
		return
	}

	var req HeartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.registry.Heartbeat(r.Context(), id, req.ClientCount); err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHeadendConfig(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster id")
		return
	}

	c, ok := h.registry.Get(id)
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "cluster not found")
		return
	}

	var peers any
	if h.ca != nil {
		p, err := h.ca.ListPeers(r.Context())
		if err != nil {
			h.logger.Error("listing wireguard peers", "error", err)
		} else {
			peers = p
		}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"cluster": c,
		"wireguard": map[string]any{
			"peers": peers,
		},
		"proxy_defaults": map[string]any{
			"connect_timeout_seconds": 10,
			"idle_timeout_seconds":    300,
		},
	})
}
