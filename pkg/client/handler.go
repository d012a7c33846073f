package client

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/httpserver"
	"github.com/sasewaddle/controlplane/pkg/ca"
)

// Handler exposes the Client Registry HTTP surface.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	ca       *ca.Service
}

func NewHandler(logger *slog.Logger, registry *Registry, caSvc *ca.Service) *Handler {
	return &Handler{logger: logger, registry: registry, ca: caSvc}
}

// PublicRoutes mounts enrollment.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/clients/register", h.handleRegister)
	return r
}

// AuthenticatedRoutes mounts endpoints a client calls with its own key.
func (h *Handler) AuthenticatedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/clients/{id}/config", h.handleConfig)
	r.Post("/clients/{id}/rotate-key", h.handleRotateKey)
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

	cl, _ := h.registry.clusters.Get(c.ClusterID)
	var headendURL string
	if cl != nil {
		headendURL = cl.HeadendURL
	}

	var certs any
	if h.ca != nil {
		bundle, err := h.ca.IssueClientCert(r.Context(), c.ID, c.Name)
		if err != nil {
			h.logger.Error("issuing client certificate", "client_id", c.ID, "error", err)
		} else {
			certs = bundle
		}
	}

	httpserver.Respond(w, http.StatusCreated, RegisterResponse{
		ClientID:     c.ID,
		APIKey:       rawKey,
		Cluster:      ClusterInfo{ID: c.ClusterID, HeadendURL: headendURL},
		Certificates: certs,
	})
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid client id")
		return
	}

	c, ok := h.registry.Get(id)
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "client not found")
		return
	}

	cl, _ := h.registry.clusters.Get(c.ClusterID)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"client":  c,
		"cluster": cl,
	})
}

func (h *Handler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid client id")
		return
	}

	newKey, err := h.registry.RotateAPIKey(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, RotateKeyResponse{NewAPIKey: newKey})
}
