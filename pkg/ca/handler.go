package ca

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasewaddle/controlplane/internal/httpserver"
)

// Handler exposes the CA & IPAM HTTP surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns the certificate- and WireGuard-issuance endpoints. These
// mount under the authenticated node API surface; registration flows call
// the Service directly rather than through HTTP.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/certs/generate", h.handleGenerateCert)
	r.Post("/wireguard/keys", h.handleGenerateWireGuardKeys)
	r.Get("/wireguard/peers", h.handleListPeers)
	return r
}

func (h *Handler) handleGenerateCert(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var bundle CertBundle
	var err error
	if req.NodeType == NodeTypeCluster {
		bundle, err = h.service.IssueHeadendCert(r.Context(), req.NodeID, req.Name, req.SANs)
	} else {
		bundle, err = h.service.IssueClientCert(r.Context(), req.NodeID, req.Name)
	}
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, bundle)
}

func (h *Handler) handleGenerateWireGuardKeys(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.GenerateWireGuardKeys(r.Context(), req.NodeID, req.NodeType)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.service.ListPeers(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"peers": peers, "count": len(peers)})
}
