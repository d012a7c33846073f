package token

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sasewaddle/controlplane/internal/httpserver"
)

// Handler exposes the Token Service HTTP surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/token", h.handleGenerate)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/validate", h.handleValidate)
	r.Post("/revoke", h.handleRevoke)
	r.Get("/public-key", h.handlePublicKey)
	return r
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.service.Generate(r.Context(), req.NodeID, req.NodeType, req.Permissions, req.Metadata)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, pair)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	claims, err := h.service.Validate(r.Context(), raw)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, ValidateResponse{Valid: false})
		return
	}

	httpserver.Respond(w, http.StatusOK, ValidateResponse{
		Valid:       true,
		Subject:     claims.Subject,
		NodeType:    claims.NodeType,
		Permissions: claims.Permissions,
		Metadata:    claims.Metadata,
		ExpiresAt:   claims.ExpiresAt,
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if req.JTI != "" {
		ok, err := h.service.Revoke(r.Context(), req.JTI)
		if err != nil {
			httpserver.RespondAppError(w, h.logger, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"revoked": ok})
		return
	}
	if req.NodeID != "" {
		count, err := h.service.RevokeAll(r.Context(), req.NodeID)
		if err != nil {
			httpserver.RespondAppError(w, h.logger, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"revoked_count": count})
		return
	}
	httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "node_id or jti is required")
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, PublicKeyResponse{
		PublicKey: h.service.GetPublicKey(),
		Algorithm: "RS256",
		Use:       "sig",
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
