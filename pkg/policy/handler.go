package policy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/httpserver"
)

// Handler exposes the Policy Store & Matcher HTTP surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
	// invalidate, if set, is called after a mutation commits so the Rule
	// Cache can drop its stale entry for userID before the mutation's HTTP
	// response returns.
	invalidate func(userID uuid.UUID)
	// getUser/getAll serve reads. When the composition root wires the Rule
	// Cache in, these go through it with pull-through semantics; they fall
	// back to the Policy Store directly otherwise.
	getUser func(ctx context.Context, userID uuid.UUID) (RuleBundle, error)
	getAll  func(ctx context.Context) (AllRulesResponse, error)
}

func NewHandler(logger *slog.Logger, service *Service, invalidate func(userID uuid.UUID)) *Handler {
	h := &Handler{logger: logger, service: service, invalidate: invalidate}
	h.getUser = service.ExportUser
	h.getAll = service.ExportAll
	return h
}

// UseCache redirects the read endpoints through the Rule Cache's
// pull-through GetUser/GetAll instead of calling the Policy Store directly.
func (h *Handler) UseCache(getUser func(ctx context.Context, userID uuid.UUID) (RuleBundle, error), getAll func(ctx context.Context) (AllRulesResponse, error)) {
	h.getUser = getUser
	h.getAll = getAll
}

// AdminRoutes mounts the rule CRUD surface used by operators.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/firewall/rules", h.handleCreate)
	r.Put("/firewall/rules/{id}", h.handleUpdate)
	r.Delete("/firewall/rules/{id}", h.handleDelete)
	r.Get("/firewall/rules", h.handleGetAll)
	r.Get("/firewall/user/{id}/rules", h.handleGetUser)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rule, err := h.service.AddRule(r.Context(), req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	h.invalidateUser(req.UserID)

	httpserver.Respond(w, http.StatusCreated, rule)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule id")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rule, err := h.service.UpdateRule(r.Context(), id, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	h.invalidateUser(rule.UserID)

	httpserver.Respond(w, http.StatusOK, rule)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule id")
		return
	}

	userID, err := h.service.RemoveRule(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	h.invalidateUser(userID)

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleGetAll(w http.ResponseWriter, r *http.Request) {
	resp, err := h.getAll(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}

	bundle, err := h.getUser(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, bundle)
}

func (h *Handler) invalidateUser(userID uuid.UUID) {
	if h.invalidate != nil {
		h.invalidate(userID)
	}
}
