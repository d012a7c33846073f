package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sasewaddle/controlplane/internal/httpserver"
)

// LogEntry is the JSON projection of one audit_log row.
type LogEntry struct {
	ID           uuid.UUID  `json:"id"`
	ActorSubject string     `json:"actor_subject,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	NodeID       *uuid.UUID `json:"node_id,omitempty"`
	Action       string     `json:"action"`
	Resource     string     `json:"resource"`
	ResourceID   uuid.UUID  `json:"resource_id"`
	IPAddress    *string    `json:"ip_address,omitempty"`
	UserAgent    *string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Handler provides read access to the audit log for admin operators.
type Handler struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewHandler creates an audit log Handler.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, pool: pool}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rows, err := h.pool.Query(r.Context(),
		`SELECT id, actor_subject, user_id, node_id, action, resource, resource_id, ip_address, user_agent, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		params.PageSize, params.Offset,
	)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, params.PageSize)
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.ActorSubject, &e.UserID, &e.NodeID, &e.Action, &e.Resource, &e.ResourceID, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("reading audit log rows", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"entries": entries})
}
