// Package authn resolves the caller of an authenticated request into an
// auth.Identity, trying each credential form the control plane accepts:
// an admin session cookie/header, a cluster or client X-API-Key, or a
// node bearer token issued by the Token Service.
package authn

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/auth"
	"github.com/sasewaddle/controlplane/pkg/client"
	"github.com/sasewaddle/controlplane/pkg/cluster"
	"github.com/sasewaddle/controlplane/pkg/token"
)

const sessionCookieName = "sase_session"

// Middleware builds the authentication dispatcher mounted as
// internal/httpserver.NewServer's authMiddleware argument.
type Middleware struct {
	sessions *auth.SessionManager
	clusters *cluster.Registry
	clients  *client.Registry
	tokens   *token.Service
	logger   *slog.Logger
}

func NewMiddleware(sessions *auth.SessionManager, clusters *cluster.Registry, clients *client.Registry, tokens *token.Service, logger *slog.Logger) *Middleware {
	return &Middleware{sessions: sessions, clusters: clusters, clients: clients, tokens: tokens, logger: logger}
}

// Handler tries, in order: admin session, X-API-Key (cluster then client),
// then a node bearer token. The first credential that verifies decides; an
// absent or invalid credential falls through to the next form rather than
// failing immediately, so a single endpoint can accept more than one
// identity kind (e.g. heartbeat callable by a cluster's own API key).
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := m.fromSession(r); id != nil {
			next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), id)))
			return
		}
		if id, ok := m.fromAPIKey(r); ok {
			next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), id)))
			return
		}
		if id, ok := m.fromBearerToken(r); ok {
			next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), id)))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","message":"missing or invalid credentials"}`))
	})
}

func (m *Middleware) fromSession(r *http.Request) *auth.Identity {
	if m.sessions == nil {
		return nil
	}
	raw := bearerOrCookie(r, sessionCookieName)
	if raw == "" {
		return nil
	}
	claims, err := m.sessions.ValidateToken(raw)
	if err != nil {
		return nil
	}
	userID := claims.UserID
	return &auth.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		Method:  auth.MethodSession,
		UserID:  parseUUIDPtr(userID),
	}
}

func (m *Middleware) fromAPIKey(r *http.Request) (*auth.Identity, bool) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return nil, false
	}

	if m.clusters != nil {
		if c, ok := m.clusters.Authenticate(key); ok {
			id := c.ID
			return &auth.Identity{
				Subject:  c.ID.String(),
				NodeID:   &id,
				NodeType: "cluster",
				Method:   auth.MethodAPIKey,
			}, true
		}
	}
	if m.clients != nil {
		if c, ok := m.clients.Authenticate(r.Context(), key); ok {
			id := c.ID
			return &auth.Identity{
				Subject:  c.ID.String(),
				NodeID:   &id,
				NodeType: "client",
				Method:   auth.MethodAPIKey,
			}, true
		}
	}
	return nil, false
}

func (m *Middleware) fromBearerToken(r *http.Request) (*auth.Identity, bool) {
	if m.tokens == nil {
		return nil, false
	}
	raw := bearerOrCookie(r, "")
	if raw == "" {
		return nil, false
	}

	claims, err := m.tokens.Validate(r.Context(), raw)
	if err != nil {
		return nil, false
	}
	return &auth.Identity{
		Subject:     claims.Subject,
		NodeID:      parseUUIDPtr(claims.Subject),
		NodeType:    claims.NodeType,
		Permissions: claims.Permissions,
		Method:      auth.MethodNode,
	}, true
}

func parseUUIDPtr(raw string) *uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func bearerOrCookie(r *http.Request, cookieName string) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
