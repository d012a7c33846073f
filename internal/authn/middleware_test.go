package authn

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sasewaddle/controlplane/internal/auth"
	"github.com/sasewaddle/controlplane/pkg/token"
)

func newTestTokenService(t *testing.T) *token.Service {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc, err := token.NewService("", token.NewCache(rdb), time.Hour, 24*time.Hour, false, slog.Default())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Method", id.Method)
	w.WriteHeader(http.StatusOK)
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	sessions, err := auth.NewSessionManager(auth.GenerateDevSecret(), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	mw := NewMiddleware(sessions, nil, nil, newTestTokenService(t), slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anything", nil)
	rec := httptest.NewRecorder()
	mw.Handler(http.HandlerFunc(echoIdentity)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareAcceptsAdminSession(t *testing.T) {
	sessions, err := auth.NewSessionManager(auth.GenerateDevSecret(), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	raw, err := sessions.IssueToken(auth.SessionClaims{Subject: "admin@example.com", Email: "admin@example.com", Role: auth.RoleAdmin, UserID: "00000000-0000-0000-0000-000000000001"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	mw := NewMiddleware(sessions, nil, nil, newTestTokenService(t), slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/anything", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	mw.Handler(http.HandlerFunc(echoIdentity)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Method") != auth.MethodSession {
		t.Fatalf("method = %q, want %q", rec.Header().Get("X-Method"), auth.MethodSession)
	}
}

func TestMiddlewareAcceptsNodeBearerToken(t *testing.T) {
	sessions, err := auth.NewSessionManager(auth.GenerateDevSecret(), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	tokens := newTestTokenService(t)
	pair, err := tokens.Generate(context.Background(), "client-1", token.NodeTypeClient, []string{token.PermConnect}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	mw := NewMiddleware(sessions, nil, nil, tokens, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/anything", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	mw.Handler(http.HandlerFunc(echoIdentity)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Method") != auth.MethodNode {
		t.Fatalf("method = %q, want %q", rec.Header().Get("X-Method"), auth.MethodNode)
	}
}
