package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// LoginRequest is the JSON body for POST /auth/local.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful admin login.
type LoginResponse struct {
	Token      string   `json:"token"`
	MustChange bool     `json:"must_change"`
	User       UserInfo `json:"user"`
}

// ChangePasswordRequest is the JSON body for POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UserInfo is the public admin information returned in auth responses.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// LoginHandler handles local admin email/password authentication.
type LoginHandler struct {
	sessionMgr  *SessionManager
	store       *AdminStore
	logger      *slog.Logger
	rateLimiter *RateLimiter
}

func NewLoginHandler(sm *SessionManager, store *AdminStore, logger *slog.Logger, rl *RateLimiter) *LoginHandler {
	return &LoginHandler{sessionMgr: sm, store: store, logger: logger, rateLimiter: rl}
}

// HandleLogin authenticates an admin with email/password and returns a session JWT.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	ip := clientIP(r)
	if h.rateLimiter != nil {
		result, err := h.rateLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("login rate limit check failed", "error", err)
		} else if !result.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(result.RetryAt).Seconds())))
			respondErr(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
			return
		}
	}

	admin, err := h.store.findByEmail(r.Context(), req.Email)
	if err != nil {
		if h.rateLimiter != nil {
			_ = h.rateLimiter.Record(r.Context(), ip)
		}
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		if h.rateLimiter != nil {
			_ = h.rateLimiter.Record(r.Context(), ip)
		}
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if h.rateLimiter != nil {
		_ = h.rateLimiter.Reset(r.Context(), ip)
	}

	go func() {
		_ = h.store.touchLastLogin(r.Context(), admin.ID)
	}()

	token, err := h.sessionMgr.IssueToken(SessionClaims{
		Subject: admin.Email,
		Email:   admin.Email,
		Role:    admin.Role,
		UserID:  admin.ID.String(),
	})
	if err != nil {
		h.logger.Error("login: issuing token", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token:      token,
		MustChange: admin.MustChange,
		User:       UserInfo{ID: admin.ID.String(), Email: admin.Email, Role: admin.Role},
	})
}

// HandleChangePassword handles the forced password change flow.
func (h *LoginHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "current_password and new_password are required")
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	id := FromContext(r.Context())
	if id == nil || id.Method != MethodSession || id.UserID == nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "admin session required")
		return
	}
	adminID := *id.UserID

	currentHash, err := h.store.passwordHash(r.Context(), adminID)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal", "failed to look up admin")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(req.CurrentPassword)); err != nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "current password is incorrect")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), 12)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal", "failed to hash password")
		return
	}

	if err := h.store.updatePassword(r.Context(), adminID, string(newHash), false); err != nil {
		respondErr(w, http.StatusInternalServerError, "internal", "failed to update password")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errStr, "message": message})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// validatePassword checks password requirements: >= 12 chars, upper+lower, number or symbol.
func validatePassword(pw string) error {
	if len(pw) < 12 {
		return fmt.Errorf("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasDigitOrSymbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			hasDigitOrSymbol = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasDigitOrSymbol {
		return fmt.Errorf("password must contain at least one number or symbol")
	}
	return nil
}
