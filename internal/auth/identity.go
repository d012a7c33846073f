package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Roles supported by the admin RBAC surface: session-scoped, role-gated
// access for humans. Node identities (clusters, clients) do not carry a
// Role; they carry permissions on their bearer token instead (see
// pkg/token).
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleReadonly = "readonly"
)

// ValidRoles lists all known admin roles in descending privilege order.
var ValidRoles = []string{RoleAdmin, RoleOperator, RoleReadonly}

// Method describes how the caller was authenticated.
const (
	MethodSession = "session" // local admin session JWT
	MethodAPIKey  = "apikey"  // cluster/client API key
	MethodNode    = "node"    // token-service RS256 bearer token
	MethodDev     = "dev"
)

// Identity represents the authenticated caller for the current request.
// Not every field is populated for every Method: API-key and node-token
// identities have no Email/Role, admin sessions have no NodeID/Permissions.
type Identity struct {
	Subject     string
	Email       string
	Role        string     // admin RBAC role, set only for Method == session/dev
	UserID      *uuid.UUID // admin id, set for Method == session/dev
	NodeID      *uuid.UUID // cluster or client id, set for apikey/node methods (node: when the token subject is a UUID)
	NodeType    string     // "cluster" or "client", set for apikey/node methods
	Permissions []string   // token permissions, set for Method == node
	APIKeyOwner *uuid.UUID
	Method      string
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context. Returns nil if no
// identity is set.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidRole reports whether role is a recognised RBAC role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key. Raw keys are
// never persisted; only this digest is.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
