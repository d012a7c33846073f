// Package token implements the Token Service: RS256 issuance, Redis-backed
// revocation/metadata cache, refresh, and mass revocation.
package token

import "time"

// Kind distinguishes access from refresh tokens.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Node types carried on a token's claims.
const (
	NodeTypeCluster = "cluster"
	NodeTypeClient  = "client"
)

// Permission strings checked by resource handlers against a token's set.
const (
	PermConnect       = "connect"
	PermTunnel        = "tunnel"
	PermRoute         = "route"
	PermHeadend       = "headend"
	PermProxy         = "proxy"
	PermWireGuard     = "wireguard"
	PermMirrorTraffic = "mirror_traffic"
)

// Metadata is the cache-resident record of an issued jti. It lives only
// in the cache, TTL = token lifetime.
type Metadata struct {
	JTI         string         `json:"jti"`
	Subject     string         `json:"subject"`
	NodeType    string         `json:"node_type"`
	Permissions []string       `json:"permissions"`
	Extra       map[string]any `json:"metadata,omitempty"`
	IssuedAt    int64          `json:"issued_at"`
	ExpiresAt   int64          `json:"expires_at"`
	Active      bool           `json:"active"`
	Kind        string         `json:"kind"`
}

// Claims is what validate() returns on success.
type Claims struct {
	Subject     string         `json:"sub"`
	NodeType    string         `json:"node_type"`
	Permissions []string       `json:"permissions"`
	Metadata    map[string]any `json:"metadata"`
	JTI         string         `json:"jti"`
	Kind        string         `json:"type"`
	IssuedAt    int64          `json:"iat"`
	ExpiresAt   int64          `json:"exp"`
}

// TokenPair is returned from generate/refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// GenerateRequest is the JSON body for POST /api/v1/auth/token.
type GenerateRequest struct {
	NodeID      string         `json:"node_id" validate:"required"`
	NodeType    string         `json:"node_type" validate:"required,oneof=cluster client"`
	Permissions []string       `json:"permissions"`
	Metadata    map[string]any `json:"metadata"`
}

// RefreshRequest is the JSON body for POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ValidateResponse is the JSON body for POST /api/v1/auth/validate.
type ValidateResponse struct {
	Valid       bool           `json:"valid"`
	Subject     string         `json:"sub,omitempty"`
	NodeType    string         `json:"node_type,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExpiresAt   int64          `json:"exp,omitempty"`
}

// RevokeRequest is the JSON body for POST /api/v1/auth/revoke.
type RevokeRequest struct {
	NodeID string `json:"node_id"`
	JTI    string `json:"jti"`
}

// PublicKeyResponse is the JSON body for GET /api/v1/auth/public-key.
type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
	Use       string `json:"use"`
}
