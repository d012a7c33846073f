// Package ca implements the internal certificate authority and the
// WireGuard/IPAM identity material issued alongside it.
package ca

import (
	"time"

	"github.com/google/uuid"
)

// NodeType distinguishes the two kinds of participants the CA issues
// material for.
const (
	NodeTypeCluster = "cluster"
	NodeTypeClient  = "client"
)

// Certificate is a single issued leaf certificate.
type Certificate struct {
	Serial    int64
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	PEM       string
	KeyPEM    string
	Revoked   bool
	NodeID    uuid.UUID
	NodeType  string
}

// CertBundle is the {key, cert, ca} triple returned to callers.
type CertBundle struct {
	KeyPEM  string `json:"key"`
	CertPEM string `json:"cert"`
	CAPEM   string `json:"ca"`
}

// WireGuardPeer is a single allocated overlay identity.
type WireGuardPeer struct {
	NodeID     uuid.UUID
	NodeType   string
	PrivateKey string
	PublicKey  string
	IPAddress  string // plain A.B.C.D, the peer's own address
	AllowedIPs string // A.B.C.D/32, for inclusion in other peers' configs
	Revoked    bool
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// WireGuardKeyResponse is the JSON shape returned from key generation.
type WireGuardKeyResponse struct {
	PrivateKey  string `json:"private_key"`
	PublicKey   string `json:"public_key"`
	IPAddress   string `json:"ip_address"`
	NetworkCIDR string `json:"network_cidr"`
}

// GenerateRequest is the JSON body for POST /api/v1/wireguard/keys and
// POST /api/v1/certs/generate.
type GenerateRequest struct {
	NodeID   uuid.UUID `json:"node_id" validate:"required"`
	NodeType string    `json:"node_type" validate:"required,oneof=cluster client"`
	Name     string    `json:"name" validate:"required"`
	SANs     []string  `json:"sans"`
}
