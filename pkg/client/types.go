// Package client implements the Client Registry: enrollment, key rotation,
// and staleness GC.
package client

import (
	"time"

	"github.com/google/uuid"
)

// Type values a Client can hold.
const (
	TypeDocker = "docker"
	TypeNative = "native"
)

// Status values a Client can hold.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Client is an enrolled endpoint device.
type Client struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	ClusterID  uuid.UUID `json:"cluster_id"`
	APIKeyHash string    `json:"-"`
	PublicKey  string    `json:"public_key"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
}

// RegisterRequest is the JSON body for POST /api/v1/clients/register.
type RegisterRequest struct {
	Name       string `json:"name" validate:"required"`
	Type       string `json:"type" validate:"required,oneof=docker native"`
	PublicKey  string `json:"public_key" validate:"required"`
	Datacenter string `json:"datacenter"`
	Region     string `json:"region"`
}

// ClusterInfo is the placement summary returned at registration.
type ClusterInfo struct {
	ID         uuid.UUID `json:"id"`
	HeadendURL string    `json:"headend_url"`
}

// RegisterResponse is returned on successful enrollment.
type RegisterResponse struct {
	ClientID     uuid.UUID   `json:"client_id"`
	APIKey       string      `json:"api_key"`
	Cluster      ClusterInfo `json:"cluster"`
	Certificates any         `json:"certificates"`
}

// RotateKeyResponse is returned by POST /api/v1/clients/{id}/rotate-key.
type RotateKeyResponse struct {
	NewAPIKey string `json:"new_api_key"`
}
