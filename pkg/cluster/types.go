// Package cluster implements the Cluster (headend) Registry: enrollment,
// heartbeat, health monitoring, and optimal placement.
package cluster

import (
	"time"

	"github.com/google/uuid"
)

// Status values a Cluster can hold.
const (
	StatusActive   = "active"
	StatusStale    = "stale"
	StatusInactive = "inactive"
)

// Cluster is a headend grouping, keyed by id.
type Cluster struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Region        string    `json:"region"`
	Datacenter    string    `json:"datacenter"`
	HeadendURL    string    `json:"headend_url"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ClientCount   int       `json:"client_count"`
	APIKeyHash    string    `json:"-"`
}

// RegisterRequest is the JSON body for POST /api/v1/clusters/register.
type RegisterRequest struct {
	Name       string `json:"name" validate:"required"`
	Region     string `json:"region" validate:"required"`
	Datacenter string `json:"datacenter" validate:"required"`
	HeadendURL string `json:"headend_url" validate:"required,url"`
}

// RegisterResponse is returned on successful enrollment.
type RegisterResponse struct {
	ClusterID    uuid.UUID `json:"cluster_id"`
	APIKey       string    `json:"api_key"`
	Certificates any       `json:"certificates"`
}

// HeartbeatRequest is the JSON body for POST /api/v1/clusters/{id}/heartbeat.
type HeartbeatRequest struct {
	ClientCount *int `json:"client_count"`
}

// Location describes a client's requested placement.
type Location struct {
	Datacenter string `json:"datacenter"`
	Region     string `json:"region"`
}
