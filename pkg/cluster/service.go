package cluster

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
	"github.com/sasewaddle/controlplane/internal/auth"
)

// Registry is the in-memory, concurrent-safe Cluster Registry. It is the
// source of truth at runtime; Store is a durable mirror used only to
// repopulate the registry on boot.
type Registry struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*Cluster
	byKeyHash  map[string]uuid.UUID
	store      *Store
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewRegistry(store *Store, staleAfter time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		byID:       make(map[uuid.UUID]*Cluster),
		byKeyHash:  make(map[string]uuid.UUID),
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Load rebuilds the in-memory registry from the durable store. Call once
// at startup before serving traffic.
func (r *Registry) Load(ctx context.Context) error {
	clusters, err := r.store.LoadAll(ctx)
	if err != nil {
		return apperr.Store("loading clusters from store", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range clusters {
		c := clusters[i]
		r.byID[c.ID] = &c
		r.byKeyHash[c.APIKeyHash] = c.ID
	}
	r.logger.Info("cluster registry warm-started", "count", len(clusters))
	return nil
}

// Register enrolls a new cluster and returns it alongside the raw API key,
// which is never stored or returned again.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (Cluster, string, error) {
	rawKey, hash, err := generateAPIKey()
	if err != nil {
		return Cluster{}, "", apperr.Crypto("generating cluster api key", err)
	}

	c := Cluster{
		ID:            uuid.New(),
		Name:          req.Name,
		Region:        req.Region,
		Datacenter:    req.Datacenter,
		HeadendURL:    req.HeadendURL,
		Status:        StatusActive,
		LastHeartbeat: time.Now(),
		ClientCount:   0,
		APIKeyHash:    hash,
	}

	if err := r.store.Insert(ctx, c); err != nil {
		return Cluster{}, "", apperr.Store("persisting cluster", err)
	}

	r.mu.Lock()
	r.byID[c.ID] = &c
	r.byKeyHash[hash] = c.ID
	r.mu.Unlock()

	return c, rawKey, nil
}

// Authenticate resolves a raw API key to the owning cluster.
func (r *Registry) Authenticate(apiKey string) (*Cluster, bool) {
	hash := auth.HashAPIKey(apiKey)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKeyHash[hash]
	if !ok {
		return nil, false
	}
	c := *r.byID[id]
	return &c, true
}

// Get returns the cluster by id.
func (r *Registry) Get(id uuid.UUID) (*Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// Count returns the number of registered clusters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IDs returns the ids of every registered cluster, for background jobs that
// must sweep per-node state (e.g. token cleanup).
func (r *Registry) IDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// Heartbeat updates last_heartbeat (monotonic, out-of-order heartbeats
// resolve to the max) and transitions status back to active.
func (r *Registry) Heartbeat(ctx context.Context, id uuid.UUID, clientCount *int) error {
	r.mu.Lock()
	c, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("cluster not found")
	}

	now := time.Now()
	if now.After(c.LastHeartbeat) {
		c.LastHeartbeat = now
	}
	c.Status = StatusActive
	if clientCount != nil {
		c.ClientCount = *clientCount
	}
	snapshot := *c
	r.mu.Unlock()

	if err := r.store.UpdateHeartbeat(ctx, id, snapshot.Status, snapshot.LastHeartbeat, clientCount); err != nil {
		return apperr.Store("persisting heartbeat", err)
	}
	return nil
}

// HealthMonitor runs until ctx is cancelled, scanning every 30s for
// clusters whose last_heartbeat exceeds staleAfter and transitioning them
// to stale.
func (r *Registry) HealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanForStale(ctx)
		}
	}
}

func (r *Registry) scanForStale(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	var toMark []uuid.UUID
	for id, c := range r.byID {
		if c.Status == StatusActive && now.Sub(c.LastHeartbeat) > r.staleAfter {
			c.Status = StatusStale
			toMark = append(toMark, id)
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		for _, id := range toMark {
			if err := r.store.UpdateStatus(ctx, id, StatusStale); err != nil {
				r.logger.Error("persisting stale transition", "cluster_id", id, "error", err)
			}
		}
	}
	if len(toMark) > 0 {
		r.logger.Info("health monitor marked clusters stale", "count", len(toMark))
	}
}

// OptimalFor selects the best cluster for a client placement request:
// exact datacenter match, then region match, then any; among candidates
// the active cluster with the fewest clients wins.
func (r *Registry) OptimalFor(loc Location) (*Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := func(pred func(*Cluster) bool) (*Cluster, bool) {
		var winner *Cluster
		for _, c := range r.byID {
			if c.Status != StatusActive || !pred(c) {
				continue
			}
			if winner == nil || c.ClientCount < winner.ClientCount {
				cp := *c
				winner = &cp
			}
		}
		if winner == nil {
			return nil, false
		}
		return winner, true
	}

	if loc.Datacenter != "" {
		if c, ok := best(func(c *Cluster) bool { return c.Datacenter == loc.Datacenter }); ok {
			return c, true
		}
	}
	if loc.Region != "" {
		if c, ok := best(func(c *Cluster) bool { return c.Region == loc.Region }); ok {
			return c, true
		}
	}
	return best(func(*Cluster) bool { return true })
}

func generateAPIKey() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = base64.URLEncoding.EncodeToString(b)
	return raw, auth.HashAPIKey(raw), nil
}
