package client

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
	"github.com/sasewaddle/controlplane/pkg/cluster"
)

// Registry is the in-memory, concurrent-safe Client Registry.
type Registry struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*Client
	byKeyHash   map[string]uuid.UUID
	store       *Store
	clusters    *cluster.Registry
	staleAfter  time.Duration
	logger      *slog.Logger
}

func NewRegistry(store *Store, clusters *cluster.Registry, staleAfter time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		byID:       make(map[uuid.UUID]*Client),
		byKeyHash:  make(map[string]uuid.UUID),
		store:      store,
		clusters:   clusters,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Load rebuilds the in-memory registry from the durable store.
func (r *Registry) Load(ctx context.Context) error {
	clients, err := r.store.LoadAll(ctx)
	if err != nil {
		return apperr.Store("loading clients from store", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range clients {
		c := clients[i]
		r.byID[c.ID] = &c
		r.byKeyHash[c.APIKeyHash] = c.ID
	}
	r.logger.Info("client registry warm-started", "count", len(clients))
	return nil
}

// Register assigns a cluster via the Cluster Registry's placement, then
// enrolls the client. Re-registering with the same public_key creates a
// new client; there is no identity dedup on public_key.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (Client, string, error) {
	best, ok := r.clusters.OptimalFor(cluster.Location{Datacenter: req.Datacenter, Region: req.Region})
	if !ok {
		return Client{}, "", apperr.Unavailable("no active cluster available for placement")
	}

	rawKey, hash, err := generateAPIKey()
	if err != nil {
		return Client{}, "", apperr.Crypto("generating client api key", err)
	}

	now := time.Now()
	c := Client{
		ID:         uuid.New(),
		Name:       req.Name,
		Type:       req.Type,
		ClusterID:  best.ID,
		APIKeyHash: hash,
		PublicKey:  req.PublicKey,
		Status:     StatusPending,
		CreatedAt:  now,
		LastSeen:   now,
	}

	if err := r.store.Insert(ctx, c); err != nil {
		return Client{}, "", apperr.Store("persisting client", err)
	}

	r.mu.Lock()
	r.byID[c.ID] = &c
	r.byKeyHash[hash] = c.ID
	r.mu.Unlock()

	return c, rawKey, nil
}

// Authenticate resolves a raw API key to the owning client, promoting its
// status to active and touching last_seen.
func (r *Registry) Authenticate(ctx context.Context, apiKey string) (*Client, bool) {
	hash := auth.HashAPIKey(apiKey)

	r.mu.Lock()
	id, ok := r.byKeyHash[hash]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	c := r.byID[id]
	c.Status = StatusActive
	c.LastSeen = time.Now()
	snapshot := *c
	r.mu.Unlock()

	if err := r.store.UpdateAuthentication(ctx, id, snapshot.Status, snapshot.LastSeen); err != nil {
		r.logger.Error("persisting client authentication", "client_id", id, "error", err)
	}
	return &snapshot, true
}

// Get returns the client by id.
func (r *Registry) Get(id uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IDs returns the ids of every registered client, for background jobs that
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

// RotateAPIKey atomically swaps the client's key hash. No grace window:
// the old key stops validating the instant this returns.
func (r *Registry) RotateAPIKey(ctx context.Context, clientID uuid.UUID) (string, error) {
	rawKey, hash, err := generateAPIKey()
	if err != nil {
		return "", apperr.Crypto("generating rotated api key", err)
	}

	r.mu.Lock()
	c, ok := r.byID[clientID]
	if !ok {
		r.mu.Unlock()
		return "", apperr.NotFound("client not found")
	}
	oldHash := c.APIKeyHash
	c.APIKeyHash = hash
	delete(r.byKeyHash, oldHash)
	r.byKeyHash[hash] = clientID
	r.mu.Unlock()

	if err := r.store.UpdateAPIKeyHash(ctx, clientID, hash); err != nil {
		return "", apperr.Store("persisting rotated api key", err)
	}
	return rawKey, nil
}

// CleanupStale runs until ctx is cancelled, every 5 minutes removing
// clients whose last_seen exceeds staleAfter and whose status is not
// active.
func (r *Registry) CleanupStale(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepStale(ctx)
		}
	}
}

func (r *Registry) sweepStale(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	var toRemove []uuid.UUID
	for id, c := range r.byID {
		if c.Status != StatusActive && now.Sub(c.LastSeen) > r.staleAfter {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		c := r.byID[id]
		delete(r.byKeyHash, c.APIKeyHash)
		delete(r.byID, id)
	}
	r.mu.Unlock()

	if r.store != nil {
		for _, id := range toRemove {
			if err := r.store.Delete(ctx, id); err != nil {
				r.logger.Error("deleting stale client", "client_id", id, "error", err)
			}
		}
	}
	if len(toRemove) > 0 {
		r.logger.Info("cleanup removed stale clients", "count", len(toRemove))
	}
}

func generateAPIKey() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = base64.URLEncoding.EncodeToString(b)
	return raw, auth.HashAPIKey(raw), nil
}
