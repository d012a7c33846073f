package client

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil, nil, 24*time.Hour, slog.Default())
}

func seedClient(r *Registry, status string, lastSeen time.Time) uuid.UUID {
	id := uuid.New()
	hash := "hash-" + id.String()
	c := &Client{ID: id, Status: status, LastSeen: lastSeen, APIKeyHash: hash}
	r.byID[id] = c
	r.byKeyHash[hash] = id
	return id
}

// TestKeyHashSwapLeavesNoGrace replays the in-memory index swap that
// RotateAPIKey performs (RotateAPIKey itself also writes to the Postgres
// store, which this registry does not have) and checks that the old hash
// stops resolving at once.
func TestKeyHashSwapLeavesNoGrace(t *testing.T) {
	r := newTestRegistry()
	id := seedClient(r, StatusActive, time.Now())
	oldHash := r.byID[id].APIKeyHash

	newKey, hash, err := generateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	c := r.byID[id]
	delete(r.byKeyHash, c.APIKeyHash)
	c.APIKeyHash = hash
	r.byKeyHash[hash] = id
	r.mu.Unlock()

	if _, ok := r.byKeyHash[oldHash]; ok {
		t.Fatal("old key hash still resolves after rotation")
	}
	if got, ok := r.byKeyHash[hash]; !ok || got != id {
		t.Fatal("new key hash does not resolve to client")
	}
	_ = newKey
}

func TestSweepStaleRemovesOldInactiveOnly(t *testing.T) {
	r := newTestRegistry()
	stale := seedClient(r, StatusPending, time.Now().Add(-48*time.Hour))
	activeOld := seedClient(r, StatusActive, time.Now().Add(-48*time.Hour))
	fresh := seedClient(r, StatusPending, time.Now())

	r.sweepStale(nil)

	if _, ok := r.Get(stale); ok {
		t.Error("expected stale inactive client to be removed")
	}
	if _, ok := r.Get(activeOld); !ok {
		t.Error("expected old active client to survive (status=active is never swept)")
	}
	if _, ok := r.Get(fresh); !ok {
		t.Error("expected fresh client to survive")
	}
}
