package cluster

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil, 5*time.Minute, slog.Default())
}

func seedCluster(r *Registry, dc, region string, clientCount int, status string) uuid.UUID {
	id := uuid.New()
	r.byID[id] = &Cluster{
		ID: id, Datacenter: dc, Region: region, ClientCount: clientCount,
		Status: status, LastHeartbeat: time.Now(),
	}
	return id
}

func TestOptimalForPrefersExactDatacenter(t *testing.T) {
	r := newTestRegistry()
	a := seedCluster(r, "dc1", "us-east", 10, StatusActive)
	b := seedCluster(r, "dc1", "us-east", 2, StatusActive)
	seedCluster(r, "dc2", "us-west", 0, StatusStale)

	got, ok := r.OptimalFor(Location{Datacenter: "dc1"})
	if !ok {
		t.Fatal("expected a placement, got none")
	}
	if got.ID != b {
		t.Errorf("placed on %s, want %s (fewer clients)", got.ID, b)
	}
	_ = a
}

func TestOptimalForFallsBackToRegionThenAny(t *testing.T) {
	r := newTestRegistry()
	region := seedCluster(r, "dc9", "us-east", 1, StatusActive)

	got, ok := r.OptimalFor(Location{Datacenter: "dc1", Region: "us-east"})
	if !ok || got.ID != region {
		t.Fatalf("expected region fallback to %s, got %v ok=%v", region, got, ok)
	}

	got, ok = r.OptimalFor(Location{Datacenter: "dc1", Region: "eu-west"})
	if !ok || got.ID != region {
		t.Fatalf("expected any-cluster fallback to %s, got %v ok=%v", region, got, ok)
	}
}

func TestOptimalForReturnsFalseWhenNoActiveCandidate(t *testing.T) {
	r := newTestRegistry()
	seedCluster(r, "dc1", "us-east", 0, StatusStale)

	_, ok := r.OptimalFor(Location{Datacenter: "dc1"})
	if ok {
		t.Fatal("expected no placement when only stale clusters exist")
	}
}

func TestScanForStaleTransitionsOldHeartbeats(t *testing.T) {
	r := newTestRegistry()
	id := seedCluster(r, "dc1", "us-east", 0, StatusActive)
	r.byID[id].LastHeartbeat = time.Now().Add(-10 * time.Minute)

	r.scanForStale(nil)

	c, _ := r.Get(id)
	if c.Status != StatusStale {
		t.Errorf("status = %q, want %q", c.Status, StatusStale)
	}
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	raw1, hash1, err := generateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	raw2, hash2, err := generateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if raw1 == raw2 || hash1 == hash2 {
		t.Fatal("expected unique key/hash pairs")
	}
}
