package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rules []Rule) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewLimiter(rdb, rules), mr
}

func TestAllowUnderLimitPasses(t *testing.T) {
	rule := Rule{ID: "r1", Priority: 1, MaxRequests: 3, Window: time.Minute, BlockDuration: time.Minute}
	limiter, _ := newTestLimiter(t, []Rule{rule})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "/api/v1/clients", "1.2.3.4")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d unexpectedly rejected", i)
		}
	}
}

func TestAllowRejectsAtLimitAndBlocks(t *testing.T) {
	rule := Rule{ID: "r1", Priority: 1, MaxRequests: 2, Window: time.Minute, BlockDuration: time.Minute}
	limiter, _ := newTestLimiter(t, []Rule{rule})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, err := limiter.Allow(ctx, "/api/v1/clients", "9.9.9.9"); err != nil || !d.Allowed {
			t.Fatalf("setup request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}

	d, err := limiter.Allow(ctx, "/api/v1/clients", "9.9.9.9")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 3rd request to be rejected")
	}

	// The IP should now be blocked outright, without rule re-evaluation.
	d2, err := limiter.Allow(ctx, "/api/v1/anything-else", "9.9.9.9")
	if err != nil {
		t.Fatalf("Allow (blocked): %v", err)
	}
	if d2.Allowed {
		t.Fatal("expected blocked ip to be rejected regardless of path")
	}
}

func TestAllowHonorsExemptIPs(t *testing.T) {
	rule := Rule{ID: "r1", Priority: 1, MaxRequests: 1, Window: time.Minute, BlockDuration: time.Minute, ExemptIPs: []string{"10.0.0.1"}}
	limiter, _ := newTestLimiter(t, []Rule{rule})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "/api/v1/clients", "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("exempt ip rejected on request %d", i)
		}
	}
}

func TestAllowHonorsEndpointPrefix(t *testing.T) {
	rule := Rule{ID: "r1", Priority: 1, MaxRequests: 1, Window: time.Minute, BlockDuration: time.Minute, Endpoints: []string{"/api/v1/token"}}
	limiter, _ := newTestLimiter(t, []Rule{rule})
	ctx := context.Background()

	// Unrelated path doesn't match this rule, so it falls through unlimited.
	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "/api/v1/clusters", "5.5.5.5")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}
}

func TestSetRulesOrdersByPriority(t *testing.T) {
	limiter, _ := newTestLimiter(t, nil)
	limiter.SetRules([]Rule{
		{ID: "low", Priority: 10},
		{ID: "high", Priority: 1},
	})

	rules := limiter.Rules()
	if rules[0].ID != "high" || rules[1].ID != "low" {
		t.Fatalf("rules not sorted by priority: %+v", rules)
	}
}
