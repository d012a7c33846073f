package rulecache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sasewaddle/controlplane/pkg/policy"
)

func newTestCache(t *testing.T, compile compileFunc, compileAll allCompileFunc) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewCache(rdb, time.Minute, time.Minute, compile, compileAll, slog.Default())
}

func TestGetUserCompilesOnMissAndCachesResult(t *testing.T) {
	userID := uuid.New()
	calls := 0
	compile := func(ctx context.Context, id uuid.UUID) (policy.RuleBundle, error) {
		calls++
		return policy.RuleBundle{AllowDomains: []string{"mail.example.com"}}, nil
	}

	c := newTestCache(t, compile, nil)
	ctx := context.Background()

	bundle, err := c.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if len(bundle.AllowDomains) != 1 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
	if calls != 1 {
		t.Fatalf("expected 1 compile call, got %d", calls)
	}

	if _, err := c.GetUser(ctx, userID); err != nil {
		t.Fatalf("GetUser (second): %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cache hit to avoid recompiling, got %d calls", calls)
	}
}

func TestInvalidateUserForcesRecompile(t *testing.T) {
	userID := uuid.New()
	calls := 0
	compile := func(ctx context.Context, id uuid.UUID) (policy.RuleBundle, error) {
		calls++
		return policy.RuleBundle{AllowDomains: []string{"mail.example.com"}}, nil
	}

	c := newTestCache(t, compile, nil)
	ctx := context.Background()

	if _, err := c.GetUser(ctx, userID); err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if err := c.InvalidateUser(ctx, userID); err != nil {
		t.Fatalf("InvalidateUser: %v", err)
	}
	if _, err := c.GetUser(ctx, userID); err != nil {
		t.Fatalf("GetUser (after invalidate): %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected invalidate to force a recompile, got %d calls", calls)
	}
}

func TestInvalidateAllDropsEveryUserBundle(t *testing.T) {
	calls := 0
	compile := func(ctx context.Context, id uuid.UUID) (policy.RuleBundle, error) {
		calls++
		return policy.RuleBundle{AllowDomains: []string{"a.example.com"}}, nil
	}
	compileAll := func(ctx context.Context) (policy.AllRulesResponse, error) {
		return policy.AllRulesResponse{RulesCount: 1}, nil
	}

	c := newTestCache(t, compile, compileAll)
	ctx := context.Background()

	u1, u2 := uuid.New(), uuid.New()
	if _, err := c.GetUser(ctx, u1); err != nil {
		t.Fatalf("GetUser u1: %v", err)
	}
	if _, err := c.GetUser(ctx, u2); err != nil {
		t.Fatalf("GetUser u2: %v", err)
	}
	if _, err := c.GetAll(ctx); err != nil {
		t.Fatalf("GetAll: %v", err)
	}

	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}

	callsBefore := calls
	if _, err := c.GetUser(ctx, u1); err != nil {
		t.Fatalf("GetUser u1 after invalidate: %v", err)
	}
	if _, err := c.GetUser(ctx, u2); err != nil {
		t.Fatalf("GetUser u2 after invalidate: %v", err)
	}
	if calls != callsBefore+2 {
		t.Fatalf("expected InvalidateAll to force recompiles for both users, calls=%d before=%d", calls, callsBefore)
	}
}
