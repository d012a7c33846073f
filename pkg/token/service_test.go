package token

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc, err := NewService("", NewCache(rdb), time.Hour, 24*time.Hour, false, slog.Default())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestGenerateAndValidate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Generate(ctx, "node-1", NodeTypeClient, []string{PermConnect, PermTunnel}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := svc.Validate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "node-1" {
		t.Errorf("Subject = %q, want node-1", claims.Subject)
	}
	if claims.Kind != KindAccess {
		t.Errorf("Kind = %q, want %q", claims.Kind, KindAccess)
	}
	if len(claims.Permissions) != 2 {
		t.Errorf("Permissions = %v, want 2 entries", claims.Permissions)
	}
}

func TestValidateRejectsAfterRevoke(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Generate(ctx, "node-2", NodeTypeCluster, []string{PermHeadend}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := svc.Validate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate before revoke: %v", err)
	}

	ok, err := svc.Revoke(ctx, claims.JTI)
	if err != nil || !ok {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}

	if _, err := svc.Validate(ctx, pair.AccessToken); err == nil {
		t.Fatal("expected validate to fail immediately after revoke")
	}
}

func TestRevokeAllCountsAllTokensForNode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		pair, err := svc.Generate(ctx, "node-3", NodeTypeClient, []string{PermConnect}, nil)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		tokens = append(tokens, pair.AccessToken)
	}

	count, err := svc.RevokeAll(ctx, "node-3")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	// 3 access + 3 refresh jtis were indexed under node-3.
	if count != 6 {
		t.Errorf("RevokeAll count = %d, want 6", count)
	}

	for _, tok := range tokens {
		if _, err := svc.Validate(ctx, tok); err == nil {
			t.Error("expected token to be invalid after revoke_all")
		}
	}
}

func TestRefreshRequiresRefreshKind(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Generate(ctx, "node-4", NodeTypeClient, []string{PermConnect}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := svc.Refresh(ctx, pair.AccessToken); err == nil {
		t.Fatal("expected refresh with an access token to fail")
	}

	newPair, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if newPair.AccessToken == pair.AccessToken {
		t.Error("refresh returned the same access token")
	}
}

func TestValidateRejectsCacheMiss(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// A signature-valid jti whose cache entry is gone (deleted below) must be
	// rejected: revocation is canonical, the cache is the source of truth.
	pair, err := svc.Generate(ctx, "node-5", NodeTypeClient, nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := svc.Validate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := svc.cache.redis.Del(ctx, metaKey(claims.JTI)).Result(); err != nil {
		t.Fatalf("deleting cache entry: %v", err)
	}

	if _, err := svc.Validate(ctx, pair.AccessToken); err == nil {
		t.Fatal("expected validate to reject a signature-valid token with no cache entry")
	}
}
