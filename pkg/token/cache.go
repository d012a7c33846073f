package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// Cache is the Redis-backed store of JwtTokenMetadata. It is the sole
// proof of current validity: a valid signature with no cache entry is
// rejected.
type Cache struct {
	redis *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{redis: rdb}
}

func metaKey(jti string) string  { return "token:meta:" + jti }
func nodeKey(nodeID string) string { return "token:node:" + nodeID }

// Put writes metadata with TTL equal to the token lifetime, and indexes
// the jti under its node so revoke_all can find it later.
func (c *Cache) Put(ctx context.Context, meta Metadata, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling token metadata: %w", err)
	}

	pipe := c.redis.Pipeline()
	pipe.Set(ctx, metaKey(meta.JTI), data, ttl)
	pipe.SAdd(ctx, nodeKey(meta.Subject), meta.JTI)
	pipe.Expire(ctx, nodeKey(meta.Subject), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Cache("writing token metadata", err)
	}
	return nil
}

// Get returns metadata for jti, or (nil, false) on a cache miss. Redis
// unavailability is surfaced as a CacheFailure so validate() can fail
// closed.
func (c *Cache) Get(ctx context.Context, jti string) (*Metadata, bool, error) {
	data, err := c.redis.Get(ctx, metaKey(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Cache("reading token metadata", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false, fmt.Errorf("unmarshalling token metadata: %w", err)
	}
	return &meta, true, nil
}

// Deactivate sets active=false on the cached metadata for jti, preserving
// its remaining TTL. Returns false if jti has no cache entry.
func (c *Cache) Deactivate(ctx context.Context, jti string) (bool, error) {
	meta, ok, err := c.Get(ctx, jti)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	meta.Active = false

	ttl, err := c.redis.TTL(ctx, metaKey(jti)).Result()
	if err != nil || ttl <= 0 {
		ttl = time.Minute // entry is about to expire anyway; keep it inert until then
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("marshalling token metadata: %w", err)
	}
	if err := c.redis.Set(ctx, metaKey(jti), data, ttl).Err(); err != nil {
		return false, apperr.Cache("deactivating token metadata", err)
	}
	return true, nil
}

// DeactivateAllForNode deactivates every jti indexed under nodeID and
// returns the count.
func (c *Cache) DeactivateAllForNode(ctx context.Context, nodeID string) (int, error) {
	jtis, err := c.redis.SMembers(ctx, nodeKey(nodeID)).Result()
	if err != nil {
		return 0, apperr.Cache("listing node tokens", err)
	}

	count := 0
	for _, jti := range jtis {
		ok, err := c.Deactivate(ctx, jti)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// CleanupExpired prunes jti references whose metadata key has already
// expired via Redis TTL.
func (c *Cache) CleanupExpired(ctx context.Context, nodeID string) error {
	jtis, err := c.redis.SMembers(ctx, nodeKey(nodeID)).Result()
	if err != nil {
		return apperr.Cache("listing node tokens", err)
	}
	for _, jti := range jtis {
		exists, err := c.redis.Exists(ctx, metaKey(jti)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			c.redis.SRem(ctx, nodeKey(nodeID), jti)
		}
	}
	return nil
}
