// Package rulecache is the pull-through Redis cache sitting in front of the
// Policy Store, so rule evaluation on the hot request path does not hit
// Postgres on every lookup.
package rulecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sasewaddle/controlplane/pkg/policy"
)

const (
	userKeyPrefix = "firewall:user:"
	allRulesKey   = "firewall:all_rules"
)

// compileFunc loads a user's rules from the Policy Store on a cache miss.
type compileFunc func(ctx context.Context, userID uuid.UUID) (policy.RuleBundle, error)

// allCompileFunc loads the admin "all rules" projection on a cache miss.
type allCompileFunc func(ctx context.Context) (policy.AllRulesResponse, error)

// Cache is a Redis-backed, pull-through cache for compiled rule bundles.
type Cache struct {
	rdb      *redis.Client
	logger   *slog.Logger
	userTTL  time.Duration
	allTTL   time.Duration
	compile  compileFunc
	compileA allCompileFunc
}

func NewCache(rdb *redis.Client, userTTL, allTTL time.Duration, compile compileFunc, compileAll allCompileFunc, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger, userTTL: userTTL, allTTL: allTTL, compile: compile, compileA: compileAll}
}

func userKey(userID uuid.UUID) string {
	return userKeyPrefix + userID.String()
}

// GetUser returns the cached RuleBundle for userID, compiling and warming
// the cache on a miss. Redis errors fall back to a direct compile rather
// than failing the request.
func (c *Cache) GetUser(ctx context.Context, userID uuid.UUID) (policy.RuleBundle, error) {
	key := userKey(userID)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		var bundle policy.RuleBundle
		if jsonErr := json.Unmarshal([]byte(val), &bundle); jsonErr == nil {
			return bundle, nil
		}
		c.logger.Warn("invalid rule bundle in cache, recompiling", "key", key)
	} else if err != redis.Nil {
		c.logger.Warn("rule cache lookup failed, falling back to store", "error", err)
	}

	bundle, err := c.compile(ctx, userID)
	if err != nil {
		return policy.RuleBundle{}, err
	}
	c.set(ctx, key, bundle, c.userTTL)
	return bundle, nil
}

// GetAll returns the cached admin-facing all-rules projection.
func (c *Cache) GetAll(ctx context.Context) (policy.AllRulesResponse, error) {
	val, err := c.rdb.Get(ctx, allRulesKey).Result()
	if err == nil {
		var resp policy.AllRulesResponse
		if jsonErr := json.Unmarshal([]byte(val), &resp); jsonErr == nil {
			return resp, nil
		}
		c.logger.Warn("invalid all-rules payload in cache, recompiling")
	} else if err != redis.Nil {
		c.logger.Warn("rule cache lookup failed, falling back to store", "error", err)
	}

	resp, err := c.compileA(ctx)
	if err != nil {
		return policy.AllRulesResponse{}, err
	}
	c.set(ctx, allRulesKey, resp, c.allTTL)
	return resp, nil
}

func (c *Cache) set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("marshaling rule cache entry", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("writing rule cache entry", "key", key, "error", err)
	}
}

// InvalidateUser drops a single user's cached bundle together with the
// all-rules projection that embeds it. Callers must invoke this before a
// rule-mutation HTTP response returns, so the next read never observes a
// stale bundle.
func (c *Cache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.Del(ctx, userKey(userID), allRulesKey).Err()
}

// InvalidateAll drops both the all-rules projection and, supplementing the
// distilled spec with a feature present in the original cache module
// (redis_cache.py's invalidate_pattern/invalidate_all), every per-user
// bundle currently cached.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if err := c.rdb.Del(ctx, allRulesKey).Err(); err != nil {
		return err
	}

	iter := c.rdb.Scan(ctx, 0, userKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
