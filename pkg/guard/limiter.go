package guard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter evaluates requests against a live, atomically-swappable rule set
// using a Redis sorted-set sliding window per (rule, ip), generalizing the
// INCR+EXPIRE fixed-bucket shape of internal/auth/ratelimit.go into a true
// sliding window.
type Limiter struct {
	redis *redis.Client

	mu    sync.RWMutex
	rules []Rule
}

func NewLimiter(rdb *redis.Client, rules []Rule) *Limiter {
	l := &Limiter{redis: rdb}
	l.SetRules(rules)
	return l
}

// SetRules atomically swaps the active rule set, sorted by priority.
// Reloads are explicit administrative actions that swap the configuration
// atomically.
func (l *Limiter) SetRules(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	l.mu.Lock()
	l.rules = sorted
	l.mu.Unlock()
}

func (l *Limiter) Rules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

func blockKey(ip string) string  { return "guard:block:" + ip }
func windowKey(ruleID, ip string) string { return fmt.Sprintf("guard:window:%s:%s", ruleID, ip) }

// Allow evaluates path/ip against the active rule set. A blocked IP is
// rejected immediately without rule evaluation.
func (l *Limiter) Allow(ctx context.Context, path, ip string) (Decision, error) {
	blocked, ttl, err := l.isBlocked(ctx, ip)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	rule, ok := l.matchRule(path, ip)
	if !ok {
		return Decision{Allowed: true}, nil
	}

	return l.checkWindow(ctx, rule, ip)
}

func (l *Limiter) matchRule(path, ip string) (Rule, bool) {
	for _, r := range l.Rules() {
		if !endpointMatches(r.Endpoints, path) {
			continue
		}
		if ipExempt(r.ExemptIPs, ip) {
			continue
		}
		return r, true
	}
	return Rule{}, false
}

func endpointMatches(endpoints []string, path string) bool {
	if len(endpoints) == 0 {
		return true
	}
	for _, prefix := range endpoints {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func ipExempt(exempt []string, ip string) bool {
	for _, e := range exempt {
		if e == ip {
			return true
		}
	}
	return false
}

func (l *Limiter) isBlocked(ctx context.Context, ip string) (bool, time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, blockKey(ip)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("checking block list: %w", err)
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// checkWindow implements the sliding-window decision algorithm against a
// Redis sorted set keyed by (rule, ip), scored by request timestamp.
func (l *Limiter) checkWindow(ctx context.Context, rule Rule, ip string) (Decision, error) {
	key := windowKey(rule.ID, ip)
	now := time.Now()
	cutoff := now.Add(-rule.Window)

	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10)).Err(); err != nil {
		return Decision{}, fmt.Errorf("trimming sliding window: %w", err)
	}

	count, err := l.redis.ZCard(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("counting sliding window: %w", err)
	}

	if count >= int64(rule.MaxRequests) {
		oldest, err := l.oldestTimestamp(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		retryAfter := rule.Window - now.Sub(oldest)
		if retryAfter < 0 {
			retryAfter = 0
		}
		if err := l.block(ctx, ip, rule.BlockDuration); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, RetryAfter: retryAfter, RuleID: rule.ID}, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	if err := l.redis.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return Decision{}, fmt.Errorf("recording request: %w", err)
	}
	if err := l.redis.Expire(ctx, key, rule.Window).Err(); err != nil {
		return Decision{}, fmt.Errorf("refreshing window ttl: %w", err)
	}
	return Decision{Allowed: true, RuleID: rule.ID}, nil
}

func (l *Limiter) oldestTimestamp(ctx context.Context, key string) (time.Time, error) {
	vals, err := l.redis.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading oldest window entry: %w", err)
	}
	if len(vals) == 0 {
		return time.Now(), nil
	}
	return time.Unix(0, int64(vals[0].Score)), nil
}

// Block places ip on the short-lived block list for duration. Exported so
// the anomaly layer can escalate independently of a window breach.
func (l *Limiter) Block(ctx context.Context, ip string, duration time.Duration) error {
	return l.block(ctx, ip, duration)
}

func (l *Limiter) block(ctx context.Context, ip string, duration time.Duration) error {
	if err := l.redis.Set(ctx, blockKey(ip), "1", duration).Err(); err != nil {
		return fmt.Errorf("blocking ip: %w", err)
	}
	return nil
}
