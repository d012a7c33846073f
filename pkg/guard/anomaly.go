package guard

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const emergencyModeKey = "guard:emergency_mode"

// suspiciousUserAgents flags empty or obviously non-browser user agents
// commonly seen in scanning/credential-stuffing traffic, grounded on
// _check_suspicious_patterns's UA pattern list.
var suspiciousUserAgents = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^$`),
	regexp.MustCompile(`(?i)sqlmap|nikto|nmap|masscan|curl/[0-9]|bot|crawler|spider|scanner`),
}

// suspiciousPaths flags request paths that probe for unrelated stacks or
// injection payloads, grounded on DDoSProtection.suspicious_patterns.
var suspiciousPaths = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.php$|wp-admin|\.asp$|etc/passwd|union.*select|<script`),
}

const (
	volumeWindow       = 60 * time.Second
	volumeThreshold    = 120
	diversityWindow    = 5 * time.Minute
	diversityThreshold = 20
	timingSampleSize   = 10
	timingWindow       = 60 * time.Second
)

// AnomalyDetector is the advisory layer alongside the hard sliding-window
// limiter: it watches per-IP volume, path/UA shape, endpoint diversity, and
// request-interval variance, and may escalate an IP's block duration or
// trip emergency mode. Advisory: it never blocks on its own without a
// Limiter.Block call, and a detector failure never fails the request.
type AnomalyDetector struct {
	redis   *redis.Client
	limiter *Limiter
	ttl     time.Duration
}

func NewAnomalyDetector(rdb *redis.Client, limiter *Limiter, emergencyModeTTL time.Duration) *AnomalyDetector {
	return &AnomalyDetector{redis: rdb, limiter: limiter, ttl: emergencyModeTTL}
}

// Inspect evaluates one request across all four anomaly dimensions
// (per-IP volume, suspicious path/UA, endpoint diversity, request-interval
// variance), grounded on DDoSProtection.detect_ddos_attack's indicator
// list. If any dimension fires, it escalates ip's block duration per the
// aggregated severity and returns that severity ("" if none fired).
func (a *AnomalyDetector) Inspect(ctx context.Context, ip, path, userAgent string) (string, error) {
	var indicators []string

	volume, err := a.checkVolume(ctx, ip)
	if err != nil {
		return "", err
	}
	if volume {
		indicators = append(indicators, "volume")
	}

	if matchesAny(suspiciousUserAgents, userAgent) || matchesAny(suspiciousPaths, path) {
		indicators = append(indicators, "pattern")
	}

	behavioral, err := a.checkBehavioral(ctx, ip, path)
	if err != nil {
		return "", err
	}
	if behavioral {
		indicators = append(indicators, "behavioral")
	}

	severity := severityFor(indicators)
	if severity == "" {
		return "", nil
	}

	duration, ok := severityBlockDuration[severity]
	if !ok {
		duration = severityBlockDuration[SeverityLow]
	}
	if err := a.limiter.Block(ctx, ip, duration); err != nil {
		return severity, fmt.Errorf("escalating block for anomaly: %w", err)
	}
	return severity, nil
}

// severityFor mirrors detect_ddos_attack's severity aggregation: a lone
// pattern or behavioral hit is medium, sustained volume alone is high, and
// volume combined with bot-like behavioral shape is critical.
func severityFor(indicators []string) string {
	has := func(name string) bool {
		for _, ind := range indicators {
			if ind == name {
				return true
			}
		}
		return false
	}
	switch {
	case len(indicators) == 0:
		return ""
	case has("volume") && has("behavioral"):
		return SeverityCritical
	case has("volume"):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// checkVolume counts requests from ip within volumeWindow using a Redis
// sorted set, grounded on _check_volume_attack.
func (a *AnomalyDetector) checkVolume(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("guard:ddos:volume:%s", ip)
	now := time.Now()
	cutoff := now.Add(-volumeWindow)

	if err := a.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10)).Err(); err != nil {
		return false, fmt.Errorf("trimming volume window: %w", err)
	}
	member := strconv.FormatInt(now.UnixNano(), 10)
	if err := a.redis.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return false, fmt.Errorf("recording volume sample: %w", err)
	}
	if err := a.redis.Expire(ctx, key, volumeWindow).Err(); err != nil {
		return false, fmt.Errorf("refreshing volume window ttl: %w", err)
	}
	count, err := a.redis.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("counting volume window: %w", err)
	}
	return count > volumeThreshold, nil
}

// checkBehavioral combines endpoint-diversity and request-interval
// variance, grounded on _check_behavioral_anomaly: too many distinct
// endpoints from one IP in a short window, or suspiciously regular, fast
// request timing (bot-like), both report as the same "behavioral"
// indicator.
func (a *AnomalyDetector) checkBehavioral(ctx context.Context, ip, path string) (bool, error) {
	diversityKey := fmt.Sprintf("guard:ddos:endpoints:%s", ip)
	if err := a.redis.SAdd(ctx, diversityKey, path).Err(); err != nil {
		return false, fmt.Errorf("tracking endpoint diversity: %w", err)
	}
	if err := a.redis.Expire(ctx, diversityKey, diversityWindow).Err(); err != nil {
		return false, fmt.Errorf("refreshing endpoint diversity ttl: %w", err)
	}
	uniqueEndpoints, err := a.redis.SCard(ctx, diversityKey).Result()
	if err != nil {
		return false, fmt.Errorf("counting endpoint diversity: %w", err)
	}
	if uniqueEndpoints > diversityThreshold {
		return true, nil
	}

	variance, err := a.checkIntervalVariance(ctx, ip)
	if err != nil {
		return false, err
	}
	return variance, nil
}

// checkIntervalVariance keeps the last timingSampleSize request timestamps
// for ip in a Redis list and flags suspiciously regular, fast timing
// (low variance, low average interval), grounded on the timing half of
// _check_behavioral_anomaly.
func (a *AnomalyDetector) checkIntervalVariance(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("guard:ddos:timing:%s", ip)
	now := time.Now()

	raw, err := a.redis.LRange(ctx, key, 0, timingSampleSize-1).Result()
	if err != nil {
		return false, fmt.Errorf("reading request timing: %w", err)
	}
	if err := a.redis.LPush(ctx, key, now.UnixNano()).Err(); err != nil {
		return false, fmt.Errorf("recording request timing: %w", err)
	}
	if err := a.redis.LTrim(ctx, key, 0, timingSampleSize-1).Err(); err != nil {
		return false, fmt.Errorf("trimming request timing: %w", err)
	}
	if err := a.redis.Expire(ctx, key, timingWindow).Err(); err != nil {
		return false, fmt.Errorf("refreshing request timing ttl: %w", err)
	}

	if len(raw) < 5 {
		return false, nil
	}
	var intervals []float64
	prev := now
	for _, r := range raw {
		ns, convErr := strconv.ParseInt(r, 10, 64)
		if convErr != nil {
			continue
		}
		t := time.Unix(0, ns)
		intervals = append(intervals, prev.Sub(t).Seconds())
		prev = t
	}
	if len(intervals) < 2 {
		return false, nil
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	avg := sum / float64(len(intervals))

	var variance float64
	for _, v := range intervals {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(intervals))

	return variance < 0.1 && avg < 2, nil
}

// TripEmergencyMode activates the global emergency-mode flag for its TTL.
// A critical-severity anomaly hit is expected to call this.
func (a *AnomalyDetector) TripEmergencyMode(ctx context.Context) error {
	return a.redis.Set(ctx, emergencyModeKey, "1", a.ttl).Err()
}

// EmergencyModeActive reports whether the global emergency-mode flag is
// currently set.
func (a *AnomalyDetector) EmergencyModeActive(ctx context.Context) (bool, error) {
	ttl, err := a.redis.TTL(ctx, emergencyModeKey).Result()
	if err != nil {
		return false, fmt.Errorf("checking emergency mode: %w", err)
	}
	return ttl > 0, nil
}
