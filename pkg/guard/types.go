// Package guard implements the Request Guard: rate limiting plus an
// advisory anomaly layer that rejects abusive or suspicious requests ahead
// of authentication.
package guard

import "time"

// Rule is a single rate-limit rule. Rules are evaluated in ascending
// Priority order; the first one whose Endpoints/ExemptIPs match decides.
type Rule struct {
	ID            string        `json:"id"`
	Priority      int           `json:"priority"`
	MaxRequests   int           `json:"max_requests"`
	Window        time.Duration `json:"window_seconds"`
	BlockDuration time.Duration `json:"block_duration"`
	Endpoints     []string      `json:"endpoints,omitempty"`
	ExemptIPs     []string      `json:"exempt_ips,omitempty"`
}

// Severity levels for the anomaly layer's escalation map.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityBlockDuration maps an anomaly severity to its escalated block
// duration.
var severityBlockDuration = map[string]time.Duration{
	SeverityLow:      300 * time.Second,
	SeverityMedium:   900 * time.Second,
	SeverityHigh:     3600 * time.Second,
	SeverityCritical: 7200 * time.Second,
}

// Decision is the outcome of evaluating a request against the guard.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	RuleID     string
}
