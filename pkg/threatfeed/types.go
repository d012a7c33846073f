// Package threatfeed ingests external threat-intelligence feeds into a
// local indicator store and answers indicator lookups on the hot request
// path.
package threatfeed

import (
	"time"

	"github.com/google/uuid"
)

// Indicator types.
const (
	IndicatorDomain = "domain"
	IndicatorIP     = "ip"
)

// Feed update statuses.
const (
	UpdateRunning   = "running"
	UpdateCompleted = "completed"
	UpdateFailed    = "failed"
)

// Match types surfaced by Lookup.
const (
	MatchExact         = "exact"
	MatchParentDomain  = "parent_domain"
	MatchNetworkRange  = "network_range"
)

// FeedSource describes one ingestible source: a name, the URLs it
// publishes domain/IP payloads at, its poll interval, and a confidence
// score applied to everything it produces.
type FeedSource struct {
	Name       string
	DomainsURL string
	IPsURL     string
	Interval   time.Duration
	Confidence int
}

// Indicator is a single threat indicator, unique on (Value, Source).
type Indicator struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"indicator_type"`
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	Confidence int       `json:"confidence"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	TTL        int       `json:"ttl"`
	Active     bool      `json:"active"`
}

// FeedUpdate records one ingestion run for a source.
type FeedUpdate struct {
	ID                uuid.UUID  `json:"id"`
	Source            string     `json:"source"`
	Status            string     `json:"status"`
	IndicatorsAdded   int        `json:"indicators_added"`
	IndicatorsUpdated int        `json:"indicators_updated"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	DurationSeconds   int        `json:"duration_seconds"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// MatchDetail is one matched indicator returned from Check.
type MatchDetail struct {
	Value      string `json:"value"`
	Source     string `json:"source"`
	Confidence int    `json:"confidence"`
	MatchType  string `json:"match_type"`
}

// CheckResult is the response shape for the lookup surface.
type CheckResult struct {
	IsThreat bool          `json:"is_threat"`
	Details  []MatchDetail `json:"details"`
}
