package threatfeed

import (
	"context"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// Lookup answers indicator queries against the Store, memoizing results in
// an in-process TTL cache to amortize lookups on hot request paths.
type Lookup struct {
	store *Store
	cache *lru.LRU[string, CheckResult]
}

func NewLookup(store *Store, size int, ttl time.Duration) *Lookup {
	return &Lookup{
		store: store,
		cache: lru.NewLRU[string, CheckResult](size, nil, ttl),
	}
}

// Check implements the indicator lookup algorithm: exact match,
// parent-domain match (confidence reduced by 10), and CIDR membership
// match for IPs.
func (l *Lookup) Check(ctx context.Context, value string, indicatorType string) (CheckResult, error) {
	cacheKey := indicatorType + ":" + value
	if cached, ok := l.cache.Get(cacheKey); ok {
		return cached, nil
	}

	if indicatorType == "" {
		indicatorType = detectType(value)
	}

	var details []MatchDetail

	exact, err := l.store.ExactMatch(ctx, value, indicatorType)
	if err != nil {
		return CheckResult{}, apperr.Store("exact match lookup", err)
	}
	for _, ind := range exact {
		details = append(details, MatchDetail{Value: ind.Value, Source: ind.Source, Confidence: ind.Confidence, MatchType: MatchExact})
	}

	if indicatorType == IndicatorDomain && strings.Contains(value, ".") {
		parts := strings.Split(value, ".")
		for i := 1; i < len(parts); i++ {
			parent := strings.Join(parts[i:], ".")
			parentMatches, err := l.store.ExactMatch(ctx, parent, IndicatorDomain)
			if err != nil {
				return CheckResult{}, apperr.Store("parent domain lookup", err)
			}
			for _, ind := range parentMatches {
				confidence := ind.Confidence - 10
				if confidence < 0 {
					confidence = 0
				}
				details = append(details, MatchDetail{Value: ind.Value, Source: ind.Source, Confidence: confidence, MatchType: MatchParentDomain})
			}
		}
	}

	if indicatorType == IndicatorIP {
		ip := net.ParseIP(value)
		if ip != nil {
			candidates, err := l.store.CIDRCandidates(ctx)
			if err != nil {
				return CheckResult{}, apperr.Store("cidr candidate lookup", err)
			}
			for _, ind := range candidates {
				_, network, parseErr := net.ParseCIDR(ind.Value)
				if parseErr != nil || !network.Contains(ip) {
					continue
				}
				details = append(details, MatchDetail{Value: ind.Value, Source: ind.Source, Confidence: ind.Confidence, MatchType: MatchNetworkRange})
			}
		}
	}

	result := CheckResult{IsThreat: len(details) > 0, Details: details}
	l.cache.Add(cacheKey, result)
	return result, nil
}

func detectType(value string) string {
	if net.ParseIP(value) != nil {
		return IndicatorIP
	}
	return IndicatorDomain
}
