package threatfeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// Ingestor runs one periodic fetch-and-upsert worker per configured
// FeedSource.
type Ingestor struct {
	sources []FeedSource
	store   *Store
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewIngestor(sources []FeedSource, store *Store, fetchTimeout time.Duration, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		sources: sources,
		store:   store,
		client:  &http.Client{Timeout: fetchTimeout},
		timeout: fetchTimeout,
		logger:  logger,
	}
}

// Run starts one ticker-driven goroutine per source and blocks until ctx is
// canceled. Each source updates on its own interval and retries on its own
// schedule after a failed tick, so a slow or broken source never stalls the
// others.
func (ing *Ingestor) Run(ctx context.Context) {
	for _, src := range ing.sources {
		go ing.loop(ctx, src)
	}
	<-ctx.Done()
}

func (ing *Ingestor) loop(ctx context.Context, src FeedSource) {
	interval := src.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ing.UpdateFeed(ctx, src); err != nil {
			ing.logger.Error("updating threat feed", "source", src.Name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// UpdateFeed runs a single ingestion tick for src: record, fetch, parse,
// upsert, finalize.
func (ing *Ingestor) UpdateFeed(ctx context.Context, src FeedSource) error {
	start := time.Now().UTC()
	updateID, err := ing.store.InsertFeedUpdate(ctx, src.Name, start)
	if err != nil {
		return apperr.Store("recording feed update start", err)
	}

	added, updated, fetchErr := ing.fetchAndUpsert(ctx, src)
	duration := time.Since(start)
	status := UpdateCompleted
	errMsg := ""
	if fetchErr != nil {
		status = UpdateFailed
		errMsg = fetchErr.Error()
	}

	if err := ing.store.FinalizeFeedUpdate(ctx, updateID, status, added, updated, errMsg, duration, time.Now().UTC()); err != nil {
		ing.logger.Error("finalizing feed update", "source", src.Name, "error", err)
	}
	ing.logger.Info("threat feed tick complete", "source", src.Name, "added", added, "updated", updated, "status", status)
	return fetchErr
}

func (ing *Ingestor) fetchAndUpsert(ctx context.Context, src FeedSource) (added, updated int, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, ing.timeout)
	defer cancel()

	if src.DomainsURL != "" {
		body, fetchErr := ing.fetch(fetchCtx, src.DomainsURL)
		if fetchErr != nil {
			return added, updated, fetchErr
		}
		a, u, upsertErr := ing.upsertAll(ctx, IndicatorDomain, src, parseDomainList(body))
		added += a
		updated += u
		if upsertErr != nil {
			return added, updated, upsertErr
		}
	}

	if src.IPsURL != "" {
		body, fetchErr := ing.fetch(fetchCtx, src.IPsURL)
		if fetchErr != nil {
			return added, updated, fetchErr
		}
		a, u, upsertErr := ing.upsertAll(ctx, IndicatorIP, src, parseIPList(body))
		added += a
		updated += u
		if upsertErr != nil {
			return added, updated, upsertErr
		}
	}
	return added, updated, nil
}

func (ing *Ingestor) upsertAll(ctx context.Context, indicatorType string, src FeedSource, values []string) (added, updated int, err error) {
	now := time.Now().UTC()
	for _, v := range values {
		inserted, upsertErr := ing.store.UpsertIndicator(ctx, Indicator{
			ID:         uuid.New(),
			Type:       indicatorType,
			Value:      v,
			Source:     src.Name,
			Confidence: src.Confidence,
			FirstSeen:  now,
			LastSeen:   now,
			TTL:        int(src.Interval.Seconds()),
			Active:     true,
		})
		if upsertErr != nil {
			return added, updated, upsertErr
		}
		if inserted {
			added++
		} else {
			updated++
		}
	}
	return added, updated, nil
}

// fetch retrieves a feed payload with bounded exponential-backoff retry
// under an overall timeout.
func (ing *Ingestor) fetch(ctx context.Context, url string) (string, error) {
	result, err := backoff.Retry(ctx, func() (string, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return "", backoff.Permanent(reqErr)
		}
		resp, doErr := ing.client.Do(req)
		if doErr != nil {
			return "", doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", apperr.Unavailable(fmt.Sprintf("feed source returned status %d", resp.StatusCode))
		}
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", readErr
		}
		return string(body), nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return "", apperr.Unavailable(fmt.Sprintf("fetching threat feed payload: %v", err))
	}
	return result, nil
}
