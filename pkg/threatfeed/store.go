package threatfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable Postgres backing for threat indicators and feed
// update history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertIndicator inserts a new indicator or refreshes last_seen,
// confidence, and ttl on an existing one (unique on value+source). Reports
// whether a new row was inserted (as opposed to an existing one being
// refreshed), mirroring _store_indicator's added-vs-updated distinction in
// the original ingestion pipeline.
func (s *Store) UpsertIndicator(ctx context.Context, ind Indicator) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO threat_indicators (id, indicator_type, value, source, confidence, first_seen, last_seen, ttl, active)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7, true)
		ON CONFLICT (value, source) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			last_seen  = EXCLUDED.last_seen,
			ttl        = EXCLUDED.ttl,
			active     = true
		RETURNING (xmax = 0)`,
		ind.ID, ind.Type, ind.Value, ind.Source, ind.Confidence, ind.LastSeen, ind.TTL,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upserting threat indicator: %w", err)
	}
	return inserted, nil
}

// ExactMatch returns active indicators whose value equals value.
func (s *Store) ExactMatch(ctx context.Context, value, indicatorType string) ([]Indicator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, indicator_type, value, source, confidence, first_seen, last_seen, ttl, active
		FROM threat_indicators WHERE value = $1 AND active = true AND ($2 = '' OR indicator_type = $2)`,
		value, indicatorType,
	)
	if err != nil {
		return nil, fmt.Errorf("exact match lookup: %w", err)
	}
	return scanIndicators(rows)
}

// CIDRCandidates returns every active IP indicator whose value looks like
// a network (contains "/"), for membership testing in Go.
func (s *Store) CIDRCandidates(ctx context.Context) ([]Indicator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, indicator_type, value, source, confidence, first_seen, last_seen, ttl, active
		FROM threat_indicators WHERE indicator_type = 'ip' AND active = true AND value LIKE '%/%'`,
	)
	if err != nil {
		return nil, fmt.Errorf("cidr candidate lookup: %w", err)
	}
	return scanIndicators(rows)
}

func scanIndicators(rows pgx.Rows) ([]Indicator, error) {
	defer rows.Close()
	var out []Indicator
	for rows.Next() {
		var ind Indicator
		if err := rows.Scan(&ind.ID, &ind.Type, &ind.Value, &ind.Source, &ind.Confidence, &ind.FirstSeen, &ind.LastSeen, &ind.TTL, &ind.Active); err != nil {
			return nil, fmt.Errorf("scanning threat indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// InsertFeedUpdate records the start of an ingestion run.
func (s *Store) InsertFeedUpdate(ctx context.Context, source string, startedAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_updates (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, source, UpdateRunning, startedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting feed update: %w", err)
	}
	return id, nil
}

// FinalizeFeedUpdate records the outcome of an ingestion run.
func (s *Store) FinalizeFeedUpdate(ctx context.Context, id uuid.UUID, status string, added, updated int, errMsg string, duration time.Duration, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE feed_updates SET status = $2, indicators_added = $3, indicators_updated = $4,
			error_message = $5, duration_seconds = $6, completed_at = $7
		WHERE id = $1`,
		id, status, added, updated, errMsg, int(duration.Seconds()), completedAt,
	)
	if err != nil {
		return fmt.Errorf("finalizing feed update: %w", err)
	}
	return nil
}

// RecentUpdates returns the most recent feed update rows, newest first.
func (s *Store) RecentUpdates(ctx context.Context, limit int) ([]FeedUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, status, indicators_added, indicators_updated, COALESCE(error_message, ''), COALESCE(duration_seconds, 0), started_at, completed_at
		FROM feed_updates ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing feed updates: %w", err)
	}
	defer rows.Close()

	var out []FeedUpdate
	for rows.Next() {
		var u FeedUpdate
		if err := rows.Scan(&u.ID, &u.Source, &u.Status, &u.IndicatorsAdded, &u.IndicatorsUpdated, &u.ErrorMessage, &u.DurationSeconds, &u.StartedAt, &u.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning feed update: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
