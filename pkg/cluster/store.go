package cluster

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable Postgres backing for clusters. The Registry treats
// its own in-memory map as authoritative at runtime; Store exists so the
// registry survives restarts.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const clusterColumns = `id, name, region, datacenter, headend_url, status, last_heartbeat, client_count, api_key_hash`

func scanCluster(row pgx.Row) (Cluster, error) {
	var c Cluster
	err := row.Scan(&c.ID, &c.Name, &c.Region, &c.Datacenter, &c.HeadendURL, &c.Status, &c.LastHeartbeat, &c.ClientCount, &c.APIKeyHash)
	return c, err
}

// LoadAll returns every persisted cluster, used to rebuild the in-memory
// registry on boot.
func (s *Store) LoadAll(ctx context.Context) ([]Cluster, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clusterColumns+` FROM clusters`)
	if err != nil {
		return nil, fmt.Errorf("loading clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Insert persists a newly registered cluster.
func (s *Store) Insert(ctx context.Context, c Cluster) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clusters (id, name, region, datacenter, headend_url, status, last_heartbeat, client_count, api_key_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.Region, c.Datacenter, c.HeadendURL, c.Status, c.LastHeartbeat, c.ClientCount, c.APIKeyHash,
	)
	if err != nil {
		return fmt.Errorf("inserting cluster: %w", err)
	}
	return nil
}

// UpdateHeartbeat persists the heartbeat timestamp, status and optional
// client count.
func (s *Store) UpdateHeartbeat(ctx context.Context, id uuid.UUID, status string, lastHeartbeat any, clientCount *int) error {
	if clientCount != nil {
		_, err := s.pool.Exec(ctx, `UPDATE clusters SET status = $2, last_heartbeat = $3, client_count = $4 WHERE id = $1`,
			id, status, lastHeartbeat, *clientCount)
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE clusters SET status = $2, last_heartbeat = $3 WHERE id = $1`, id, status, lastHeartbeat)
	return err
}

// UpdateStatus persists a bare status transition (used by the health monitor).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.pool.Exec(ctx, `UPDATE clusters SET status = $2 WHERE id = $1`, id, status)
	return err
}
