package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable Postgres backing for clients.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const clientColumns = `id, name, type, cluster_id, api_key_hash, public_key, status, created_at, last_seen`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.ClusterID, &c.APIKeyHash, &c.PublicKey, &c.Status, &c.CreatedAt, &c.LastSeen)
	return c, err
}

// LoadAll returns every persisted client, used to rebuild the in-memory
// registry on boot.
func (s *Store) LoadAll(ctx context.Context) ([]Client, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients`)
	if err != nil {
		return nil, fmt.Errorf("loading clients: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Insert persists a newly registered client.
func (s *Store) Insert(ctx context.Context, c Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, name, type, cluster_id, api_key_hash, public_key, status, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.Type, c.ClusterID, c.APIKeyHash, c.PublicKey, c.Status, c.CreatedAt, c.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// UpdateAuthentication persists the promote-on-authenticate transition.
func (s *Store) UpdateAuthentication(ctx context.Context, id uuid.UUID, status string, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE clients SET status = $2, last_seen = $3 WHERE id = $1`, id, status, lastSeen)
	return err
}

// UpdateAPIKeyHash persists a rotated key hash.
func (s *Store) UpdateAPIKeyHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := s.pool.Exec(ctx, `UPDATE clients SET api_key_hash = $2 WHERE id = $1`, id, hash)
	return err
}

// Delete removes a single client by id; the registry's stale sweep calls it
// for each client it evicts.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	return err
}
