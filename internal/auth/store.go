package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// adminRow mirrors a row of the local_admins table.
type adminRow struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         string
	MustChange   bool
}

// AdminStore persists local administrator accounts. There is no tenant
// concept here: the control plane has a single flat set of admins.
type AdminStore struct {
	db *pgxpool.Pool
}

func NewAdminStore(db *pgxpool.Pool) *AdminStore { return &AdminStore{db: db} }

func (s *AdminStore) findByEmail(ctx context.Context, email string) (*adminRow, error) {
	var a adminRow
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, role, must_change FROM local_admins WHERE email = $1`,
		email,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.MustChange)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("admin not found")
		}
		return nil, fmt.Errorf("querying admin: %w", err)
	}
	return &a, nil
}

func (s *AdminStore) passwordHash(ctx context.Context, id uuid.UUID) (string, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM local_admins WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		return "", fmt.Errorf("querying password hash: %w", err)
	}
	return hash, nil
}

func (s *AdminStore) updatePassword(ctx context.Context, id uuid.UUID, hash string, mustChange bool) error {
	_, err := s.db.Exec(ctx,
		`UPDATE local_admins SET password_hash = $2, must_change = $3 WHERE id = $1`,
		id, hash, mustChange,
	)
	return err
}

func (s *AdminStore) touchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE local_admins SET last_login_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

// CreateAdmin inserts a new local admin. Used by bootstrap tooling.
func (s *AdminStore) CreateAdmin(ctx context.Context, email, passwordHash, role string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO local_admins (id, email, password_hash, role, must_change, created_at) VALUES ($1, $2, $3, $4, true, $5)`,
		id, email, passwordHash, role, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting admin: %w", err)
	}
	return id, nil
}
