package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable Postgres backing for access rules.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ruleColumns = `id, user_id, rule_type, access_type, pattern, priority, is_active, src_ip, dst_ip, protocol, src_port, dst_port, direction`

func scanRule(row pgx.Row) (AccessRule, error) {
	var r AccessRule
	var srcIP, dstIP, protocol, srcPort, dstPort, direction pgtype.Text
	err := row.Scan(&r.ID, &r.UserID, &r.RuleType, &r.AccessType, &r.Pattern, &r.Priority, &r.IsActive,
		&srcIP, &dstIP, &protocol, &srcPort, &dstPort, &direction)
	r.SrcIP, r.DstIP, r.Protocol, r.SrcPort, r.DstPort, r.Direction = srcIP.String, dstIP.String, protocol.String, srcPort.String, dstPort.String, direction.String
	return r, err
}

func scanRules(rows pgx.Rows) ([]AccessRule, error) {
	defer rows.Close()
	var out []AccessRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning access rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetUserRules returns active rules for a user ordered by ascending priority.
func (s *Store) GetUserRules(ctx context.Context, userID uuid.UUID) ([]AccessRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM access_rules WHERE user_id = $1 AND is_active = true ORDER BY priority ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user rules: %w", err)
	}
	return scanRules(rows)
}

// GetAllRules returns every rule, active or not. The admin all-rules
// endpoint does not use it; it is served by Service.ExportAll.
func (s *Store) GetAllRules(ctx context.Context) ([]AccessRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM access_rules ORDER BY user_id, priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing all rules: %w", err)
	}
	return scanRules(rows)
}

// DistinctUserIDs returns every user_id with at least one rule, used to
// build the headend's {user_id -> RuleBundle} map.
func (s *Store) DistinctUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM access_rules WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("listing distinct user ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Insert creates a new rule.
func (s *Store) Insert(ctx context.Context, r AccessRule) (AccessRule, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO access_rules (id, user_id, rule_type, access_type, pattern, priority, is_active, src_ip, dst_ip, protocol, src_port, dst_port, direction)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $9, $10, $11, $12)
		RETURNING `+ruleColumns,
		r.ID, r.UserID, r.RuleType, r.AccessType, r.Pattern, r.Priority, r.SrcIP, r.DstIP, r.Protocol, r.SrcPort, r.DstPort, r.Direction,
	)
	return scanRule(row)
}

// Update patches the mutable fields of a rule.
func (s *Store) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (AccessRule, error) {
	current, err := s.getByID(ctx, id)
	if err != nil {
		return AccessRule{}, err
	}
	if req.Pattern != nil {
		current.Pattern = *req.Pattern
	}
	if req.Priority != nil {
		current.Priority = *req.Priority
	}
	if req.IsActive != nil {
		current.IsActive = *req.IsActive
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE access_rules SET pattern = $2, priority = $3, is_active = $4
		WHERE id = $1 RETURNING `+ruleColumns,
		id, current.Pattern, current.Priority, current.IsActive,
	)
	return scanRule(row)
}

func (s *Store) getByID(ctx context.Context, id uuid.UUID) (AccessRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM access_rules WHERE id = $1`, id)
	return scanRule(row)
}

// GetByID is the exported lookup, used by the service to find the owning
// user_id before invalidating the cache on a delete.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (AccessRule, error) {
	return s.getByID(ctx, id)
}

// Remove deletes a rule by id.
func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM access_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("removing rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
