package ca

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for WireGuard peers and certificates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const peerColumns = `node_id, node_type, private_key, public_key, ip_address, allowed_ips, revoked, revoked_at, created_at`

func scanPeer(row pgx.Row) (WireGuardPeer, error) {
	var p WireGuardPeer
	var revokedAt pgtype.Timestamptz
	err := row.Scan(&p.NodeID, &p.NodeType, &p.PrivateKey, &p.PublicKey, &p.IPAddress, &p.AllowedIPs, &p.Revoked, &revokedAt, &p.CreatedAt)
	if err == nil && revokedAt.Valid {
		t := revokedAt.Time
		p.RevokedAt = &t
	}
	return p, err
}

// GetPeerByNode returns the peer for nodeID, or nil if none exists.
func (s *Store) GetPeerByNode(ctx context.Context, nodeID uuid.UUID) (*WireGuardPeer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+peerColumns+` FROM wireguard_peers WHERE node_id = $1`, nodeID)
	p, err := scanPeer(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up wireguard peer: %w", err)
	}
	return &p, nil
}

// ListPeers returns every allocation, including revoked ones (callers
// filter by grace period).
func (s *Store) ListPeers(ctx context.Context) ([]WireGuardPeer, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+peerColumns+` FROM wireguard_peers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing wireguard peers: %w", err)
	}
	defer rows.Close()

	var out []WireGuardPeer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning wireguard peer: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPeer persists a brand-new allocation.
func (s *Store) InsertPeer(ctx context.Context, p WireGuardPeer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wireguard_peers (node_id, node_type, private_key, public_key, ip_address, allowed_ips, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		p.NodeID, p.NodeType, p.PrivateKey, p.PublicKey, p.IPAddress, p.AllowedIPs, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting wireguard peer: %w", err)
	}
	return nil
}

// ReplacePeer overwrites an expired-and-reissued allocation for the same
// node_id with fresh key material and a cleared revocation.
func (s *Store) ReplacePeer(ctx context.Context, p WireGuardPeer) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE wireguard_peers
		SET private_key = $2, public_key = $3, ip_address = $4, allowed_ips = $5,
		    revoked = false, revoked_at = NULL, created_at = $6
		WHERE node_id = $1`,
		p.NodeID, p.PrivateKey, p.PublicKey, p.IPAddress, p.AllowedIPs, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("replacing wireguard peer: %w", err)
	}
	return nil
}

// RevokePeer marks the node's allocation revoked, starting its grace
// period. Returns false if no allocation exists for the node.
func (s *Store) RevokePeer(ctx context.Context, nodeID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE wireguard_peers SET revoked = true, revoked_at = now() WHERE node_id = $1 AND revoked = false`, nodeID)
	if err != nil {
		return false, fmt.Errorf("revoking wireguard peer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const certColumns = `serial, subject, issuer, not_before, not_after, pem, key_pem, revoked, node_id, node_type`

// InsertCertificate persists an issued certificate record (PEM and key
// included so re-issuance history is auditable; the key is never returned
// again after the issuance response).
func (s *Store) InsertCertificate(ctx context.Context, c Certificate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (serial, subject, issuer, not_before, not_after, pem, key_pem, revoked, node_id, node_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)`,
		c.Serial, c.Subject, c.Issuer, c.NotBefore, c.NotAfter, c.PEM, c.KeyPEM, c.NodeID, c.NodeType,
	)
	if err != nil {
		return fmt.Errorf("inserting certificate: %w", err)
	}
	return nil
}

// NextSerial reserves a monotonically increasing serial number for a new
// certificate, backed by a dedicated sequence so it survives restarts.
func (s *Store) NextSerial(ctx context.Context) (int64, error) {
	var serial int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('certificate_serial_seq')`).Scan(&serial); err != nil {
		return 0, fmt.Errorf("reserving certificate serial: %w", err)
	}
	return serial, nil
}

// RevokeCertificate marks a certificate revoked by serial. Revocation is
// append-only: a revoked row is never un-revoked.
func (s *Store) RevokeCertificate(ctx context.Context, serial int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE certificates SET revoked = true WHERE serial = $1 AND revoked = false`, serial)
	if err != nil {
		return fmt.Errorf("revoking certificate: %w", err)
	}
	return nil
}
