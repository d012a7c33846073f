package token

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

const issuer = "sase-controlplane-token-service"

// Service is the Token Service. The signing keypair is immutable after
// startup and shared read-only; the cache is the sole proof of current
// validity.
type Service struct {
	key                *rsa.PrivateKey
	publicKeyPEM       string
	cache              *Cache
	accessLifetime     time.Duration
	refreshLifetime    time.Duration
	failOpenOnIssue    bool
	logger             *slog.Logger
}

func NewService(keyPath string, cache *Cache, accessLifetime, refreshLifetime time.Duration, failOpenOnIssue bool, logger *slog.Logger) (*Service, error) {
	key, err := loadOrGenerateKey(keyPath)
	if err != nil {
		return nil, err
	}
	pubPEM, err := encodePublicKeyPEM(key)
	if err != nil {
		return nil, apperr.Crypto("encoding token public key", err)
	}
	return &Service{
		key:             key,
		publicKeyPEM:    pubPEM,
		cache:           cache,
		accessLifetime:  accessLifetime,
		refreshLifetime: refreshLifetime,
		failOpenOnIssue: failOpenOnIssue,
		logger:          logger,
	}, nil
}

// GetPublicKey returns the PEM-encoded RSA public key used to verify
// tokens externally.
func (s *Service) GetPublicKey() string {
	return s.publicKeyPEM
}

// Generate signs an access/refresh pair for a node and writes their
// metadata to the cache with TTL = lifetime.
func (s *Service) Generate(ctx context.Context, nodeID, nodeType string, permissions []string, metadata map[string]any) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(s.accessLifetime)

	access, accessJTI, err := s.sign(nodeID, nodeType, permissions, metadata, KindAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshExp := now.Add(s.refreshLifetime)
	refresh, refreshJTI, err := s.sign(nodeID, nodeType, permissions, metadata, KindRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	if err := s.cacheMetadata(ctx, accessJTI, nodeID, nodeType, permissions, metadata, KindAccess, now, accessExp); err != nil {
		if !s.failOpenOnIssue {
			return TokenPair{}, err
		}
		s.logger.Warn("token cache write failed, issuing anyway (fail-open)", "error", err)
	}
	if err := s.cacheMetadata(ctx, refreshJTI, nodeID, nodeType, permissions, metadata, KindRefresh, now, refreshExp); err != nil {
		if !s.failOpenOnIssue {
			return TokenPair{}, err
		}
		s.logger.Warn("token cache write failed, issuing anyway (fail-open)", "error", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

func (s *Service) cacheMetadata(ctx context.Context, jti, nodeID, nodeType string, permissions []string, metadata map[string]any, kind string, issuedAt, expiresAt time.Time) error {
	return s.cache.Put(ctx, Metadata{
		JTI:         jti,
		Subject:     nodeID,
		NodeType:    nodeType,
		Permissions: permissions,
		Extra:       metadata,
		IssuedAt:    issuedAt.Unix(),
		ExpiresAt:   expiresAt.Unix(),
		Active:      true,
		Kind:        kind,
	}, time.Until(expiresAt))
}

func (s *Service) sign(nodeID, nodeType string, permissions []string, metadata map[string]any, kind string, issuedAt, expiresAt time.Time) (string, string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: s.key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", "", apperr.Crypto("creating token signer", err)
	}

	jti := uuid.New().String()
	registered := jwt.Claims{
		Subject:   nodeID,
		ID:        jti,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		Expiry:    jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
	}
	custom := map[string]any{
		"node_type":   nodeType,
		"permissions": permissions,
		"metadata":    metadata,
		"type":        kind,
	}

	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", "", apperr.Crypto("signing token", err)
	}
	return raw, jti, nil
}

// Validate implements the four-step check: parse unverified for jti,
// cache lookup, signature+exp verification, then an expired-but-cache-hit
// entry is marked inactive.
func (s *Service) Validate(ctx context.Context, raw string) (*Claims, error) {
	unverified, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, apperr.Authentication("malformed token")
	}

	var peek jwt.Claims
	if err := unverified.UnsafeClaimsWithoutVerification(&peek); err != nil || peek.ID == "" {
		return nil, apperr.Authentication("token missing jti")
	}

	meta, ok, err := s.cache.Get(ctx, peek.ID)
	if err != nil {
		// Cache unreachable: fail closed.
		return nil, apperr.Authentication("token cache unavailable")
	}
	if !ok || !meta.Active {
		return nil, apperr.Authentication("token revoked or unknown")
	}

	var registered jwt.Claims
	var custom struct {
		NodeType    string         `json:"node_type"`
		Permissions []string       `json:"permissions"`
		Metadata    map[string]any `json:"metadata"`
		Kind        string         `json:"type"`
	}
	if err := unverified.Claims(&s.key.PublicKey, &registered, &custom); err != nil {
		return nil, apperr.Authentication("invalid token signature")
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: time.Now()}, 5*time.Second); err != nil {
		_, _ = s.cache.Deactivate(ctx, peek.ID)
		return nil, apperr.Authentication("token expired")
	}

	return &Claims{
		Subject:     registered.Subject,
		NodeType:    custom.NodeType,
		Permissions: custom.Permissions,
		Metadata:    custom.Metadata,
		JTI:         registered.ID,
		Kind:        custom.Kind,
		IssuedAt:    registered.IssuedAt.Time().Unix(),
		ExpiresAt:   registered.Expiry.Time().Unix(),
	}, nil
}

// Refresh validates a refresh token and issues a fresh pair for the same
// subject.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.Validate(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Kind != KindRefresh {
		return TokenPair{}, apperr.Authentication("token is not a refresh token")
	}
	return s.Generate(ctx, claims.Subject, claims.NodeType, claims.Permissions, claims.Metadata)
}

// Revoke sets active=false for a single jti.
func (s *Service) Revoke(ctx context.Context, jti string) (bool, error) {
	return s.cache.Deactivate(ctx, jti)
}

// RevokeAll deactivates every token issued to nodeID, returning the count.
func (s *Service) RevokeAll(ctx context.Context, nodeID string) (int, error) {
	return s.cache.DeactivateAllForNode(ctx, nodeID)
}

// CleanupExpired prunes stale per-node jti indexes for the given node.
func (s *Service) CleanupExpired(ctx context.Context, nodeID string) error {
	return s.cache.CleanupExpired(ctx, nodeID)
}
