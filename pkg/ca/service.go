package ca

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// Service is the CA & IPAM component.
type Service struct {
	authority *Authority
	ipam      *IPAM
	store     *Store
	logger    *slog.Logger
}

func NewService(authority *Authority, ipam *IPAM, store *Store, logger *slog.Logger) *Service {
	return &Service{authority: authority, ipam: ipam, store: store, logger: logger}
}

// IssueClientCert issues an X.509 leaf for a client and records it.
func (s *Service) IssueClientCert(ctx context.Context, nodeID uuid.UUID, name string) (CertBundle, error) {
	bundle, err := s.authority.IssueClientCert(nodeID, name)
	if err != nil {
		return CertBundle{}, err
	}
	if err := s.recordCertificate(ctx, nodeID, NodeTypeClient, bundle); err != nil {
		return CertBundle{}, err
	}
	return bundle, nil
}

// IssueHeadendCert issues an X.509 leaf for a headend and records it.
func (s *Service) IssueHeadendCert(ctx context.Context, nodeID uuid.UUID, name string, sans []string) (CertBundle, error) {
	bundle, err := s.authority.IssueHeadendCert(nodeID, name, sans)
	if err != nil {
		return CertBundle{}, err
	}
	if err := s.recordCertificate(ctx, nodeID, NodeTypeCluster, bundle); err != nil {
		return CertBundle{}, err
	}
	return bundle, nil
}

func (s *Service) recordCertificate(ctx context.Context, nodeID uuid.UUID, nodeType string, bundle CertBundle) error {
	serial, err := s.store.NextSerial(ctx)
	if err != nil {
		return apperr.Store("reserving certificate serial", err)
	}
	now := time.Now()
	if err := s.store.InsertCertificate(ctx, Certificate{
		Serial:    serial,
		Subject:   nodeID.String(),
		Issuer:    "sasewaddle-control-plane-ca",
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(leafLifetime),
		PEM:       bundle.CertPEM,
		KeyPEM:    bundle.KeyPEM,
		NodeID:    nodeID,
		NodeType:  nodeType,
	}); err != nil {
		return apperr.Store("recording certificate", err)
	}
	return nil
}

// GenerateWireGuardKeys is idempotent per node_id.
func (s *Service) GenerateWireGuardKeys(ctx context.Context, nodeID uuid.UUID, nodeType string) (WireGuardKeyResponse, error) {
	peer, err := s.ipam.Allocate(ctx, nodeID, nodeType)
	if err != nil {
		return WireGuardKeyResponse{}, err
	}
	return WireGuardKeyResponse{
		PrivateKey:  peer.PrivateKey,
		PublicKey:   peer.PublicKey,
		IPAddress:   peer.IPAddress,
		NetworkCIDR: s.ipam.cidr.String(),
	}, nil
}

// RevokeWireGuardKeys marks the node's allocation revoked.
func (s *Service) RevokeWireGuardKeys(ctx context.Context, nodeID uuid.UUID) (bool, error) {
	return s.ipam.Revoke(ctx, nodeID)
}

// ListPeers returns a read-only snapshot for headend configuration.
func (s *Service) ListPeers(ctx context.Context) ([]WireGuardPeer, error) {
	return s.ipam.ListPeers(ctx)
}

// CAPEM returns the PEM-encoded root certificate.
func (s *Service) CAPEM() string {
	return s.authority.CAPEM()
}
