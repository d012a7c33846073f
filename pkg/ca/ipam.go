package ca

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// IPAM allocates WireGuard overlay addresses from a fixed CIDR. Allocation
// and release share one mutex so concurrent generate_wireguard_keys calls
// never race on the same address.
type IPAM struct {
	mu          sync.Mutex
	cidr        *net.IPNet
	gracePeriod time.Duration
	store       *Store
}

// NewIPAM builds an allocator over the given CIDR, e.g. "10.200.0.0/16".
func NewIPAM(cidrStr string, gracePeriod time.Duration, store *Store) (*IPAM, error) {
	_, cidr, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return nil, fmt.Errorf("parsing overlay cidr %q: %w", cidrStr, err)
	}
	return &IPAM{cidr: cidr, gracePeriod: gracePeriod, store: store}, nil
}

// Allocate returns the existing peer for nodeID if one exists and is not
// past its grace period (idempotent), otherwise scans for the first free
// address in the CIDR and persists a new allocation.
func (a *IPAM) Allocate(ctx context.Context, nodeID uuid.UUID, nodeType string) (WireGuardPeer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.GetPeerByNode(ctx, nodeID)
	if err != nil {
		return WireGuardPeer{}, err
	}
	if existing != nil && !a.expired(*existing) {
		return *existing, nil
	}

	used, err := a.usedAddresses(ctx)
	if err != nil {
		return WireGuardPeer{}, err
	}

	ip, err := a.firstFree(used)
	if err != nil {
		return WireGuardPeer{}, err
	}

	priv, pub, err := GenerateKeypair()
	if err != nil {
		return WireGuardPeer{}, apperr.Crypto("generating wireguard keypair", err)
	}

	peer := WireGuardPeer{
		NodeID:     nodeID,
		NodeType:   nodeType,
		PrivateKey: priv,
		PublicKey:  pub,
		IPAddress:  ip.String(),
		AllowedIPs: ip.String() + "/32",
		CreatedAt:  time.Now(),
	}

	if existing != nil {
		if err := a.store.ReplacePeer(ctx, peer); err != nil {
			return WireGuardPeer{}, err
		}
	} else {
		if err := a.store.InsertPeer(ctx, peer); err != nil {
			return WireGuardPeer{}, err
		}
	}
	return peer, nil
}

// Revoke marks the node's allocation revoked. The address stays reserved
// until gracePeriod elapses.
func (a *IPAM) Revoke(ctx context.Context, nodeID uuid.UUID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.RevokePeer(ctx, nodeID)
}

// ListPeers returns a read-only snapshot of all non-expired allocations.
func (a *IPAM) ListPeers(ctx context.Context) ([]WireGuardPeer, error) {
	all, err := a.store.ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]WireGuardPeer, 0, len(all))
	for _, p := range all {
		if !a.expired(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *IPAM) expired(p WireGuardPeer) bool {
	return p.Revoked && p.RevokedAt != nil && time.Since(*p.RevokedAt) > a.gracePeriod
}

// usedAddresses returns the set of addresses currently reserved, including
// revoked-but-within-grace allocations.
func (a *IPAM) usedAddresses(ctx context.Context) (map[string]struct{}, error) {
	all, err := a.store.ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{}, len(all))
	for _, p := range all {
		if a.expired(p) {
			continue
		}
		used[p.IPAddress] = struct{}{}
	}
	return used, nil
}

// firstFree scans the CIDR in ascending order, skipping the network
// address, the broadcast address, and .1 (reserved for the primary
// headend), and returns the first address not in used.
func (a *IPAM) firstFree(used map[string]struct{}) (net.IP, error) {
	network := a.cidr.IP.Mask(a.cidr.Mask)
	broadcast := lastAddr(a.cidr)
	reservedFirst := nextIP(network)

	for ip := nextIP(network); a.cidr.Contains(ip); ip = nextIP(ip) {
		if ip.Equal(broadcast) || ip.Equal(reservedFirst) {
			continue
		}
		if _, taken := used[ip.String()]; !taken {
			return ip, nil
		}
	}
	return nil, apperr.New(apperr.KindUnavailable, "no addresses available in overlay cidr", nil)
}

func nextIP(ip net.IP) net.IP {
	ip = ip.To4()
	out := make(net.IP, len(ip))
	copy(out, ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func lastAddr(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	mask := n.Mask
	out := make(net.IP, len(ip))
	for i := range ip {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}
