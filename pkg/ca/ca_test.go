package ca

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateKeypair(t *testing.T) {
	priv, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if len(priv) != 44 || len(pub) != 44 {
		t.Fatalf("key lengths = %d/%d, want 44/44", len(priv), len(pub))
	}
	if _, err := base64.StdEncoding.DecodeString(priv); err != nil {
		t.Fatalf("private key not valid base64: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(pub); err != nil {
		t.Fatalf("public key not valid base64: %v", err)
	}

	priv2, pub2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if priv == priv2 || pub == pub2 {
		t.Fatal("two calls produced identical keys")
	}
}

func TestAuthorityIssueClientCert(t *testing.T) {
	authority, err := generateAuthority()
	if err != nil {
		t.Fatalf("generateAuthority: %v", err)
	}

	nodeID := uuid.New()
	bundle, err := authority.IssueClientCert(nodeID, "edge-1")
	if err != nil {
		t.Fatalf("IssueClientCert: %v", err)
	}

	leafBlock, _ := pem.Decode([]byte(bundle.CertPEM))
	if leafBlock == nil {
		t.Fatal("cert PEM did not decode")
	}
	leaf, err := x509.ParseCertificate(leafBlock.Bytes)
	if err != nil {
		t.Fatalf("parsing leaf cert: %v", err)
	}
	if leaf.Subject.CommonName != nodeID.String() {
		t.Errorf("CN = %q, want %q", leaf.Subject.CommonName, nodeID.String())
	}

	pool := x509.NewCertPool()
	caBlock, _ := pem.Decode([]byte(bundle.CAPEM))
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	if err != nil {
		t.Fatalf("parsing ca cert: %v", err)
	}
	pool.AddCert(caCert)

	if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
		t.Errorf("leaf did not verify against issued CA: %v", err)
	}
}

func TestAuthorityMonotonicSerials(t *testing.T) {
	authority, err := generateAuthority()
	if err != nil {
		t.Fatalf("generateAuthority: %v", err)
	}

	var serials []int64
	for i := 0; i < 3; i++ {
		bundle, err := authority.IssueClientCert(uuid.New(), "n")
		if err != nil {
			t.Fatalf("IssueClientCert: %v", err)
		}
		block, _ := pem.Decode([]byte(bundle.CertPEM))
		leaf, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			t.Fatalf("parsing leaf: %v", err)
		}
		serials = append(serials, leaf.SerialNumber.Int64())
	}
	for i := 1; i < len(serials); i++ {
		if serials[i] <= serials[i-1] {
			t.Fatalf("serials not strictly increasing: %v", serials)
		}
	}
}

func TestIPAMFirstFreeSkipsReservedAddresses(t *testing.T) {
	_, cidr, err := net.ParseCIDR("10.200.0.0/30")
	if err != nil {
		t.Fatal(err)
	}
	a := &IPAM{cidr: cidr}

	used := map[string]struct{}{}
	ip, err := a.firstFree(used)
	if err != nil {
		t.Fatalf("firstFree: %v", err)
	}
	// .0 is network, .1 is reserved, .2 should be first free, .3 is broadcast.
	if ip.String() != "10.200.0.2" {
		t.Fatalf("first free = %s, want 10.200.0.2", ip.String())
	}

	used["10.200.0.2"] = struct{}{}
	_, err = a.firstFree(used)
	if err == nil {
		t.Fatal("expected exhaustion error, got nil")
	}
}

func TestNextIPAndLastAddr(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("10.200.0.0/24")
	if got := nextIP(cidr.IP.To4()).String(); got != "10.200.0.1" {
		t.Errorf("nextIP = %s, want 10.200.0.1", got)
	}
	if got := lastAddr(cidr).String(); got != "10.200.0.255" {
		t.Errorf("lastAddr = %s, want 10.200.0.255", got)
	}
}
