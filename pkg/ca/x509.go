package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

const (
	leafLifetime = 365 * 24 * time.Hour
	caLifetime   = 10 * 365 * 24 * time.Hour
	rsaBits      = 2048
)

// Authority is the internal CA. Signing is synchronized by a mutex and
// serials increase monotonically.
type Authority struct {
	mu        sync.Mutex
	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	caPEM     string
	nextSerial int64
}

// NewAuthority loads a CA keypair from keyPath, or generates a fresh
// self-signed CA if keyPath is empty.
func NewAuthority(keyPath string) (*Authority, error) {
	if keyPath != "" {
		if data, err := os.ReadFile(keyPath); err == nil {
			return loadAuthority(data)
		}
	}
	return generateAuthority()
}

func generateAuthority() (*Authority, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, apperr.Crypto("generating CA key", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "sasewaddle-control-plane-ca",
			Organization: []string{"SASEWaddle"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caLifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, apperr.Crypto("self-signing CA certificate", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperr.Crypto("parsing generated CA certificate", err)
	}

	return &Authority{
		caCert:     cert,
		caKey:      key,
		caPEM:      encodeCertPEM(der),
		nextSerial: 2,
	}, nil
}

func loadAuthority(pemData []byte) (*Authority, error) {
	var keyBlock, certBlock *pem.Block
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY", "PRIVATE KEY":
			keyBlock = block
		case "CERTIFICATE":
			certBlock = block
		}
	}
	if keyBlock == nil || certBlock == nil {
		return nil, apperr.Crypto("loading CA keypair", fmt.Errorf("key path must contain both a CERTIFICATE and PRIVATE KEY PEM block"))
	}

	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err2 != nil {
			return nil, apperr.Crypto("parsing CA private key", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, apperr.Crypto("parsing CA private key", fmt.Errorf("key is not RSA"))
		}
		key = rsaKey
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, apperr.Crypto("parsing CA certificate", err)
	}

	return &Authority{
		caCert:     cert,
		caKey:      key,
		caPEM:      encodeCertPEM(certBlock.Bytes),
		nextSerial: 2,
	}, nil
}

// CAPEM returns the PEM-encoded CA certificate.
func (a *Authority) CAPEM() string {
	return a.caPEM
}

// IssueClientCert issues a leaf certificate for a client node. CN encodes
// node_id; SAN includes name.
func (a *Authority) IssueClientCert(nodeID uuid.UUID, name string) (CertBundle, error) {
	return a.issue(nodeID, name, nil, x509.ExtKeyUsageClientAuth)
}

// IssueHeadendCert issues a leaf certificate for a headend node with
// extended key usage for servers and the given SANs. A SAN given as an
// absolute URL (such as a headend_url) is reduced to its host name.
func (a *Authority) IssueHeadendCert(nodeID uuid.UUID, name string, sans []string) (CertBundle, error) {
	dnsSANs := make([]string, 0, len(sans))
	for _, s := range sans {
		if host, ok := validHeadendURL(s); ok {
			s = host
		}
		dnsSANs = append(dnsSANs, s)
	}
	return a.issue(nodeID, name, dnsSANs, x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth)
}

func (a *Authority) issue(nodeID uuid.UUID, name string, sans []string, extUsage ...x509.ExtKeyUsage) (CertBundle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return CertBundle{}, apperr.Crypto("generating leaf key", err)
	}

	serial := a.nextSerial
	a.nextSerial++

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			CommonName:   nodeID.String(),
			Organization: []string{"SASEWaddle"},
		},
		DNSNames:    append([]string{name}, sans...),
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(leafLifetime),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: extUsage,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return CertBundle{}, apperr.Crypto("signing leaf certificate", err)
	}

	return CertBundle{
		KeyPEM:  encodeKeyPEM(key),
		CertPEM: encodeCertPEM(der),
		CAPEM:   a.caPEM,
	}, nil
}

// peekSerial returns the serial of the most recently issued leaf (1, the CA
// certificate's own serial, if no leaf has been issued yet). It reserves
// nothing.
func (a *Authority) peekSerial() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextSerial - 1
}

func encodeCertPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func encodeKeyPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

// validHeadendURL reports whether s parses as an absolute URL and returns
// its host name, used by IssueHeadendCert to derive a DNS SAN from a
// headend_url at registration time.
func validHeadendURL(s string) (string, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}
