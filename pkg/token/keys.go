package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

const signingKeyBits = 2048

// loadOrGenerateKey loads an RSA private key from path, or generates a
// fresh one if path is empty.
func loadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
		if err != nil {
			return nil, apperr.Crypto("generating token signing key", err)
		}
		return key, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Crypto("reading token signing key", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperr.Crypto("decoding token signing key", fmt.Errorf("no PEM block found in %s", path))
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, apperr.Crypto("parsing token signing key", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, apperr.Crypto("parsing token signing key", fmt.Errorf("key is not RSA"))
	}
	return key, nil
}

func encodePublicKeyPEM(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshalling public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
