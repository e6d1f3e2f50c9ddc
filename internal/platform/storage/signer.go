package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs V4 URL payloads on behalf of a service account.
type Signer interface {
	// Email is the GoogleAccessID placed in signed URLs.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with a service account private key held in memory.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewKeySignerFromJSON parses a service account JSON key. A non-empty email overrides the
// key's client_email.
func NewKeySignerFromJSON(data []byte, email string) (*KeySigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account json is empty")
	}
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	if email = strings.TrimSpace(email); email == "" {
		email = strings.TrimSpace(key.ClientEmail)
	}
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account json")
	}
	rsaKey, err := parsePrivateKey(strings.TrimSpace(key.PrivateKey))
	if err != nil {
		return nil, err
	}
	return &KeySigner{email: email, key: rsaKey}, nil
}

// NewKeySignerFromFile reads the service account key at path.
func NewKeySignerFromFile(path, email string) (*KeySigner, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account file: %w", err)
	}
	return NewKeySignerFromJSON(contents, email)
}

func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes returns an RSA PKCS#1 v1.5 SHA-256 signature over payload.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return nil, errors.New("storage: private_key missing in service account json")
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return rsaKey, nil
}
