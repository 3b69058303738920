package market

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// signedOrder is one order inside a signed payload. Field names are part
// of the wire contract the client verifier parses.
type signedOrder struct {
	PurchaseState    int    `json:"purchaseState"`
	ProductID        string `json:"productId"`
	PackageName      string `json:"packageName,omitempty"`
	PurchaseTime     int64  `json:"purchaseTime"`
	OrderID          string `json:"orderId"`
	NotificationID   string `json:"notificationId,omitempty"`
	DeveloperPayload string `json:"developerPayload,omitempty"`
}

type signedPayload struct {
	Nonce  int64         `json:"nonce"`
	Orders []signedOrder `json:"orders"`
}

// Signer produces detached SHA1withRSA signatures over purchase payloads,
// matching what the production market signs with the publisher key.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner generates a fresh signing key. The matching public key is
// handed to clients via PublicKey.
func NewSigner() (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// LoadOrCreateSigner reads a PEM-encoded RSA signing key from path,
// generating and saving one on first use so the sandbox keeps the same
// identity across restarts.
func LoadOrCreateSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no PEM block in %s", path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		return &Signer{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	s, err := NewSigner()
	if err != nil {
		return nil, err
	}
	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(s.key),
	})
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemData, 0600); err != nil {
		return nil, fmt.Errorf("save signing key: %w", err)
	}
	return s, nil
}

// PublicKey returns the base64-encoded X.509 (PKIX) public key in the
// format clients store in their config.
func (s *Signer) PublicKey() string {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		// Marshaling a key we just generated cannot fail.
		panic(fmt.Sprintf("marshal public key: %v", err))
	}
	return base64.StdEncoding.EncodeToString(der)
}

// SignPayload serializes the payload and returns the JSON bytes along
// with the base64-encoded signature over them.
func (s *Signer) SignPayload(nonce int64, orders []signedOrder) ([]byte, string, error) {
	data, err := json.Marshal(signedPayload{Nonce: nonce, Orders: orders})
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	digest := sha1.Sum(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
	if err != nil {
		return nil, "", fmt.Errorf("sign payload: %w", err)
	}
	return data, base64.StdEncoding.EncodeToString(sig), nil
}
