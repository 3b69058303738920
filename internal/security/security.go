// Package security verifies signed purchase payloads from the market.
// It checks the detached SHA1withRSA signature, enforces single-use nonces
// for replay protection, and extracts verified purchase records from the
// signed JSON.
package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marcus/playbill/internal/models"
)

// Verifier authenticates signed purchase payloads. One instance is shared
// between the request dispatcher (which registers nonces when building
// requests) and the inbound purchase-state path (which consumes them).
type Verifier struct {
	mu          sync.Mutex
	knownNonces map[int64]struct{}

	publicKey *rsa.PublicKey
	// requireSignature controls how an absent signature is treated: when
	// false (sandbox mode) unsigned payloads count as verified.
	requireSignature bool
}

// NewVerifier creates a Verifier. publicKey may be nil when signatures are
// not required (sandbox mode).
func NewVerifier(publicKey *rsa.PublicKey, requireSignature bool) *Verifier {
	return &Verifier{
		knownNonces:      make(map[int64]struct{}),
		publicKey:        publicKey,
		requireSignature: requireSignature,
	}
}

// ParsePublicKey decodes a base64-encoded X.509 (PKIX) RSA public key.
func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", key)
	}
	return rsaKey, nil
}

// GenerateNonce creates a random nonce and registers it in the known set.
// The market echoes it back inside the signed payload; verification rejects
// any payload whose nonce we did not generate.
func (v *Verifier) GenerateNonce() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("read random nonce: %v", err))
	}
	nonce := int64(binary.BigEndian.Uint64(buf[:]))

	v.mu.Lock()
	v.knownNonces[nonce] = struct{}{}
	v.mu.Unlock()
	return nonce
}

// RemoveNonce forgets a nonce without consuming it through verification.
// Called when the request that generated it fails to send.
func (v *Verifier) RemoveNonce(nonce int64) {
	v.mu.Lock()
	delete(v.knownNonces, nonce)
	v.mu.Unlock()
}

func (v *Verifier) isNonceKnown(nonce int64) bool {
	v.mu.Lock()
	_, ok := v.knownNonces[nonce]
	v.mu.Unlock()
	return ok
}

// signedPayload is the top-level structure of the signed data. Orders are
// kept raw so a malformed entry can abort the whole payload.
type signedPayload struct {
	Nonce  *int64            `json:"nonce"`
	Orders []json.RawMessage `json:"orders"`
}

type orderPayload struct {
	PurchaseState    *int    `json:"purchaseState"`
	ProductID        *string `json:"productId"`
	PackageName      string  `json:"packageName"`
	PurchaseTime     *int64  `json:"purchaseTime"`
	OrderID          *string `json:"orderId"`
	NotificationID   *string `json:"notificationId"`
	DeveloperPayload *string `json:"developerPayload"`
}

// VerifyPurchase checks signedData against signature and returns the list
// of verified purchases, or nil if the payload must be discarded.
//
// The signature gate is deliberately asymmetric: a failed signature check
// does not reject the payload outright, it only causes Purchased-state
// orders to be skipped. Canceled and Refunded orders pass through either
// way. Tightening this would change long-standing behavior; see DESIGN.md.
func (v *Verifier) VerifyPurchase(signedData []byte, signature string) []models.VerifiedPurchase {
	if signedData == nil {
		slog.Error("verify: data is null")
		return nil
	}

	verified := !v.requireSignature
	if signature != "" {
		if v.publicKey == nil {
			slog.Warn("verify: signature present but no public key configured")
		} else {
			verified = v.verify(signedData, signature)
			if !verified {
				slog.Warn("verify: signature does not match data")
			}
		}
	}

	var payload signedPayload
	if err := json.Unmarshal(signedData, &payload); err != nil {
		slog.Error("verify: malformed payload", "err", err)
		return nil
	}
	if payload.Nonce == nil {
		slog.Error("verify: payload has no nonce")
		return nil
	}
	nonce := *payload.Nonce

	if !v.isNonceKnown(nonce) {
		slog.Warn("verify: nonce not found", "nonce", nonce)
		return nil
	}

	// All-or-nothing: any malformed order aborts the whole payload so a
	// partially trusted list is never returned.
	purchases := make([]models.VerifiedPurchase, 0, len(payload.Orders))
	for i, raw := range payload.Orders {
		var order orderPayload
		if err := json.Unmarshal(raw, &order); err != nil {
			slog.Error("verify: malformed order", "index", i, "err", err)
			return nil
		}
		if order.PurchaseState == nil || order.ProductID == nil ||
			order.PurchaseTime == nil || order.OrderID == nil {
			slog.Error("verify: order missing required field", "index", i)
			return nil
		}
		state := models.PurchaseState(*order.PurchaseState)
		if !state.Valid() {
			slog.Error("verify: unknown purchase state", "index", i, "state", *order.PurchaseState)
			return nil
		}

		// Unverified data must never grant a purchased state.
		if state == models.StatePurchased && !verified {
			continue
		}

		vp := models.VerifiedPurchase{
			State:        state,
			ProductID:    *order.ProductID,
			OrderID:      *order.OrderID,
			PurchaseTime: *order.PurchaseTime,
		}
		if order.NotificationID != nil {
			vp.NotificationID = *order.NotificationID
		}
		if order.DeveloperPayload != nil {
			vp.DeveloperPayload = *order.DeveloperPayload
		}
		purchases = append(purchases, vp)
	}

	// Nonce is single-use: consume it only after a successful full parse.
	v.RemoveNonce(nonce)
	return purchases
}

// verify checks the detached base64-encoded SHA1withRSA signature over the
// raw payload bytes.
func (v *Verifier) verify(signedData []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		slog.Error("verify: base64 decoding failed", "err", err)
		return false
	}
	digest := sha1.Sum(signedData)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA1, digest[:], sig); err != nil {
		slog.Error("verify: signature verification failed")
		return false
	}
	return true
}
