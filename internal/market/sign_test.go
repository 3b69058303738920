package market

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/playbill/internal/security"
)

func TestSignedPayloadVerifies(t *testing.T) {
	signer, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	key, err := security.ParsePublicKey(signer.PublicKey())
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	verifier := security.NewVerifier(key, true)
	nonce := verifier.GenerateNonce()

	data, sig, err := signer.SignPayload(nonce, []signedOrder{{
		PurchaseState: 0,
		ProductID:     "sword",
		PurchaseTime:  1000,
		OrderID:       "order-1",
	}})
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}

	purchases := verifier.VerifyPurchase(data, sig)
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
	if purchases[0].ProductID != "sword" || purchases[0].OrderID != "order-1" {
		t.Errorf("unexpected purchase: %+v", purchases[0])
	}
}

func TestTamperedPayloadSkipsPurchased(t *testing.T) {
	signer, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	key, err := security.ParsePublicKey(signer.PublicKey())
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	verifier := security.NewVerifier(key, true)
	nonce := verifier.GenerateNonce()

	data, sig, err := signer.SignPayload(nonce, []signedOrder{{
		PurchaseState: 0,
		ProductID:     "sword",
		PurchaseTime:  1000,
		OrderID:       "order-1",
	}})
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}

	tampered := bytes.Replace(data, []byte(`"purchaseTime":1000`), []byte(`"purchaseTime":9999`), 1)

	purchases := verifier.VerifyPurchase(tampered, sig)
	if purchases == nil {
		t.Fatal("tampered payload should still parse")
	}
	if len(purchases) != 0 {
		t.Errorf("purchases = %d, want 0 (purchased order skipped)", len(purchases))
	}
}

func TestLoadOrCreateSigner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.key")

	first, err := LoadOrCreateSigner(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSigner failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("key file not written: %v", err)
	}

	second, err := LoadOrCreateSigner(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if first.PublicKey() != second.PublicKey() {
		t.Error("reloaded signer has a different key")
	}
}
