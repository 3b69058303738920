package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/marcus/playbill/internal/models"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, data []byte) string {
	t.Helper()
	digest := sha1.Sum(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func payload(nonce int64, orders ...string) []byte {
	body := ""
	for i, o := range orders {
		if i > 0 {
			body += ","
		}
		body += o
	}
	return []byte(fmt.Sprintf(`{"nonce":%d,"orders":[%s]}`, nonce, body))
}

const orderOK = `{"purchaseState":0,"productId":"sword","purchaseTime":1000,"orderId":"order-1","notificationId":"n-1"}`

func TestParsePublicKey(t *testing.T) {
	key := newTestKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParsePublicKey(base64.StdEncoding.EncodeToString(der))
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("parsed key does not match")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKey("not base64!!!"); err == nil {
		t.Error("expected error for bad base64")
	}
	if _, err := ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("junk"))); err == nil {
		t.Error("expected error for non-DER bytes")
	}
}

func TestVerifySignedPurchase(t *testing.T) {
	key := newTestKey(t)
	v := NewVerifier(&key.PublicKey, true)

	nonce := v.GenerateNonce()
	data := payload(nonce, orderOK)

	purchases := v.VerifyPurchase(data, sign(t, key, data))
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
	p := purchases[0]
	if p.State != models.StatePurchased || p.ProductID != "sword" || p.OrderID != "order-1" {
		t.Errorf("unexpected purchase: %+v", p)
	}
	if p.NotificationID != "n-1" {
		t.Errorf("notification id = %q, want n-1", p.NotificationID)
	}
}

func TestNonceIsSingleUse(t *testing.T) {
	key := newTestKey(t)
	v := NewVerifier(&key.PublicKey, true)

	nonce := v.GenerateNonce()
	data := payload(nonce, orderOK)
	sig := sign(t, key, data)

	if got := v.VerifyPurchase(data, sig); got == nil {
		t.Fatal("first verification should succeed")
	}
	if got := v.VerifyPurchase(data, sig); got != nil {
		t.Error("replayed payload should be rejected")
	}
}

func TestUnknownNonceRejected(t *testing.T) {
	key := newTestKey(t)
	v := NewVerifier(&key.PublicKey, true)

	data := payload(12345, orderOK)
	if got := v.VerifyPurchase(data, sign(t, key, data)); got != nil {
		t.Error("payload with unknown nonce should be rejected")
	}
}

func TestNilDataRejected(t *testing.T) {
	v := NewVerifier(nil, false)
	if got := v.VerifyPurchase(nil, ""); got != nil {
		t.Error("nil data should be rejected")
	}
}

func TestBadSignatureSkipsPurchasedOnly(t *testing.T) {
	key := newTestKey(t)
	v := NewVerifier(&key.PublicKey, true)

	canceled := `{"purchaseState":1,"productId":"sword","purchaseTime":2000,"orderId":"order-2"}`
	nonce := v.GenerateNonce()
	data := payload(nonce, orderOK, canceled)

	// Wrong key: the signature check fails, but the payload is not
	// discarded. Only the Purchased order is dropped.
	wrongKey := newTestKey(t)
	purchases := v.VerifyPurchase(data, sign(t, wrongKey, data))
	if purchases == nil {
		t.Fatal("payload should not be discarded on signature failure")
	}
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1 (canceled only)", len(purchases))
	}
	if purchases[0].State != models.StateCanceled {
		t.Errorf("state = %v, want canceled", purchases[0].State)
	}
}

func TestUnsignedTrustedInSandboxMode(t *testing.T) {
	v := NewVerifier(nil, false)

	nonce := v.GenerateNonce()
	purchases := v.VerifyPurchase(payload(nonce, orderOK), "")
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
}

func TestUnsignedPurchasedSkippedWhenRequired(t *testing.T) {
	v := NewVerifier(nil, true)

	nonce := v.GenerateNonce()
	purchases := v.VerifyPurchase(payload(nonce, orderOK), "")
	if purchases == nil {
		t.Fatal("payload should still be parsed")
	}
	if len(purchases) != 0 {
		t.Errorf("purchases = %d, want 0", len(purchases))
	}
}

func TestMalformedOrderAbortsPayload(t *testing.T) {
	v := NewVerifier(nil, false)

	missingField := `{"purchaseState":0,"productId":"sword","purchaseTime":1000}`
	nonce := v.GenerateNonce()
	if got := v.VerifyPurchase(payload(nonce, orderOK, missingField), ""); got != nil {
		t.Error("payload with a malformed order should be discarded entirely")
	}

	// The nonce was not consumed by the failed parse; a corrected payload
	// would also fail because unknown states abort too.
	badState := `{"purchaseState":9,"productId":"sword","purchaseTime":1000,"orderId":"order-3"}`
	nonce2 := v.GenerateNonce()
	if got := v.VerifyPurchase(payload(nonce2, badState), ""); got != nil {
		t.Error("payload with an unknown state should be discarded")
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	v := NewVerifier(nil, false)
	if got := v.VerifyPurchase([]byte(`{"orders":[]}`), ""); got != nil {
		t.Error("payload without nonce should be rejected")
	}
	if got := v.VerifyPurchase([]byte(`not json`), ""); got != nil {
		t.Error("non-JSON payload should be rejected")
	}
}

func TestRemoveNonce(t *testing.T) {
	v := NewVerifier(nil, false)
	nonce := v.GenerateNonce()
	v.RemoveNonce(nonce)
	if got := v.VerifyPurchase(payload(nonce, orderOK), ""); got != nil {
		t.Error("removed nonce should no longer verify")
	}
}
