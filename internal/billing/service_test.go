package billing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/models"
	"github.com/marcus/playbill/internal/security"
)

// fakeMarket implements Transport and Sender in memory.
type fakeMarket struct {
	mu            sync.Mutex
	bindErr       error
	sendErr       error
	bindCalls     int
	sent          []*WireRequest
	released      []int
	nextRequestID int64
	flowToken     string
}

func (f *fakeMarket) Bind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindCalls++
	return f.bindErr
}

func (f *fakeMarket) Unbind() {}

func (f *fakeMarket) Release(invocationID int) {
	f.mu.Lock()
	f.released = append(f.released, invocationID)
	f.mu.Unlock()
}

func (f *fakeMarket) Send(req *WireRequest) (*WireResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	if req.Method == MethodCheckBillingSupported {
		return &WireResponse{ResponseCode: models.ResultOK, RequestID: models.InvalidRequestID}, nil
	}
	f.nextRequestID++
	resp := &WireResponse{ResponseCode: models.ResultOK, RequestID: f.nextRequestID}
	if req.Method == MethodRequestPurchase {
		resp.FlowToken = f.flowToken
		if resp.FlowToken == "" {
			resp.FlowToken = "flow-token"
		}
	}
	return resp, nil
}

func (f *fakeMarket) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	methods := make([]string, len(f.sent))
	for i, req := range f.sent {
		methods[i] = req.Method
	}
	return methods
}

func (f *fakeMarket) lastRequestID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextRequestID
}

func newTestService(t *testing.T, f *fakeMarket) *Service {
	t.Helper()
	verifier := security.NewVerifier(nil, false)
	s := NewService(f, verifier, nil, "com.example.app", "device-1")
	t.Cleanup(s.Close)
	return s
}

func waitEvent(t *testing.T, s *Service) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func expectNoEvent(t *testing.T, s *Service) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueDrainsOnConnect(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)

	if !s.CheckBillingSupported("inapp") {
		t.Fatal("CheckBillingSupported returned false")
	}
	if !s.RequestPurchase("sword", "inapp", "") {
		t.Fatal("RequestPurchase returned false")
	}
	if got := s.Pending(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if s.State() != Connecting {
		t.Fatalf("state = %v, want connecting", s.State())
	}
	// Only the first execute should have triggered a bind.
	if f.bindCalls != 1 {
		t.Fatalf("bind calls = %d, want 1", f.bindCalls)
	}

	s.OnConnected(f)

	if got := s.Pending(); got != 0 {
		t.Fatalf("pending after connect = %d, want 0", got)
	}
	methods := f.sentMethods()
	if len(methods) != 2 || methods[0] != MethodCheckBillingSupported || methods[1] != MethodRequestPurchase {
		t.Fatalf("sent methods = %v", methods)
	}

	ev := waitEvent(t, s)
	if supported, ok := ev.(BillingSupported); !ok || !supported.Supported {
		t.Fatalf("first event = %#v, want BillingSupported", ev)
	}
	ev = waitEvent(t, s)
	if flow, ok := ev.(StartPurchaseFlow); !ok || flow.ProductID != "sword" || flow.FlowToken == "" {
		t.Fatalf("second event = %#v, want StartPurchaseFlow", ev)
	}
}

func TestSendImmediatelyWhenConnected(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)
	s.OnConnected(f)

	if !s.RestoreTransactions() {
		t.Fatal("RestoreTransactions returned false")
	}
	if got := s.Pending(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
	methods := f.sentMethods()
	if len(methods) != 1 || methods[0] != MethodRestoreTransactions {
		t.Fatalf("sent methods = %v", methods)
	}
}

func TestBindFailure(t *testing.T) {
	f := &fakeMarket{bindErr: fmt.Errorf("no market")}
	s := newTestService(t, f)

	if s.CheckBillingSupported("inapp") {
		t.Fatal("expected false when bind fails")
	}
	if s.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}
}

func TestResponseCodeRouting(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)
	s.OnConnected(f)

	s.RequestPurchase("sword", "inapp", "")
	waitEvent(t, s) // StartPurchaseFlow
	requestID := f.lastRequestID()

	s.OnResponseCode(requestID, models.ResultItemUnavailable)
	ev := waitEvent(t, s)
	resp, ok := ev.(RequestPurchaseResponse)
	if !ok {
		t.Fatalf("event = %#v, want RequestPurchaseResponse", ev)
	}
	if resp.ProductID != "sword" || resp.Code != models.ResultItemUnavailable {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Each response code is consumed exactly once.
	s.OnResponseCode(requestID, models.ResultOK)
	expectNoEvent(t, s)
}

func TestUnknownRequestIDIgnored(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)
	s.OnConnected(f)

	s.OnResponseCode(999, models.ResultError)
	expectNoEvent(t, s)
}

func TestCheckSupportedNotTracked(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)
	s.OnConnected(f)

	s.CheckBillingSupported("inapp")
	waitEvent(t, s) // BillingSupported

	// The synchronous answer used InvalidRequestID; nothing is in flight.
	s.OnResponseCode(models.InvalidRequestID, models.ResultOK)
	expectNoEvent(t, s)
}

func TestSendFailureDropsConnection(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)
	s.OnConnected(f)

	f.mu.Lock()
	f.sendErr = fmt.Errorf("connection reset")
	f.mu.Unlock()

	if s.RestoreTransactions() {
		t.Fatal("expected false when send fails")
	}
	if s.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}
}

func TestDrainStopsOnSendFailureAndRebinds(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)

	s.RequestPurchase("sword", "inapp", "")
	s.RequestPurchase("shield", "inapp", "")

	f.mu.Lock()
	f.sendErr = fmt.Errorf("connection reset")
	f.mu.Unlock()

	s.OnConnected(f)

	// Failed head request stays queued for the next drain.
	if got := s.Pending(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	f.mu.Lock()
	binds := f.bindCalls
	f.mu.Unlock()
	if binds != 2 {
		t.Fatalf("bind calls = %d, want 2 (initial + rebind)", binds)
	}

	// The retried drain succeeds once the market recovers.
	f.mu.Lock()
	f.sendErr = nil
	f.mu.Unlock()
	s.OnConnected(f)
	if got := s.Pending(); got != 0 {
		t.Fatalf("pending after recovery = %d, want 0", got)
	}
}

func TestReleaseAfterDrain(t *testing.T) {
	f := &fakeMarket{}
	s := newTestService(t, f)

	s.GetPurchaseInformation(5, []string{"n-1"})
	s.ConfirmNotifications(3, []string{"n-0"})
	s.OnConnected(f)

	f.mu.Lock()
	released := append([]int(nil), f.released...)
	f.mu.Unlock()
	if len(released) != 1 || released[0] != 5 {
		t.Fatalf("released = %v, want [5]", released)
	}
}

func TestPurchaseStateChangedPipeline(t *testing.T) {
	ledger, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	defer ledger.Close()

	f := &fakeMarket{}
	verifier := security.NewVerifier(nil, false)
	s := NewService(f, verifier, ledger, "com.example.app", "device-1")
	defer s.Close()
	s.OnConnected(f)

	nonce := verifier.GenerateNonce()
	data := []byte(fmt.Sprintf(`{"nonce":%d,"orders":[
		{"purchaseState":0,"productId":"sword","purchaseTime":1000,"orderId":"order-1","notificationId":"n-1"},
		{"purchaseState":0,"productId":"shield","purchaseTime":2000,"orderId":"order-2","notificationId":"n-2"}
	]}`, nonce))

	s.OnPurchaseStateChanged(7, data, "")

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, s)
		change, ok := ev.(PurchaseStateChange)
		if !ok {
			t.Fatalf("event = %#v, want PurchaseStateChange", ev)
		}
		seen[change.ProductID] = change.Quantity
	}
	if seen["sword"] != 1 || seen["shield"] != 1 {
		t.Fatalf("quantities = %v", seen)
	}

	// Both orders landed in the ledger.
	qty, err := ledger.OwnedQuantity("sword")
	if err != nil || qty != 1 {
		t.Fatalf("OwnedQuantity(sword) = %d, %v", qty, err)
	}

	// Notifications are confirmed in one batch carrying the invocation id.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		var confirm *WireRequest
		for _, req := range f.sent {
			if req.Method == MethodConfirmNotifications {
				confirm = req
			}
		}
		f.mu.Unlock()
		if confirm != nil {
			if len(confirm.NotifyIDs) != 2 {
				t.Fatalf("confirm notify ids = %v, want 2 entries", confirm.NotifyIDs)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ConfirmNotifications")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetriedRequestVerifiesWithFreshNonce(t *testing.T) {
	ledger, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	defer ledger.Close()

	f := &fakeMarket{}
	verifier := security.NewVerifier(nil, false)
	s := NewService(f, verifier, ledger, "com.example.app", "device-1")
	defer s.Close()

	s.GetPurchaseInformation(5, []string{"n-1"})

	// The first drain fails; the request stays queued.
	f.mu.Lock()
	f.sendErr = fmt.Errorf("connection reset")
	f.mu.Unlock()
	s.OnConnected(f)
	if got := s.Pending(); got != 1 {
		t.Fatalf("pending after failed drain = %d, want 1", got)
	}

	f.mu.Lock()
	f.sendErr = nil
	f.mu.Unlock()
	s.OnConnected(f)
	if got := s.Pending(); got != 0 {
		t.Fatalf("pending after retry = %d, want 0", got)
	}

	// The market signs against the nonce it was actually sent. The retried
	// attempt must have registered it, or verification rejects the payload.
	f.mu.Lock()
	sentNonce := f.sent[len(f.sent)-1].Nonce
	f.mu.Unlock()
	if sentNonce == 0 {
		t.Fatal("retried request carried no nonce")
	}

	data := []byte(fmt.Sprintf(`{"nonce":%d,"orders":[{"purchaseState":0,"productId":"sword","purchaseTime":1000,"orderId":"order-1"}]}`, sentNonce))
	s.OnPurchaseStateChanged(5, data, "")

	ev := waitEvent(t, s)
	change, ok := ev.(PurchaseStateChange)
	if !ok || change.ProductID != "sword" {
		t.Fatalf("event = %#v, want PurchaseStateChange for sword", ev)
	}
}

func TestReplayedPayloadProducesNoEvents(t *testing.T) {
	ledger, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	defer ledger.Close()

	f := &fakeMarket{}
	verifier := security.NewVerifier(nil, false)
	s := NewService(f, verifier, ledger, "com.example.app", "device-1")
	defer s.Close()
	s.OnConnected(f)

	nonce := verifier.GenerateNonce()
	data := []byte(fmt.Sprintf(`{"nonce":%d,"orders":[{"purchaseState":0,"productId":"sword","purchaseTime":1000,"orderId":"order-1"}]}`, nonce))

	s.OnPurchaseStateChanged(1, data, "")
	waitEvent(t, s)

	// Same payload again: the nonce was consumed.
	s.OnPurchaseStateChanged(2, data, "")
	expectNoEvent(t, s)
}
