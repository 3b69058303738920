// Package billing dispatches purchase requests to the market billing
// service over an abstract transport, correlates asynchronous responses,
// and records verified purchases in the local ledger.
//
// Requests issued while the transport is down are queued and drained in
// order once the connection comes up. All caller-facing methods are safe
// for concurrent use.
package billing

import (
	"log/slog"
	"sync"

	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/models"
	"github.com/marcus/playbill/internal/security"
)

// ConnState is the transport connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (c ConnState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

type stateChangeJob struct {
	invocationID int
	signedData   []byte
	signature    string
}

// Service is the billing request dispatcher. It owns the pending queue,
// the in-flight request table and the connection state, all guarded by a
// single mutex. Signed purchase payloads are verified and recorded on a
// background worker so transport callbacks never block on the ledger.
type Service struct {
	transport   Transport
	verifier    *security.Verifier
	ledger      *db.DB
	packageName string
	deviceID    string

	mu       sync.Mutex
	state    ConnState
	sender   Sender
	pending  []*Request
	inFlight map[int64]*Request

	events    chan Event
	jobs      chan stateChangeJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService wires a dispatcher to its transport, verifier and ledger.
// The returned service is idle until the first request triggers a bind.
func NewService(transport Transport, verifier *security.Verifier, ledger *db.DB, packageName, deviceID string) *Service {
	s := &Service{
		transport:   transport,
		verifier:    verifier,
		ledger:      ledger,
		packageName: packageName,
		deviceID:    deviceID,
		inFlight:    make(map[int64]*Request),
		events:      make(chan Event, 64),
		jobs:        make(chan stateChangeJob, 16),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Events returns the event stream. The channel is closed by Close.
func (s *Service) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Service) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns how many requests are queued waiting for a connection.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close unbinds the transport, waits for in-progress purchase recording to
// finish, and closes the event channel. Pending requests are discarded.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.transport.Unbind()
		s.mu.Lock()
		s.state = Disconnected
		s.sender = nil
		s.pending = nil
		s.mu.Unlock()
		close(s.jobs)
		s.wg.Wait()
		close(s.events)
	})
}

// CheckBillingSupported asks the market whether in-app billing is available
// for the given item type. The answer arrives as a BillingSupported event.
func (s *Service) CheckBillingSupported(itemType string) bool {
	return s.execute(newCheckSupported(itemType))
}

// RequestPurchase starts a purchase of the given item. The market answers
// with a StartPurchaseFlow event carrying the flow token, then reports the
// outcome through RequestPurchaseResponse and PurchaseStateChange events.
func (s *Service) RequestPurchase(itemID, itemType, developerPayload string) bool {
	return s.execute(newRequestPurchase(itemID, itemType, developerPayload))
}

// GetPurchaseInformation fetches the signed purchase data behind the given
// notification ids, typically in response to an inbound notify.
func (s *Service) GetPurchaseInformation(invocationID int, notifyIDs []string) bool {
	return s.execute(newGetPurchaseInfo(invocationID, notifyIDs))
}

// ConfirmNotifications acknowledges delivered purchase notifications so the
// market stops redelivering them.
func (s *Service) ConfirmNotifications(invocationID int, notifyIDs []string) bool {
	return s.execute(newConfirmNotifications(invocationID, notifyIDs))
}

// RestoreTransactions asks the market to replay purchase state for all of
// this device's prior transactions.
func (s *Service) RestoreTransactions() bool {
	return s.execute(newRestoreTransactions())
}

// execute sends the request immediately if the transport is connected,
// otherwise queues it and makes sure a bind attempt is under way.
func (s *Service) execute(req *Request) bool {
	s.mu.Lock()
	if s.state == Connected {
		ok := s.sendLocked(req)
		s.mu.Unlock()
		return ok
	}
	s.pending = append(s.pending, req)
	shouldBind := s.state == Disconnected
	if shouldBind {
		s.state = Connecting
	}
	s.mu.Unlock()

	if shouldBind {
		return s.bind()
	}
	// A bind is already in flight; the request drains on connect.
	return true
}

func (s *Service) bind() bool {
	if err := s.transport.Bind(); err != nil {
		slog.Error("could not bind to market billing service", "error", err)
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		return false
	}
	return true
}

// sendLocked sends a request over the live connection. Caller holds s.mu
// and has checked state == Connected. A delivery failure drops the
// connection; the caller decides whether to rebind. Each attempt carries a
// freshly registered nonce so a request that stays queued after a failure
// can still verify the payload its retry eventually produces.
func (s *Service) sendLocked(req *Request) bool {
	if req.needsNonce {
		req.nonce = s.verifier.GenerateNonce()
	}
	resp, err := s.sender.Send(s.wireRequest(req))
	if err != nil {
		slog.Warn("send failed, dropping connection", "method", req.kind.String(), "error", err)
		s.sender = nil
		s.state = Disconnected
		s.sendFailed(req)
		return false
	}
	req.requestID = resp.RequestID
	if resp.RequestID != models.InvalidRequestID {
		s.inFlight[resp.RequestID] = req
	}
	slog.Debug("request sent", "method", req.kind.String(), "requestId", resp.RequestID)
	s.completeSend(req, resp)
	return true
}

// OnConnected drains the pending queue in FIFO order over the fresh
// connection. If every queued request was handed off, the transport is
// released on behalf of the largest invocation id seen.
func (s *Service) OnConnected(sender Sender) {
	slog.Debug("market billing service connected")
	s.mu.Lock()
	s.state = Connected
	s.sender = sender
	maxInvocation := NoInvocation
	rebind := false
	for len(s.pending) > 0 {
		req := s.pending[0]
		if !s.sendLocked(req) {
			// Failed request stays at the head for the next drain.
			rebind = true
			break
		}
		s.pending = s.pending[1:]
		if req.invocationID > maxInvocation {
			maxInvocation = req.invocationID
		}
	}
	drained := len(s.pending) == 0
	s.mu.Unlock()

	if rebind {
		s.mu.Lock()
		retry := s.state == Disconnected
		if retry {
			s.state = Connecting
		}
		s.mu.Unlock()
		if retry {
			s.bind()
		}
		return
	}
	if drained && maxInvocation > NoInvocation {
		s.transport.Release(maxInvocation)
	}
}

// OnDisconnected marks the connection down. In-flight requests stay
// recorded; their responses are simply never delivered.
func (s *Service) OnDisconnected() {
	slog.Warn("market billing service disconnected")
	s.mu.Lock()
	s.state = Disconnected
	s.sender = nil
	s.mu.Unlock()
}

// OnResponseCode routes an asynchronous response code to the in-flight
// request it belongs to. Unknown request ids are ignored; they belong to a
// previous process or were already consumed.
func (s *Service) OnResponseCode(requestID int64, code models.ResponseCode) {
	s.mu.Lock()
	req, ok := s.inFlight[requestID]
	delete(s.inFlight, requestID)
	s.mu.Unlock()
	if !ok {
		slog.Debug("response code for unknown request", "requestId", requestID, "code", code.String())
		return
	}
	slog.Debug("response code received", "method", req.kind.String(), "requestId", requestID, "code", code.String())
	s.responseReceived(req, code)
}

// OnPurchaseStateChanged hands a signed purchase payload to the background
// worker. The callback itself never blocks on verification or the ledger.
func (s *Service) OnPurchaseStateChanged(invocationID int, signedData []byte, signature string) {
	s.jobs <- stateChangeJob{invocationID: invocationID, signedData: signedData, signature: signature}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.handleStateChange(job)
	}
}

// handleStateChange verifies a signed payload, records each purchase in the
// ledger and emits the resulting state-change events. Notification ids are
// acknowledged in one batch at the end.
func (s *Service) handleStateChange(job stateChangeJob) {
	purchases := s.verifier.VerifyPurchase(job.signedData, job.signature)
	if purchases == nil {
		return
	}
	var notifyIDs []string
	for _, p := range purchases {
		if p.NotificationID != "" {
			notifyIDs = append(notifyIDs, p.NotificationID)
		}
		quantity, err := s.ledger.UpdatePurchase(p.OrderID, p.ProductID, p.State, p.PurchaseTime, p.DeveloperPayload)
		if err != nil {
			// No event without a recorded ledger state.
			slog.Error("could not record purchase", "order", p.OrderID, "product", p.ProductID, "error", err)
			continue
		}
		s.emit(PurchaseStateChange{
			State:            p.State,
			ProductID:        p.ProductID,
			Quantity:         quantity,
			PurchaseTime:     p.PurchaseTime,
			DeveloperPayload: p.DeveloperPayload,
		})
	}
	if len(notifyIDs) > 0 {
		s.ConfirmNotifications(job.invocationID, notifyIDs)
	}
}

// emit delivers an event without blocking. A subscriber that has fallen 64
// events behind loses the oldest ones.
func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("event dropped, subscriber not draining", "event", ev)
	}
}
