package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/models"
)

// Reserved test item ids. Any other item id purchases normally.
const (
	SKUPurchased   = "android.test.purchased"
	SKUCanceled    = "android.test.canceled"
	SKURefunded    = "android.test.refunded"
	SKUUnavailable = "android.test.item_unavailable"
)

const maxAPIVersion = 2

// Server is the sandbox market billing service. It signs purchase payloads
// with its own key, persists orders in a Store, and delivers asynchronous
// messages through per-device poll queues.
type Server struct {
	http   *http.Server
	addr   string
	signer *Signer
	store  *Store

	mu            sync.Mutex
	queues        map[string][]PollMessage
	invocations   map[string]int
	nextRequestID int64
}

// NewServer creates a sandbox server listening on addr.
func NewServer(addr string, signer *Signer, store *Store) *Server {
	s := &Server{
		signer:      signer,
		store:       store,
		queues:      make(map[string][]PollMessage),
		invocations: make(map[string]int),
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr().String()
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("market server", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/billing/request", s.handleRequest)
	mux.HandleFunc("POST /v1/billing/poll", s.handlePoll)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRequest is the synchronous half of the billing protocol. It hands
// out a request id and queues the asynchronous response for the next poll.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req billing.WireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request bundle")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "missing device_id")
		return
	}

	slog.Debug("billing request", "method", req.Method, "device", req.DeviceID, "item", req.ItemID)

	switch req.Method {
	case billing.MethodCheckBillingSupported:
		code := models.ResultOK
		if req.APIVersion < 1 || req.APIVersion > maxAPIVersion {
			code = models.ResultBillingUnavailable
		}
		writeJSON(w, http.StatusOK, billing.WireResponse{ResponseCode: code, RequestID: models.InvalidRequestID})

	case billing.MethodRequestPurchase:
		s.handleRequestPurchase(w, &req)

	case billing.MethodGetPurchaseInformation:
		s.handlePurchaseInfo(w, &req, true)

	case billing.MethodConfirmNotifications:
		requestID := s.newRequestID()
		if err := s.store.ClearNotifications(req.DeviceID, req.NotifyIDs); err != nil {
			slog.Error("clear notifications", "device", req.DeviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "confirm failed")
			return
		}
		s.enqueueResponseCode(req.DeviceID, requestID, models.ResultOK)
		writeJSON(w, http.StatusOK, billing.WireResponse{ResponseCode: models.ResultOK, RequestID: requestID})

	case billing.MethodRestoreTransactions:
		s.handlePurchaseInfo(w, &req, false)

	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// handleRequestPurchase books an order for the item and queues a purchase
// notification. The purchase data itself is only released through
// GetPurchaseInformation, like the production market.
func (s *Server) handleRequestPurchase(w http.ResponseWriter, req *billing.WireRequest) {
	if req.ItemID == "" {
		writeJSON(w, http.StatusOK, billing.WireResponse{ResponseCode: models.ResultDeveloperError, RequestID: models.InvalidRequestID})
		return
	}
	requestID := s.newRequestID()
	flowToken := uuid.NewString()

	if req.ItemID == SKUUnavailable {
		s.enqueueResponseCode(req.DeviceID, requestID, models.ResultItemUnavailable)
		writeJSON(w, http.StatusOK, billing.WireResponse{ResponseCode: models.ResultOK, RequestID: requestID, FlowToken: flowToken})
		return
	}

	state := models.StatePurchased
	switch req.ItemID {
	case SKUCanceled:
		state = models.StateCanceled
	case SKURefunded:
		state = models.StateRefunded
	}

	order := Order{
		OrderID:          uuid.NewString(),
		DeviceID:         req.DeviceID,
		ProductID:        req.ItemID,
		State:            state,
		PurchaseTime:     time.Now().UnixMilli(),
		DeveloperPayload: req.DeveloperPayload,
		NotifyID:         uuid.NewString(),
	}
	if err := s.store.SaveOrder(order); err != nil {
		slog.Error("save order", "device", req.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "order not recorded")
		return
	}

	s.enqueueResponseCode(req.DeviceID, requestID, models.ResultOK)
	s.enqueue(req.DeviceID, PollMessage{
		Type:         MsgNotify,
		InvocationID: s.newInvocation(req.DeviceID),
		NotifyID:     order.NotifyID,
	})
	writeJSON(w, http.StatusOK, billing.WireResponse{ResponseCode: models.ResultOK, RequestID: requestID, FlowToken: flowToken})
}

// handlePurchaseInfo signs and queues the purchase data for either the
// given notification ids or, for a restore, the device's full order book.
// Restores omit notification ids so clients do not confirm them again.
func (s *Server) handlePurchaseInfo(w http.ResponseWriter, req *billing.WireRequest, withNotifyIDs bool) {
	requestID := s.newRequestID()

	var (
		orders []Order
		err    error
	)
	if withNotifyIDs {
		orders, err = s.store.OrdersByNotifyIDs(req.DeviceID, req.NotifyIDs)
	} else {
		orders, err = s.store.OrdersByDevice(req.DeviceID)
	}
	if err != nil {
		slog.Error("load orders", "device", req.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "orders unavailable")
		return
	}

	signed := make([]signedOrder, 0, len(orders))
	for _, o := range orders {
		so := signedOrder{
			PurchaseState:    int(o.State),
			ProductID:        o.ProductID,
			PackageName:      req.PackageName,
			PurchaseTime:     o.PurchaseTime,
			OrderID:          o.OrderID,
			DeveloperPayload: o.DeveloperPayload,
		}
		if withNotifyIDs {
			so.NotificationID = o.NotifyID
		}
		signed = append(signed, so)
	}

	data, sig, err := s.signer.SignPayload(req.Nonce, signed)
	if err != nil {
		slog.Error("sign payload", "device", req.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "signing failed")
		return
	}

	s.enqueue(req.DeviceID, PollMessage{
		Type:         MsgPurchaseStateChanged,
		InvocationID: s.newInvocation(req.DeviceID),
		SignedData:   data,
		Signature:    sig,
	})
	s.enqueueResponseCode(req.DeviceID, requestID, models.ResultOK)
	writeJSON(w, http.StatusOK, billing.WireResponse{ResponseCode: models.ResultOK, RequestID: requestID})
}

// handlePoll pops the device's queued messages.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed poll request")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "missing device_id")
		return
	}
	if req.AckInvocation > 0 {
		slog.Debug("invocation released", "device", req.DeviceID, "invocation", req.AckInvocation)
	}

	s.mu.Lock()
	messages := s.queues[req.DeviceID]
	delete(s.queues, req.DeviceID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, PollResponse{Messages: messages})
}

func (s *Server) newRequestID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRequestID++
	return s.nextRequestID
}

func (s *Server) newInvocation(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invocations[deviceID]++
	return s.invocations[deviceID]
}

func (s *Server) enqueue(deviceID string, msg PollMessage) {
	s.mu.Lock()
	s.queues[deviceID] = append(s.queues[deviceID], msg)
	s.mu.Unlock()
}

func (s *Server) enqueueResponseCode(deviceID string, requestID int64, code models.ResponseCode) {
	s.enqueue(deviceID, PollMessage{Type: MsgResponseCode, RequestID: requestID, ResponseCode: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
