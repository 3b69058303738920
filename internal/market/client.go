package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/playbill/internal/billing"
)

const defaultPollInterval = 500 * time.Millisecond

// HTTPTransport connects the billing dispatcher to a market server over
// HTTP. Bind verifies reachability, reports the connection up, and starts
// a poll loop that delivers out-of-band messages (notifications, response
// codes, signed purchase payloads) into the ConnectionEvents callbacks.
type HTTPTransport struct {
	BaseURL  string
	DeviceID string
	HTTP     *http.Client

	// PollInterval overrides how often the out-of-band queue is polled.
	PollInterval time.Duration

	// OnNotify is invoked when the market announces purchase data is
	// waiting. The handler typically issues GetPurchaseInformation.
	OnNotify func(invocationID int, notifyID string)

	events billing.ConnectionEvents

	mu         sync.Mutex
	bound      bool
	ack        int
	ackPending bool
	quit       chan struct{}
	done       chan struct{}
}

// NewHTTPTransport creates a transport delivering into events. events may
// be nil at construction to break the transport/dispatcher cycle; call
// Attach before the first Bind.
func NewHTTPTransport(baseURL, deviceID string, events billing.ConnectionEvents) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:      baseURL,
		DeviceID:     deviceID,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		PollInterval: defaultPollInterval,
		events:       events,
	}
}

// Attach sets the callback surface. Must happen before the first Bind.
func (t *HTTPTransport) Attach(events billing.ConnectionEvents) {
	t.events = events
}

// Bind starts connecting in the background. The outcome arrives through
// OnConnected or OnDisconnected; Bind itself only fails when the transport
// is misconfigured.
func (t *HTTPTransport) Bind() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.BaseURL == "" {
		return fmt.Errorf("no market url configured")
	}
	if t.bound {
		return nil
	}
	t.bound = true
	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.quit, t.done)
	return nil
}

// Unbind stops the poll loop. No callbacks are delivered after it returns.
func (t *HTTPTransport) Unbind() {
	t.mu.Lock()
	if !t.bound && t.done == nil {
		t.mu.Unlock()
		return
	}
	t.bound = false
	quit, done := t.quit, t.done
	t.quit, t.done = nil, nil
	t.mu.Unlock()

	if quit != nil {
		close(quit)
	}
	if done != nil {
		<-done
	}
}

// Release records the invocation id whose requests have all been serviced.
// It is acknowledged to the server on the next poll.
func (t *HTTPTransport) Release(invocationID int) {
	t.mu.Lock()
	if invocationID > t.ack || !t.ackPending {
		t.ack = invocationID
	}
	t.ackPending = true
	t.mu.Unlock()
}

// Send posts a request bundle and returns the market's synchronous answer.
func (t *HTTPTransport) Send(req *billing.WireRequest) (*billing.WireResponse, error) {
	var resp billing.WireResponse
	if err := t.post("/v1/billing/request", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) run(quit, done chan struct{}) {
	defer close(done)

	if err := t.health(); err != nil {
		slog.Warn("market unreachable", "url", t.BaseURL, "error", err)
		t.mu.Lock()
		t.bound = false
		t.mu.Unlock()
		t.events.OnDisconnected()
		return
	}
	t.events.OnConnected(t)

	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := t.pollOnce(); err != nil {
				slog.Warn("market poll failed", "error", err)
				t.mu.Lock()
				t.bound = false
				t.mu.Unlock()
				t.events.OnDisconnected()
				return
			}
		}
	}
}

func (t *HTTPTransport) health() error {
	resp, err := t.HTTP.Get(t.BaseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: HTTP %d", resp.StatusCode)
	}
	return nil
}

// pollOnce drains the device's out-of-band queue and dispatches each
// message to the appropriate callback.
func (t *HTTPTransport) pollOnce() error {
	t.mu.Lock()
	req := PollRequest{DeviceID: t.DeviceID}
	if t.ackPending {
		req.AckInvocation = t.ack
	}
	t.mu.Unlock()

	var resp PollResponse
	if err := t.post("/v1/billing/poll", &req, &resp); err != nil {
		return err
	}

	if req.AckInvocation > 0 {
		t.mu.Lock()
		if t.ack == req.AckInvocation {
			t.ackPending = false
		}
		t.mu.Unlock()
	}

	for _, m := range resp.Messages {
		switch m.Type {
		case MsgNotify:
			if t.OnNotify != nil {
				t.OnNotify(m.InvocationID, m.NotifyID)
			}
		case MsgResponseCode:
			t.events.OnResponseCode(m.RequestID, m.ResponseCode)
		case MsgPurchaseStateChanged:
			t.events.OnPurchaseStateChanged(m.InvocationID, m.SignedData, m.Signature)
		default:
			slog.Debug("unknown poll message", "type", m.Type)
		}
	}
	return nil
}

func (t *HTTPTransport) post(path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := t.HTTP.Post(t.BaseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
