// Package market speaks the HTTP billing protocol: an HTTPTransport for
// the client side and a sandbox Server that simulates the market billing
// service, including signed purchase payloads and asynchronous delivery.
package market

import "github.com/marcus/playbill/internal/models"

// Poll message types delivered out-of-band from the market to the device.
const (
	MsgNotify               = "notify"
	MsgResponseCode         = "response_code"
	MsgPurchaseStateChanged = "purchase_state_changed"
)

// PollRequest is the body for POST /v1/billing/poll. AckInvocation tells
// the market that every request issued on behalf of invocation ids up to
// and including that value has been serviced.
type PollRequest struct {
	DeviceID      string `json:"device_id"`
	AckInvocation int    `json:"ack_invocation,omitempty"`
}

// PollResponse carries the queued messages for a device. Messages are
// removed from the queue once delivered.
type PollResponse struct {
	Messages []PollMessage `json:"messages"`
}

// PollMessage is one out-of-band message from the market. Type selects
// which of the remaining fields are meaningful.
type PollMessage struct {
	Type         string `json:"type"`
	InvocationID int    `json:"invocation_id"`

	// MsgNotify
	NotifyID string `json:"notify_id,omitempty"`

	// MsgResponseCode
	RequestID    int64               `json:"request_id,omitempty"`
	ResponseCode models.ResponseCode `json:"response_code,omitempty"`

	// MsgPurchaseStateChanged
	SignedData []byte `json:"signed_data,omitempty"`
	Signature  string `json:"signature,omitempty"`
}
