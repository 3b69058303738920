package billing

import "github.com/marcus/playbill/internal/models"

// Sender sends a request bundle over an established connection. Send
// returns an error only for transport-level delivery failures; market-side
// rejections come back inside the WireResponse.
type Sender interface {
	Send(req *WireRequest) (*WireResponse, error)
}

// Transport is the abstract connection to the market billing service.
// Bind is fire-and-forget: its outcome arrives later through the
// ConnectionEvents callbacks. Bind returns an error only when the bind
// attempt itself is refused (e.g. a permission denial).
//
// A Transport must deliver no further callbacks once Unbind has returned.
type Transport interface {
	Bind() error
	Unbind()

	// Release tells the transport the hosting process is no longer needed
	// on behalf of the given invocation id (the most recent inbound
	// command whose requests have all been serviced).
	Release(invocationID int)
}

// ConnectionEvents is the callback surface a Transport delivers into.
// *Service implements it.
type ConnectionEvents interface {
	OnConnected(sender Sender)
	OnDisconnected()
	OnResponseCode(requestID int64, code models.ResponseCode)
	OnPurchaseStateChanged(invocationID int, signedData []byte, signature string)
}
