package billing

import "github.com/marcus/playbill/internal/models"

// Event is a notification emitted by the Service for whatever UI layer is
// subscribed. Events are delivered asynchronously, at most once each; a
// subscriber that stops draining the channel may lose events.
type Event interface {
	event()
}

// BillingSupported reports the market's answer to CheckBillingSupported.
type BillingSupported struct {
	Supported bool
	ItemType  string
}

// PurchaseStateChange reports a verified purchase recorded in the ledger,
// with the product's new owned quantity.
type PurchaseStateChange struct {
	State            models.PurchaseState
	ProductID        string
	Quantity         int
	PurchaseTime     int64
	DeveloperPayload string
}

// RequestPurchaseResponse carries the response code for a RequestPurchase
// request. It is not a purchase state change; those arrive separately as
// PurchaseStateChange events.
type RequestPurchaseResponse struct {
	ProductID string
	Code      models.ResponseCode
}

// RestoreTransactionsResponse carries the response code for a
// RestoreTransactions request.
type RestoreTransactionsResponse struct {
	Code models.ResponseCode
}

// StartPurchaseFlow asks the subscriber to hand the user over to the
// market's purchase flow identified by the opaque flow token.
type StartPurchaseFlow struct {
	FlowToken string
	ProductID string
}

func (BillingSupported) event()            {}
func (PurchaseStateChange) event()         {}
func (RequestPurchaseResponse) event()     {}
func (RestoreTransactionsResponse) event() {}
func (StartPurchaseFlow) event()           {}
