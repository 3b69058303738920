package billing

import "github.com/marcus/playbill/internal/models"

// Request methods understood by the market billing service.
const (
	MethodCheckBillingSupported  = "CHECK_BILLING_SUPPORTED"
	MethodRequestPurchase        = "REQUEST_PURCHASE"
	MethodGetPurchaseInformation = "GET_PURCHASE_INFORMATION"
	MethodConfirmNotifications   = "CONFIRM_NOTIFICATIONS"
	MethodRestoreTransactions    = "RESTORE_TRANSACTIONS"
)

// apiVersion is the billing protocol version sent with every request.
const apiVersion = 2

// WireRequest is the request bundle sent to the market.
type WireRequest struct {
	Method           string   `json:"method"`
	APIVersion       int      `json:"api_version"`
	PackageName      string   `json:"package_name"`
	DeviceID         string   `json:"device_id,omitempty"`
	ItemID           string   `json:"item_id,omitempty"`
	ItemType         string   `json:"item_type,omitempty"`
	DeveloperPayload string   `json:"developer_payload,omitempty"`
	Nonce            int64    `json:"nonce,omitempty"`
	NotifyIDs        []string `json:"notify_ids,omitempty"`
}

// WireResponse is the synchronous part of the market's answer. Request ids
// correlate later out-of-band response codes; InvalidRequestID means no
// asynchronous response will follow.
type WireResponse struct {
	ResponseCode models.ResponseCode `json:"response_code"`
	RequestID    int64               `json:"request_id"`
	FlowToken    string              `json:"flow_token,omitempty"`
}
