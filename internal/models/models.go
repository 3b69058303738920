package models

// PurchaseState represents the state of a purchase as reported by the
// market. The integer values are part of the wire contract and must not
// be reordered.
type PurchaseState int

const (
	StatePurchased PurchaseState = 0
	StateCanceled  PurchaseState = 1
	StateRefunded  PurchaseState = 2
)

// Valid reports whether the state is one of the three known wire values.
func (s PurchaseState) Valid() bool {
	return s >= StatePurchased && s <= StateRefunded
}

func (s PurchaseState) String() string {
	switch s {
	case StatePurchased:
		return "purchased"
	case StateCanceled:
		return "canceled"
	case StateRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// ResponseCode is a response code from the market for a billing request.
// The integer values are part of the wire contract.
type ResponseCode int

const (
	ResultOK ResponseCode = iota
	ResultUserCanceled
	ResultServiceUnavailable
	ResultBillingUnavailable
	ResultItemUnavailable
	ResultDeveloperError
	ResultError
)

func (c ResponseCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultUserCanceled:
		return "user_canceled"
	case ResultServiceUnavailable:
		return "service_unavailable"
	case ResultBillingUnavailable:
		return "billing_unavailable"
	case ResultItemUnavailable:
		return "item_unavailable"
	case ResultDeveloperError:
		return "developer_error"
	default:
		return "error"
	}
}

// InvalidRequestID is the sentinel request id returned by the market for
// requests that do not produce an asynchronous response code.
const InvalidRequestID int64 = -1

// VerifiedPurchase holds one purchase that passed signature and nonce
// verification. It is only ever constructed by the security package.
type VerifiedPurchase struct {
	State            PurchaseState
	NotificationID   string // empty if the order carried none
	ProductID        string
	OrderID          string
	PurchaseTime     int64 // epoch millis
	DeveloperPayload string
}

// HistoryEntry is one row of the purchase history ledger, keyed by order id.
type HistoryEntry struct {
	OrderID          string
	ProductID        string
	State            PurchaseState
	PurchaseTime     int64 // epoch millis
	DeveloperPayload string
}

// PurchasedItem is the derived ownership projection for one product.
type PurchasedItem struct {
	ProductID string
	Quantity  int
}

// Config holds the client configuration stored in .playbill/config.json
type Config struct {
	// MarketURL is the base URL of the market billing endpoint.
	MarketURL string `json:"market_url,omitempty"`

	// PublicKey is the base64-encoded X.509 public key used to verify
	// signed purchase payloads. Obtained from the market publisher console
	// (or `playbill serve --print-key` when using the simulator).
	PublicKey string `json:"public_key,omitempty"`

	// RequireSignature controls whether unsigned payloads are trusted.
	// Disable only against sandbox/test servers.
	RequireSignature bool `json:"require_signature"`

	// DeviceID identifies this install to the market.
	DeviceID string `json:"device_id,omitempty"`

	// PackageName is sent with every billing request.
	PackageName string `json:"package_name,omitempty"`
}
