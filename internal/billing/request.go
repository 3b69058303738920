package billing

import (
	"log/slog"

	"github.com/marcus/playbill/internal/models"
)

type requestKind int

const (
	kindCheckSupported requestKind = iota
	kindRequestPurchase
	kindGetPurchaseInfo
	kindConfirmNotifications
	kindRestoreTransactions
)

func (k requestKind) String() string {
	switch k {
	case kindCheckSupported:
		return MethodCheckBillingSupported
	case kindRequestPurchase:
		return MethodRequestPurchase
	case kindGetPurchaseInfo:
		return MethodGetPurchaseInformation
	case kindConfirmNotifications:
		return MethodConfirmNotifications
	case kindRestoreTransactions:
		return MethodRestoreTransactions
	}
	return "UNKNOWN"
}

// NoInvocation marks a request that was not triggered by an inbound market
// command and therefore holds no invocation to release.
const NoInvocation = -1

// Request is a billing request waiting to be sent or awaiting its
// asynchronous response. Exactly one kind per request; the other fields are
// populated per kind by the constructors below.
type Request struct {
	kind         requestKind
	invocationID int

	itemID           string
	itemType         string
	developerPayload string
	notifyIDs        []string

	// needsNonce marks kinds whose response is a signed payload. The nonce
	// itself is generated fresh for every send attempt, so a request that
	// fails to deliver and is retried never reuses a consumed nonce.
	needsNonce bool
	nonce      int64

	// requestID correlates the asynchronous response code, set once the
	// request has been sent.
	requestID int64
}

func newCheckSupported(itemType string) *Request {
	return &Request{kind: kindCheckSupported, invocationID: NoInvocation, itemType: itemType}
}

func newRequestPurchase(itemID, itemType, developerPayload string) *Request {
	return &Request{
		kind:             kindRequestPurchase,
		invocationID:     NoInvocation,
		itemID:           itemID,
		itemType:         itemType,
		developerPayload: developerPayload,
	}
}

func newConfirmNotifications(invocationID int, notifyIDs []string) *Request {
	return &Request{kind: kindConfirmNotifications, invocationID: invocationID, notifyIDs: notifyIDs}
}

func newGetPurchaseInfo(invocationID int, notifyIDs []string) *Request {
	return &Request{
		kind:         kindGetPurchaseInfo,
		invocationID: invocationID,
		notifyIDs:    notifyIDs,
		needsNonce:   true,
	}
}

func newRestoreTransactions() *Request {
	return &Request{
		kind:         kindRestoreTransactions,
		invocationID: NoInvocation,
		needsNonce:   true,
	}
}

// wireRequest builds the bundle for the market from the request variant.
func (s *Service) wireRequest(req *Request) *WireRequest {
	w := &WireRequest{
		Method:      req.kind.String(),
		APIVersion:  apiVersion,
		PackageName: s.packageName,
		DeviceID:    s.deviceID,
	}
	switch req.kind {
	case kindCheckSupported:
		w.ItemType = req.itemType
	case kindRequestPurchase:
		w.ItemID = req.itemID
		w.ItemType = req.itemType
		w.DeveloperPayload = req.developerPayload
	case kindGetPurchaseInfo:
		w.Nonce = req.nonce
		w.NotifyIDs = req.notifyIDs
	case kindConfirmNotifications:
		w.NotifyIDs = req.notifyIDs
	case kindRestoreTransactions:
		w.Nonce = req.nonce
	}
	return w
}

// completeSend handles the synchronous part of a market response.
// CheckBillingSupported completes entirely here: it is never tracked
// in-flight and its answer is derived from the response code.
func (s *Service) completeSend(req *Request, resp *WireResponse) {
	switch req.kind {
	case kindCheckSupported:
		s.emit(BillingSupported{
			Supported: resp.ResponseCode == models.ResultOK,
			ItemType:  req.itemType,
		})
	case kindRequestPurchase:
		if resp.ResponseCode == models.ResultOK {
			if resp.FlowToken == "" {
				slog.Error("purchase response carried no flow token", "item", req.itemID)
				return
			}
			s.emit(StartPurchaseFlow{FlowToken: resp.FlowToken, ProductID: req.itemID})
		}
	}
}

// sendFailed rolls back side effects of a request that never made it to the
// market. The failed attempt's nonce is unregistered; a retry generates its
// own.
func (s *Service) sendFailed(req *Request) {
	if req.needsNonce {
		s.verifier.RemoveNonce(req.nonce)
	}
}

// responseReceived routes the asynchronous response code for a previously
// sent request.
func (s *Service) responseReceived(req *Request, code models.ResponseCode) {
	switch req.kind {
	case kindRequestPurchase:
		s.emit(RequestPurchaseResponse{ProductID: req.itemID, Code: code})
	case kindRestoreTransactions:
		s.emit(RestoreTransactionsResponse{Code: code})
	default:
		slog.Debug("response code acknowledged", "method", req.kind.String(), "code", code.String())
	}
}
