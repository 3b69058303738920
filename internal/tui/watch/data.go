package watch

import (
	"fmt"
	"time"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/models"
)

// ownedRow is one line of the ownership panel.
type ownedRow struct {
	ProductID string
	Quantity  int
}

// historyRow is one line of the history panel.
type historyRow struct {
	ProductID    string
	State        models.PurchaseState
	PurchaseTime int64
	OrderID      string
}

// RefreshDataMsg carries a fresh ledger snapshot
type RefreshDataMsg struct {
	Owned     []ownedRow
	History   []historyRow
	Err       error
	Timestamp time.Time
}

// historyLimit caps how many ledger rows the history panel loads.
const historyLimit = 50

// FetchData reads the ledger for the owned and history panels.
func FetchData(database *db.DB) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}

	items, err := database.AllPurchasedItems()
	if err != nil {
		msg.Err = err
		return msg
	}
	for _, item := range items {
		msg.Owned = append(msg.Owned, ownedRow{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	entries, err := database.PurchaseHistory()
	if err != nil {
		msg.Err = err
		return msg
	}
	if len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}
	for _, e := range entries {
		msg.History = append(msg.History, historyRow{
			ProductID:    e.ProductID,
			State:        e.State,
			PurchaseTime: e.PurchaseTime,
			OrderID:      e.OrderID,
		})
	}
	return msg
}

// applyEvent folds a billing event into the model's connection state and
// event feed.
func (m *Model) applyEvent(ev billing.Event) {
	var line string
	switch e := ev.(type) {
	case billing.BillingSupported:
		m.Connected = true
		supported := e.Supported
		m.Supported = &supported
		line = fmt.Sprintf("billing supported: %v (%s)", e.Supported, e.ItemType)
	case billing.StartPurchaseFlow:
		m.Connected = true
		line = fmt.Sprintf("purchase flow started for %s (token %s)", e.ProductID, e.FlowToken)
	case billing.RequestPurchaseResponse:
		m.Connected = true
		line = fmt.Sprintf("purchase response for %s: %s", e.ProductID, e.Code)
	case billing.RestoreTransactionsResponse:
		m.Connected = true
		line = fmt.Sprintf("restore response: %s", e.Code)
	case billing.PurchaseStateChange:
		m.Connected = true
		line = fmt.Sprintf("%s %s (owned x%d)", e.State, e.ProductID, e.Quantity)
	default:
		line = fmt.Sprintf("%T", ev)
	}
	m.Feed = append(m.Feed, FeedItem{Timestamp: time.Now(), Line: line})
	if len(m.Feed) > maxFeedItems {
		m.Feed = m.Feed[len(m.Feed)-maxFeedItems:]
	}
}
