package market

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/playbill/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	store, err := NewStore(conn)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestSaveAndLoadOrders(t *testing.T) {
	store := setupStore(t)

	orders := []Order{
		{OrderID: "o-1", DeviceID: "dev-1", ProductID: "sword", State: models.StatePurchased, PurchaseTime: 1000, NotifyID: "n-1"},
		{OrderID: "o-2", DeviceID: "dev-1", ProductID: "shield", State: models.StatePurchased, PurchaseTime: 2000, NotifyID: "n-2"},
		{OrderID: "o-3", DeviceID: "dev-2", ProductID: "sword", State: models.StateCanceled, PurchaseTime: 3000, NotifyID: "n-3"},
	}
	for _, o := range orders {
		if err := store.SaveOrder(o); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}
	}

	got, err := store.OrdersByDevice("dev-1")
	if err != nil {
		t.Fatalf("OrdersByDevice failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("orders = %d, want 2", len(got))
	}
	if got[0].OrderID != "o-1" || got[1].OrderID != "o-2" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestOrdersByNotifyIDs(t *testing.T) {
	store := setupStore(t)

	store.SaveOrder(Order{OrderID: "o-1", DeviceID: "dev-1", ProductID: "sword", State: models.StatePurchased, NotifyID: "n-1"})
	store.SaveOrder(Order{OrderID: "o-2", DeviceID: "dev-1", ProductID: "shield", State: models.StatePurchased, NotifyID: "n-2"})

	got, err := store.OrdersByNotifyIDs("dev-1", []string{"n-2"})
	if err != nil {
		t.Fatalf("OrdersByNotifyIDs failed: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "shield" {
		t.Fatalf("unexpected orders: %v", got)
	}

	// Another device cannot fetch them.
	got, err = store.OrdersByNotifyIDs("dev-2", []string{"n-2"})
	if err != nil {
		t.Fatalf("OrdersByNotifyIDs failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cross-device orders = %d, want 0", len(got))
	}
}

func TestClearNotifications(t *testing.T) {
	store := setupStore(t)

	store.SaveOrder(Order{OrderID: "o-1", DeviceID: "dev-1", ProductID: "sword", State: models.StatePurchased, NotifyID: "n-1"})
	if err := store.ClearNotifications("dev-1", []string{"n-1"}); err != nil {
		t.Fatalf("ClearNotifications failed: %v", err)
	}

	got, err := store.OrdersByNotifyIDs("dev-1", []string{"n-1"})
	if err != nil {
		t.Fatalf("OrdersByNotifyIDs failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("confirmed notification still resolves orders: %v", got)
	}

	// The order itself survives for restores.
	all, err := store.OrdersByDevice("dev-1")
	if err != nil {
		t.Fatalf("OrdersByDevice failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("orders = %d, want 1", len(all))
	}
}
