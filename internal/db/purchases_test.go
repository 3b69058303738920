package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/playbill/internal/models"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	database, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	database, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer database.Close()

	dbPath := filepath.Join(dir, ".playbill", "purchase.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file not created")
	}
}

func TestOpenWithoutInit(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("expected error opening uninitialized ledger")
	}
}

func TestUpdatePurchase(t *testing.T) {
	database := setupDB(t)

	qty, err := database.UpdatePurchase("order-1", "sword", models.StatePurchased, 1000, "payload")
	if err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if qty != 1 {
		t.Errorf("quantity = %d, want 1", qty)
	}

	qty, err = database.UpdatePurchase("order-2", "sword", models.StatePurchased, 2000, "")
	if err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if qty != 2 {
		t.Errorf("quantity = %d, want 2", qty)
	}
}

func TestUpdatePurchaseIdempotent(t *testing.T) {
	database := setupDB(t)

	for i := 0; i < 3; i++ {
		qty, err := database.UpdatePurchase("order-1", "sword", models.StatePurchased, 1000, "")
		if err != nil {
			t.Fatalf("UpdatePurchase failed: %v", err)
		}
		if qty != 1 {
			t.Errorf("replay %d: quantity = %d, want 1", i, qty)
		}
	}

	entries, err := database.PurchaseHistory()
	if err != nil {
		t.Fatalf("PurchaseHistory failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history rows = %d, want 1", len(entries))
	}
}

func TestRefundStillCounts(t *testing.T) {
	database := setupDB(t)

	if _, err := database.UpdatePurchase("order-1", "sword", models.StatePurchased, 1000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}

	// A refund replaces the order's state but the item stays owned.
	qty, err := database.UpdatePurchase("order-1", "sword", models.StateRefunded, 2000, "")
	if err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if qty != 1 {
		t.Errorf("quantity after refund = %d, want 1", qty)
	}
}

func TestCancelRemovesProjectionRow(t *testing.T) {
	database := setupDB(t)

	if _, err := database.UpdatePurchase("order-1", "sword", models.StatePurchased, 1000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	qty, err := database.UpdatePurchase("order-1", "sword", models.StateCanceled, 2000, "")
	if err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if qty != 0 {
		t.Errorf("quantity after cancel = %d, want 0", qty)
	}

	items, err := database.AllPurchasedItems()
	if err != nil {
		t.Fatalf("AllPurchasedItems failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("projection rows = %d, want 0", len(items))
	}

	qty, err = database.OwnedQuantity("sword")
	if err != nil {
		t.Fatalf("OwnedQuantity failed: %v", err)
	}
	if qty != 0 {
		t.Errorf("OwnedQuantity = %d, want 0", qty)
	}
}

func TestPurchaseHistoryOrder(t *testing.T) {
	database := setupDB(t)

	if _, err := database.UpdatePurchase("order-old", "sword", models.StatePurchased, 1000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if _, err := database.UpdatePurchase("order-new", "shield", models.StatePurchased, 5000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}

	entries, err := database.PurchaseHistory()
	if err != nil {
		t.Fatalf("PurchaseHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history rows = %d, want 2", len(entries))
	}
	if entries[0].OrderID != "order-new" {
		t.Errorf("newest first: got %s", entries[0].OrderID)
	}
	if entries[1].ProductID != "sword" {
		t.Errorf("oldest entry product = %s, want sword", entries[1].ProductID)
	}
}

func TestOwnedQuantityPerProduct(t *testing.T) {
	database := setupDB(t)

	if _, err := database.UpdatePurchase("order-1", "sword", models.StatePurchased, 1000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if _, err := database.UpdatePurchase("order-2", "shield", models.StatePurchased, 2000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}
	if _, err := database.UpdatePurchase("order-3", "shield", models.StatePurchased, 3000, ""); err != nil {
		t.Fatalf("UpdatePurchase failed: %v", err)
	}

	items, err := database.AllPurchasedItems()
	if err != nil {
		t.Fatalf("AllPurchasedItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("projection rows = %d, want 2", len(items))
	}

	qty, err := database.OwnedQuantity("shield")
	if err != nil {
		t.Fatalf("OwnedQuantity failed: %v", err)
	}
	if qty != 2 {
		t.Errorf("shield quantity = %d, want 2", qty)
	}
}
