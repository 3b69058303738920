package db

import (
	"database/sql"
	"fmt"

	"github.com/marcus/playbill/internal/models"
)

// UpdatePurchase records a purchase in the history and returns the total
// number of times the product has been purchased. The order id is the
// primary key, so redelivery of the same order from the market replaces
// the existing row and never double-counts ownership.
//
// A refunded purchase still counts toward the owned quantity. Such a
// friendly refund policy is nice for the user.
func (db *DB) UpdatePurchase(orderID, productID string, state models.PurchaseState, purchaseTime int64, developerPayload string) (int, error) {
	var quantity int

	err := db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`REPLACE INTO history (_id, productId, state, purchaseTime, developerPayload)
			 VALUES (?, ?, ?, ?, ?)`,
			orderID, productID, int(state), purchaseTime, developerPayload,
		)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", orderID, err)
		}

		err = tx.QueryRow(
			`SELECT COUNT(*) FROM history WHERE productId = ? AND state IN (?, ?)`,
			productID, int(models.StatePurchased), int(models.StateRefunded),
		).Scan(&quantity)
		if err != nil {
			return fmt.Errorf("count purchases for %s: %w", productID, err)
		}

		if quantity == 0 {
			_, err = tx.Exec(`DELETE FROM purchased WHERE _id = ?`, productID)
		} else {
			_, err = tx.Exec(
				`REPLACE INTO purchased (_id, quantity) VALUES (?, ?)`,
				productID, quantity,
			)
		}
		if err != nil {
			return fmt.Errorf("update purchased item %s: %w", productID, err)
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return quantity, nil
}

// AllPurchasedItems returns the owned-quantity projection for every product
// with a non-zero quantity.
func (db *DB) AllPurchasedItems() ([]models.PurchasedItem, error) {
	rows, err := db.conn.Query(`SELECT _id, quantity FROM purchased ORDER BY _id`)
	if err != nil {
		return nil, fmt.Errorf("query purchased items: %w", err)
	}
	defer rows.Close()

	var items []models.PurchasedItem
	for rows.Next() {
		var item models.PurchasedItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan purchased item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

// OwnedQuantity returns the owned quantity for one product (0 if none).
func (db *DB) OwnedQuantity(productID string) (int, error) {
	var quantity int
	err := db.conn.QueryRow(
		`SELECT quantity FROM purchased WHERE _id = ?`, productID,
	).Scan(&quantity)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query owned quantity: %w", err)
	}
	return quantity, nil
}

// PurchaseHistory returns every history entry, most recent purchase first.
func (db *DB) PurchaseHistory() ([]models.HistoryEntry, error) {
	rows, err := db.conn.Query(
		`SELECT _id, productId, state, purchaseTime, developerPayload
		 FROM history ORDER BY purchaseTime DESC, _id`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var state int
		var payload sql.NullString
		if err := rows.Scan(&e.OrderID, &e.ProductID, &state, &e.PurchaseTime, &payload); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.State = models.PurchaseState(state)
		e.DeveloperPayload = payload.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}
