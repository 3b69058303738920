package market

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcus/playbill/internal/models"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS orders (
    order_id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    state INTEGER NOT NULL,
    purchase_time INTEGER NOT NULL,
    developer_payload TEXT NOT NULL DEFAULT '',
    notify_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_orders_device ON orders(device_id);
CREATE INDEX IF NOT EXISTS idx_orders_notify ON orders(device_id, notify_id);
`

// Store persists the simulator's order book. It runs over a caller-provided
// database handle so the serve command and tests can pick their own driver.
type Store struct {
	conn *sql.DB
}

// Order is one purchase the simulator has processed for a device. NotifyID
// is cleared once the client confirms the notification.
type Order struct {
	OrderID          string
	DeviceID         string
	ProductID        string
	State            models.PurchaseState
	PurchaseTime     int64
	DeveloperPayload string
	NotifyID         string
}

// NewStore applies the schema and wraps the connection.
func NewStore(conn *sql.DB) (*Store, error) {
	if _, err := conn.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("apply market schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// SaveOrder inserts or replaces an order.
func (s *Store) SaveOrder(o Order) error {
	_, err := s.conn.Exec(`
		REPLACE INTO orders (order_id, device_id, product_id, state, purchase_time, developer_payload, notify_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.DeviceID, o.ProductID, int(o.State), o.PurchaseTime, o.DeveloperPayload, o.NotifyID)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

// OrdersByNotifyIDs returns the device's orders behind the given pending
// notification ids, in insertion order.
func (s *Store) OrdersByNotifyIDs(deviceID string, notifyIDs []string) ([]Order, error) {
	if len(notifyIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(notifyIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(notifyIDs)+1)
	args = append(args, deviceID)
	for _, id := range notifyIDs {
		args = append(args, id)
	}

	rows, err := s.conn.Query(`
		SELECT order_id, device_id, product_id, state, purchase_time, developer_payload, notify_id
		FROM orders
		WHERE device_id = ? AND notify_id IN (`+placeholders+`)
		ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders by notify ids: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// OrdersByDevice returns every order the device has ever placed, oldest
// first. Used by RestoreTransactions.
func (s *Store) OrdersByDevice(deviceID string) ([]Order, error) {
	rows, err := s.conn.Query(`
		SELECT order_id, device_id, product_id, state, purchase_time, developer_payload, notify_id
		FROM orders
		WHERE device_id = ?
		ORDER BY rowid`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query orders for device %s: %w", deviceID, err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ClearNotifications marks the given notification ids confirmed so they
// are no longer redelivered.
func (s *Store) ClearNotifications(deviceID string, notifyIDs []string) error {
	if len(notifyIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(notifyIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(notifyIDs)+1)
	args = append(args, deviceID)
	for _, id := range notifyIDs {
		args = append(args, id)
	}

	if _, err := s.conn.Exec(`
		UPDATE orders SET notify_id = ''
		WHERE device_id = ? AND notify_id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		var o Order
		var state int
		if err := rows.Scan(&o.OrderID, &o.DeviceID, &o.ProductID, &state, &o.PurchaseTime, &o.DeveloperPayload, &o.NotifyID); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.State = models.PurchaseState(state)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
