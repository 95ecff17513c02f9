package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/example/canteen-fulfillment/internal/readmodel"
)

// PostgresReadStore persists mirrors in PostgreSQL. Order mirrors keep
// status and expiry as real columns so the sweeper and dashboards can
// query them; the rest of the record rides along as JSON.
type PostgresReadStore struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

// Set stores a read model
func (rs *PostgresReadStore) Set(collection, id string, data any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch collection {
	case "orders":
		if m, ok := data.(*readmodel.OrderMirror); ok {
			rs.setOrderUnsafe(id, m)
		}
	case "stock":
		if m, ok := data.(*readmodel.StockMirror); ok {
			rs.setStockUnsafe(id, m)
		}
	}
}

// Get retrieves a read model by id
func (rs *PostgresReadStore) Get(collection, id string) (any, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	switch collection {
	case "orders":
		m, ok := rs.getOrderUnsafe(id)
		if !ok {
			return nil, false
		}
		return m, true
	case "stock":
		m, ok := rs.getStockUnsafe(id)
		if !ok {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

// GetAll retrieves all items in a collection
func (rs *PostgresReadStore) GetAll(collection string) []any {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	switch collection {
	case "orders":
		return rs.getAllOrdersUnsafe()
	case "stock":
		return rs.getAllStockUnsafe()
	}
	return nil
}

// Delete removes a read model
func (rs *PostgresReadStore) Delete(collection, id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var query string
	switch collection {
	case "orders":
		query = "DELETE FROM order_mirrors WHERE code = $1"
	case "stock":
		query = "DELETE FROM stock_mirrors WHERE item_id = $1"
	default:
		return
	}
	if _, err := rs.db.Exec(query, id); err != nil {
		log.Printf("[ReadStore] Failed to delete %s/%s: %v", collection, id, err)
	}
}

// Update modifies a read model using an update function
func (rs *PostgresReadStore) Update(collection, id string, updateFn func(current any) any) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch collection {
	case "orders":
		current, ok := rs.getOrderUnsafe(id)
		if !ok {
			return false
		}
		updated, ok := updateFn(current).(*readmodel.OrderMirror)
		if !ok {
			return false
		}
		rs.setOrderUnsafe(id, updated)
		return true
	case "stock":
		current, ok := rs.getStockUnsafe(id)
		if !ok {
			return false
		}
		updated, ok := updateFn(current).(*readmodel.StockMirror)
		if !ok {
			return false
		}
		rs.setStockUnsafe(id, updated)
		return true
	}
	return false
}

// Order mirror helpers

func (rs *PostgresReadStore) setOrderUnsafe(code string, m *readmodel.OrderMirror) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("[ReadStore] Failed to marshal order mirror %s: %v", code, err)
		return
	}

	_, err = rs.db.Exec(
		`INSERT INTO order_mirrors (code, buyer_id, status, expires_at, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code)
		 DO UPDATE SET buyer_id = $2, status = $3, expires_at = $4, data = $5, updated_at = $6`,
		code, m.BuyerID, m.Status, m.ExpiresAt, data, time.Now(),
	)
	if err != nil {
		log.Printf("[ReadStore] Failed to upsert order mirror %s: %v", code, err)
	}
}

func (rs *PostgresReadStore) getOrderUnsafe(code string) (*readmodel.OrderMirror, bool) {
	var data []byte
	err := rs.db.QueryRow("SELECT data FROM order_mirrors WHERE code = $1", code).Scan(&data)
	if err != nil {
		return nil, false
	}

	var m readmodel.OrderMirror
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return &m, true
}

func (rs *PostgresReadStore) getAllOrdersUnsafe() []any {
	rows, err := rs.db.Query("SELECT data FROM order_mirrors ORDER BY updated_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var items []any
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var m readmodel.OrderMirror
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		items = append(items, &m)
	}
	return items
}

// ListOverdueOrders returns codes of mirrored orders still marked active
// whose expiry has passed. The reconciler targets these first: the
// authoritative side has usually expired them durably already.
func (rs *PostgresReadStore) ListOverdueOrders(now time.Time) []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rows, err := rs.db.Query(
		"SELECT code FROM order_mirrors WHERE status = 'active' AND expires_at < $1", now,
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

// Stock mirror helpers

func (rs *PostgresReadStore) setStockUnsafe(itemID string, m *readmodel.StockMirror) {
	_, err := rs.db.Exec(
		`INSERT INTO stock_mirrors (item_id, total_stock, reserved_stock, available_stock, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (item_id)
		 DO UPDATE SET total_stock = $2, reserved_stock = $3, available_stock = $4, updated_at = $5`,
		itemID, m.TotalStock, m.ReservedStock, m.AvailableStock, time.Now(),
	)
	if err != nil {
		log.Printf("[ReadStore] Failed to upsert stock mirror %s: %v", itemID, err)
	}
}

func (rs *PostgresReadStore) getStockUnsafe(itemID string) (*readmodel.StockMirror, bool) {
	var m readmodel.StockMirror
	err := rs.db.QueryRow(
		"SELECT item_id, total_stock, reserved_stock, available_stock FROM stock_mirrors WHERE item_id = $1",
		itemID,
	).Scan(&m.ItemID, &m.TotalStock, &m.ReservedStock, &m.AvailableStock)
	if err != nil {
		return nil, false
	}
	return &m, true
}

func (rs *PostgresReadStore) getAllStockUnsafe() []any {
	rows, err := rs.db.Query(
		"SELECT item_id, total_stock, reserved_stock, available_stock FROM stock_mirrors ORDER BY item_id",
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var items []any
	for rows.Next() {
		var m readmodel.StockMirror
		if err := rows.Scan(&m.ItemID, &m.TotalStock, &m.ReservedStock, &m.AvailableStock); err != nil {
			continue
		}
		items = append(items, &m)
	}
	return items
}

// InitMirrorSchema creates the mirror tables if they do not exist
func InitMirrorSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS order_mirrors (
			code       TEXT PRIMARY KEY,
			buyer_id   TEXT NOT NULL,
			status     TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_order_mirrors_status ON order_mirrors (status, expires_at);
		CREATE TABLE IF NOT EXISTS stock_mirrors (
			item_id         TEXT PRIMARY KEY,
			total_stock     INT NOT NULL,
			reserved_stock  INT NOT NULL,
			available_stock INT NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}
