package readmodel

import "time"

// LineItemMirror is one line of a station's group in a mirrored order
type LineItemMirror struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
	LineTotal int    `json:"line_total"`
	Delivered bool   `json:"delivered"`
}

// OrderMirror is a client-side copy of one authoritative order record,
// keyed by pickup code. Mirrors are replaced wholesale on reconcile; no
// field of a mirror is ever merged back into the authoritative store.
type OrderMirror struct {
	Code              string                      `json:"code"`
	BuyerID           string                      `json:"buyer_id"`
	BuyerName         string                      `json:"buyer_name"`
	BuyerEmail        string                      `json:"buyer_email,omitempty"`
	Groups            map[string][]LineItemMirror `json:"groups"`
	StationsInvolved  []string                    `json:"stations_involved"`
	StationsCompleted []string                    `json:"stations_completed"`
	Total             int                         `json:"total"`
	Status            string                      `json:"status"`
	GeneratedBy       string                      `json:"generated_by,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	ExpiresAt         time.Time                   `json:"expires_at"`
	UsedAt            *time.Time                  `json:"used_at,omitempty"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// Terminal reports whether the mirrored status can never change again.
// Pollers stop once their local copy is terminal.
func (m *OrderMirror) Terminal() bool {
	return m.Status == "used" || m.Status == "expired" || m.Status == "cancelled"
}

// StockMirror is the read model for one stock ledger entry
type StockMirror struct {
	ItemID         string `json:"item_id"`
	TotalStock     int    `json:"total_stock"`
	ReservedStock  int    `json:"reserved_stock"`
	AvailableStock int    `json:"available_stock"`
}
