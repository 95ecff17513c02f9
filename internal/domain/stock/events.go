package stock

import "time"

const (
	EventStockAdded    = "StockAdded"
	EventStockReserved = "StockReserved"
	EventStockReleased = "StockReleased"
	EventStockDeducted = "StockDeducted"
)

type StockAdded struct {
	ItemID   string    `json:"item_id"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

type StockReserved struct {
	ItemID     string    `json:"item_id"`
	OrderCode  string    `json:"order_code"`
	Quantity   int       `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}

type StockReleased struct {
	ItemID     string    `json:"item_id"`
	OrderCode  string    `json:"order_code"`
	Quantity   int       `json:"quantity"`
	ReleasedAt time.Time `json:"released_at"`
}

type StockDeducted struct {
	ItemID     string    `json:"item_id"`
	OrderCode  string    `json:"order_code"`
	Quantity   int       `json:"quantity"`
	DeductedAt time.Time `json:"deducted_at"`
}
