package command

import "github.com/example/canteen-fulfillment/internal/domain/order"

// Order Commands
type CreateOrder struct {
	BuyerID     string                      `json:"buyer_id"`
	BuyerName   string                      `json:"buyer_name"`
	BuyerEmail  string                      `json:"buyer_email,omitempty"`
	Groups      map[string][]order.LineItem `json:"groups"`
	GeneratedBy string                      `json:"generated_by"`
	TTLHours    int                         `json:"ttl_hours,omitempty"`
}

type DeliverItems struct {
	Code        string   `json:"code"`
	StationID   string   `json:"station_id"`
	DeliveredBy string   `json:"delivered_by"`
	ItemIDs     []string `json:"item_ids,omitempty"`
}

type CancelOrder struct {
	Code        string `json:"code"`
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason"`
}

type ExpireOrder struct {
	Code string `json:"code"`
}

// Stock Commands
type AddStock struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}
