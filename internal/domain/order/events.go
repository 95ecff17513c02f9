package order

import "time"

const (
	EventOrderAuthorized = "OrderAuthorized"
	EventItemsDelivered  = "ItemsDelivered"
	EventOrderConsumed   = "OrderConsumed"
	EventOrderExpired    = "OrderExpired"
	EventOrderCancelled  = "OrderCancelled"
)

// OrderAuthorized is the creation event: payment was accepted, stock was
// reserved and a pickup code was minted.
type OrderAuthorized struct {
	Code             string                `json:"code"`
	BuyerID          string                `json:"buyer_id"`
	BuyerName        string                `json:"buyer_name"`
	BuyerEmail       string                `json:"buyer_email,omitempty"`
	Groups           map[string][]LineItem `json:"groups"`
	StationsInvolved []string              `json:"stations_involved"`
	Total            int                   `json:"total"`
	GeneratedBy      string                `json:"generated_by"`
	CreatedAt        time.Time             `json:"created_at"`
	ExpiresAt        time.Time             `json:"expires_at"`
}

// ItemsDelivered records one station handing over its share of the order
type ItemsDelivered struct {
	Code        string    `json:"code"`
	StationID   string    `json:"station_id"`
	DeliveredBy string    `json:"delivered_by"`
	ItemIDs     []string  `json:"item_ids"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// OrderConsumed marks the order fully delivered; the code is spent
type OrderConsumed struct {
	Code   string    `json:"code"`
	UsedAt time.Time `json:"used_at"`
}

type OrderExpired struct {
	Code      string    `json:"code"`
	ExpiredAt time.Time `json:"expired_at"`
}

type OrderCancelled struct {
	Code        string    `json:"code"`
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}
