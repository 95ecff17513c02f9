package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/canteen-fulfillment/internal/domain/order"
	"github.com/example/canteen-fulfillment/internal/domain/stock"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
	"github.com/example/canteen-fulfillment/internal/readmodel"
)

var projBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func envelope(t *testing.T, aggregateType, eventType, aggregateID string, version int, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	event := store.Event{
		ID:            "evt-1",
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		Timestamp:     projBase,
		Version:       version,
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return value
}

func authorizedEvent(t *testing.T) []byte {
	return envelope(t, order.AggregateType, order.EventOrderAuthorized, "KD4821", 1, order.OrderAuthorized{
		Code:      "KD4821",
		BuyerID:   "buyer-1",
		BuyerName: "Dana",
		Groups: map[string][]order.LineItem{
			"grill":  {{ItemID: "burger", Name: "Burger", Quantity: 1, UnitPrice: 650}},
			"drinks": {{ItemID: "cola", Name: "Cola", Quantity: 2, UnitPrice: 180}},
		},
		StationsInvolved: []string{"drinks", "grill"},
		Total:            1010,
		GeneratedBy:      "kiosk-3",
		CreatedAt:        projBase,
		ExpiresAt:        projBase.Add(24 * time.Hour),
	})
}

func getOrderMirror(t *testing.T, rs store.ReadStoreInterface, code string) *readmodel.OrderMirror {
	t.Helper()
	data, ok := rs.Get("orders", code)
	require.True(t, ok)
	return data.(*readmodel.OrderMirror)
}

// ============================================
// Order events
// ============================================

func TestProjector_OrderAuthorized(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs)

	require.NoError(t, p.HandleEvent(context.Background(), []byte("KD4821"), authorizedEvent(t)))

	m := getOrderMirror(t, rs, "KD4821")
	assert.Equal(t, "active", m.Status)
	assert.Equal(t, 1010, m.Total)
	assert.Equal(t, []string{"drinks", "grill"}, m.StationsInvolved)
	assert.Empty(t, m.StationsCompleted)
	assert.Equal(t, 650, m.Groups["grill"][0].LineTotal)
	assert.Equal(t, 360, m.Groups["drinks"][0].LineTotal)
	assert.False(t, m.Terminal())
}

func TestProjector_ItemsDeliveredCompletesStation(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs)
	require.NoError(t, p.HandleEvent(context.Background(), nil, authorizedEvent(t)))

	delivered := envelope(t, order.AggregateType, order.EventItemsDelivered, "KD4821", 2, order.ItemsDelivered{
		Code:        "KD4821",
		StationID:   "grill",
		DeliveredBy: "staff-7",
		ItemIDs:     []string{"burger"},
		DeliveredAt: projBase.Add(10 * time.Minute),
	})
	require.NoError(t, p.HandleEvent(context.Background(), nil, delivered))

	m := getOrderMirror(t, rs, "KD4821")
	assert.Equal(t, []string{"grill"}, m.StationsCompleted)
	assert.True(t, m.Groups["grill"][0].Delivered)
	assert.False(t, m.Groups["drinks"][0].Delivered)
	assert.Equal(t, "active", m.Status)
}

func TestProjector_OrderConsumed(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs)
	require.NoError(t, p.HandleEvent(context.Background(), nil, authorizedEvent(t)))

	usedAt := projBase.Add(30 * time.Minute)
	consumed := envelope(t, order.AggregateType, order.EventOrderConsumed, "KD4821", 4, order.OrderConsumed{
		Code:   "KD4821",
		UsedAt: usedAt,
	})
	require.NoError(t, p.HandleEvent(context.Background(), nil, consumed))

	m := getOrderMirror(t, rs, "KD4821")
	assert.Equal(t, "used", m.Status)
	require.NotNil(t, m.UsedAt)
	assert.Equal(t, usedAt, *m.UsedAt)
	assert.True(t, m.Terminal())
}

func TestProjector_OrderExpiredAndCancelled(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs)

	require.NoError(t, p.HandleEvent(context.Background(), nil, authorizedEvent(t)))
	expired := envelope(t, order.AggregateType, order.EventOrderExpired, "KD4821", 2, order.OrderExpired{
		Code:      "KD4821",
		ExpiredAt: projBase.Add(25 * time.Hour),
	})
	require.NoError(t, p.HandleEvent(context.Background(), nil, expired))
	assert.Equal(t, "expired", getOrderMirror(t, rs, "KD4821").Status)
}

// ============================================
// Stock events
// ============================================

func TestProjector_StockLifecycle(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs)
	ctx := context.Background()

	added := envelope(t, stock.AggregateType, stock.EventStockAdded, "burger", 1, stock.StockAdded{
		ItemID: "burger", Quantity: 10, AddedAt: projBase,
	})
	require.NoError(t, p.HandleEvent(ctx, nil, added))

	reserved := envelope(t, stock.AggregateType, stock.EventStockReserved, "burger", 2, stock.StockReserved{
		ItemID: "burger", OrderCode: "KD4821", Quantity: 4, ReservedAt: projBase,
	})
	require.NoError(t, p.HandleEvent(ctx, nil, reserved))

	data, ok := rs.Get("stock", "burger")
	require.True(t, ok)
	m := data.(*readmodel.StockMirror)
	assert.Equal(t, 10, m.TotalStock)
	assert.Equal(t, 4, m.ReservedStock)
	assert.Equal(t, 6, m.AvailableStock)

	deducted := envelope(t, stock.AggregateType, stock.EventStockDeducted, "burger", 3, stock.StockDeducted{
		ItemID: "burger", OrderCode: "KD4821", Quantity: 4, DeductedAt: projBase,
	})
	require.NoError(t, p.HandleEvent(ctx, nil, deducted))

	data, _ = rs.Get("stock", "burger")
	m = data.(*readmodel.StockMirror)
	assert.Equal(t, 6, m.TotalStock)
	assert.Equal(t, 0, m.ReservedStock)
	assert.Equal(t, 6, m.AvailableStock)
}

// ============================================
// Replay
// ============================================

func TestProjector_ReplayRebuildsMirrors(t *testing.T) {
	es := store.NewEventStore(nil)
	_, err := es.Append(context.Background(), "KD4821", order.AggregateType, order.EventOrderAuthorized, order.OrderAuthorized{
		Code:             "KD4821",
		BuyerID:          "buyer-1",
		Groups:           map[string][]order.LineItem{"grill": {{ItemID: "burger", Quantity: 1, UnitPrice: 650}}},
		StationsInvolved: []string{"grill"},
		Total:            650,
		CreatedAt:        projBase,
		ExpiresAt:        projBase.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = es.Append(context.Background(), "KD4821", order.AggregateType, order.EventOrderConsumed, order.OrderConsumed{
		Code:   "KD4821",
		UsedAt: projBase.Add(time.Hour),
	})
	require.NoError(t, err)

	rs := store.NewReadStore()
	p := NewProjector(rs)
	require.NoError(t, p.Replay(context.Background(), es))

	m := getOrderMirror(t, rs, "KD4821")
	assert.Equal(t, "used", m.Status)
}
