package query

import (
	"time"

	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
	"github.com/example/canteen-fulfillment/internal/readmodel"
)

// Handler serves reads from the mirror store. Mirrors may lag the
// authoritative stream; status answers apply the expiry deadline locally so
// an overdue mirror never reads as active.
type Handler struct {
	readStore store.ReadStoreInterface
	now       func() time.Time
}

func NewHandler(readStore store.ReadStoreInterface) *Handler {
	return &Handler{readStore: readStore, now: time.Now}
}

// GetOrder returns the mirrored order behind a pickup code
func (h *Handler) GetOrder(code string) (*readmodel.OrderMirror, bool) {
	data, ok := h.readStore.Get("orders", code)
	if !ok {
		return nil, false
	}
	m, ok := data.(*readmodel.OrderMirror)
	if !ok {
		return nil, false
	}
	if m.Status == "active" && h.now().After(m.ExpiresAt) {
		view := *m
		view.Status = "expired"
		return &view, true
	}
	return m, true
}

// ListOrdersByBuyer returns every mirrored order of one buyer
func (h *Handler) ListOrdersByBuyer(buyerID string) []*readmodel.OrderMirror {
	items := h.readStore.GetAll("orders")
	orders := make([]*readmodel.OrderMirror, 0)
	for _, item := range items {
		m, ok := item.(*readmodel.OrderMirror)
		if !ok {
			continue
		}
		if m.BuyerID == buyerID {
			orders = append(orders, m)
		}
	}
	return orders
}

// ListActiveOrders returns every mirror still awaiting pickup
func (h *Handler) ListActiveOrders() []*readmodel.OrderMirror {
	items := h.readStore.GetAll("orders")
	orders := make([]*readmodel.OrderMirror, 0)
	for _, item := range items {
		m, ok := item.(*readmodel.OrderMirror)
		if !ok {
			continue
		}
		if !m.Terminal() {
			orders = append(orders, m)
		}
	}
	return orders
}

// ListOrdersForStation returns active mirrors that involve the station and
// that the station has not completed yet. This is the station's work queue.
func (h *Handler) ListOrdersForStation(stationID string) []*readmodel.OrderMirror {
	items := h.readStore.GetAll("orders")
	orders := make([]*readmodel.OrderMirror, 0)
	for _, item := range items {
		m, ok := item.(*readmodel.OrderMirror)
		if !ok {
			continue
		}
		if m.Terminal() {
			continue
		}
		if _, ok := m.Groups[stationID]; !ok {
			continue
		}
		completed := false
		for _, s := range m.StationsCompleted {
			if s == stationID {
				completed = true
				break
			}
		}
		if !completed {
			orders = append(orders, m)
		}
	}
	return orders
}

// GetStock returns the mirrored ledger entry for an item
func (h *Handler) GetStock(itemID string) (*readmodel.StockMirror, bool) {
	data, ok := h.readStore.Get("stock", itemID)
	if !ok {
		return nil, false
	}
	m, ok := data.(*readmodel.StockMirror)
	if !ok {
		return nil, false
	}
	return m, true
}

// ListStock returns every mirrored ledger entry
func (h *Handler) ListStock() []*readmodel.StockMirror {
	items := h.readStore.GetAll("stock")
	entries := make([]*readmodel.StockMirror, 0, len(items))
	for _, item := range items {
		if m, ok := item.(*readmodel.StockMirror); ok {
			entries = append(entries, m)
		}
	}
	return entries
}
