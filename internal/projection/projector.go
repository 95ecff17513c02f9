package projection

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/canteen-fulfillment/internal/domain/order"
	"github.com/example/canteen-fulfillment/internal/domain/stock"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
	"github.com/example/canteen-fulfillment/internal/readmodel"
)

// Projector folds the event stream into the order and stock mirrors. It is
// wired either directly behind the event store or behind a Kafka consumer,
// so a mirror may briefly lag the authoritative stream.
type Projector struct {
	readStore store.ReadStoreInterface
}

func NewProjector(readStore store.ReadStoreInterface) *Projector {
	return &Projector{readStore: readStore}
}

func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}

	log.Printf("[Projector] Received event: %s (aggregate: %s)", event.EventType, event.AggregateID)

	switch event.AggregateType {
	case order.AggregateType:
		return p.handleOrderEvent(event)
	case stock.AggregateType:
		return p.handleStockEvent(event)
	}

	return nil
}

// Replay rebuilds the mirrors from the full event history. Used on boot so
// a restarted mirror service starts consistent instead of empty.
func (p *Projector) Replay(ctx context.Context, eventStore store.EventStoreInterface) error {
	events := eventStore.GetAllEvents()
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := p.HandleEvent(ctx, []byte(event.AggregateID), value); err != nil {
			return err
		}
	}
	log.Printf("[Projector] Replayed %d events", len(events))
	return nil
}

func (p *Projector) handleOrderEvent(event store.Event) error {
	switch event.EventType {
	case order.EventOrderAuthorized:
		var e order.OrderAuthorized
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		groups := make(map[string][]readmodel.LineItemMirror, len(e.Groups))
		for station, lines := range e.Groups {
			mirrors := make([]readmodel.LineItemMirror, len(lines))
			for i, li := range lines {
				mirrors[i] = readmodel.LineItemMirror{
					ItemID:    li.ItemID,
					Name:      li.Name,
					Quantity:  li.Quantity,
					UnitPrice: li.UnitPrice,
					LineTotal: li.LineTotal(),
				}
			}
			groups[station] = mirrors
		}
		p.readStore.Set("orders", e.Code, &readmodel.OrderMirror{
			Code:             e.Code,
			BuyerID:          e.BuyerID,
			BuyerName:        e.BuyerName,
			BuyerEmail:       e.BuyerEmail,
			Groups:           groups,
			StationsInvolved: e.StationsInvolved,
			Total:            e.Total,
			Status:           string(order.StatusActive),
			GeneratedBy:      e.GeneratedBy,
			CreatedAt:        e.CreatedAt,
			ExpiresAt:        e.ExpiresAt,
			UpdatedAt:        e.CreatedAt,
		})

	case order.EventItemsDelivered:
		var e order.ItemsDelivered
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("orders", e.Code, func(current any) any {
			m := current.(*readmodel.OrderMirror)
			delivered := make(map[string]bool, len(e.ItemIDs))
			for _, id := range e.ItemIDs {
				delivered[id] = true
			}
			lines := m.Groups[e.StationID]
			stationDone := true
			for i := range lines {
				if delivered[lines[i].ItemID] {
					lines[i].Delivered = true
				}
				if !lines[i].Delivered {
					stationDone = false
				}
			}
			if stationDone && !contains(m.StationsCompleted, e.StationID) {
				m.StationsCompleted = append(m.StationsCompleted, e.StationID)
			}
			m.UpdatedAt = e.DeliveredAt
			return m
		})

	case order.EventOrderConsumed:
		var e order.OrderConsumed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("orders", e.Code, func(current any) any {
			m := current.(*readmodel.OrderMirror)
			m.Status = string(order.StatusUsed)
			usedAt := e.UsedAt
			m.UsedAt = &usedAt
			m.UpdatedAt = e.UsedAt
			return m
		})

	case order.EventOrderExpired:
		var e order.OrderExpired
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("orders", e.Code, func(current any) any {
			m := current.(*readmodel.OrderMirror)
			m.Status = string(order.StatusExpired)
			m.UpdatedAt = e.ExpiredAt
			return m
		})

	case order.EventOrderCancelled:
		var e order.OrderCancelled
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("orders", e.Code, func(current any) any {
			m := current.(*readmodel.OrderMirror)
			m.Status = string(order.StatusCancelled)
			m.UpdatedAt = e.CancelledAt
			return m
		})
	}

	return nil
}

func (p *Projector) handleStockEvent(event store.Event) error {
	switch event.EventType {
	case stock.EventStockAdded:
		var e stock.StockAdded
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		existing, ok := p.readStore.Get("stock", e.ItemID)
		if !ok {
			p.readStore.Set("stock", e.ItemID, &readmodel.StockMirror{
				ItemID:         e.ItemID,
				TotalStock:     e.Quantity,
				AvailableStock: e.Quantity,
			})
		} else {
			m := existing.(*readmodel.StockMirror)
			m.TotalStock += e.Quantity
			m.AvailableStock = m.TotalStock - m.ReservedStock
			p.readStore.Set("stock", e.ItemID, m)
		}

	case stock.EventStockReserved:
		var e stock.StockReserved
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("stock", e.ItemID, func(current any) any {
			m := current.(*readmodel.StockMirror)
			m.ReservedStock += e.Quantity
			m.AvailableStock = m.TotalStock - m.ReservedStock
			return m
		})

	case stock.EventStockReleased:
		var e stock.StockReleased
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("stock", e.ItemID, func(current any) any {
			m := current.(*readmodel.StockMirror)
			m.ReservedStock -= e.Quantity
			if m.ReservedStock < 0 {
				m.ReservedStock = 0
			}
			m.AvailableStock = m.TotalStock - m.ReservedStock
			return m
		})

	case stock.EventStockDeducted:
		var e stock.StockDeducted
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		p.readStore.Update("stock", e.ItemID, func(current any) any {
			m := current.(*readmodel.StockMirror)
			m.TotalStock -= e.Quantity
			m.ReservedStock -= e.Quantity
			if m.TotalStock < 0 {
				m.TotalStock = 0
			}
			if m.ReservedStock < 0 {
				m.ReservedStock = 0
			}
			m.AvailableStock = m.TotalStock - m.ReservedStock
			return m
		})
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
