package command

import (
	"context"
	"log"
	"time"

	"github.com/example/canteen-fulfillment/internal/codegen"
	"github.com/example/canteen-fulfillment/internal/domain/order"
	"github.com/example/canteen-fulfillment/internal/domain/stock"
)

type Handler struct {
	orderSvc  *order.Service
	stockSvc  *stock.Service
	generator *codegen.Generator
}

func NewHandler(orderSvc *order.Service, stockSvc *stock.Service, generator *codegen.Generator) *Handler {
	return &Handler{
		orderSvc:  orderSvc,
		stockSvc:  stockSvc,
		generator: generator,
	}
}

// CreateOrder authorizes a paid order: mint a code, reserve stock for every
// line, then write the order. The reservation is released again if the
// order itself cannot be written, so a failed authorization holds no stock.
func (h *Handler) CreateOrder(ctx context.Context, cmd CreateOrder) (*order.Order, error) {
	code, err := h.generator.Generate(ctx)
	if err != nil {
		return nil, err
	}

	reservations := reservationsFor(cmd.Groups)
	if len(reservations) == 0 {
		return nil, order.ErrEmptyOrder
	}
	if err := h.stockSvc.ReserveAll(ctx, code, reservations); err != nil {
		return nil, err
	}

	ttl := time.Duration(cmd.TTLHours) * time.Hour
	buyer := order.Buyer{ID: cmd.BuyerID, Name: cmd.BuyerName, Email: cmd.BuyerEmail}
	o, err := h.orderSvc.Authorize(ctx, code, buyer, cmd.Groups, cmd.GeneratedBy, ttl)
	if err != nil {
		if relErr := h.stockSvc.ReleaseAll(ctx, code, reservations); relErr != nil {
			log.Printf("[Command] Failed to release reservation for %s: %v", code, relErr)
		}
		return nil, err
	}

	return o, nil
}

// DeliverItems records a station hand-over. When the delivery completes the
// order, the stock reservation is finalized in the same command.
func (h *Handler) DeliverItems(ctx context.Context, cmd DeliverItems) (*order.DeliveryResult, error) {
	res, err := h.orderSvc.Deliver(ctx, cmd.Code, cmd.StationID, cmd.DeliveredBy, cmd.ItemIDs)
	if err != nil {
		return nil, err
	}

	if res.CompletedNow {
		o, err := h.orderSvc.Get(ctx, cmd.Code)
		if err != nil {
			return res, nil
		}
		if err := h.stockSvc.DeductAll(ctx, cmd.Code, reservationsFor(o.Groups)); err != nil {
			log.Printf("[Command] Failed to deduct stock for %s: %v", cmd.Code, err)
		}
	}

	return res, nil
}

// CancelOrder voids an active order and releases its reservation
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*order.Order, error) {
	o, err := h.orderSvc.Cancel(ctx, cmd.Code, cmd.CancelledBy, cmd.Reason)
	if err != nil {
		return nil, err
	}

	if err := h.stockSvc.ReleaseAll(ctx, cmd.Code, reservationsFor(o.Groups)); err != nil {
		log.Printf("[Command] Failed to release stock for cancelled %s: %v", cmd.Code, err)
	}

	return o, nil
}

// ExpireOrder makes an overdue order's expiry durable and releases its
// reservation. Reports whether anything happened.
func (h *Handler) ExpireOrder(ctx context.Context, cmd ExpireOrder) (bool, error) {
	expired, err := h.orderSvc.Expire(ctx, cmd.Code)
	if err != nil || !expired {
		return false, err
	}

	o, err := h.orderSvc.Get(ctx, cmd.Code)
	if err != nil {
		return true, nil
	}
	if err := h.stockSvc.ReleaseAll(ctx, cmd.Code, reservationsFor(o.Groups)); err != nil {
		log.Printf("[Command] Failed to release stock for expired %s: %v", cmd.Code, err)
	}

	return true, nil
}

// AddStock restocks one item
func (h *Handler) AddStock(ctx context.Context, cmd AddStock) error {
	return h.stockSvc.AddStock(ctx, cmd.ItemID, cmd.Quantity)
}

func reservationsFor(groups map[string][]order.LineItem) []stock.Reservation {
	var reservations []stock.Reservation
	for _, lines := range groups {
		for _, li := range lines {
			reservations = append(reservations, stock.Reservation{
				ItemID:   li.ItemID,
				Quantity: li.Quantity,
			})
		}
	}
	return reservations
}
