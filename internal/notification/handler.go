package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/canteen-fulfillment/internal/domain/order"
	"github.com/example/canteen-fulfillment/internal/email"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
	"github.com/example/canteen-fulfillment/internal/readmodel"
)

// Handler processes events for sending notifications
type Handler struct {
	emailService *email.Service
	readStore    store.ReadStoreInterface
}

// NewHandler creates a new notification handler
func NewHandler(emailSvc *email.Service, readStore store.ReadStoreInterface) *Handler {
	return &Handler{
		emailService: emailSvc,
		readStore:    readStore,
	}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	switch event.EventType {
	case order.EventOrderAuthorized:
		return h.handleOrderAuthorized(event)
	case order.EventOrderConsumed:
		return h.handleOrderConsumed(event)
	}

	return nil
}

func (h *Handler) handleOrderAuthorized(event store.Event) error {
	var e order.OrderAuthorized
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderAuthorized event: %v", err)
		return err
	}

	if e.BuyerEmail == "" {
		log.Printf("[Notifier] No buyer email for order %s, skipping", e.Code)
		return nil
	}

	var emailItems []email.OrderItem
	for _, lines := range e.Groups {
		for _, li := range lines {
			emailItems = append(emailItems, email.OrderItem{
				ItemID:   li.ItemID,
				Name:     li.Name,
				Quantity: li.Quantity,
				Price:    li.UnitPrice,
			})
		}
	}

	if err := h.emailService.SendPickupCode(e.BuyerEmail, e.Code, e.ExpiresAt, e.Total, emailItems); err != nil {
		log.Printf("[Notifier] Failed to send pickup code to %s: %v", e.BuyerEmail, err)
		return err
	}

	log.Printf("[Notifier] Pickup code %s sent to %s", e.Code, e.BuyerEmail)
	return nil
}

func (h *Handler) handleOrderConsumed(event store.Event) error {
	var e order.OrderConsumed
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderConsumed event: %v", err)
		return err
	}

	// The consumption event carries only the code; the buyer address comes
	// from the mirror.
	data, ok := h.readStore.Get("orders", e.Code)
	if !ok {
		log.Printf("[Notifier] No mirror for order %s, skipping", e.Code)
		return nil
	}
	m, ok := data.(*readmodel.OrderMirror)
	if !ok || m.BuyerEmail == "" {
		return nil
	}

	if err := h.emailService.SendOrderComplete(m.BuyerEmail, e.Code, e.UsedAt); err != nil {
		log.Printf("[Notifier] Failed to send completion mail to %s: %v", m.BuyerEmail, err)
		return err
	}

	log.Printf("[Notifier] Completion mail for %s sent to %s", e.Code, m.BuyerEmail)
	return nil
}
