package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/canteen-fulfillment/internal/domain/aggregate"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
)

const AggregateType = "StockLedger"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Ledger tracks remaining quantity for one sellable item. Reserving moves
// quantity from available to reserved; deducting finalizes a reservation
// at order completion. Delivery confirmations never touch the ledger.
type Ledger struct {
	ItemID        string `json:"item_id"`
	TotalStock    int    `json:"total_stock"`
	ReservedStock int    `json:"reserved_stock"`
	Version       int    `json:"version"`
}

func (l *Ledger) AvailableStock() int {
	return l.TotalStock - l.ReservedStock
}

// Aggregate interface implementation
func (l *Ledger) GetID() string    { return l.ItemID }
func (l *Ledger) GetVersion() int  { return l.Version }
func (l *Ledger) SetVersion(v int) { l.Version = v }

// ApplyEvent applies a single event to the ledger state
func (l *Ledger) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventStockAdded:
		var data StockAdded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.ItemID = data.ItemID
		l.TotalStock += data.Quantity
	case EventStockReserved:
		var data StockReserved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.ReservedStock += data.Quantity
	case EventStockReleased:
		var data StockReleased
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.ReservedStock -= data.Quantity
		if l.ReservedStock < 0 {
			l.ReservedStock = 0
		}
	case EventStockDeducted:
		var data StockDeducted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.TotalStock -= data.Quantity
		l.ReservedStock -= data.Quantity
		if l.TotalStock < 0 {
			l.TotalStock = 0
		}
		if l.ReservedStock < 0 {
			l.ReservedStock = 0
		}
	}
	l.Version = event.Version
	return nil
}

// Reservation is one line of an all-or-nothing reservation request
type Reservation struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Service is the stock ledger. The mutex serializes reservations: multiple
// simultaneous authorization attempts for the same item are the one genuine
// read-modify-write race in the system.
type Service struct {
	mu         sync.Mutex
	eventStore store.EventStoreInterface
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{eventStore: es}
}

// loadLedger rebuilds a ledger by replaying events, using snapshot if available
func (s *Service) loadLedger(ctx context.Context, itemID string) (*Ledger, error) {
	ledger, found, err := aggregate.Load(ctx, s.eventStore, itemID, func() *Ledger {
		return &Ledger{ItemID: itemID}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return &Ledger{ItemID: itemID}, nil
	}
	return ledger, nil
}

// Get returns the current ledger state for an item
func (s *Service) Get(ctx context.Context, itemID string) (*Ledger, error) {
	return s.loadLedger(ctx, itemID)
}

// AddStock increases the total quantity of an item (catalog-side restock)
func (s *Service) AddStock(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.loadLedger(ctx, itemID)
	if err != nil {
		return err
	}

	event := StockAdded{
		ItemID:   itemID,
		Quantity: quantity,
		AddedAt:  time.Now(),
	}

	storedEvent, err := s.eventStore.Append(ctx, itemID, AggregateType, EventStockAdded, event)
	if err != nil {
		return err
	}

	ledger.TotalStock += quantity
	if storedEvent != nil {
		ledger.Version = storedEvent.Version
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, ledger, AggregateType); err != nil {
		log.Printf("[Stock] Failed to create snapshot for item %s: %v", itemID, err)
	}

	return nil
}

// Reserve reserves quantity of a single item for an order code.
// Fails with ErrInsufficientStock if availability would go negative.
func (s *Service) Reserve(ctx context.Context, itemID, orderCode string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(ctx, itemID, orderCode, quantity)
}

func (s *Service) reserveLocked(ctx context.Context, itemID, orderCode string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	ledger, err := s.loadLedger(ctx, itemID)
	if err != nil {
		return err
	}
	if ledger.AvailableStock() < quantity {
		return fmt.Errorf("%w: item %s", ErrInsufficientStock, itemID)
	}

	event := StockReserved{
		ItemID:     itemID,
		OrderCode:  orderCode,
		Quantity:   quantity,
		ReservedAt: time.Now(),
	}

	storedEvent, err := s.eventStore.Append(ctx, itemID, AggregateType, EventStockReserved, event)
	if err != nil {
		return err
	}

	ledger.ReservedStock += quantity
	if storedEvent != nil {
		ledger.Version = storedEvent.Version
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, ledger, AggregateType); err != nil {
		log.Printf("[Stock] Failed to create snapshot for item %s: %v", itemID, err)
	}

	return nil
}

// Release restores reserved quantity (authorization failure, cancellation
// or expiry before delivery)
func (s *Service) Release(ctx context.Context, itemID, orderCode string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(ctx, itemID, orderCode, quantity)
}

func (s *Service) releaseLocked(ctx context.Context, itemID, orderCode string, quantity int) error {
	ledger, err := s.loadLedger(ctx, itemID)
	if err != nil {
		return err
	}

	event := StockReleased{
		ItemID:     itemID,
		OrderCode:  orderCode,
		Quantity:   quantity,
		ReleasedAt: time.Now(),
	}

	storedEvent, err := s.eventStore.Append(ctx, itemID, AggregateType, EventStockReleased, event)
	if err != nil {
		return err
	}

	ledger.ReservedStock -= quantity
	if ledger.ReservedStock < 0 {
		ledger.ReservedStock = 0
	}
	if storedEvent != nil {
		ledger.Version = storedEvent.Version
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, ledger, AggregateType); err != nil {
		log.Printf("[Stock] Failed to create snapshot for item %s: %v", itemID, err)
	}

	return nil
}

// Deduct finalizes a reservation when the order completes: total and
// reserved both drop, so no further release can resurrect the quantity
func (s *Service) Deduct(ctx context.Context, itemID, orderCode string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.loadLedger(ctx, itemID)
	if err != nil {
		return err
	}

	event := StockDeducted{
		ItemID:     itemID,
		OrderCode:  orderCode,
		Quantity:   quantity,
		DeductedAt: time.Now(),
	}

	storedEvent, err := s.eventStore.Append(ctx, itemID, AggregateType, EventStockDeducted, event)
	if err != nil {
		return err
	}

	ledger.TotalStock -= quantity
	ledger.ReservedStock -= quantity
	if ledger.TotalStock < 0 {
		ledger.TotalStock = 0
	}
	if ledger.ReservedStock < 0 {
		ledger.ReservedStock = 0
	}
	if storedEvent != nil {
		ledger.Version = storedEvent.Version
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, ledger, AggregateType); err != nil {
		log.Printf("[Stock] Failed to create snapshot for item %s: %v", itemID, err)
	}

	return nil
}

// ReserveAll reserves every requested line as a single unit. Availability
// of every line is checked before any event is appended, so either the
// whole request reserves or nothing does. A mid-sequence append failure
// releases the already-reserved prefix.
func (s *Service) ReserveAll(ctx context.Context, orderCode string, reqs []Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sum per item: the same item may appear in more than one request line.
	wanted := make(map[string]int)
	for _, r := range reqs {
		if r.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		wanted[r.ItemID] += r.Quantity
	}

	for itemID, qty := range wanted {
		ledger, err := s.loadLedger(ctx, itemID)
		if err != nil {
			return err
		}
		if ledger.AvailableStock() < qty {
			return fmt.Errorf("%w: item %s", ErrInsufficientStock, itemID)
		}
	}

	var reserved []Reservation
	for _, r := range reqs {
		if err := s.reserveLocked(ctx, r.ItemID, orderCode, r.Quantity); err != nil {
			// Roll back the prefix so no partial reservation persists.
			for _, done := range reserved {
				if relErr := s.releaseLocked(ctx, done.ItemID, orderCode, done.Quantity); relErr != nil {
					log.Printf("[Stock] Failed to roll back reservation of %s for %s: %v", done.ItemID, orderCode, relErr)
				}
			}
			return err
		}
		reserved = append(reserved, r)
	}

	return nil
}

// ReleaseAll restores every line of a reservation
func (s *Service) ReleaseAll(ctx context.Context, orderCode string, reqs []Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range reqs {
		if err := s.releaseLocked(ctx, r.ItemID, orderCode, r.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// DeductAll finalizes every line of a reservation at order completion
func (s *Service) DeductAll(ctx context.Context, orderCode string, reqs []Reservation) error {
	for _, r := range reqs {
		if err := s.Deduct(ctx, r.ItemID, orderCode, r.Quantity); err != nil {
			return err
		}
	}
	return nil
}
