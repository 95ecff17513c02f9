package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/example/canteen-fulfillment/internal/domain/aggregate"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
)

const AggregateType = "Order"

// DefaultTTL is how long a pickup code stays redeemable after authorization
const DefaultTTL = 24 * time.Hour

type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	ErrCodeNotFound       = errors.New("pickup code not found")
	ErrCodeInUse          = errors.New("pickup code already in use")
	ErrCodeExpired        = errors.New("pickup code expired")
	ErrCodeConsumed       = errors.New("pickup code already used")
	ErrOrderCancelled     = errors.New("order cancelled")
	ErrStationNotInvolved = errors.New("station not involved in order")
	ErrEmptyOrder         = errors.New("order has no items")
	ErrNoItems            = errors.New("no deliverable items for station")
)

// Buyer identifies who the pickup code belongs to. Email is optional and
// only used for notifications.
type Buyer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// LineItem is one purchased line, grouped under the station that prepares it
type LineItem struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"` // smallest currency unit
}

func (li LineItem) LineTotal() int {
	return li.UnitPrice * li.Quantity
}

// Delivery records one station's hand-over
type Delivery struct {
	DeliveredAt time.Time `json:"delivered_at"`
	DeliveredBy string    `json:"delivered_by"`
	ItemIDs     []string  `json:"item_ids"`
}

// Order is the authoritative record behind a pickup code. The code doubles
// as the aggregate ID. Groups maps station ID to the lines that station
// prepares; Deliveries maps station ID to its recorded hand-over.
type Order struct {
	Code             string                `json:"code"`
	BuyerID          string                `json:"buyer_id"`
	BuyerName        string                `json:"buyer_name"`
	BuyerEmail       string                `json:"buyer_email,omitempty"`
	Groups           map[string][]LineItem `json:"groups"`
	StationsInvolved []string              `json:"stations_involved"`
	Deliveries       map[string]Delivery   `json:"deliveries"`
	Total            int                   `json:"total"`
	Status           Status                `json:"status"`
	GeneratedBy      string                `json:"generated_by"`
	CreatedAt        time.Time             `json:"created_at"`
	ExpiresAt        time.Time             `json:"expires_at"`
	UsedAt           *time.Time            `json:"used_at,omitempty"`
	Version          int                   `json:"version"`
}

// Aggregate interface implementation
func (o *Order) GetID() string    { return o.Code }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// ApplyEvent applies a single event to the order state
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderAuthorized:
		var data OrderAuthorized
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Code = data.Code
		o.BuyerID = data.BuyerID
		o.BuyerName = data.BuyerName
		o.BuyerEmail = data.BuyerEmail
		o.Groups = data.Groups
		o.StationsInvolved = data.StationsInvolved
		o.Deliveries = make(map[string]Delivery)
		o.Total = data.Total
		o.Status = StatusActive
		o.GeneratedBy = data.GeneratedBy
		o.CreatedAt = data.CreatedAt
		o.ExpiresAt = data.ExpiresAt
	case EventItemsDelivered:
		var data ItemsDelivered
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if o.Deliveries == nil {
			o.Deliveries = make(map[string]Delivery)
		}
		existing, ok := o.Deliveries[data.StationID]
		if ok {
			existing.ItemIDs = unionIDs(existing.ItemIDs, data.ItemIDs)
			o.Deliveries[data.StationID] = existing
		} else {
			o.Deliveries[data.StationID] = Delivery{
				DeliveredAt: data.DeliveredAt,
				DeliveredBy: data.DeliveredBy,
				ItemIDs:     data.ItemIDs,
			}
		}
	case EventOrderConsumed:
		var data OrderConsumed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusUsed
		usedAt := data.UsedAt
		o.UsedAt = &usedAt
	case EventOrderExpired:
		o.Status = StatusExpired
	case EventOrderCancelled:
		o.Status = StatusCancelled
	}
	o.Version = event.Version
	return nil
}

// StationsCompleted lists the involved stations whose recorded delivery
// covers every item ID of their group. Always a subset of StationsInvolved.
func (o *Order) StationsCompleted() []string {
	var completed []string
	for _, station := range o.StationsInvolved {
		delivery, ok := o.Deliveries[station]
		if !ok {
			continue
		}
		if coversGroup(delivery.ItemIDs, o.Groups[station]) {
			completed = append(completed, station)
		}
	}
	sort.Strings(completed)
	return completed
}

// AllDelivered reports whether every involved station has completed
func (o *Order) AllDelivered() bool {
	return len(o.StationsCompleted()) == len(o.StationsInvolved)
}

// Overdue reports whether the code is past its expiry deadline
func (o *Order) Overdue(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// EffectiveStatus is the status as a reader should see it: an active order
// past its deadline reads as expired even before the durable expiry event
// lands.
func (o *Order) EffectiveStatus(now time.Time) Status {
	if o.Status == StatusActive && o.Overdue(now) {
		return StatusExpired
	}
	return o.Status
}

func coversGroup(delivered []string, group []LineItem) bool {
	have := make(map[string]bool, len(delivered))
	for _, id := range delivered {
		have[id] = true
	}
	for _, li := range group {
		if !have[li.ItemID] {
			return false
		}
	}
	return true
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DeliveryResult is what a station sees after confirming a hand-over
type DeliveryResult struct {
	Code              string   `json:"code"`
	StationsCompleted []string `json:"stations_completed"`
	AllDelivered      bool     `json:"all_delivered"`
	Status            Status   `json:"status"`
	CompletedNow      bool     `json:"completed_now"`
}

// StatusInfo is the lightweight polling view of an order
type StatusInfo struct {
	Code              string     `json:"code"`
	Status            Status     `json:"status"`
	StationsInvolved  []string   `json:"stations_involved"`
	StationsCompleted []string   `json:"stations_completed"`
	AllDelivered      bool       `json:"all_delivered"`
	ExpiresAt         time.Time  `json:"expires_at"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
}

// Service owns the order lifecycle. Writes to a given code are serialized
// through a per-code mutex so two stations confirming at once cannot both
// observe "not yet complete" and skip the consumption event.
type Service struct {
	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	eventStore store.EventStoreInterface
	now        func() time.Time
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{
		locks:      make(map[string]*sync.Mutex),
		eventStore: es,
		now:        time.Now,
	}
}

func (s *Service) lockFor(code string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[code]
	if !ok {
		l = &sync.Mutex{}
		s.locks[code] = l
	}
	return l
}

// dropLock forgets a code's mutex once its order is terminal, keeping the
// lock map bounded by the live order count. Terminal orders reject every
// mutation, so a late caller racing on a fresh mutex cannot write anything.
func (s *Service) dropLock(code string) {
	s.mu.Lock()
	delete(s.locks, code)
	s.mu.Unlock()
}

func (s *Service) loadOrder(ctx context.Context, code string) (*Order, error) {
	o, found, err := aggregate.Load(ctx, s.eventStore, code, func() *Order {
		return &Order{Code: code}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCodeNotFound
	}
	return o, nil
}

// Exists reports whether a code already identifies an order. Satisfies the
// code generator's index.
func (s *Service) Exists(ctx context.Context, code string) (bool, error) {
	return len(s.eventStore.GetEvents(code)) > 0, nil
}

// Authorize creates an order under a freshly minted code. The caller is
// responsible for reserving stock first.
func (s *Service) Authorize(ctx context.Context, code string, buyer Buyer, groups map[string][]LineItem, generatedBy string, ttl time.Duration) (*Order, error) {
	if len(groups) == 0 {
		return nil, ErrEmptyOrder
	}
	var stations []string
	var total int
	for station, lines := range groups {
		if len(lines) == 0 {
			return nil, ErrEmptyOrder
		}
		for _, li := range lines {
			if li.Quantity <= 0 {
				return nil, fmt.Errorf("invalid quantity for item %s", li.ItemID)
			}
			total += li.LineTotal()
		}
		stations = append(stations, station)
	}
	sort.Strings(stations)

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	lock := s.lockFor(code)
	lock.Lock()
	defer lock.Unlock()

	if taken, _ := s.Exists(ctx, code); taken {
		return nil, fmt.Errorf("%w: %s", ErrCodeInUse, code)
	}

	now := s.now()
	event := OrderAuthorized{
		Code:             code,
		BuyerID:          buyer.ID,
		BuyerName:        buyer.Name,
		BuyerEmail:       buyer.Email,
		Groups:           groups,
		StationsInvolved: stations,
		Total:            total,
		GeneratedBy:      generatedBy,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}

	if _, err := s.eventStore.Append(ctx, code, AggregateType, EventOrderAuthorized, event); err != nil {
		return nil, err
	}

	return s.loadOrder(ctx, code)
}

// Get returns the order behind a code. The returned status is the effective
// one: an overdue active order reads as expired without any write.
func (s *Service) Get(ctx context.Context, code string) (*Order, error) {
	o, err := s.loadOrder(ctx, code)
	if err != nil {
		return nil, err
	}
	o.Status = o.EffectiveStatus(s.now())
	return o, nil
}

// Status returns the polling view of an order
func (s *Service) Status(ctx context.Context, code string) (*StatusInfo, error) {
	o, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		Code:              o.Code,
		Status:            o.Status,
		StationsInvolved:  o.StationsInvolved,
		StationsCompleted: o.StationsCompleted(),
		AllDelivered:      o.AllDelivered(),
		ExpiresAt:         o.ExpiresAt,
		UsedAt:            o.UsedAt,
	}, nil
}

// Deliver records a station handing over its items. itemIDs may be empty,
// in which case the station's whole group is taken as delivered. A repeat
// confirmation for an already-completed station succeeds without appending
// anything. When the last station completes, the order is consumed in the
// same critical section.
func (s *Service) Deliver(ctx context.Context, code, stationID, deliveredBy string, itemIDs []string) (*DeliveryResult, error) {
	lock := s.lockFor(code)
	lock.Lock()
	defer lock.Unlock()

	o, err := s.loadOrder(ctx, code)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusUsed:
		return nil, ErrCodeConsumed
	case StatusExpired:
		return nil, ErrCodeExpired
	case StatusCancelled:
		return nil, ErrOrderCancelled
	}
	if o.Overdue(s.now()) {
		return nil, ErrCodeExpired
	}

	group, involved := o.Groups[stationID]
	if !involved {
		return nil, fmt.Errorf("%w: %s", ErrStationNotInvolved, stationID)
	}

	if len(itemIDs) == 0 {
		for _, li := range group {
			itemIDs = append(itemIDs, li.ItemID)
		}
	} else {
		allowed := make(map[string]bool, len(group))
		for _, li := range group {
			allowed[li.ItemID] = true
		}
		for _, id := range itemIDs {
			if !allowed[id] {
				return nil, fmt.Errorf("%w: item %s is not prepared at station %s", ErrNoItems, id, stationID)
			}
		}
	}

	if delivery, ok := o.Deliveries[stationID]; ok && coversGroup(delivery.ItemIDs, group) {
		// Station already handed everything over; nothing to record.
		return &DeliveryResult{
			Code:              code,
			StationsCompleted: o.StationsCompleted(),
			AllDelivered:      o.AllDelivered(),
			Status:            o.Status,
			CompletedNow:      false,
		}, nil
	}

	now := s.now()
	delivered := ItemsDelivered{
		Code:        code,
		StationID:   stationID,
		DeliveredBy: deliveredBy,
		ItemIDs:     itemIDs,
		DeliveredAt: now,
	}
	storedEvent, err := s.eventStore.Append(ctx, code, AggregateType, EventItemsDelivered, delivered)
	if err != nil {
		return nil, err
	}
	if err := o.ApplyEvent(*storedEvent); err != nil {
		return nil, err
	}

	completedNow := false
	if o.AllDelivered() {
		consumed := OrderConsumed{Code: code, UsedAt: now}
		consumedEvent, err := s.eventStore.Append(ctx, code, AggregateType, EventOrderConsumed, consumed)
		if err != nil {
			return nil, err
		}
		if err := o.ApplyEvent(*consumedEvent); err != nil {
			return nil, err
		}
		completedNow = true
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, o, AggregateType); err != nil {
		log.Printf("[Order] Failed to create snapshot for code %s: %v", code, err)
	}

	if completedNow {
		s.dropLock(code)
	}

	return &DeliveryResult{
		Code:              code,
		StationsCompleted: o.StationsCompleted(),
		AllDelivered:      o.AllDelivered(),
		Status:            o.Status,
		CompletedNow:      completedNow,
	}, nil
}

// Expire makes an overdue order's expiry durable. A no-op for orders that
// are not active or not yet overdue; reports whether an event was appended.
func (s *Service) Expire(ctx context.Context, code string) (bool, error) {
	lock := s.lockFor(code)
	lock.Lock()
	defer lock.Unlock()

	o, err := s.loadOrder(ctx, code)
	if err != nil {
		return false, err
	}
	if o.Status != StatusActive || !o.Overdue(s.now()) {
		return false, nil
	}

	event := OrderExpired{Code: code, ExpiredAt: s.now()}
	if _, err := s.eventStore.Append(ctx, code, AggregateType, EventOrderExpired, event); err != nil {
		return false, err
	}
	s.dropLock(code)
	return true, nil
}

// Cancel voids an active order before pickup
func (s *Service) Cancel(ctx context.Context, code, cancelledBy, reason string) (*Order, error) {
	lock := s.lockFor(code)
	lock.Lock()
	defer lock.Unlock()

	o, err := s.loadOrder(ctx, code)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusUsed:
		return nil, ErrCodeConsumed
	case StatusExpired:
		return nil, ErrCodeExpired
	case StatusCancelled:
		return nil, ErrOrderCancelled
	}
	if o.Overdue(s.now()) {
		return nil, ErrCodeExpired
	}

	event := OrderCancelled{
		Code:        code,
		CancelledBy: cancelledBy,
		Reason:      reason,
		CancelledAt: s.now(),
	}
	storedEvent, err := s.eventStore.Append(ctx, code, AggregateType, EventOrderCancelled, event)
	if err != nil {
		return nil, err
	}
	if err := o.ApplyEvent(*storedEvent); err != nil {
		return nil, err
	}
	s.dropLock(code)
	return o, nil
}

// ListActiveCodes returns every code whose order is still active, overdue
// or not. Used by the sweeper to find expiry candidates.
func (s *Service) ListActiveCodes(ctx context.Context) ([]string, error) {
	ids := s.eventStore.ListAggregateIDs(AggregateType)
	var active []string
	for _, code := range ids {
		o, err := s.loadOrder(ctx, code)
		if err != nil {
			continue
		}
		if o.Status == StatusActive {
			active = append(active, code)
		}
	}
	sort.Strings(active)
	return active, nil
}
