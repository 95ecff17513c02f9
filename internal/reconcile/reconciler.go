package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/example/canteen-fulfillment/internal/domain/order"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
	"github.com/example/canteen-fulfillment/internal/readmodel"
)

// Outcome classifies one reconciliation attempt. The first four mirror the
// authoritative statuses; NotFound and Error mean the local copy was kept.
const (
	OutcomeActive    = "active"
	OutcomeUsed      = "used"
	OutcomeExpired   = "expired"
	OutcomeCancelled = "cancelled"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// Result reports what one Reconcile call did to a mirror. Mirror is the
// merged copy the caller should display: the fresh authoritative record on
// success, the preserved local copy on not_found/error.
type Result struct {
	Code    string                 `json:"code"`
	Outcome string                 `json:"outcome"`
	Changed bool                   `json:"changed"`
	Mirror  *readmodel.OrderMirror `json:"-"`
}

// Terminal reports whether polling this code can stop
func (r *Result) Terminal() bool {
	return r.Outcome == OutcomeUsed || r.Outcome == OutcomeExpired || r.Outcome == OutcomeCancelled
}

// Source is the authoritative side a mirror reconciles against
type Source interface {
	Get(ctx context.Context, code string) (*order.Order, error)
}

// Reconciler refreshes stale mirrors from the authoritative store. The
// direction is strictly pull-and-replace: the fetched record overwrites the
// local mirror wholesale, and nothing local ever flows back.
type Reconciler struct {
	source    Source
	readStore store.ReadStoreInterface
}

func NewReconciler(source Source, readStore store.ReadStoreInterface) *Reconciler {
	return &Reconciler{source: source, readStore: readStore}
}

// Reconcile refreshes one mirror. A missing authoritative record or a fetch
// failure leaves the local copy untouched so the client keeps displaying
// what it last knew.
func (r *Reconciler) Reconcile(ctx context.Context, code string) *Result {
	var local *readmodel.OrderMirror
	if existing, ok := r.readStore.Get("orders", code); ok {
		local, _ = existing.(*readmodel.OrderMirror)
	}

	o, err := r.source.Get(ctx, code)
	if err != nil {
		if errors.Is(err, order.ErrCodeNotFound) {
			return &Result{Code: code, Outcome: OutcomeNotFound, Mirror: local}
		}
		log.Printf("[Reconcile] Failed to fetch %s: %v", code, err)
		return &Result{Code: code, Outcome: OutcomeError, Mirror: local}
	}

	fresh := MirrorFromOrder(o)
	changed := true
	if local != nil {
		changed = local.Status != fresh.Status ||
			len(local.StationsCompleted) != len(fresh.StationsCompleted)
	}
	r.readStore.Set("orders", code, fresh)

	return &Result{Code: code, Outcome: string(o.Status), Changed: changed, Mirror: fresh}
}

// Status answers the lightweight polling query without touching the mirror.
// Unknown codes and transient fetch failures come back as distinct outcomes
// so callers can keep displaying their local copy.
func (r *Reconciler) Status(ctx context.Context, code string) string {
	o, err := r.source.Get(ctx, code)
	if err != nil {
		if errors.Is(err, order.ErrCodeNotFound) {
			return OutcomeNotFound
		}
		return OutcomeError
	}
	return string(o.Status)
}

// overdueLister is implemented by mirror stores that can report active
// mirrors past their expiry deadline.
type overdueLister interface {
	ListOverdueOrders(now time.Time) []string
}

// ReconcileOverdue refreshes only the mirrors still marked active past
// their deadline — the ones most likely out of date, since the
// authoritative store has usually expired them durably by then. Stores
// that cannot enumerate overdue mirrors get nothing refreshed here; the
// periodic full pass still covers them.
func (r *Reconciler) ReconcileOverdue(ctx context.Context, now time.Time) []*Result {
	lister, ok := r.readStore.(overdueLister)
	if !ok {
		return nil
	}

	var results []*Result
	for _, code := range lister.ListOverdueOrders(now) {
		results = append(results, r.Reconcile(ctx, code))
	}
	return results
}

// ReconcileAll refreshes every mirror currently held locally
func (r *Reconciler) ReconcileAll(ctx context.Context) []*Result {
	items := r.readStore.GetAll("orders")
	results := make([]*Result, 0, len(items))
	for _, item := range items {
		m, ok := item.(*readmodel.OrderMirror)
		if !ok {
			continue
		}
		results = append(results, r.Reconcile(ctx, m.Code))
	}
	return results
}

// MirrorFromOrder converts an authoritative order into its mirror form
func MirrorFromOrder(o *order.Order) *readmodel.OrderMirror {
	delivered := make(map[string]bool)
	for _, d := range o.Deliveries {
		for _, id := range d.ItemIDs {
			delivered[id] = true
		}
	}

	groups := make(map[string][]readmodel.LineItemMirror, len(o.Groups))
	for station, lines := range o.Groups {
		mirrors := make([]readmodel.LineItemMirror, len(lines))
		for i, li := range lines {
			mirrors[i] = readmodel.LineItemMirror{
				ItemID:    li.ItemID,
				Name:      li.Name,
				Quantity:  li.Quantity,
				UnitPrice: li.UnitPrice,
				LineTotal: li.LineTotal(),
				Delivered: delivered[li.ItemID],
			}
		}
		groups[station] = mirrors
	}

	updatedAt := o.CreatedAt
	for _, d := range o.Deliveries {
		if d.DeliveredAt.After(updatedAt) {
			updatedAt = d.DeliveredAt
		}
	}
	if o.UsedAt != nil && o.UsedAt.After(updatedAt) {
		updatedAt = *o.UsedAt
	}

	return &readmodel.OrderMirror{
		Code:              o.Code,
		BuyerID:           o.BuyerID,
		BuyerName:         o.BuyerName,
		BuyerEmail:        o.BuyerEmail,
		Groups:            groups,
		StationsInvolved:  o.StationsInvolved,
		StationsCompleted: o.StationsCompleted(),
		Total:             o.Total,
		Status:            string(o.Status),
		GeneratedBy:       o.GeneratedBy,
		CreatedAt:         o.CreatedAt,
		ExpiresAt:         o.ExpiresAt,
		UsedAt:            o.UsedAt,
		UpdatedAt:         updatedAt,
	}
}
