package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/canteen-fulfillment/internal/api/middleware"
	"github.com/example/canteen-fulfillment/internal/auth"
	"github.com/example/canteen-fulfillment/internal/command"
	"github.com/example/canteen-fulfillment/internal/domain/order"
	"github.com/example/canteen-fulfillment/internal/domain/stock"
	"github.com/example/canteen-fulfillment/internal/query"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	orderSvc     *order.Service
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, orderSvc *order.Service) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		orderSvc:     orderSvc,
	}
}

// Order Handlers

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateOrder
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cmd.GeneratedBy == "" {
		cmd.GeneratedBy = middleware.GetStaffID(r.Context())
	}

	o, err := h.cmdHandler.CreateOrder(r.Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, stock.ErrInsufficientStock):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, stock.ErrInvalidQuantity):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	if stationID := r.URL.Query().Get("station"); stationID != "" {
		respondJSON(w, http.StatusOK, h.queryHandler.ListOrdersForStation(stationID))
		return
	}
	if buyerID := r.URL.Query().Get("buyer_id"); buyerID != "" {
		respondJSON(w, http.StatusOK, h.queryHandler.ListOrdersByBuyer(buyerID))
		return
	}
	respondJSON(w, http.StatusOK, h.queryHandler.ListActiveOrders())
}

// GetOrder serves the authoritative record behind a code. Stations scan a
// code and must not act on a possibly stale mirror.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	code := extractPathParam(r.URL.Path, "/orders/")

	o, err := h.orderSvc.Get(r.Context(), code)
	if err != nil {
		if errors.Is(err, order.ErrCodeNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/status")

	info, err := h.orderSvc.Status(r.Context(), code)
	if err != nil {
		if errors.Is(err, order.ErrCodeNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (h *Handlers) DeliverItems(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/deliver")

	var req struct {
		StationID string   `json:"station_id"`
		ItemIDs   []string `json:"item_ids,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A station-bound token may only confirm for its own counter.
	claims, _ := middleware.GetClaimsFromContext(r.Context())
	if claims != nil && claims.Role == auth.RoleStation {
		if req.StationID == "" {
			req.StationID = claims.StationID
		} else if req.StationID != claims.StationID {
			http.Error(w, "Token is bound to another station", http.StatusForbidden)
			return
		}
	}

	cmd := command.DeliverItems{
		Code:        code,
		StationID:   req.StationID,
		DeliveredBy: middleware.GetStaffID(r.Context()),
		ItemIDs:     req.ItemIDs,
	}
	res, err := h.cmdHandler.DeliverItems(r.Context(), cmd)
	if err != nil {
		respondOrderError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/cancel")

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	cmd := command.CancelOrder{
		Code:        code,
		CancelledBy: middleware.GetStaffID(r.Context()),
		Reason:      req.Reason,
	}
	o, err := h.cmdHandler.CancelOrder(r.Context(), cmd)
	if err != nil {
		respondOrderError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, o)
}

// Stock Handlers

func (h *Handlers) AddStock(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddStock
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.cmdHandler.AddStock(r.Context(), cmd); err != nil {
		if errors.Is(err, stock.ErrInvalidQuantity) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Stock added"})
}

func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queryHandler.ListStock())
}

func (h *Handlers) GetStockItem(w http.ResponseWriter, r *http.Request) {
	itemID := extractPathParam(r.URL.Path, "/stock/")
	m, ok := h.queryHandler.GetStock(itemID)
	if !ok {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// Helper functions

// respondOrderError maps order lifecycle errors onto HTTP status codes:
// a dead code is 410, a conflicting state is 409.
func respondOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrCodeNotFound):
		http.Error(w, "Order not found", http.StatusNotFound)
	case errors.Is(err, order.ErrCodeExpired):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, order.ErrCodeConsumed), errors.Is(err, order.ErrOrderCancelled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrStationNotInvolved), errors.Is(err, order.ErrNoItems):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
