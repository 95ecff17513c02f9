package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/example/canteen-fulfillment/internal/command"
	"github.com/example/canteen-fulfillment/internal/domain/order"
)

// DefaultInterval is how often the sweeper scans for overdue codes
const DefaultInterval = time.Minute

// Sweeper turns lazily-expired codes into durable expiry events so their
// stock reservations are released even if nobody ever tries the code again.
type Sweeper struct {
	orderSvc *order.Service
	handler  *command.Handler
	interval time.Duration
}

func NewSweeper(orderSvc *order.Service, handler *command.Handler, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{orderSvc: orderSvc, handler: handler, interval: interval}
}

// Sweep runs one pass over all active codes and expires the overdue ones.
// Returns how many codes were expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	codes, err := s.orderSvc.ListActiveCodes(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, code := range codes {
		done, err := s.handler.ExpireOrder(ctx, command.ExpireOrder{Code: code})
		if err != nil {
			log.Printf("[Sweeper] Failed to expire %s: %v", code, err)
			continue
		}
		if done {
			expired++
		}
	}

	if expired > 0 {
		log.Printf("[Sweeper] Expired %d overdue codes", expired)
	}
	return expired, nil
}

// Run sweeps on a ticker until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[Sweeper] Running every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("[Sweeper] Sweep failed: %v", err)
			}
		}
	}
}
