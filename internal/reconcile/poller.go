package reconcile

import (
	"context"
	"log"
	"time"
)

// DefaultInterval is how often a poller refreshes its code
const DefaultInterval = 5 * time.Second

// Poller keeps one mirror fresh by reconciling on a ticker. Buyers watching
// the pickup screen run one poller per displayed code.
type Poller struct {
	reconciler *Reconciler
	interval   time.Duration
}

func NewPoller(reconciler *Reconciler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{reconciler: reconciler, interval: interval}
}

// Watch reconciles the code on every tick and reports each result through
// onResult. It returns when the context is cancelled or the code reaches a
// terminal status; the terminal result is still delivered before returning.
func (p *Poller) Watch(ctx context.Context, code string, onResult func(*Result)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Reconcile once immediately so a watcher doesn't wait a full interval
	// for its first refresh.
	if res := p.reconciler.Reconcile(ctx, code); p.deliver(res, onResult) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res := p.reconciler.Reconcile(ctx, code); p.deliver(res, onResult) {
				return
			}
		}
	}
}

func (p *Poller) deliver(res *Result, onResult func(*Result)) bool {
	if onResult != nil {
		onResult(res)
	}
	if res.Terminal() {
		log.Printf("[Poller] Code %s reached terminal status %s, stopping", res.Code, res.Outcome)
		return true
	}
	return false
}
