// Package outbox publishes order changes that the store committed together
// with the order write. A change leaves the outbox only after the publisher
// accepted it, so every committed transition is delivered at least once.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/events"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/storage"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultLease        = 30 * time.Second
	defaultRetryBase    = time.Second
	defaultMaxBackoff   = 5 * time.Minute
)

type Relay struct {
	Store     storage.OutboxStore
	Publisher events.Publisher
	Logger    *slog.Logger

	PollInterval time.Duration
	BatchSize    int
	// Lease hides claimed entries from other relays while they are being
	// published; a relay that dies mid-batch releases them when it expires.
	Lease      time.Duration
	RetryBase  time.Duration
	MaxBackoff time.Duration
	Now        func() time.Time

	once sync.Once
	wake chan struct{}
}

// Wake asks a running relay to flush now instead of at the next tick.
func (r *Relay) Wake() {
	select {
	case r.wakeCh() <- struct{}{}:
	default:
	}
}

func (r *Relay) wakeCh() chan struct{} {
	r.once.Do(func() { r.wake = make(chan struct{}, 1) })
	return r.wake
}

// Run drains the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Logger.Info("outbox relay started", "poll_interval", interval, "batch_size", r.batchSize())
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wakeCh():
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.Flush(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.Logger.Error("outbox flush failed", "error", err)
			}
			return
		}
		if n < r.batchSize() {
			return
		}
	}
}

// Flush publishes one batch of due changes and reports how many entries it
// claimed. Changes of the same order go out in commit order: once one fails,
// the later ones in the batch are deferred behind it.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	now := r.now()
	entries, err := r.Store.ClaimChanges(ctx, r.batchSize(), now, r.lease())
	if err != nil {
		return 0, err
	}

	blocked := make(map[string]time.Time)
	for _, e := range entries {
		orderID := e.Change.After.ID
		log := r.Logger.With("outbox_id", e.ID, "order_id", orderID)

		if next, ok := blocked[orderID]; ok {
			observability.OutboxDeliveries.WithLabelValues("deferred").Inc()
			if err := r.Store.RetryChange(ctx, e.ID, e.Attempts, "waiting on earlier change", next); err != nil {
				log.Error("defer outbox entry failed", "error", err)
			}
			continue
		}

		if err := r.Publisher.PublishOrderChange(ctx, e.Change); err != nil {
			attempts := e.Attempts + 1
			next := now.Add(r.backoff(attempts))
			blocked[orderID] = next
			observability.OutboxDeliveries.WithLabelValues("retry").Inc()
			log.Warn("publish order change failed, will retry",
				"attempts", attempts, "next_attempt", next, "error", err)
			if err := r.Store.RetryChange(ctx, e.ID, attempts, err.Error(), next); err != nil {
				log.Error("reschedule outbox entry failed", "error", err)
			}
			continue
		}

		observability.OutboxDeliveries.WithLabelValues("sent").Inc()
		if err := r.Store.MarkChangeSent(ctx, e.ID); err != nil {
			// the entry comes back after its lease; consumers are idempotent
			log.Error("mark outbox entry sent failed", "error", err)
		}
	}
	return len(entries), nil
}

func (r *Relay) backoff(attempts int) time.Duration {
	base := r.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	maxBackoff := r.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return min(d, maxBackoff)
}

func (r *Relay) batchSize() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return defaultBatchSize
}

func (r *Relay) lease() time.Duration {
	if r.Lease > 0 {
		return r.Lease
	}
	return defaultLease
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
