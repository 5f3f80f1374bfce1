// Package events delivers order change snapshots to triggers. Every order
// write is published; handlers decide which transitions they care about.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

type Publisher interface {
	PublishOrderChange(ctx context.Context, change models.OrderChange) error
}

// Waker is nudged after a change has been committed so it is published
// without waiting for the next poll.
type Waker interface {
	Wake()
}

type Handler func(ctx context.Context, change models.OrderChange) error

// Bus is the in-process change feed. Handlers run concurrently and a
// failing handler is retried a few times with a doubling delay. Whatever
// still fails is returned, so the caller keeps the change for redelivery.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger

	Attempts   int
	RetryDelay time.Duration
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) PublishOrderChange(ctx context.Context, change models.OrderChange) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.deliver(ctx, h, change)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, h Handler, change models.OrderChange) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := b.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	var err error
	for i := 1; ; i++ {
		if err = h(ctx, change); err == nil {
			return nil
		}
		b.logger.Warn("order change handler failed", "order_id", change.After.ID, "attempt", i, "error", err)
		if i == attempts {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
}
