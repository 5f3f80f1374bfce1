// Package inbox is the driver-facing side of dispatch: listing, watching
// and accepting delivery requests.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/events"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/session"
	"github.com/example/delivery-dispatch/internal/storage"
)

type RequestStore interface {
	ListRequestsByDriver(ctx context.Context, driverID string) ([]models.DriverRequest, error)
	AcceptRequest(ctx context.Context, id string, fn storage.AcceptFunc) (models.DriverRequest, models.OrderChange, error)
}

// ErrNoFeed is returned by Subscribe when the inbox has no live feed.
var ErrNoFeed = errors.New("inbox: no live feed configured")

type PaymentCapturer interface {
	Capture(ctx context.Context, paymentIntentID string) error
}

type Inbox struct {
	Store    RequestStore
	Feed     Feed
	Outbox   events.Waker    // optional
	Payments PaymentCapturer // optional
	// TTL bounds how long a request stays acceptable. Zero keeps requests
	// open until the order is taken.
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

func (i *Inbox) List(ctx context.Context, actor session.Actor) ([]models.DriverRequest, error) {
	if err := actor.Require(models.RoleDriver); err != nil {
		return nil, err
	}
	return i.Store.ListRequestsByDriver(ctx, actor.ID)
}

// Subscribe streams the driver's current requests followed by live
// updates until ctx is done. The live subscription is opened before the
// snapshot is read so nothing created in between is missed; a request may
// therefore appear twice.
func (i *Inbox) Subscribe(ctx context.Context, actor session.Actor) (<-chan models.DriverRequest, error) {
	if err := actor.Require(models.RoleDriver); err != nil {
		return nil, err
	}
	if i.Feed == nil {
		return nil, ErrNoFeed
	}
	subCtx, cancel := context.WithCancel(ctx)
	live, err := i.Feed.Subscribe(subCtx, actor.ID)
	if err != nil {
		cancel()
		return nil, err
	}
	snapshot, err := i.Store.ListRequestsByDriver(ctx, actor.ID)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan models.DriverRequest)
	go func() {
		defer close(out)
		defer cancel()
		for _, r := range snapshot {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case r, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Accept claims the order behind requestID for the acting driver. The
// request and order are updated together; the first accepted request for
// an order wins and later ones fail with ErrConflict and are marked stale.
func (i *Inbox) Accept(ctx context.Context, actor session.Actor, requestID string) (models.Order, error) {
	if err := actor.Require(models.RoleDriver); err != nil {
		return models.Order{}, err
	}
	now := i.now()
	replay := false

	req, change, err := i.Store.AcceptRequest(ctx, requestID, func(r *models.DriverRequest, o *models.Order) error {
		if r.DriverID != actor.ID {
			return fmt.Errorf("request %s belongs to another driver: %w", r.ID, apperrors.ErrForbidden)
		}
		if r.Accepted {
			if o.Status == models.StatusDriverAssigned && o.DriverID == actor.ID {
				replay = true
				return nil
			}
			return fmt.Errorf("request %s already accepted: %w", r.ID, apperrors.ErrConflict)
		}
		if r.Stale {
			return fmt.Errorf("request %s is stale: %w", r.ID, apperrors.ErrConflict)
		}
		if i.TTL > 0 && now.Sub(r.CreatedAt) > i.TTL {
			return fmt.Errorf("request %s older than %s: %w", r.ID, i.TTL, apperrors.ErrExpired)
		}
		if o.Status != models.StatusAccepted || o.DriverID != "" {
			r.Stale = true
			r.StaleAt = &now
			return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, apperrors.ErrConflict)
		}
		r.Accepted = true
		r.AcceptedAt = &now
		o.Status = models.StatusDriverAssigned
		o.DriverID = actor.ID
		o.AssignedAt = &now
		o.UpdatedAt = now
		return nil
	})
	log := i.Logger.With("request_id", requestID, "driver_id", actor.ID)
	if err != nil {
		observability.AcceptOutcomes.WithLabelValues(outcomeLabel(err)).Inc()
		if errors.Is(err, apperrors.ErrConflict) && req.Stale {
			i.publish(ctx, log, req)
		}
		log.Info("driver accept rejected", "error", err)
		return models.Order{}, err
	}
	if replay {
		observability.AcceptOutcomes.WithLabelValues("replay").Inc()
		return change.After, nil
	}

	observability.AcceptOutcomes.WithLabelValues("won").Inc()
	observability.OrderTransitions.WithLabelValues(string(models.StatusDriverAssigned)).Inc()
	log.Info("driver assigned", "order_id", change.After.ID)

	i.publish(ctx, log, req)
	if i.Outbox != nil {
		i.Outbox.Wake()
	}
	if i.Payments != nil && change.After.PaymentIntentID != "" {
		if err := i.Payments.Capture(ctx, change.After.PaymentIntentID); err != nil {
			log.Warn("payment capture failed", "order_id", change.After.ID, "error", err)
		}
	}
	return change.After, nil
}

func (i *Inbox) publish(ctx context.Context, log *slog.Logger, r models.DriverRequest) {
	if i.Feed == nil {
		return
	}
	if err := i.Feed.Publish(ctx, r); err != nil {
		log.Warn("publish driver request to feed failed", "error", err)
	}
}

func (i *Inbox) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now().UTC()
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrExpired):
		return "expired"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
