package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/matcher"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
)

const (
	NotificationTitle  = "New Delivery Request"
	defaultConcurrency = 16
)

// CandidatePolicy picks which of the available drivers receive an offer.
type CandidatePolicy interface {
	Candidates(ctx context.Context, order models.Order, available []models.Driver) ([]models.Driver, error)
}

type DriverSource interface {
	ListAvailableDrivers(ctx context.Context) ([]models.Driver, error)
}

type RequestCreator interface {
	CreateRequestIfAbsent(ctx context.Context, r models.DriverRequest) (models.DriverRequest, bool, error)
}

type TokenSource interface {
	GetToken(ctx context.Context, role models.Role, accountID string) (models.DeviceToken, error)
}

// RequestFeed receives newly created requests for live inbox delivery.
type RequestFeed interface {
	Publish(ctx context.Context, r models.DriverRequest) error
}

// Fanout turns an order acceptance into one DriverRequest per candidate
// driver followed by a single multicast notification.
type Fanout struct {
	Drivers     DriverSource
	Requests    RequestCreator
	Tokens      TokenSource
	Policy      CandidatePolicy // nil offers to every available driver
	Notifier    Notifier
	Feed        RequestFeed // optional
	Logger      *slog.Logger
	Concurrency int
	Now         func() time.Time
	NewID       func() string
}

type DriverFailure struct {
	DriverID string
	Err      error
}

type Result struct {
	OrderID    string
	Candidates int
	Created    []models.DriverRequest
	Duplicates int
	Failures   []DriverFailure
	Tokens     int
	Notified   *BatchResponse
}

// ShouldDispatch is the fan-out guard: only the placed->accepted
// transition qualifies.
func ShouldDispatch(change models.OrderChange) bool {
	return change.Before.Status == models.StatusPlaced && change.After.Status == models.StatusAccepted
}

// Handle adapts HandleOrderChange to the events.Handler signature.
func (f *Fanout) Handle(ctx context.Context, change models.OrderChange) error {
	_, err := f.HandleOrderChange(ctx, change)
	return err
}

// HandleOrderChange runs the fan-out for a qualifying change and is a no-op
// for every other change. Request creation is idempotent per (driver,
// order), so redelivering the same change creates nothing new and sends no
// further notifications. The returned error joins per-driver creation
// failures; notification failures are logged only.
func (f *Fanout) HandleOrderChange(ctx context.Context, change models.OrderChange) (Result, error) {
	if !ShouldDispatch(change) {
		return Result{}, nil
	}
	order := change.After
	res := Result{OrderID: order.ID}
	log := f.Logger.With("order_id", order.ID)
	if order.CustomerLoc == nil {
		log.Warn("accepted order has no customer location, skipping dispatch")
		return res, nil
	}

	start := time.Now()
	observability.FanoutRuns.Inc()
	defer func() { observability.FanoutLatency.Observe(time.Since(start).Seconds()) }()

	available, err := f.Drivers.ListAvailableDrivers(ctx)
	if err != nil {
		return res, fmt.Errorf("list available drivers: %w", err)
	}
	var policy CandidatePolicy = matcher.AllAvailable{}
	if f.Policy != nil {
		policy = f.Policy
	}
	candidates, err := policy.Candidates(ctx, order, available)
	if err != nil {
		return res, fmt.Errorf("select candidates: %w", err)
	}
	res.Candidates = len(candidates)

	outcomes := make([]offerOutcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(f.concurrency())
	for i, d := range candidates {
		i, d := i, d
		g.Go(func() error {
			outcomes[i] = f.offer(ctx, log, order.ID, d.ID)
			return nil
		})
	}
	_ = g.Wait()

	var (
		tokens []string
		errs   []error
	)
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			observability.DriverRequests.WithLabelValues("failed").Inc()
			res.Failures = append(res.Failures, DriverFailure{DriverID: o.driverID, Err: o.err})
			errs = append(errs, o.err)
		case o.duplicate:
			observability.DriverRequests.WithLabelValues("duplicate").Inc()
			res.Duplicates++
		default:
			observability.DriverRequests.WithLabelValues("created").Inc()
			res.Created = append(res.Created, o.request)
			if o.token != "" {
				tokens = append(tokens, o.token)
			}
		}
	}
	res.Tokens = len(tokens)

	if f.Feed != nil {
		for _, r := range res.Created {
			if err := f.Feed.Publish(ctx, r); err != nil {
				log.Warn("publish driver request to feed failed", "driver_id", r.DriverID, "error", err)
			}
		}
	}

	if len(tokens) > 0 && f.Notifier != nil {
		batch, err := f.Notifier.Multicast(ctx, Message{
			Tokens: tokens,
			Title:  NotificationTitle,
			Body:   fmt.Sprintf("Order %s is available nearby.", order.ID),
			Data:   map[string]string{"orderId": order.ID},
		})
		res.Notified = &batch
		observability.Notifications.WithLabelValues("success").Add(float64(batch.SuccessCount))
		observability.Notifications.WithLabelValues("failure").Add(float64(batch.FailureCount))
		if err != nil {
			log.Warn("multicast notification failed", "tokens", len(tokens), "error", err)
		}
	}

	log.Info("dispatch fan-out complete",
		"candidates", res.Candidates,
		"created", len(res.Created),
		"duplicates", res.Duplicates,
		"failures", len(res.Failures),
		"tokens", res.Tokens,
	)
	return res, errors.Join(errs...)
}

type offerOutcome struct {
	driverID  string
	request   models.DriverRequest
	duplicate bool
	token     string
	err       error
}

func (f *Fanout) offer(ctx context.Context, log *slog.Logger, orderID, driverID string) offerOutcome {
	out := offerOutcome{driverID: driverID}
	req := models.DriverRequest{
		ID:        f.newID(),
		DriverID:  driverID,
		OrderID:   orderID,
		CreatedAt: f.now(),
	}
	stored, created, err := f.Requests.CreateRequestIfAbsent(ctx, req)
	if err != nil {
		out.err = fmt.Errorf("create request for driver %s: %w", driverID, err)
		return out
	}
	out.request = stored
	if !created {
		out.duplicate = true
		return out
	}

	tok, err := f.Tokens.GetToken(ctx, models.RoleDriver, driverID)
	switch {
	case err == nil:
		out.token = tok.Token
	case errors.Is(err, apperrors.ErrNotFound):
		log.Debug("driver has no notification token", "driver_id", driverID)
	default:
		log.Warn("token lookup failed", "driver_id", driverID, "error", err)
	}
	return out
}

func (f *Fanout) concurrency() int {
	if f.Concurrency > 0 {
		return f.Concurrency
	}
	return defaultConcurrency
}

func (f *Fanout) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

func (f *Fanout) newID() string {
	if f.NewID != nil {
		return f.NewID()
	}
	return uuid.NewString()
}
