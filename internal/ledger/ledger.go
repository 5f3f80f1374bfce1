// Package ledger owns the order lifecycle: creation by customers and the
// accept/decline decision by restaurants. Driver assignment is applied by
// the inbox through the same storage primitives.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/events"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/session"
	"github.com/example/delivery-dispatch/internal/storage"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, o models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListOrders(ctx context.Context, f storage.OrderFilter) ([]models.Order, error)
	UpdateOrder(ctx context.Context, id string, fn func(o *models.Order) error) (models.OrderChange, error)
}

type ProfileReader interface {
	GetCustomer(ctx context.Context, id string) (models.Customer, error)
	GetRestaurant(ctx context.Context, id string) (models.Restaurant, error)
}

type DriverReader interface {
	GetDriver(ctx context.Context, id string) (models.Driver, error)
}

// PaymentHolder reserves funds when an order is placed and releases them
// if the restaurant declines.
type PaymentHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Service struct {
	Orders   OrderStore
	Profiles ProfileReader
	Drivers  DriverReader
	Outbox   events.Waker  // optional
	Payments PaymentHolder // optional
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

type PlaceOrderInput struct {
	RestaurantID string            `json:"restaurantId"`
	Items        []models.LineItem `json:"items"`
	// Location overrides the customer's stored profile location.
	Location *models.Coord `json:"location,omitempty"`
}

// Tracking is the customer's view of an order in flight. DriverLocation is
// nil until the assigned driver has reported a position.
type Tracking struct {
	Order           models.Order  `json:"order"`
	DriverLocation  *models.Coord `json:"driverLocation,omitempty"`
	DriverUpdatedAt *time.Time    `json:"driverUpdatedAt,omitempty"`
}

func (s *Service) PlaceOrder(ctx context.Context, actor session.Actor, in PlaceOrderInput) (models.Order, error) {
	if err := actor.Require(models.RoleCustomer); err != nil {
		return models.Order{}, err
	}
	if err := validatePlaceOrder(in); err != nil {
		return models.Order{}, err
	}

	loc := in.Location
	if loc == nil {
		c, err := s.Profiles.GetCustomer(ctx, actor.ID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return models.Order{}, fmt.Errorf("load customer %s: %w", actor.ID, err)
		}
		loc = c.Location
	}
	if loc == nil {
		return models.Order{}, apperrors.NewValidationError("customer location required",
			apperrors.ValidationDetail{Field: "location", Message: "share your location or include it in the order"})
	}
	if _, err := s.Profiles.GetRestaurant(ctx, in.RestaurantID); err != nil {
		return models.Order{}, fmt.Errorf("restaurant %s: %w", in.RestaurantID, err)
	}

	now := s.now()
	order := models.Order{
		ID:           s.newID(),
		RestaurantID: in.RestaurantID,
		CustomerID:   actor.ID,
		Items:        append([]models.LineItem(nil), in.Items...),
		CustomerLoc:  &models.Coord{Lat: loc.Lat, Lng: loc.Lng},
		Status:       models.StatusPlaced,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	log := s.Logger.With("order_id", order.ID, "customer_id", actor.ID)

	if s.Payments != nil {
		id, err := s.Payments.Hold(ctx, toMinorUnits(order.Total()), s.Currency, actor.ID)
		if err != nil {
			return models.Order{}, fmt.Errorf("hold payment: %w", err)
		}
		order.PaymentIntentID = id
	}

	if err := s.Orders.CreateOrder(ctx, order); err != nil {
		s.releaseHold(ctx, log, order)
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	observability.OrdersPlaced.Inc()
	log.Info("order placed", "restaurant_id", order.RestaurantID, "items", len(order.Items))
	return order, nil
}

func validatePlaceOrder(in PlaceOrderInput) error {
	var details []apperrors.ValidationDetail
	if strings.TrimSpace(in.RestaurantID) == "" {
		details = append(details, apperrors.ValidationDetail{Field: "restaurantId", Message: "required"})
	}
	if len(in.Items) == 0 {
		details = append(details, apperrors.ValidationDetail{Field: "items", Message: "at least one item required"})
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.Title) == "" {
			details = append(details, apperrors.ValidationDetail{Field: fmt.Sprintf("items[%d].title", i), Message: "required"})
		}
		if it.Price < 0 || math.IsNaN(it.Price) || math.IsInf(it.Price, 0) {
			details = append(details, apperrors.ValidationDetail{Field: fmt.Sprintf("items[%d].price", i), Message: "must be a non-negative number"})
		}
	}
	if in.Location != nil && !in.Location.Valid() {
		details = append(details, apperrors.ValidationDetail{Field: "location", Message: "out of range"})
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid order", details...)
	}
	return nil
}

// Accept moves a placed order to accepted. This is the transition that
// triggers driver dispatch.
func (s *Service) Accept(ctx context.Context, actor session.Actor, orderID string) (models.Order, error) {
	return s.decide(ctx, actor, orderID, models.StatusAccepted)
}

func (s *Service) Decline(ctx context.Context, actor session.Actor, orderID string) (models.Order, error) {
	return s.decide(ctx, actor, orderID, models.StatusDeclined)
}

func (s *Service) decide(ctx context.Context, actor session.Actor, orderID string, to models.OrderStatus) (models.Order, error) {
	if err := actor.Require(models.RoleRestaurant); err != nil {
		return models.Order{}, err
	}
	now := s.now()
	change, err := s.Orders.UpdateOrder(ctx, orderID, func(o *models.Order) error {
		if o.RestaurantID != actor.ID {
			return fmt.Errorf("order %s belongs to another restaurant: %w", o.ID, apperrors.ErrForbidden)
		}
		if !o.Status.CanTransitionTo(to) {
			return fmt.Errorf("order %s is %s, cannot become %s: %w", o.ID, o.Status, to, apperrors.ErrConflict)
		}
		o.Status = to
		o.UpdatedAt = now
		switch to {
		case models.StatusAccepted:
			o.AcceptedAt = &now
		case models.StatusDeclined:
			o.DeclinedAt = &now
		}
		return nil
	})
	log := s.Logger.With("order_id", orderID, "restaurant_id", actor.ID)
	if err != nil {
		observability.TransitionRejections.WithLabelValues(rejectionReason(err)).Inc()
		log.Info("order transition rejected", "to", to, "error", err)
		return models.Order{}, err
	}
	observability.OrderTransitions.WithLabelValues(string(to)).Inc()
	log.Info("order transitioned", "from", change.Before.Status, "to", change.After.Status)

	// the change was committed with the order; the relay delivers it
	if s.Outbox != nil {
		s.Outbox.Wake()
	}
	if to == models.StatusDeclined {
		s.releaseHold(ctx, log, change.After)
	}
	return change.After, nil
}

func (s *Service) Get(ctx context.Context, actor session.Actor, orderID string) (models.Order, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !canView(actor, o) {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, apperrors.ErrForbidden)
	}
	return o, nil
}

// canView: customers and restaurants see their own orders; drivers see
// orders that are open for offers or assigned to them.
func canView(actor session.Actor, o models.Order) bool {
	switch actor.Role {
	case models.RoleCustomer:
		return o.CustomerID == actor.ID
	case models.RoleRestaurant:
		return o.RestaurantID == actor.ID
	case models.RoleDriver:
		return o.DriverID == actor.ID || o.Status == models.StatusAccepted
	}
	return false
}

// List returns the actor's own orders, newest first.
func (s *Service) List(ctx context.Context, actor session.Actor) ([]models.Order, error) {
	switch actor.Role {
	case models.RoleCustomer:
		return s.Orders.ListOrders(ctx, storage.OrderFilter{CustomerID: actor.ID})
	case models.RoleRestaurant:
		return s.Orders.ListOrders(ctx, storage.OrderFilter{RestaurantID: actor.ID})
	}
	return nil, fmt.Errorf("list orders as %s: %w", actor.Role, apperrors.ErrForbidden)
}

func (s *Service) Track(ctx context.Context, actor session.Actor, orderID string) (Tracking, error) {
	if err := actor.Require(models.RoleCustomer); err != nil {
		return Tracking{}, err
	}
	o, err := s.Get(ctx, actor, orderID)
	if err != nil {
		return Tracking{}, err
	}
	t := Tracking{Order: o}
	if o.DriverID == "" || s.Drivers == nil {
		return t, nil
	}
	d, err := s.Drivers.GetDriver(ctx, o.DriverID)
	if err != nil {
		s.Logger.Warn("driver lookup for tracking failed", "order_id", o.ID, "driver_id", o.DriverID, "error", err)
		return t, nil
	}
	if d.Available && d.Location != nil {
		loc := *d.Location
		updated := d.UpdatedAt
		t.DriverLocation = &loc
		t.DriverUpdatedAt = &updated
	}
	return t, nil
}

func (s *Service) releaseHold(ctx context.Context, log *slog.Logger, o models.Order) {
	if s.Payments == nil || o.PaymentIntentID == "" {
		return
	}
	if err := s.Payments.Cancel(ctx, o.PaymentIntentID); err != nil {
		log.Warn("payment hold release failed", "payment_intent_id", o.PaymentIntentID, "error", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
