// Package location records where drivers and customers are. Driver reports
// also drive availability: sharing a location makes a driver eligible for
// dispatch and stopping removes them.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/session"
)

type DriverStore interface {
	UpdateDriver(ctx context.Context, id string, fn func(d *models.Driver) error) (models.Driver, error)
}

type CustomerStore interface {
	UpdateCustomer(ctx context.Context, id string, fn func(c *models.Customer) error) (models.Customer, error)
}

// Index mirrors available drivers for proximity queries.
type Index interface {
	Upsert(ctx context.Context, d models.Driver) error
	Remove(ctx context.Context, driverID string) error
}

type Stream interface {
	PublishLocation(ctx context.Context, d models.Driver) error
}

type Service struct {
	Drivers   DriverStore
	Customers CustomerStore
	Index     Index  // optional
	Stream    Stream // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

func validCoord(c models.Coord) error {
	if c.Valid() {
		return nil
	}
	return apperrors.NewValidationError("invalid coordinate",
		apperrors.ValidationDetail{Field: "location", Message: fmt.Sprintf("lat %v lng %v out of range", c.Lat, c.Lng)})
}

func (s *Service) ReportDriver(ctx context.Context, actor session.Actor, at models.Coord) (models.Driver, error) {
	if err := actor.Require(models.RoleDriver); err != nil {
		return models.Driver{}, err
	}
	if err := validCoord(at); err != nil {
		return models.Driver{}, err
	}
	now := s.now()
	wasAvailable := false
	d, err := s.Drivers.UpdateDriver(ctx, actor.ID, func(d *models.Driver) error {
		wasAvailable = d.Available
		d.Location = &models.Coord{Lat: at.Lat, Lng: at.Lng}
		d.Available = true
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.Driver{}, err
	}
	observability.LocationReports.Inc()
	if !wasAvailable {
		observability.DriversAvailable.Inc()
		s.Logger.Info("driver started sharing location", "driver_id", d.ID)
	}

	if s.Index != nil {
		if err := s.Index.Upsert(ctx, d); err != nil {
			s.Logger.Warn("geo index upsert failed", "driver_id", d.ID, "error", err)
		}
	}
	s.stream(ctx, d)
	return d, nil
}

func (s *Service) StopSharing(ctx context.Context, actor session.Actor) (models.Driver, error) {
	if err := actor.Require(models.RoleDriver); err != nil {
		return models.Driver{}, err
	}
	now := s.now()
	wasAvailable := false
	d, err := s.Drivers.UpdateDriver(ctx, actor.ID, func(d *models.Driver) error {
		wasAvailable = d.Available
		d.Available = false
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.Driver{}, err
	}
	if wasAvailable {
		observability.DriversAvailable.Dec()
		s.Logger.Info("driver stopped sharing location", "driver_id", d.ID)
	}
	if s.Index != nil {
		if err := s.Index.Remove(ctx, d.ID); err != nil {
			s.Logger.Warn("geo index remove failed", "driver_id", d.ID, "error", err)
		}
	}
	s.stream(ctx, d)
	return d, nil
}

// SetCustomerLocation stores the customer's delivery location, used as the
// default for orders placed without one.
func (s *Service) SetCustomerLocation(ctx context.Context, actor session.Actor, at models.Coord) (models.Customer, error) {
	if err := actor.Require(models.RoleCustomer); err != nil {
		return models.Customer{}, err
	}
	if err := validCoord(at); err != nil {
		return models.Customer{}, err
	}
	return s.Customers.UpdateCustomer(ctx, actor.ID, func(c *models.Customer) error {
		c.Location = &models.Coord{Lat: at.Lat, Lng: at.Lng}
		return nil
	})
}

func (s *Service) stream(ctx context.Context, d models.Driver) {
	if s.Stream == nil {
		return
	}
	if err := s.Stream.PublishLocation(ctx, d); err != nil {
		s.Logger.Warn("publish driver location failed", "driver_id", d.ID, "error", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
