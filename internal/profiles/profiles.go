// Package profiles manages account records for each role and the device
// tokens used for push notifications.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/session"
)

type Store interface {
	UpsertCustomer(ctx context.Context, c models.Customer) error
	UpdateCustomer(ctx context.Context, id string, fn func(c *models.Customer) error) (models.Customer, error)
	GetRestaurant(ctx context.Context, id string) (models.Restaurant, error)
	UpsertRestaurant(ctx context.Context, r models.Restaurant) error
	ListRestaurants(ctx context.Context) ([]models.Restaurant, error)
	UpsertDriver(ctx context.Context, d models.Driver) error
	UpdateDriver(ctx context.Context, id string, fn func(d *models.Driver) error) (models.Driver, error)
	PutToken(ctx context.Context, t models.DeviceToken) error
}

type Service struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

type RegisterInput struct {
	Name    string            `json:"name"`
	Contact string            `json:"contact,omitempty"`
	Menu    []models.LineItem `json:"menu,omitempty"`
}

// Profile holds exactly one of the role-specific records.
type Profile struct {
	Role       models.Role        `json:"role"`
	Customer   *models.Customer   `json:"customer,omitempty"`
	Restaurant *models.Restaurant `json:"restaurant,omitempty"`
	Driver     *models.Driver     `json:"driver,omitempty"`
}

// Register creates the actor's profile, or renames it when it already
// exists. New drivers start available, matching signup in the field app.
func (s *Service) Register(ctx context.Context, actor session.Actor, in RegisterInput) (Profile, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return Profile{}, fmt.Errorf("register %q as %q: %w", actor.ID, actor.Role, apperrors.ErrForbidden)
	}
	if err := validateRegister(actor.Role, in); err != nil {
		return Profile{}, err
	}
	now := s.now()
	name := strings.TrimSpace(in.Name)
	p := Profile{Role: actor.Role}

	switch actor.Role {
	case models.RoleCustomer:
		// existing records are renamed under the store's row lock so a
		// concurrent location update is not overwritten
		c, err := s.Store.UpdateCustomer(ctx, actor.ID, func(c *models.Customer) error {
			c.Name = name
			return nil
		})
		if errors.Is(err, apperrors.ErrNotFound) {
			c = models.Customer{ID: actor.ID, Name: name, CreatedAt: now}
			err = s.Store.UpsertCustomer(ctx, c)
		}
		if err != nil {
			return Profile{}, err
		}
		p.Customer = &c

	case models.RoleRestaurant:
		r, err := s.Store.GetRestaurant(ctx, actor.ID)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				return Profile{}, err
			}
			r = models.Restaurant{ID: actor.ID, CreatedAt: now}
		}
		r.Name = name
		r.Contact = strings.TrimSpace(in.Contact)
		if in.Menu != nil {
			r.Menu = append([]models.LineItem(nil), in.Menu...)
		}
		if err := s.Store.UpsertRestaurant(ctx, r); err != nil {
			return Profile{}, err
		}
		p.Restaurant = &r

	case models.RoleDriver:
		d, err := s.Store.UpdateDriver(ctx, actor.ID, func(d *models.Driver) error {
			d.Name = name
			return nil
		})
		if errors.Is(err, apperrors.ErrNotFound) {
			d = models.Driver{ID: actor.ID, Name: name, Available: true, CreatedAt: now, UpdatedAt: now}
			if err = s.Store.UpsertDriver(ctx, d); err == nil {
				observability.DriversAvailable.Inc()
			}
		}
		if err != nil {
			return Profile{}, err
		}
		p.Driver = &d
	}
	s.Logger.Info("profile registered", "role", actor.Role, "account_id", actor.ID)
	return p, nil
}

func validateRegister(role models.Role, in RegisterInput) error {
	var details []apperrors.ValidationDetail
	if strings.TrimSpace(in.Name) == "" {
		details = append(details, apperrors.ValidationDetail{Field: "name", Message: "required"})
	}
	if len(in.Menu) > 0 && role != models.RoleRestaurant {
		details = append(details, apperrors.ValidationDetail{Field: "menu", Message: "only restaurants have a menu"})
	}
	for i, it := range in.Menu {
		if strings.TrimSpace(it.Title) == "" || it.Price < 0 {
			details = append(details, apperrors.ValidationDetail{Field: fmt.Sprintf("menu[%d]", i), Message: "title required and price must be non-negative"})
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid profile", details...)
	}
	return nil
}

// RegisterToken stores the latest push token for the actor's device.
func (s *Service) RegisterToken(ctx context.Context, actor session.Actor, token string) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return fmt.Errorf("register token: %w", apperrors.ErrForbidden)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.NewValidationError("token required", apperrors.ValidationDetail{Field: "token", Message: "required"})
	}
	return s.Store.PutToken(ctx, models.DeviceToken{
		Role:      actor.Role,
		AccountID: actor.ID,
		Token:     token,
		UpdatedAt: s.now(),
	})
}

func (s *Service) ListRestaurants(ctx context.Context) ([]models.Restaurant, error) {
	return s.Store.ListRestaurants(ctx)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
