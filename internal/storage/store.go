package storage

import (
	"context"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	CustomerID   string
	RestaurantID string
	Status       models.OrderStatus
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)
	// UpdateOrder applies fn to the current order while holding the order
	// exclusively. Returning an error from fn aborts the write. A committed
	// change is queued in the outbox together with the order.
	UpdateOrder(ctx context.Context, id string, fn func(o *models.Order) error) (models.OrderChange, error)
}

// AcceptFunc decides a driver accept against the locked request and order.
// If it returns an error wrapping apperrors.ErrConflict, changes made to the
// request are persisted and the order is left untouched. Any other error
// discards both.
type AcceptFunc func(r *models.DriverRequest, o *models.Order) error

type RequestStore interface {
	// CreateRequestIfAbsent inserts r unless a request for the same
	// (driver, order) pair exists, in which case the stored one is returned
	// with created=false.
	CreateRequestIfAbsent(ctx context.Context, r models.DriverRequest) (stored models.DriverRequest, created bool, err error)
	GetRequest(ctx context.Context, id string) (models.DriverRequest, error)
	ListRequestsByDriver(ctx context.Context, driverID string) ([]models.DriverRequest, error)
	ListRequestsByOrder(ctx context.Context, orderID string) ([]models.DriverRequest, error)
	AcceptRequest(ctx context.Context, id string, fn AcceptFunc) (models.DriverRequest, models.OrderChange, error)
}

type DriverStore interface {
	UpsertDriver(ctx context.Context, d models.Driver) error
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	UpdateDriver(ctx context.Context, id string, fn func(d *models.Driver) error) (models.Driver, error)
	ListAvailableDrivers(ctx context.Context) ([]models.Driver, error)
}

type ProfileStore interface {
	UpsertCustomer(ctx context.Context, c models.Customer) error
	GetCustomer(ctx context.Context, id string) (models.Customer, error)
	UpdateCustomer(ctx context.Context, id string, fn func(c *models.Customer) error) (models.Customer, error)
	UpsertRestaurant(ctx context.Context, r models.Restaurant) error
	GetRestaurant(ctx context.Context, id string) (models.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]models.Restaurant, error)
}

// OutboxEntry is an order change waiting to be published.
type OutboxEntry struct {
	ID            int64
	Change        models.OrderChange
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// OutboxStore holds order changes committed by UpdateOrder and
// AcceptRequest until a relay has published them.
type OutboxStore interface {
	// ClaimChanges returns up to limit entries due at now, oldest first, and
	// hides them from other claimers for lease.
	ClaimChanges(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]OutboxEntry, error)
	MarkChangeSent(ctx context.Context, id int64) error
	RetryChange(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error
}

type TokenStore interface {
	PutToken(ctx context.Context, t models.DeviceToken) error
	GetToken(ctx context.Context, role models.Role, accountID string) (models.DeviceToken, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	OrderStore
	RequestStore
	DriverStore
	ProfileStore
	TokenStore
	OutboxStore
	Close() error
}
