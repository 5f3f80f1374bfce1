package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/models"
)

// MemoryStore keeps everything in maps behind a single lock. It is the
// default when no PG_DSN is configured and the backing store for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]models.Order
	requests    map[string]models.DriverRequest
	requestKeys map[string]string // driverID/orderID -> request id
	drivers     map[string]models.Driver
	customers   map[string]models.Customer
	restaurants map[string]models.Restaurant
	tokens      map[string]models.DeviceToken
	outbox      map[int64]OutboxEntry
	outboxSeq   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]models.Order),
		requests:    make(map[string]models.DriverRequest),
		requestKeys: make(map[string]string),
		drivers:     make(map[string]models.Driver),
		customers:   make(map[string]models.Customer),
		restaurants: make(map[string]models.Restaurant),
		tokens:      make(map[string]models.DeviceToken),
		outbox:      make(map[int64]OutboxEntry),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateOrder(ctx context.Context, o models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s exists: %w", o.ID, apperrors.ErrConflict)
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, apperrors.ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.RestaurantID != "" && o.RestaurantID != f.RestaurantID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, id string, fn func(o *models.Order) error) (models.OrderChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[id]
	if !ok {
		return models.OrderChange{}, fmt.Errorf("order %s: %w", id, apperrors.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return models.OrderChange{}, err
	}
	m.orders[id] = next.Clone()
	change := models.OrderChange{Before: cur.Clone(), After: next, At: next.UpdatedAt}
	m.enqueueLocked(change)
	return change, nil
}

// enqueueLocked queues change for the relay; m.mu must be held for writing.
func (m *MemoryStore) enqueueLocked(change models.OrderChange) {
	m.outboxSeq++
	now := time.Now().UTC()
	m.outbox[m.outboxSeq] = OutboxEntry{
		ID:            m.outboxSeq,
		Change:        cloneChange(change),
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// orderChanged reports whether an accept actually moved the order; an
// idempotent replay leaves it untouched and queues nothing.
func orderChanged(c models.OrderChange) bool {
	return c.Before.Status != c.After.Status || c.Before.DriverID != c.After.DriverID ||
		!c.Before.UpdatedAt.Equal(c.After.UpdatedAt)
}

func cloneChange(c models.OrderChange) models.OrderChange {
	return models.OrderChange{Before: c.Before.Clone(), After: c.After.Clone(), At: c.At}
}

func requestKey(driverID, orderID string) string { return driverID + "/" + orderID }

func (m *MemoryStore) CreateRequestIfAbsent(ctx context.Context, r models.DriverRequest) (models.DriverRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := requestKey(r.DriverID, r.OrderID)
	if id, ok := m.requestKeys[key]; ok {
		return m.requests[id], false, nil
	}
	m.requests[r.ID] = r
	m.requestKeys[key] = r.ID
	return r, true, nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (models.DriverRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.DriverRequest{}, fmt.Errorf("driver request %s: %w", id, apperrors.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) ListRequestsByDriver(ctx context.Context, driverID string) ([]models.DriverRequest, error) {
	return m.listRequests(func(r models.DriverRequest) bool { return r.DriverID == driverID }), nil
}

func (m *MemoryStore) ListRequestsByOrder(ctx context.Context, orderID string) ([]models.DriverRequest, error) {
	return m.listRequests(func(r models.DriverRequest) bool { return r.OrderID == orderID }), nil
}

func (m *MemoryStore) listRequests(match func(models.DriverRequest) bool) []models.DriverRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DriverRequest, 0)
	for _, r := range m.requests {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) AcceptRequest(ctx context.Context, id string, fn AcceptFunc) (models.DriverRequest, models.OrderChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return models.DriverRequest{}, models.OrderChange{}, fmt.Errorf("driver request %s: %w", id, apperrors.ErrNotFound)
	}
	cur, ok := m.orders[req.OrderID]
	if !ok {
		return models.DriverRequest{}, models.OrderChange{}, fmt.Errorf("order %s: %w", req.OrderID, apperrors.ErrNotFound)
	}
	nextReq := req
	nextOrder := cur.Clone()
	if err := fn(&nextReq, &nextOrder); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			m.requests[id] = nextReq
			return nextReq, models.OrderChange{}, err
		}
		return models.DriverRequest{}, models.OrderChange{}, err
	}
	m.requests[id] = nextReq
	m.orders[cur.ID] = nextOrder.Clone()
	change := models.OrderChange{Before: cur.Clone(), After: nextOrder, At: nextOrder.UpdatedAt}
	if orderChanged(change) {
		m.enqueueLocked(change)
	}
	return nextReq, change, nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, apperrors.ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) UpdateDriver(ctx context.Context, id string, fn func(d *models.Driver) error) (models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, apperrors.ErrNotFound)
	}
	if err := fn(&d); err != nil {
		return models.Driver{}, err
	}
	m.drivers[id] = d
	return d, nil
}

func (m *MemoryStore) ListAvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0)
	for _, d := range m.drivers {
		if d.Available {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertCustomer(ctx context.Context, c models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCustomer(ctx context.Context, id string) (models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return models.Customer{}, fmt.Errorf("customer %s: %w", id, apperrors.ErrNotFound)
	}
	return c, nil
}

func (m *MemoryStore) UpdateCustomer(ctx context.Context, id string, fn func(c *models.Customer) error) (models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return models.Customer{}, fmt.Errorf("customer %s: %w", id, apperrors.ErrNotFound)
	}
	if err := fn(&c); err != nil {
		return models.Customer{}, err
	}
	m.customers[id] = c
	return c, nil
}

func (m *MemoryStore) UpsertRestaurant(ctx context.Context, r models.Restaurant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRestaurant(ctx context.Context, id string) (models.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[id]
	if !ok {
		return models.Restaurant{}, fmt.Errorf("restaurant %s: %w", id, apperrors.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) ListRestaurants(ctx context.Context) ([]models.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Restaurant, 0, len(m.restaurants))
	for _, r := range m.restaurants {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func tokenKey(role models.Role, id string) string { return string(role) + "/" + id }

func (m *MemoryStore) PutToken(ctx context.Context, t models.DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenKey(t.Role, t.AccountID)] = t
	return nil
}

func (m *MemoryStore) GetToken(ctx context.Context, role models.Role, accountID string) (models.DeviceToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[tokenKey(role, accountID)]
	if !ok {
		return models.DeviceToken{}, fmt.Errorf("token %s/%s: %w", role, accountID, apperrors.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) ClaimChanges(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]OutboxEntry, 0)
	for _, e := range m.outbox {
		if !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i, e := range due {
		e.NextAttemptAt = now.Add(lease)
		m.outbox[e.ID] = e
		due[i].Change = cloneChange(e.Change)
	}
	return due, nil
}

func (m *MemoryStore) MarkChangeSent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, id)
	return nil
}

func (m *MemoryStore) RetryChange(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[id]
	if !ok {
		return fmt.Errorf("outbox entry %d: %w", id, apperrors.ErrNotFound)
	}
	e.Attempts = attempts
	e.LastError = lastErr
	e.NextAttemptAt = next
	m.outbox[id] = e
	return nil
}
