package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/events"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/outbox"
	"github.com/example/delivery-dispatch/internal/session"
	"github.com/example/delivery-dispatch/internal/storage"
)

// flakyPublisher fails the first failures calls, then forwards to next.
type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     events.Publisher
	seen     []models.OrderChange
}

func (p *flakyPublisher) PublishOrderChange(ctx context.Context, c models.OrderChange) error {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.failures
	if !fail {
		p.seen = append(p.seen, c)
	}
	p.mu.Unlock()
	if fail {
		return errors.New("broker unavailable")
	}
	if p.next == nil {
		return nil
	}
	return p.next.PublishOrderChange(ctx, c)
}

type retry struct {
	id       int64
	attempts int
	lastErr  string
	next     time.Time
}

type recordingStore struct {
	*storage.MemoryStore
	retries []retry
}

func (s *recordingStore) RetryChange(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	s.retries = append(s.retries, retry{id: id, attempts: attempts, lastErr: lastErr, next: next})
	return s.MemoryStore.RetryChange(ctx, id, attempts, lastErr, next)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func placeOrder(t *testing.T, store *storage.MemoryStore, id string, status models.OrderStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateOrder(context.Background(), models.Order{
		ID:           id,
		RestaurantID: "R1",
		CustomerID:   "C1",
		Items:        []models.LineItem{{Title: "Ramen", Price: 12}},
		CustomerLoc:  &models.Coord{Lat: 1, Lng: 1},
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func transition(t *testing.T, store *storage.MemoryStore, id string, to models.OrderStatus) {
	t.Helper()
	_, err := store.UpdateOrder(context.Background(), id, func(o *models.Order) error {
		o.Status = to
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
	require.NoError(t, err)
}

func TestRelay_PublishesAndRemoves(t *testing.T) {
	store := storage.NewMemoryStore()
	placeOrder(t, store, "O1", models.StatusPlaced)
	transition(t, store, "O1", models.StatusAccepted)
	pub := &flakyPublisher{}
	r := &outbox.Relay{Store: store, Publisher: pub, Logger: logging.Discard()}

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.seen, 1)
	assert.Equal(t, models.StatusAccepted, pub.seen[0].After.Status)

	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.seen, 1)
}

func TestRelay_RetriesWithBackoff(t *testing.T) {
	store := &recordingStore{MemoryStore: storage.NewMemoryStore()}
	placeOrder(t, store.MemoryStore, "O1", models.StatusPlaced)
	transition(t, store.MemoryStore, "O1", models.StatusAccepted)
	clk := &clock{now: time.Now().UTC()}
	pub := &flakyPublisher{failures: 2}
	r := &outbox.Relay{Store: store, Publisher: pub, Logger: logging.Discard(), RetryBase: time.Second, Now: clk.Now}
	ctx := context.Background()

	_, err := r.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, store.retries, 1)
	assert.Equal(t, 1, store.retries[0].attempts)
	assert.Equal(t, "broker unavailable", store.retries[0].lastErr)
	assert.Equal(t, clk.Now().Add(time.Second), store.retries[0].next)

	// not due yet
	n, err := r.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(time.Second)
	_, err = r.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, store.retries, 2)
	assert.Equal(t, 2, store.retries[1].attempts)
	assert.Equal(t, clk.Now().Add(2*time.Second), store.retries[1].next)

	clk.Advance(2 * time.Second)
	_, err = r.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, pub.seen, 1)
	assert.Equal(t, 3, pub.calls)
}

func TestRelay_KeepsOrderWithinOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	placeOrder(t, store, "O1", models.StatusPlaced)
	placeOrder(t, store, "O2", models.StatusPlaced)
	transition(t, store, "O1", models.StatusAccepted)
	transition(t, store, "O2", models.StatusDeclined)
	transition(t, store, "O1", models.StatusDriverAssigned)
	clk := &clock{now: time.Now().UTC()}
	pub := &flakyPublisher{failures: 1}
	r := &outbox.Relay{Store: store, Publisher: pub, Logger: logging.Discard(), RetryBase: time.Second, Now: clk.Now}
	ctx := context.Background()

	n, err := r.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	// O1's first change failed, so its later change waits; O2 goes out
	require.Len(t, pub.seen, 1)
	assert.Equal(t, "O2", pub.seen[0].After.ID)

	clk.Advance(time.Second)
	_, err = r.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, pub.seen, 3)
	assert.Equal(t, models.StatusAccepted, pub.seen[1].After.Status)
	assert.Equal(t, models.StatusDriverAssigned, pub.seen[2].After.Status)
}

func TestRelay_ClaimedEntriesHiddenUntilLeaseExpires(t *testing.T) {
	store := storage.NewMemoryStore()
	placeOrder(t, store, "O1", models.StatusPlaced)
	transition(t, store, "O1", models.StatusAccepted)
	now := time.Now().UTC()
	ctx := context.Background()

	first, err := store.ClaimChanges(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := store.ClaimChanges(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)
	again, err := store.ClaimChanges(ctx, 10, now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

// An accepted order whose change cannot be published right away is still
// dispatched once the publisher recovers.
func TestRelay_DispatchSurvivesPublisherOutage(t *testing.T) {
	ctx := context.Background()
	log := logging.Discard()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertRestaurant(ctx, models.Restaurant{ID: "R1", Name: "Noodles"}))
	require.NoError(t, store.UpsertDriver(ctx, models.Driver{ID: "D1", Available: true}))
	require.NoError(t, store.UpsertDriver(ctx, models.Driver{ID: "D2", Available: true}))

	bus := events.NewBus(log)
	bus.Subscribe((&dispatch.Fanout{
		Drivers:  store,
		Requests: store,
		Tokens:   store,
		Notifier: dispatch.LogNotifier{Logger: log},
		Logger:   log,
	}).Handle)
	// ahead of the store's enqueue time so the first flush sees the change
	clk := &clock{now: time.Now().UTC().Add(time.Minute)}
	pub := &flakyPublisher{failures: 1, next: bus}
	relay := &outbox.Relay{Store: store, Publisher: pub, Logger: log, RetryBase: time.Second, Now: clk.Now}

	led := &ledger.Service{Orders: store, Profiles: store, Drivers: store, Outbox: relay, Logger: log, NewID: func() string { return "O1" }}
	_, err := led.PlaceOrder(ctx, session.Actor{ID: "C1", Role: models.RoleCustomer}, ledger.PlaceOrderInput{
		RestaurantID: "R1",
		Items:        []models.LineItem{{Title: "Ramen", Price: 12}},
		Location:     &models.Coord{Lat: 1, Lng: 1},
	})
	require.NoError(t, err)
	_, err = led.Accept(ctx, session.Actor{ID: "R1", Role: models.RoleRestaurant}, "O1")
	require.NoError(t, err)

	_, err = relay.Flush(ctx)
	require.NoError(t, err)
	reqs, err := store.ListRequestsByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Empty(t, reqs)

	clk.Advance(time.Second)
	_, err = relay.Flush(ctx)
	require.NoError(t, err)
	reqs, err = store.ListRequestsByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
}

// A fan-out that keeps failing on the in-process bus leaves the change in
// the outbox instead of dropping it.
func TestRelay_FailedHandlerKeepsChange(t *testing.T) {
	store := storage.NewMemoryStore()
	placeOrder(t, store, "O1", models.StatusPlaced)
	transition(t, store, "O1", models.StatusAccepted)
	bus := events.NewBus(logging.Discard())
	bus.Attempts = 1
	bus.Subscribe(func(ctx context.Context, c models.OrderChange) error {
		return errors.New("request store down")
	})
	clk := &clock{now: time.Now().UTC()}
	r := &outbox.Relay{Store: store, Publisher: bus, Logger: logging.Discard(), Now: clk.Now}

	_, err := r.Flush(context.Background())
	require.NoError(t, err)
	entries, err := store.ClaimChanges(context.Background(), 0, clk.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].LastError, "request store down")
}

func TestRelay_RunDeliversOnWake(t *testing.T) {
	store := storage.NewMemoryStore()
	placeOrder(t, store, "O1", models.StatusPlaced)
	delivered := make(chan models.OrderChange, 1)
	bus := events.NewBus(logging.Discard())
	bus.Subscribe(func(ctx context.Context, c models.OrderChange) error {
		delivered <- c
		return nil
	})
	r := &outbox.Relay{Store: store, Publisher: bus, Logger: logging.Discard(), PollInterval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	transition(t, store, "O1", models.StatusAccepted)
	r.Wake()
	select {
	case c := <-delivered:
		assert.Equal(t, models.StatusAccepted, c.After.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered after wake")
	}
	cancel()
	require.NoError(t, <-done)
}
