package inbox_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/events"
	"github.com/example/delivery-dispatch/internal/inbox"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/outbox"
	"github.com/example/delivery-dispatch/internal/session"
	"github.com/example/delivery-dispatch/internal/storage"
)

var (
	customer   = session.Actor{ID: "C1", Role: models.RoleCustomer}
	restaurant = session.Actor{ID: "R1", Role: models.RoleRestaurant}
	driver1    = session.Actor{ID: "D1", Role: models.RoleDriver}
	driver2    = session.Actor{ID: "D2", Role: models.RoleDriver}
)

type captures struct {
	mu       sync.Mutex
	captured []string
}

func (c *captures) Capture(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captured = append(c.captured, id)
	return nil
}

type fixture struct {
	store  *storage.MemoryStore
	relay  *outbox.Relay
	ledger *ledger.Service
	inbox  *inbox.Inbox
	hub    *inbox.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logging.Discard()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertRestaurant(ctx, models.Restaurant{ID: "R1", Name: "Noodles"}))
	require.NoError(t, store.UpsertCustomer(ctx, models.Customer{ID: "C1", Location: &models.Coord{Lat: 52.52, Lng: 13.40}}))
	require.NoError(t, store.UpsertDriver(ctx, models.Driver{ID: "D1", Available: true}))
	require.NoError(t, store.UpsertDriver(ctx, models.Driver{ID: "D2", Available: true}))

	bus := events.NewBus(log)
	hub := inbox.NewHub(log)
	var (
		mu  sync.Mutex
		seq int
	)
	fan := &dispatch.Fanout{
		Drivers:  store,
		Requests: store,
		Tokens:   store,
		Notifier: dispatch.LogNotifier{Logger: log},
		Feed:     hub,
		Logger:   log,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("req-%d", seq)
		},
	}
	bus.Subscribe(fan.Handle)
	relay := &outbox.Relay{Store: store, Publisher: bus, Logger: log}

	return &fixture{
		store: store,
		relay: relay,
		hub:   hub,
		ledger: &ledger.Service{
			Orders:   store,
			Profiles: store,
			Drivers:  store,
			Outbox:   relay,
			Logger:   log,
			NewID:    func() string { return "O1" },
		},
		inbox: &inbox.Inbox{
			Store:  store,
			Feed:   hub,
			Outbox: relay,
			Logger: log,
		},
	}
}

func (f *fixture) acceptedOrder(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.PlaceOrder(ctx, customer, ledger.PlaceOrderInput{
		RestaurantID: "R1",
		Items:        []models.LineItem{{Title: "Ramen", Price: 12.5}},
	})
	require.NoError(t, err)
	_, err = f.ledger.Accept(ctx, restaurant, "O1")
	require.NoError(t, err)
	f.settle(t)
}

// settle publishes everything committed so far; the bus runs the fan-out
// before returning.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	_, err := f.relay.Flush(context.Background())
	require.NoError(t, err)
}

func requestFor(t *testing.T, f *fixture, driverID string) models.DriverRequest {
	t.Helper()
	reqs, err := f.inbox.List(context.Background(), session.Actor{ID: driverID, Role: models.RoleDriver})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	return reqs[0]
}

func TestAccept_FirstAcceptorWins(t *testing.T) {
	f := newFixture(t)
	f.acceptedOrder(t)
	ctx := context.Background()

	r1 := requestFor(t, f, "D1")
	r2 := requestFor(t, f, "D2")
	assert.Equal(t, "O1", r1.OrderID)
	assert.True(t, r1.Open())

	order, err := f.inbox.Accept(ctx, driver2, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDriverAssigned, order.Status)
	assert.Equal(t, "D2", order.DriverID)
	f.settle(t)

	_, err = f.inbox.Accept(ctx, driver1, r1.ID)
	require.ErrorIs(t, err, apperrors.ErrConflict)

	stored, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "D2", stored.DriverID)
	assert.Equal(t, models.StatusDriverAssigned, stored.Status)

	lost, err := f.store.GetRequest(ctx, r1.ID)
	require.NoError(t, err)
	assert.True(t, lost.Stale)
	assert.False(t, lost.Accepted)
	won, err := f.store.GetRequest(ctx, r2.ID)
	require.NoError(t, err)
	assert.True(t, won.Accepted)

	// assignment is not a placed->accepted transition, so no new offers
	reqs, err := f.store.ListRequestsByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
}

func TestAccept_DeclinedOrderCreatesNoRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.PlaceOrder(ctx, customer, ledger.PlaceOrderInput{
		RestaurantID: "R1",
		Items:        []models.LineItem{{Title: "Ramen", Price: 12.5}},
	})
	require.NoError(t, err)
	_, err = f.ledger.Decline(ctx, restaurant, "O1")
	require.NoError(t, err)
	f.settle(t)

	reqs, err := f.store.ListRequestsByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestAccept_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 3; i <= 10; i++ {
		require.NoError(t, f.store.UpsertDriver(ctx, models.Driver{ID: fmt.Sprintf("D%d", i), Available: true}))
	}
	f.acceptedOrder(t)

	reqs, err := f.store.ListRequestsByOrder(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, reqs, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for _, r := range reqs {
		wg.Add(1)
		go func(r models.DriverRequest) {
			defer wg.Done()
			o, err := f.inbox.Accept(ctx, session.Actor{ID: r.DriverID, Role: models.RoleDriver}, r.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, o.DriverID)
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrConflict)
			losers++
		}(r)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 9, losers)
	stored, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.DriverID)
}

func TestAccept_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.acceptedOrder(t)
	ctx := context.Background()
	r1 := requestFor(t, f, "D1")

	_, err := f.inbox.Accept(ctx, driver2, r1.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.inbox.Accept(ctx, customer, r1.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	got, err := f.store.GetRequest(ctx, r1.ID)
	require.NoError(t, err)
	assert.True(t, got.Open())
}

func TestAccept_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.inbox.Accept(context.Background(), driver1, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAccept_ReplayBySameDriver(t *testing.T) {
	f := newFixture(t)
	f.acceptedOrder(t)
	ctx := context.Background()
	r1 := requestFor(t, f, "D1")

	first, err := f.inbox.Accept(ctx, driver1, r1.ID)
	require.NoError(t, err)
	again, err := f.inbox.Accept(ctx, driver1, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, first.DriverID, again.DriverID)
	assert.Equal(t, models.StatusDriverAssigned, again.Status)
}

func TestAccept_Expired(t *testing.T) {
	f := newFixture(t)
	f.acceptedOrder(t)
	ctx := context.Background()
	r1 := requestFor(t, f, "D1")

	f.inbox.TTL = time.Minute
	f.inbox.Now = func() time.Time { return r1.CreatedAt.Add(2 * time.Minute) }

	_, err := f.inbox.Accept(ctx, driver1, r1.ID)
	require.ErrorIs(t, err, apperrors.ErrExpired)

	o, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, o.Status)
	assert.Empty(t, o.DriverID)
}

func TestAccept_CapturesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acceptedOrder(t)
	_, err := f.store.UpdateOrder(ctx, "O1", func(o *models.Order) error {
		o.PaymentIntentID = "pi_1"
		return nil
	})
	require.NoError(t, err)
	pay := &captures{}
	f.inbox.Payments = pay

	_, err = f.inbox.Accept(ctx, driver1, requestFor(t, f, "D1").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"pi_1"}, pay.captured)
}

func TestSubscribe_SnapshotThenLive(t *testing.T) {
	f := newFixture(t)
	f.acceptedOrder(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.inbox.Subscribe(ctx, driver1)
	require.NoError(t, err)

	select {
	case r := <-ch:
		assert.Equal(t, "O1", r.OrderID)
		assert.True(t, r.Open())
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}

	_, err = f.inbox.Accept(context.Background(), driver2, requestFor(t, f, "D2").ID)
	require.NoError(t, err)
	_, err = f.inbox.Accept(context.Background(), driver1, requestFor(t, f, "D1").ID)
	require.ErrorIs(t, err, apperrors.ErrConflict)

	select {
	case r := <-ch:
		assert.True(t, r.Stale)
	case <-time.After(time.Second):
		t.Fatal("no live update")
	}

	cancel()
	for range ch {
	}
}

func TestSubscribe_RequiresDriver(t *testing.T) {
	f := newFixture(t)
	_, err := f.inbox.Subscribe(context.Background(), customer)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.inbox.List(context.Background(), restaurant)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestSubscribe_WithoutFeed(t *testing.T) {
	f := newFixture(t)
	f.inbox.Feed = nil
	_, err := f.inbox.Subscribe(context.Background(), driver1)
	assert.ErrorIs(t, err, inbox.ErrNoFeed)
}

func TestAccept_QueuesAssignmentOnce(t *testing.T) {
	f := newFixture(t)
	f.acceptedOrder(t)
	ctx := context.Background()
	r1 := requestFor(t, f, "D1")

	_, err := f.inbox.Accept(ctx, driver1, r1.ID)
	require.NoError(t, err)
	_, err = f.inbox.Accept(ctx, driver1, r1.ID)
	require.NoError(t, err)

	entries, err := f.store.ClaimChanges(ctx, 0, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusAccepted, entries[0].Change.Before.Status)
	assert.Equal(t, models.StatusDriverAssigned, entries[0].Change.After.Status)
	assert.Equal(t, "D1", entries[0].Change.After.DriverID)
}
