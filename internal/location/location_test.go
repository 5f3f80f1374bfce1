package location

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/session"
	"github.com/example/delivery-dispatch/internal/storage"
)

type recordingStream struct {
	drivers []models.Driver
	err     error
}

func (r *recordingStream) PublishLocation(ctx context.Context, d models.Driver) error {
	r.drivers = append(r.drivers, d)
	return r.err
}

var driver = session.Actor{ID: "D1", Role: models.RoleDriver}

func newService(t *testing.T) (*Service, *storage.MemoryStore, *geo.Index, *recordingStream) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertDriver(context.Background(), models.Driver{ID: "D1"}))
	require.NoError(t, store.UpsertCustomer(context.Background(), models.Customer{ID: "C1"}))
	idx := geo.NewIndex()
	stream := &recordingStream{}
	return &Service{
		Drivers:   store,
		Customers: store,
		Index:     idx,
		Stream:    stream,
		Logger:    logging.Discard(),
	}, store, idx, stream
}

func TestReportDriver_MakesAvailable(t *testing.T) {
	s, store, idx, stream := newService(t)
	ctx := context.Background()

	d, err := s.ReportDriver(ctx, driver, models.Coord{Lat: 52.5, Lng: 13.4})
	require.NoError(t, err)
	assert.True(t, d.Available)
	assert.False(t, d.UpdatedAt.IsZero())

	avail, err := store.ListAvailableDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, 13.4, avail[0].Location.Lng)

	near, err := idx.Nearby(ctx, 52.5, 13.4, 1000, 0)
	require.NoError(t, err)
	require.Len(t, near, 1)
	require.Len(t, stream.drivers, 1)
}

func TestStopSharing(t *testing.T) {
	s, store, idx, stream := newService(t)
	ctx := context.Background()
	_, err := s.ReportDriver(ctx, driver, models.Coord{Lat: 1, Lng: 1})
	require.NoError(t, err)

	d, err := s.StopSharing(ctx, driver)
	require.NoError(t, err)
	assert.False(t, d.Available)

	avail, err := store.ListAvailableDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, avail)
	near, err := idx.Nearby(ctx, 1, 1, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, near)
	require.Len(t, stream.drivers, 2)
	assert.False(t, stream.drivers[1].Available)
}

func TestReportDriver_Rejects(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.ReportDriver(ctx, driver, models.Coord{Lat: 100})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = s.ReportDriver(ctx, session.Actor{ID: "C1", Role: models.RoleCustomer}, models.Coord{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = s.ReportDriver(ctx, session.Actor{ID: "D9", Role: models.RoleDriver}, models.Coord{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReportDriver_StreamFailureIsNotFatal(t *testing.T) {
	s, _, _, stream := newService(t)
	stream.err = errors.New("kafka down")
	_, err := s.ReportDriver(context.Background(), driver, models.Coord{Lat: 1, Lng: 2})
	assert.NoError(t, err)
}

func TestSetCustomerLocation(t *testing.T) {
	s, store, _, _ := newService(t)
	ctx := context.Background()
	c := session.Actor{ID: "C1", Role: models.RoleCustomer}

	_, err := s.SetCustomerLocation(ctx, c, models.Coord{Lat: 3, Lng: 4})
	require.NoError(t, err)
	got, err := store.GetCustomer(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.Equal(t, 4.0, got.Location.Lng)

	_, err = s.SetCustomerLocation(ctx, c, models.Coord{Lng: 181})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = s.SetCustomerLocation(ctx, driver, models.Coord{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}
