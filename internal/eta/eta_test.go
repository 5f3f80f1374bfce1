package eta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/models"
)

type stubClient struct {
	v     float64
	err   error
	calls int
}

func (s *stubClient) EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	s.calls++
	return s.v, s.err
}

func TestEstimator_UsesClientThenCache(t *testing.T) {
	c := &stubClient{v: 42}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute), SpeedMps: 10}
	a, b := models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0.01, Lng: 0}

	assert.Equal(t, 42.0, e.Seconds(context.Background(), a, b))
	assert.Equal(t, 42.0, e.Seconds(context.Background(), a, b))
	assert.Equal(t, 1, c.calls)
}

func TestEstimator_FallsBackToStraightLine(t *testing.T) {
	e := &Estimator{Client: &stubClient{err: errors.New("down")}, SpeedMps: 10}
	a, b := models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0.01, Lng: 0}
	assert.InDelta(t, EstimateSeconds(a, b, 10), e.Seconds(context.Background(), a, b), 1e-9)
}

func TestCache_Expires(t *testing.T) {
	c := NewCache(time.Nanosecond)
	a := models.Coord{Lat: 1, Lng: 1}
	c.Set(a, a, 5)
	time.Sleep(time.Millisecond)
	_, ok := c.Get(a, a)
	assert.False(t, ok)
}

func TestOSRMClient_ParsesDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/driving/2.000000,1.000000;4.000000,3.000000")
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"duration":123.5}]}`))
	}))
	defer srv.Close()

	v, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), models.Coord{Lat: 1, Lng: 2}, models.Coord{Lat: 3, Lng: 4})
	require.NoError(t, err)
	assert.Equal(t, 123.5, v)
}

func TestOSRMClient_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), models.Coord{}, models.Coord{})
	assert.Error(t, err)
}
