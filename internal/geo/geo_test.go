package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	assert.InDelta(t, 111195, Haversine(0, 0, 1, 0), 100)
}

func TestIndex_NearbyOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	require.NoError(t, g.Upsert(ctx, models.Driver{ID: "far", Available: true, Location: &models.Coord{Lat: 0.1, Lng: 0}}))
	require.NoError(t, g.Upsert(ctx, models.Driver{ID: "near", Available: true, Location: &models.Coord{Lat: 0.001, Lng: 0}}))
	require.NoError(t, g.Upsert(ctx, models.Driver{ID: "off", Available: false, Location: &models.Coord{Lat: 0, Lng: 0}}))
	require.NoError(t, g.Upsert(ctx, models.Driver{ID: "noloc", Available: true}))

	got, err := g.Nearby(ctx, 0, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "far", got[1].ID)

	got, err = g.Nearby(ctx, 0, 0, 1000, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)

	got, err = g.Nearby(ctx, 0, 0, 0, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, g.Remove(ctx, "near"))
	got, _ = g.Nearby(ctx, 0, 0, 0, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "far", got[0].ID)
}
