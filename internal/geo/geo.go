package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

// Geo indexes the positions of available drivers.
type Geo interface {
	// Nearby returns available drivers within radiusMeters of the point,
	// closest first. A radius <= 0 means unbounded; limit <= 0 means all.
	Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]models.Driver, error)
	Upsert(ctx context.Context, d models.Driver) error
	Remove(ctx context.Context, driverID string) error
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(ctx context.Context, d models.Driver) error {
	if d.Location == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) Remove(ctx context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
	return nil
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Available || d.Location == nil {
			continue
		}
		dist := Haversine(lat, lng, d.Location.Lat, d.Location.Lng)
		if radiusMeters > 0 && dist > radiusMeters {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].d.ID < arr[j].d.ID
		}
		return arr[i].dist < arr[j].dist
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Driver, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two coordinates.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}
