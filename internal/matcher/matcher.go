// Package matcher holds the candidate selection policies used by the
// dispatch fan-out.
package matcher

import (
	"context"
	"sort"

	"github.com/example/delivery-dispatch/internal/eta"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/models"
)

// AllAvailable offers the order to every available driver regardless of
// distance.
type AllAvailable struct{}

func (AllAvailable) Candidates(ctx context.Context, order models.Order, available []models.Driver) ([]models.Driver, error) {
	return available, nil
}

// Nearest keeps available drivers within RadiusMeters of the customer,
// ranked by ETA and capped at MaxCandidates. When Geo is set the index
// pre-selects nearby drivers; otherwise stored driver locations are used.
type Nearest struct {
	Geo           geo.Geo
	ETA           *eta.Estimator
	RadiusMeters  float64
	MaxCandidates int
}

func (n *Nearest) Candidates(ctx context.Context, order models.Order, available []models.Driver) ([]models.Driver, error) {
	if order.CustomerLoc == nil {
		return nil, nil
	}
	origin := *order.CustomerLoc

	pool, err := n.pool(ctx, origin, available)
	if err != nil {
		return nil, err
	}

	estimator := n.ETA
	if estimator == nil {
		estimator = &eta.Estimator{}
	}
	type scored struct {
		d      models.Driver
		etaSec float64
	}
	scoredList := make([]scored, 0, len(pool))
	for _, d := range pool {
		scoredList = append(scoredList, scored{d, estimator.Seconds(ctx, *d.Location, origin)})
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].etaSec == scoredList[j].etaSec {
			return scoredList[i].d.ID < scoredList[j].d.ID
		}
		return scoredList[i].etaSec < scoredList[j].etaSec
	})
	if n.MaxCandidates > 0 && len(scoredList) > n.MaxCandidates {
		scoredList = scoredList[:n.MaxCandidates]
	}
	out := make([]models.Driver, 0, len(scoredList))
	for _, s := range scoredList {
		out = append(out, s.d)
	}
	return out, nil
}

// pool returns available drivers with a known location inside the radius.
func (n *Nearest) pool(ctx context.Context, origin models.Coord, available []models.Driver) ([]models.Driver, error) {
	if n.Geo != nil {
		nearby, err := n.Geo.Nearby(ctx, origin.Lat, origin.Lng, n.RadiusMeters, 0)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]models.Driver, len(available))
		for _, d := range available {
			byID[d.ID] = d
		}
		out := make([]models.Driver, 0, len(nearby))
		for _, g := range nearby {
			d, ok := byID[g.ID]
			if !ok {
				continue
			}
			d.Location = g.Location
			out = append(out, d)
		}
		return out, nil
	}

	out := make([]models.Driver, 0, len(available))
	for _, d := range available {
		if d.Location == nil {
			continue
		}
		if n.RadiusMeters > 0 && geo.Distance(*d.Location, origin) > n.RadiusMeters {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
