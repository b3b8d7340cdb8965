// Package graph derives weighted, typed edges between providers and
// replaces the stored edge set.
package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/provider-trust/internal/config"
	"github.com/sells-group/provider-trust/internal/geo"
	"github.com/sells-group/provider-trust/internal/model"
)

// Rules holds the edge derivation parameters.
type Rules struct {
	ProximityRadiusKm   float64
	ProximityFloor      float64
	TaxonomyWeight      float64
	SameLocationEnabled bool
	SameLocationWeight  float64
}

// DefaultRules returns the stock parameters: 50 km radius, 0.1 floor,
// taxonomy 0.8, same_location off at 0.6.
func DefaultRules() Rules {
	return Rules{
		ProximityRadiusKm:  50,
		ProximityFloor:     0.1,
		TaxonomyWeight:     0.8,
		SameLocationWeight: 0.6,
	}
}

// RulesFromConfig overlays configured values on DefaultRules. Weights are
// clamped into (0, 1].
func RulesFromConfig(c config.GraphConfig) Rules {
	r := DefaultRules()
	if c.ProximityRadiusKm > 0 {
		r.ProximityRadiusKm = c.ProximityRadiusKm
	}
	if c.ProximityFloor > 0 {
		r.ProximityFloor = math.Min(c.ProximityFloor, 1)
	}
	if c.TaxonomyWeight > 0 {
		r.TaxonomyWeight = math.Min(c.TaxonomyWeight, 1)
	}
	if c.SameLocationWeight > 0 {
		r.SameLocationWeight = math.Min(c.SameLocationWeight, 1)
	}
	r.SameLocationEnabled = c.SameLocationEnabled
	return r
}

// ProximityWeight maps a distance to max(floor, 1 - d/radius). Distances at
// or beyond the radius yield 0 (no edge).
func (r Rules) ProximityWeight(distanceKm float64) float64 {
	if distanceKm < 0 || distanceKm >= r.ProximityRadiusKm {
		return 0
	}
	return math.Max(r.ProximityFloor, 1-distanceKm/r.ProximityRadiusKm)
}

// BuildEdges returns the edges for every unordered provider pair. Providers
// are visited in NPI order and each edge points from the lower NPI to the
// higher one. The input slice is not modified.
func BuildEdges(providers []model.Provider, rules Rules) []model.ProviderEdge {
	sorted := make([]model.Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].NPINumber < sorted[j].NPINumber })

	points := make([]*geom.Point, len(sorted))
	for i := range sorted {
		if sorted[i].HasCoordinates() {
			points[i] = geo.NewPoint(*sorted[i].Latitude, *sorted[i].Longitude)
		}
	}

	var edges []model.ProviderEdge
	for i := 0; i < len(sorted); i++ {
		a := &sorted[i]
		for j := i + 1; j < len(sorted); j++ {
			b := &sorted[j]
			edge := func(t model.EdgeType, w float64) {
				edges = append(edges, model.ProviderEdge{SourceID: a.ID, TargetID: b.ID, Type: t, Weight: w})
			}

			if points[i] != nil && points[j] != nil {
				if w := rules.ProximityWeight(geo.HaversineKm(points[i], points[j])); w > 0 {
					edge(model.EdgeGeographicProximity, w)
				}
			}
			if a.TaxonomyCode != "" && a.TaxonomyCode == b.TaxonomyCode {
				edge(model.EdgeTaxonomyMatch, rules.TaxonomyWeight)
			}
			if rules.SameLocationEnabled && sameLocation(a, b) {
				edge(model.EdgeSameLocation, rules.SameLocationWeight)
			}
		}
	}
	return edges
}

func sameLocation(a, b *model.Provider) bool {
	if a.City == "" || a.State == "" || b.City == "" || b.State == "" {
		return false
	}
	return strings.EqualFold(a.City, b.City) && strings.EqualFold(a.State, b.State)
}

// CountByType tallies edges per type. Every known type is present.
func CountByType(edges []model.ProviderEdge) map[model.EdgeType]int {
	out := map[model.EdgeType]int{
		model.EdgeGeographicProximity: 0,
		model.EdgeTaxonomyMatch:       0,
		model.EdgeSameLocation:        0,
	}
	for _, e := range edges {
		out[e.Type]++
	}
	return out
}
