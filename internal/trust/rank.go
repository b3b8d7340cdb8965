// Package trust computes damped rank propagation scores over the provider
// graph and appends each ranking as a new trust run.
package trust

import (
	"errors"
	"math"
	"sort"

	"github.com/sells-group/provider-trust/internal/config"
	"github.com/sells-group/provider-trust/internal/model"
)

// ErrNoProviders is returned when there is nothing to rank.
var ErrNoProviders = errors.New("trust: no providers")

// Params tunes the iteration.
type Params struct {
	Damping       float64
	MaxIterations int
	Tolerance     float64
}

// DefaultParams returns damping 0.85, 100 iterations and tolerance 1e-6.
func DefaultParams() Params {
	return Params{Damping: 0.85, MaxIterations: 100, Tolerance: 1e-6}
}

// ParamsFromConfig overlays configured values on DefaultParams.
func ParamsFromConfig(c config.TrustConfig) Params {
	p := DefaultParams()
	if c.Damping > 0 && c.Damping < 1 {
		p.Damping = c.Damping
	}
	if c.MaxIterations > 0 {
		p.MaxIterations = c.MaxIterations
	}
	if c.Tolerance > 0 {
		p.Tolerance = c.Tolerance
	}
	return p
}

// Validate rejects parameters the iteration cannot use.
func (p Params) Validate() error {
	if p.Damping <= 0 || p.Damping >= 1 {
		return model.NewValidationError("damping", "must be in (0, 1)")
	}
	if p.MaxIterations <= 0 {
		return model.NewValidationError("max_iterations", "must be positive")
	}
	if p.Tolerance <= 0 {
		return model.NewValidationError("tolerance", "must be positive")
	}
	return nil
}

// ComputeRanks ranks providers over edges. The returned ranking carries
// everything but the run id and timestamps. Scores sum to 1; ranks are
// 1-based by descending score with ties broken by ascending NPI number.
func ComputeRanks(providers []model.Provider, edges []model.ProviderEdge, params Params) (*model.TrustRanking, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	g := newArena(providers, edges)
	scores, iterations, converged := iterate(g, params)

	order := make([]int, g.size())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		i, j := order[x], order[y]
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		return g.providers[i].NPINumber < g.providers[j].NPINumber
	})

	out := &model.TrustRanking{
		Run: model.TrustRun{
			ProviderCount: g.size(),
			EdgeCount:     g.edgeCount,
			SelfLoops:     g.selfLoops,
			Damping:       params.Damping,
			Iterations:    iterations,
			Converged:     converged,
		},
		Scores: make([]model.TrustScore, len(order)),
	}
	for rank, i := range order {
		p := &g.providers[i]
		out.Scores[rank] = model.TrustScore{
			ProviderID:  p.ID,
			NPINumber:   p.NPINumber,
			DisplayName: p.DisplayName,
			Score:       scores[i],
			Rank:        rank + 1,
			Degree:      g.degree[i],
		}
	}
	return out, nil
}

// iterate runs the damped power iteration from a uniform start. Mass of
// nodes without out-arcs and the teleport term are spread uniformly. It
// stops once the L1 change drops below n*tolerance or the cap is reached.
func iterate(g *arena, params Params) (scores []float64, iterations int, converged bool) {
	n := g.size()
	uniform := 1 / float64(n)
	d := params.Damping

	x := make([]float64, n)
	for i := range x {
		x[i] = uniform
	}
	next := make([]float64, n)

	for iterations < params.MaxIterations {
		iterations++

		dangling := 0.0
		for i := 0; i < n; i++ {
			if g.outWeight[i] == 0 {
				dangling += x[i]
			}
		}
		base := (1-d)*uniform + d*dangling*uniform
		for i := range next {
			next[i] = base
		}
		for i := 0; i < n; i++ {
			if g.outWeight[i] == 0 {
				continue
			}
			share := d * x[i] / g.outWeight[i]
			for _, a := range g.out[i] {
				next[a.to] += share * a.weight
			}
		}

		delta := 0.0
		for i := range x {
			delta += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if delta < float64(n)*params.Tolerance {
			converged = true
			break
		}
	}

	sum := 0.0
	for _, v := range x {
		sum += v
	}
	if sum > 0 {
		for i := range x {
			x[i] /= sum
		}
	}
	return x, iterations, converged
}
