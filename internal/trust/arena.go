package trust

import (
	"sort"

	"github.com/sells-group/provider-trust/internal/model"
)

type arc struct {
	to     int
	weight float64
}

// arena is the rank graph: providers are addressed by index in NPI order and
// edges are per-source arc lists. Parallel edges between the same ordered
// pair are merged by summing their weights.
type arena struct {
	providers []model.Provider
	out       [][]arc
	outWeight []float64
	degree    []int
	edgeCount int
	selfLoops bool
}

func newArena(providers []model.Provider, edges []model.ProviderEdge) *arena {
	sorted := make([]model.Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].NPINumber < sorted[j].NPINumber })

	a := &arena{
		providers: sorted,
		out:       make([][]arc, len(sorted)),
		outWeight: make([]float64, len(sorted)),
		degree:    make([]int, len(sorted)),
	}

	index := make(map[string]int, len(sorted))
	for i := range sorted {
		index[sorted[i].ID] = i
	}

	for _, e := range edges {
		src, ok := index[e.SourceID]
		if !ok {
			continue
		}
		dst, ok := index[e.TargetID]
		if !ok || e.Weight <= 0 {
			continue
		}
		a.addArc(src, dst, e.Weight)
	}

	if a.edgeCount == 0 {
		a.selfLoops = true
		for i := range sorted {
			a.addArc(i, i, 1)
		}
	}
	return a
}

func (a *arena) addArc(src, dst int, weight float64) {
	a.edgeCount++
	a.degree[src]++
	if dst != src {
		a.degree[dst]++
	}
	a.outWeight[src] += weight
	for k := range a.out[src] {
		if a.out[src][k].to == dst {
			a.out[src][k].weight += weight
			return
		}
	}
	a.out[src] = append(a.out[src], arc{to: dst, weight: weight})
}

func (a *arena) size() int {
	return len(a.providers)
}
