package graph

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/metrics"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
)

// RebuildResult summarizes one rebuild.
type RebuildResult struct {
	Edges     int                    `json:"edges"`
	Providers int                    `json:"providers"`
	ByType    map[model.EdgeType]int `json:"by_type"`
}

// Builder rebuilds the stored provider graph.
type Builder struct {
	store store.Store
	rules Rules
}

// NewBuilder creates a Builder over st.
func NewBuilder(st store.Store, rules Rules) *Builder {
	return &Builder{store: st, rules: rules}
}

// Rebuild loads all providers, derives edges and atomically replaces the
// stored edge set. Running it twice over unchanged providers yields the same
// edges.
func (b *Builder) Rebuild(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()

	providers, err := b.store.ListProviders(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "graph: load providers")
	}

	edges := BuildEdges(providers, b.rules)
	if err := b.store.ReplaceEdges(ctx, edges); err != nil {
		return nil, eris.Wrap(err, "graph: replace edges")
	}

	res := &RebuildResult{
		Edges:     len(edges),
		Providers: len(providers),
		ByType:    CountByType(edges),
	}
	for t, n := range res.ByType {
		metrics.GraphEdges.WithLabelValues(string(t)).Set(float64(n))
	}

	zap.L().Info("graph: rebuilt",
		zap.Int("providers", res.Providers),
		zap.Int("edges", res.Edges),
		zap.Int("geographic_proximity", res.ByType[model.EdgeGeographicProximity]),
		zap.Int("taxonomy_match", res.ByType[model.EdgeTaxonomyMatch]),
		zap.Int("same_location", res.ByType[model.EdgeSameLocation]),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
