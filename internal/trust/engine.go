package trust

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/metrics"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
)

// Engine ranks the stored provider graph and appends trust runs.
type Engine struct {
	store  store.Store
	params Params
	now    func() time.Time
}

// NewEngine creates an Engine using params unless a run overrides them.
func NewEngine(st store.Store, params Params) *Engine {
	return &Engine{store: st, params: params, now: time.Now}
}

// RunOption overrides a parameter for a single run.
type RunOption func(*Params)

// WithDamping overrides the damping factor.
func WithDamping(d float64) RunOption {
	return func(p *Params) { p.Damping = d }
}

// WithMaxIterations overrides the iteration cap.
func WithMaxIterations(n int) RunOption {
	return func(p *Params) { p.MaxIterations = n }
}

// Run reads one consistent snapshot, ranks it and appends the run with its
// scores. An empty provider set returns ErrNoProviders and persists nothing.
func (e *Engine) Run(ctx context.Context, opts ...RunOption) (*model.TrustRanking, error) {
	params := e.params
	for _, opt := range opts {
		opt(&params)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "trust: snapshot")
	}

	ranking, err := ComputeRanks(snap.Providers, snap.Edges, params)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	ranking.Run.ID = uuid.New().String()
	ranking.Run.ComputedAt = now
	for i := range ranking.Scores {
		ranking.Scores[i].RunID = ranking.Run.ID
		ranking.Scores[i].ComputedAt = now
	}

	log := zap.L().With(
		zap.String("run_id", ranking.Run.ID),
		zap.Int("providers", ranking.Run.ProviderCount),
		zap.Int("edges", ranking.Run.EdgeCount),
		zap.Int("iterations", ranking.Run.Iterations),
		zap.Float64("damping", ranking.Run.Damping),
	)
	if !ranking.Run.Converged {
		log.Warn("trust: iteration cap reached before convergence")
	}
	if ranking.Run.SelfLoops {
		log.Warn("trust: no edges, ranking over self-loops")
	}

	if err := e.store.SaveTrustRanking(ctx, ranking); err != nil {
		return nil, eris.Wrap(err, "trust: save ranking")
	}
	metrics.TrustIterations.Observe(float64(ranking.Run.Iterations))

	log.Info("trust: run complete", zap.Bool("converged", ranking.Run.Converged))
	return ranking, nil
}

// Top returns the latest run and its first limit scores. It returns
// store.ErrNotFound when no run exists yet.
func (e *Engine) Top(ctx context.Context, limit int) (*model.TrustRanking, error) {
	run, err := e.store.LatestTrustRun(ctx)
	if err != nil {
		return nil, err
	}
	scores, err := e.store.TopTrustScores(ctx, run.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "trust: top scores")
	}
	return &model.TrustRanking{Run: *run, Scores: scores}, nil
}
