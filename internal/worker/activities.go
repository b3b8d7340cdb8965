package worker

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/graph"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/trust"
)

// Activity names as registered on the worker.
const (
	VerifyProviderActivity = "VerifyProvider"
	RebuildGraphActivity   = "RebuildGraph"
	ComputeTrustActivity   = "ComputeTrust"
)

// Verifier runs one verification to a terminal state.
type Verifier interface {
	Run(ctx context.Context, npiNumber string) (*model.WorkflowExecution, error)
}

// GraphRebuilder replaces the stored provider graph.
type GraphRebuilder interface {
	Rebuild(ctx context.Context) (*graph.RebuildResult, error)
}

// TrustRunner appends a trust run over the stored graph.
type TrustRunner interface {
	Run(ctx context.Context, opts ...trust.RunOption) (*model.TrustRanking, error)
}

// Activities binds the pipeline services to Temporal activities.
type Activities struct {
	Verifier Verifier
	Graph    GraphRebuilder
	Trust    TrustRunner
}

// NewActivities creates the activity set.
func NewActivities(v Verifier, g GraphRebuilder, t TrustRunner) *Activities {
	return &Activities{Verifier: v, Graph: g, Trust: t}
}

// VerifyInput names the provider to verify.
type VerifyInput struct {
	NPINumber string `json:"npi_number"`
}

// VerifyOutput summarizes a terminal execution.
type VerifyOutput struct {
	ExecutionID string                `json:"execution_id"`
	NPINumber   string                `json:"npi_number"`
	Status      model.ExecutionStatus `json:"status"`
	ProviderID  string                `json:"provider_id,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// ComputeInput carries optional per-run overrides.
type ComputeInput struct {
	Damping       float64 `json:"damping,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
}

// ComputeOutput summarizes a trust run.
type ComputeOutput struct {
	RunID      string `json:"run_id"`
	Providers  int    `json:"providers"`
	Edges      int    `json:"edges"`
	Iterations int    `json:"iterations"`
	Converged  bool   `json:"converged"`
}

// VerifyProvider runs the verification pipeline for one NPI number. A failed
// run is a normal result; only store failures are returned as errors, and
// malformed input is not retried.
func (a *Activities) VerifyProvider(ctx context.Context, in VerifyInput) (*VerifyOutput, error) {
	exec, err := a.Verifier.Run(ctx, in.NPINumber)
	if err != nil {
		return nil, classify(err)
	}
	return &VerifyOutput{
		ExecutionID: exec.ID,
		NPINumber:   in.NPINumber,
		Status:      exec.Status,
		ProviderID:  exec.ProviderID,
		Error:       exec.Error,
	}, nil
}

// RebuildGraph rederives every provider edge.
func (a *Activities) RebuildGraph(ctx context.Context) (*graph.RebuildResult, error) {
	res, err := a.Graph.Rebuild(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// ComputeTrust ranks the stored graph. Zero-valued overrides keep the
// configured parameters.
func (a *Activities) ComputeTrust(ctx context.Context, in ComputeInput) (*ComputeOutput, error) {
	var opts []trust.RunOption
	if in.Damping != 0 {
		opts = append(opts, trust.WithDamping(in.Damping))
	}
	if in.MaxIterations != 0 {
		opts = append(opts, trust.WithMaxIterations(in.MaxIterations))
	}
	ranking, err := a.Trust.Run(ctx, opts...)
	if err != nil {
		return nil, classify(err)
	}
	return &ComputeOutput{
		RunID:      ranking.Run.ID,
		Providers:  ranking.Run.ProviderCount,
		Edges:      ranking.Run.EdgeCount,
		Iterations: ranking.Run.Iterations,
		Converged:  ranking.Run.Converged,
	}, nil
}

// Error types attached to non-retryable application errors.
const (
	ErrTypeValidation  = "ValidationError"
	ErrTypeNoProviders = "NoProviders"
)

// classify marks terminal errors non-retryable so Temporal does not spin on
// them. Everything else keeps the activity retry policy.
func classify(err error) error {
	switch {
	case model.IsValidation(err):
		zap.L().Warn("worker: rejecting invalid input", zap.Error(err))
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeValidation, err)
	case errors.Is(err, trust.ErrNoProviders):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNoProviders, err)
	default:
		return err
	}
}
