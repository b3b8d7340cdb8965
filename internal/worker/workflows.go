package worker

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/provider-trust/internal/graph"
	"github.com/sells-group/provider-trust/internal/model"
)

// Workflow names as registered on the worker.
const (
	VerifyProvidersWorkflowName = "VerifyProviders"
	RecomputeWorkflowName       = "Recompute"
)

// VerifyProvidersInput lists the providers to verify. With Recompute set the
// graph and trust ranks are refreshed once all verifications finish.
type VerifyProvidersInput struct {
	NPINumbers []string     `json:"npi_numbers"`
	Recompute  bool         `json:"recompute"`
	Trust      ComputeInput `json:"trust"`
}

// VerifyProvidersResult collects per-provider outcomes in input order.
type VerifyProvidersResult struct {
	Runs      []VerifyOutput   `json:"runs"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Recompute *RecomputeResult `json:"recompute,omitempty"`
}

// RecomputeResult pairs a graph rebuild with the trust run that followed it.
type RecomputeResult struct {
	Graph graph.RebuildResult `json:"graph"`
	Trust ComputeOutput       `json:"trust"`
}

func activityOptions(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})
}

// VerifyProvidersWorkflow fans out one VerifyProvider activity per NPI number.
// Invalid numbers are reported as failed runs instead of failing the batch.
func VerifyProvidersWorkflow(ctx workflow.Context, in VerifyProvidersInput) (*VerifyProvidersResult, error) {
	logger := workflow.GetLogger(ctx)
	actx := activityOptions(ctx, 2*time.Minute)

	futures := make([]workflow.Future, len(in.NPINumbers))
	for i, n := range in.NPINumbers {
		futures[i] = workflow.ExecuteActivity(actx, VerifyProviderActivity, VerifyInput{NPINumber: n})
	}

	res := &VerifyProvidersResult{Runs: make([]VerifyOutput, len(in.NPINumbers))}
	for i, f := range futures {
		var out VerifyOutput
		if err := f.Get(ctx, &out); err != nil {
			if !isValidationFailure(err) {
				return nil, err
			}
			logger.Warn("invalid npi number", "npi", in.NPINumbers[i], "error", err)
			out = VerifyOutput{NPINumber: in.NPINumbers[i], Status: model.ExecutionFailed, Error: err.Error()}
		}
		res.Runs[i] = out
		if out.Status == model.ExecutionSuccess {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	if in.Recompute && res.Succeeded > 0 {
		rc, err := recompute(ctx, in.Trust)
		if err != nil {
			return nil, err
		}
		res.Recompute = rc
	}

	logger.Info("verification batch complete", "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}

// RecomputeWorkflow rebuilds the provider graph and then ranks it.
func RecomputeWorkflow(ctx workflow.Context, in ComputeInput) (*RecomputeResult, error) {
	return recompute(ctx, in)
}

func recompute(ctx workflow.Context, in ComputeInput) (*RecomputeResult, error) {
	actx := activityOptions(ctx, 10*time.Minute)

	var out RecomputeResult
	if err := workflow.ExecuteActivity(actx, RebuildGraphActivity).Get(ctx, &out.Graph); err != nil {
		return nil, err
	}
	if err := workflow.ExecuteActivity(actx, ComputeTrustActivity, in).Get(ctx, &out.Trust); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("recompute complete",
		"edges", out.Graph.Edges,
		"run_id", out.Trust.RunID,
		"converged", out.Trust.Converged,
	)
	return &out, nil
}

func isValidationFailure(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == ErrTypeValidation
}
