package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
)

// scanLimit caps how many recent executions one collection inspects.
const scanLimit = 1000

// HealthSnapshot holds a point-in-time view of verification health.
type HealthSnapshot struct {
	// Executions started within the lookback window.
	Total    int     `json:"total"`
	Success  int     `json:"success"`
	Failed   int     `json:"failed"`
	Pending  int     `json:"pending"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	// Non-terminal executions older than the stuck threshold.
	Stuck []string `json:"stuck,omitempty"`

	// LastTrustRun is nil until a trust run exists.
	LastTrustRun *time.Time `json:"last_trust_run,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the slice of the store the collector reads.
type Source interface {
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]model.WorkflowExecution, error)
	LatestTrustRun(ctx context.Context) (*model.TrustRun, error)
}

// Collector gathers execution health from the store.
type Collector struct {
	source Source
	now    func() time.Time
}

// NewCollector creates a new health collector.
func NewCollector(src Source) *Collector {
	return &Collector{source: src, now: time.Now}
}

// Collect summarizes executions started within lookbackHours. Executions
// still pending or running after stuckAfter are reported as stuck.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, stuckAfter time.Duration) (*HealthSnapshot, error) {
	now := c.now().UTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Listed newest first, so the scan stops at the first execution
	// outside the window.
	execs, err := c.source.ListExecutions(ctx, store.ExecutionFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list executions")
	}
	for _, e := range execs {
		if e.StartedAt.Before(cutoff) {
			break
		}
		snap.Total++
		switch e.Status {
		case model.ExecutionSuccess:
			snap.Success++
		case model.ExecutionFailed:
			snap.Failed++
		case model.ExecutionPending:
			snap.Pending++
		case model.ExecutionRunning:
			snap.Running++
		}
		if !e.Status.Terminal() && stuckAfter > 0 && now.Sub(e.StartedAt) > stuckAfter {
			snap.Stuck = append(snap.Stuck, e.ID)
		}
	}
	if finished := snap.Success + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	run, err := c.source.LatestTrustRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, eris.Wrap(err, "monitoring: latest trust run")
	default:
		t := run.ComputedAt.UTC()
		snap.LastTrustRun = &t
	}

	return snap, nil
}
