// Package worker runs verification batches and graph recomputes as durable
// Temporal workflows.
package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/config"
)

// registry is satisfied by worker.Worker and the test workflow environment.
type registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register adds every workflow and activity to r.
func Register(r registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(VerifyProvidersWorkflow, workflow.RegisterOptions{Name: VerifyProvidersWorkflowName})
	r.RegisterWorkflowWithOptions(RecomputeWorkflow, workflow.RegisterOptions{Name: RecomputeWorkflowName})
	r.RegisterActivity(acts)
}

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "worker: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Run polls cfg.TaskQueue until ctx is cancelled. maxConcurrent bounds the
// number of activities executing at once.
func Run(ctx context.Context, c client.Client, cfg config.TemporalConfig, maxConcurrent int, acts *Activities) error {
	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxConcurrent,
	})
	Register(w, acts)

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	zap.L().Info("worker: polling",
		zap.String("task_queue", cfg.TaskQueue),
		zap.String("namespace", cfg.Namespace),
		zap.Int("max_concurrent", maxConcurrent),
	)
	if err := w.Run(stop); err != nil {
		return eris.Wrap(err, "worker: run")
	}
	return nil
}
