// Package workflow runs the provider verification pipeline: registry
// lookup, geocoding, then provider upsert, recording an evidence trail for
// every step.
package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-trust/internal/metrics"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
	"github.com/sells-group/provider-trust/pkg/geocode"
	"github.com/sells-group/provider-trust/pkg/npi"
)

// ProviderWriter persists a registry payload as a provider.
type ProviderWriter interface {
	Upsert(ctx context.Context, raw json.RawMessage, lat, lon *float64) (*store.UpsertResult, error)
}

// Orchestrator sequences the verification steps for one NPI number.
type Orchestrator struct {
	store     store.Store
	registry  npi.Client
	geocoder  geocode.Client
	providers ProviderWriter

	now   func() time.Time
	newID func() string

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(st store.Store, registry npi.Client, geocoder geocode.Client, providers ProviderWriter) *Orchestrator {
	return &Orchestrator{
		store:     st,
		registry:  registry,
		geocoder:  geocoder,
		providers: providers,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Start validates the NPI number and persists a pending execution.
func (o *Orchestrator) Start(ctx context.Context, npiNumber string) (*model.WorkflowExecution, error) {
	if !npi.ValidNumber(npiNumber) {
		return nil, model.NewValidationError("npi_number", "must be 10 digits")
	}
	exec := &model.WorkflowExecution{
		ID:           o.newID(),
		WorkflowType: model.WorkflowProviderVerification,
		Input:        map[string]string{"npi_number": npiNumber},
		Status:       model.ExecutionPending,
		Evidence:     []model.Evidence{},
		StartedAt:    o.now().UTC(),
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, eris.Wrap(err, "workflow: create execution")
	}
	return exec, nil
}

// Run starts and executes a verification synchronously. The returned
// execution is terminal unless err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, npiNumber string) (*model.WorkflowExecution, error) {
	exec, err := o.Start(ctx, npiNumber)
	if err != nil {
		return nil, err
	}
	if err := o.Execute(ctx, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// Submit starts an execution and drives it in the background. The caller's
// cancellation does not stop the background run; Wait blocks until all
// submitted runs finish.
func (o *Orchestrator) Submit(ctx context.Context, npiNumber string) (*model.WorkflowExecution, error) {
	exec, err := o.Start(ctx, npiNumber)
	if err != nil {
		return nil, err
	}
	snapshot := *exec
	snapshot.Evidence = append([]model.Evidence{}, exec.Evidence...)

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Execute(bg, exec); err != nil {
			zap.L().Error("workflow: background execution", zap.String("execution_id", exec.ID), zap.Error(err))
		}
	}()
	return &snapshot, nil
}

// Wait blocks until every submitted execution has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// RunBatch verifies each NPI number with at most concurrency runs in flight.
// Results are in input order. Failed runs are not errors; only store
// failures abort the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, npiNumbers []string, concurrency int) ([]*model.WorkflowExecution, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	out := make([]*model.WorkflowExecution, len(npiNumbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, n := range npiNumbers {
		g.Go(func() error {
			exec, err := o.Run(gctx, n)
			if model.IsValidation(err) {
				zap.L().Warn("workflow: skipping invalid npi", zap.String("npi", n), zap.Error(err))
				return nil
			}
			if err != nil {
				return eris.Wrapf(err, "workflow: verify %s", n)
			}
			out[i] = exec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// Execute drives a pending execution to a terminal state, persisting every
// transition. Step failures terminalize the run as failed and are not
// returned; the error reports only persistence failures.
func (o *Orchestrator) Execute(ctx context.Context, exec *model.WorkflowExecution) (err error) {
	npiNumber := exec.Input["npi_number"]
	log := zap.L().With(zap.String("execution_id", exec.ID), zap.String("npi", npiNumber))

	if err := exec.Transition(model.ExecutionRunning, o.now()); err != nil {
		return eris.Wrap(err, "workflow: start")
	}
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return o.finish(ctx, exec, log, eris.Wrap(err, "persist running state"))
	}
	log.Info("workflow: running")

	defer func() {
		if r := recover(); r != nil {
			log.Error("workflow: panic in step", zap.Any("panic", r))
			err = o.finish(ctx, exec, log, eris.Errorf("panic: %v", r))
		}
	}()

	return o.finish(ctx, exec, log, o.steps(ctx, exec, npiNumber, log))
}

func (o *Orchestrator) steps(ctx context.Context, exec *model.WorkflowExecution, npiNumber string, log *zap.Logger) error {
	// Step 1: registry lookup.
	res, err := o.registry.Lookup(ctx, npiNumber)
	if err != nil {
		o.record(ctx, exec, model.NewLookupEvidence(o.now(), model.LookupEvidence{
			NPINumber: npiNumber,
			Error:     err.Error(),
		}), log)
		return eris.Wrap(err, "registry lookup")
	}
	if !res.Found {
		o.record(ctx, exec, model.NewLookupEvidence(o.now(), model.LookupEvidence{
			NPINumber: npiNumber,
			Error:     "not found",
		}), log)
		return eris.Errorf("provider %s not found in NPI Registry", npiNumber)
	}

	addr := lookupAddress(res.Record)
	o.record(ctx, exec, model.NewLookupEvidence(o.now(), model.LookupEvidence{
		NPINumber: npiNumber,
		Found:     true,
		Name:      addr.name,
		Taxonomy:  addr.taxonomy,
	}), log)
	log.Info("workflow: lookup complete", zap.Bool("cached", res.Cached))

	// Step 2: geocoding. Failures and misses are recorded and do not stop
	// the run.
	lat, lon := o.geocodeStep(ctx, exec, addr.input, log)

	// Step 3: storage.
	up, err := o.providers.Upsert(ctx, res.Raw, lat, lon)
	if err != nil {
		return eris.Wrap(err, "store provider")
	}
	exec.ProviderID = up.Provider.ID
	o.record(ctx, exec, model.NewStorageEvidence(o.now(), model.StorageEvidence{
		ProviderID:    up.Provider.ID,
		NPINumber:     up.Provider.NPINumber,
		IntegrityHash: up.Provider.IntegrityHash,
		Created:       up.Created,
	}), log)
	return nil
}

func (o *Orchestrator) geocodeStep(ctx context.Context, exec *model.WorkflowExecution, in geocode.AddressInput, log *zap.Logger) (lat, lon *float64) {
	if in.Street == "" {
		o.record(ctx, exec, model.NewGeocodeEvidence(o.now(), model.GeocodeEvidence{
			Outcome: model.GeocodeSkipped,
			Error:   "no street address",
		}), log)
		return nil, nil
	}

	query := in.Query()
	gr, err := o.geocoder.Geocode(ctx, in)
	switch {
	case err != nil:
		log.Warn("workflow: geocode failed, continuing without coordinates", zap.Error(err))
		o.record(ctx, exec, model.NewGeocodeEvidence(o.now(), model.GeocodeEvidence{
			Outcome: model.GeocodeFailed,
			Query:   query,
			Error:   err.Error(),
		}), log)
		return nil, nil
	case !gr.Matched:
		o.record(ctx, exec, model.NewGeocodeEvidence(o.now(), model.GeocodeEvidence{
			Outcome: model.GeocodeUnmatched,
			Query:   query,
		}), log)
		return nil, nil
	}

	la, lo := gr.Latitude, gr.Longitude
	o.record(ctx, exec, model.NewGeocodeEvidence(o.now(), model.GeocodeEvidence{
		Outcome:   model.GeocodeMatched,
		Query:     query,
		Latitude:  &la,
		Longitude: &lo,
	}), log)
	return &la, &lo
}

// record appends evidence and persists progress. A failed progress write is
// logged; the terminal write reports persistence errors.
func (o *Orchestrator) record(ctx context.Context, exec *model.WorkflowExecution, e model.Evidence, log *zap.Logger) {
	exec.AddEvidence(e)
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		log.Warn("workflow: persist evidence", zap.String("step", string(e.Step)), zap.Error(err))
	}
}

// finish terminalizes exec as success (stepErr nil) or failed and persists
// it with a context that ignores the caller's cancellation.
func (o *Orchestrator) finish(ctx context.Context, exec *model.WorkflowExecution, log *zap.Logger, stepErr error) error {
	if exec.Status.Terminal() {
		return nil
	}
	next := model.ExecutionSuccess
	if stepErr != nil {
		next = model.ExecutionFailed
		exec.Error = stepErr.Error()
	}
	if err := exec.Transition(next, o.now()); err != nil {
		return eris.Wrap(err, "workflow: finish")
	}
	metrics.WorkflowRuns.WithLabelValues(string(next)).Inc()

	if stepErr != nil {
		log.Warn("workflow: failed", zap.Int("evidence", len(exec.Evidence)), zap.Error(stepErr))
	} else {
		log.Info("workflow: success", zap.String("provider_id", exec.ProviderID))
	}

	if err := o.store.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		return eris.Wrapf(err, "workflow: persist terminal state %s", next)
	}
	return nil
}
