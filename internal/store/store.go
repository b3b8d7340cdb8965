// Package store persists providers, the provider graph, trust runs and
// workflow executions. SQLite and Postgres implementations share one
// interface and the same idempotent bootstrap DDL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/provider-trust/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrTerminal is returned when updating an execution that has already
	// reached success or failed.
	ErrTerminal = errors.New("store: execution is terminal")
)

// ExecutionFilter specifies criteria for listing workflow executions.
type ExecutionFilter struct {
	Status model.ExecutionStatus `json:"status,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// UpsertResult is the outcome of UpsertProvider.
type UpsertResult struct {
	Provider *model.Provider
	Created  bool
}

// Snapshot is a consistent read of the provider graph.
type Snapshot struct {
	Providers []model.Provider
	Edges     []model.ProviderEdge
}

// Store defines the persistence interface for the verification pipeline.
type Store interface {
	// Providers
	UpsertProvider(ctx context.Context, p *model.Provider) (*UpsertResult, error)
	GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error)
	ListProviders(ctx context.Context) ([]model.Provider, error)

	// Graph
	ReplaceEdges(ctx context.Context, edges []model.ProviderEdge) error
	ListEdges(ctx context.Context) ([]model.ProviderEdge, error)
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Trust runs
	SaveTrustRanking(ctx context.Context, ranking *model.TrustRanking) error
	LatestTrustRun(ctx context.Context) (*model.TrustRun, error)
	TopTrustScores(ctx context.Context, runID string, limit int) ([]model.TrustScore, error)

	// Workflow executions
	CreateExecution(ctx context.Context, exec *model.WorkflowExecution) error
	UpdateExecution(ctx context.Context, exec *model.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.WorkflowExecution, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// utcOrNow returns t in UTC, or the current time when t is zero.
func utcOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
