// Package api exposes the verification pipeline, the provider graph and the
// trust engine as JSON over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/provider-trust/internal/graph"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/provider"
	"github.com/sells-group/provider-trust/internal/store"
	"github.com/sells-group/provider-trust/internal/trust"
	"github.com/sells-group/provider-trust/internal/workflow"
)

// Workflows is the slice of the orchestrator the API drives.
type Workflows interface {
	Run(ctx context.Context, npiNumber string) (*model.WorkflowExecution, error)
	Submit(ctx context.Context, npiNumber string) (*model.WorkflowExecution, error)
}

var _ Workflows = (*workflow.Orchestrator)(nil)

// Deps are the services behind the routes.
type Deps struct {
	Store     store.Store
	Workflows Workflows
	Graph     *graph.Builder
	Trust     *trust.Engine
	Providers *provider.Service
}

// Options tune the router.
type Options struct {
	CORSOrigins []string
}

// Server routes HTTP requests to the pipeline services.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler builds the chi router with every route mounted.
func (s *Server) Handler(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		s.Register(r)
	})
	return r
}

// Register mounts the versioned API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.createWorkflow)
		r.Get("/", s.listWorkflows)
		r.Get("/{id}", s.getWorkflow)
		r.Get("/{id}/evidence", s.getEvidence)
	})
	r.Post("/graph/rebuild", s.rebuildGraph)
	r.Post("/trust/compute", s.computeTrust)
	r.Get("/trust/top", s.topTrust)
	r.Get("/providers/{npi}", s.getProvider)
	r.Get("/providers/{npi}/verify", s.verifyProvider)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body = map[string]string{"status": "unavailable", "error": err.Error()}
	}
	writeJSON(w, status, body)
}
