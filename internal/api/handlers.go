package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
	"github.com/sells-group/provider-trust/internal/trust"
)

const defaultTopLimit = 10

type createWorkflowRequest struct {
	NPINumber string `json:"npi_number"`
	Wait      bool   `json:"wait"`
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}
	if req.NPINumber == "" {
		badRequest(w, "npi_number", "is required")
		return
	}

	if !req.Wait {
		exec, err := s.deps.Workflows.Submit(r.Context(), req.NPINumber)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, exec)
		return
	}

	exec, err := s.deps.Workflows.Run(r.Context(), req.NPINumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type evidenceResponse struct {
	ExecutionID string                `json:"execution_id"`
	Status      model.ExecutionStatus `json:"status"`
	Evidence    []model.Evidence      `json:"evidence"`
}

func (s *Server) getEvidence(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evidenceResponse{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Evidence:    exec.Evidence,
	})
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{Status: model.ExecutionStatus(q.Get("status"))}
	switch filter.Status {
	case "", model.ExecutionPending, model.ExecutionRunning, model.ExecutionSuccess, model.ExecutionFailed:
	default:
		badRequest(w, "status", "unknown status")
		return
	}

	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	execs, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if execs == nil {
		execs = []model.WorkflowExecution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) rebuildGraph(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Graph.Rebuild(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type computeTrustRequest struct {
	Damping       *float64 `json:"damping,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
}

func (s *Server) computeTrust(w http.ResponseWriter, r *http.Request) {
	var req computeTrustRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "body", "invalid JSON")
			return
		}
	}

	var opts []trust.RunOption
	if req.Damping != nil {
		opts = append(opts, trust.WithDamping(*req.Damping))
	}
	if req.MaxIterations != nil {
		opts = append(opts, trust.WithMaxIterations(*req.MaxIterations))
	}

	ranking, err := s.deps.Trust.Run(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) topTrust(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r.URL.Query().Get("limit"), "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultTopLimit
	}
	ranking, err := s.deps.Trust.Top(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Providers.Get(r.Context(), chi.URLParam(r, "npi"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) verifyProvider(w http.ResponseWriter, r *http.Request) {
	check, err := s.deps.Providers.Verify(r.Context(), chi.URLParam(r, "npi"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// intParam parses an optional non-negative integer query parameter. An
// empty value yields 0.
func intParam(w http.ResponseWriter, raw, field string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(w, field, "must be a non-negative integer")
		return 0, false
	}
	return n, true
}
