package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-trust/internal/graph"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/provider"
	"github.com/sells-group/provider-trust/internal/resilience"
	"github.com/sells-group/provider-trust/internal/store"
	"github.com/sells-group/provider-trust/internal/trust"
	"github.com/sells-group/provider-trust/internal/workflow"
	"github.com/sells-group/provider-trust/pkg/geocode"
	"github.com/sells-group/provider-trust/pkg/npi"
)

const (
	bostonNPI    = "1234567893"
	cambridgeNPI = "1987654321"
	unknownNPI   = "1111111111"
)

var registryRecords = map[string]string{
	bostonNPI: `{"number": "1234567893", "enumeration_type": "NPI-1",
		"basic": {"first_name": "JANE", "last_name": "DOE"},
		"addresses": [{"address_purpose": "LOCATION", "address_1": "1 MAIN ST", "city": "BOSTON", "state": "MA", "postal_code": "02101", "country_code": "US"}],
		"taxonomies": [{"code": "207R00000X", "desc": "Internal Medicine", "primary": true}]}`,
	cambridgeNPI: `{"number": "1987654321", "enumeration_type": "NPI-1",
		"basic": {"first_name": "JOHN", "last_name": "ROE"},
		"addresses": [{"address_purpose": "LOCATION", "address_1": "5 BROAD ST", "city": "CAMBRIDGE", "state": "MA", "postal_code": "02139", "country_code": "US"}],
		"taxonomies": [{"code": "207R00000X", "desc": "Internal Medicine", "primary": true}]}`,
}

// fakeRegistry serves NPPES-shaped responses from registryRecords.
func fakeRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		raw, ok := registryRecords[r.URL.Query().Get("number")]
		if !ok {
			fmt.Fprint(w, `{"result_count": 0, "results": []}`)
			return
		}
		fmt.Fprintf(w, `{"result_count": 1, "results": [%s]}`, raw)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeNominatim places Boston and Cambridge about 4 km apart.
func fakeNominatim(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query().Get("q")
		switch {
		case strings.Contains(q, "BOSTON"):
			fmt.Fprint(w, `[{"lat": "42.3601", "lon": "-71.0589", "display_name": "Boston"}]`)
		case strings.Contains(q, "CAMBRIDGE"):
			fmt.Fprint(w, `[{"lat": "42.3736", "lon": "-71.1097", "display_name": "Cambridge"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	handler http.Handler
	orch    *workflow.Orchestrator
	store   *store.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	noRetry := resilience.RetryConfig{MaxAttempts: 1}
	registry := npi.NewClient(
		npi.WithBaseURL(fakeRegistry(t).URL),
		npi.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		npi.WithRetry(noRetry),
	)
	geocoder := geocode.NewClient(
		geocode.WithBaseURL(fakeNominatim(t).URL),
		geocode.WithUserAgent("provider-trust-test/1.0"),
		geocode.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		geocode.WithRetry(noRetry),
	)

	providers := provider.NewService(st)
	orch := workflow.New(st, registry, geocoder, providers)
	srv := New(Deps{
		Store:     st,
		Workflows: orch,
		Graph:     graph.NewBuilder(st, graph.DefaultRules()),
		Trust:     trust.NewEngine(st, trust.DefaultParams()),
		Providers: providers,
	})
	return &testServer{
		handler: srv.Handler(Options{CORSOrigins: []string{"https://console.example.com"}}),
		orch:    orch,
		store:   st,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) verify(t *testing.T, npiNumber string) model.WorkflowExecution {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/workflows", map[string]any{"npi_number": npiNumber, "wait": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.WorkflowExecution](t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_StoreDown(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.verify(t, bostonNPI)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_trust_workflow_runs_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/workflows", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateWorkflow_Wait(t *testing.T) {
	ts := newTestServer(t)
	exec := ts.verify(t, bostonNPI)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.NotEmpty(t, exec.ProviderID)
	require.Len(t, exec.Evidence, 3)
	assert.Equal(t, model.StepLookup, exec.Evidence[0].Step)
	assert.Equal(t, model.GeocodeMatched, exec.Evidence[1].Geocode.Outcome)
	assert.True(t, exec.Evidence[2].Storage.Created)
	assert.NotNil(t, exec.CompletedAt)
}

func TestCreateWorkflow_Async(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/workflows", map[string]any{"npi_number": bostonNPI})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := decode[model.WorkflowExecution](t, rec)
	assert.Equal(t, model.ExecutionPending, accepted.Status)
	require.NotEmpty(t, accepted.ID)

	ts.orch.Wait()

	rec = ts.do(t, http.MethodGet, "/api/v1/workflows/"+accepted.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[model.WorkflowExecution](t, rec)
	assert.Equal(t, model.ExecutionSuccess, done.Status)
}

func TestCreateWorkflow_NotFoundFails(t *testing.T) {
	ts := newTestServer(t)
	exec := ts.verify(t, unknownNPI)

	assert.Equal(t, model.ExecutionFailed, exec.Status)
	require.Len(t, exec.Evidence, 1)
	assert.False(t, exec.Evidence[0].Lookup.Found)
	assert.Contains(t, exec.Error, "not found")
}

func TestCreateWorkflow_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"invalid json", `{"npi_number":`, "body"},
		{"missing npi", `{"wait": true}`, "npi_number"},
		{"short npi", `{"npi_number": "123", "wait": true}`, "npi_number"},
		{"letters", `{"npi_number": "12345678AB"}`, "npi_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.field, body.Field)
		})
	}

	execs, err := ts.store.ListExecutions(context.Background(), store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/workflows/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestGetEvidence(t *testing.T) {
	ts := newTestServer(t)
	exec := ts.verify(t, bostonNPI)

	rec := ts.do(t, http.MethodGet, "/api/v1/workflows/"+exec.ID+"/evidence", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[evidenceResponse](t, rec)
	assert.Equal(t, exec.ID, got.ExecutionID)
	assert.Equal(t, model.ExecutionSuccess, got.Status)
	require.Len(t, got.Evidence, 3)
	assert.Equal(t, model.SourceDatabase, got.Evidence[2].Source)
}

func TestListWorkflows(t *testing.T) {
	ts := newTestServer(t)
	ts.verify(t, bostonNPI)
	ts.verify(t, unknownNPI)

	rec := ts.do(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.WorkflowExecution](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/v1/workflows?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[[]model.WorkflowExecution](t, rec)
	require.Len(t, failed, 1)
	assert.Equal(t, unknownNPI, failed[0].Input["npi_number"])

	rec = ts.do(t, http.MethodGet, "/api/v1/workflows?status=running", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/workflows?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.WorkflowExecution](t, rec), 1)
}

func TestListWorkflows_BadParams(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{
		"/api/v1/workflows?status=done",
		"/api/v1/workflows?limit=abc",
		"/api/v1/workflows?limit=-1",
		"/api/v1/workflows?offset=x",
	} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGraphAndTrust(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/trust/compute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/trust/top", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.verify(t, bostonNPI)
	ts.verify(t, cambridgeNPI)

	rec = ts.do(t, http.MethodPost, "/api/v1/graph/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rebuilt := decode[graph.RebuildResult](t, rec)
	assert.Equal(t, 2, rebuilt.Providers)
	assert.Equal(t, 2, rebuilt.Edges)
	assert.Equal(t, 1, rebuilt.ByType[model.EdgeGeographicProximity])
	assert.Equal(t, 1, rebuilt.ByType[model.EdgeTaxonomyMatch])
	assert.Equal(t, 0, rebuilt.ByType[model.EdgeSameLocation])

	rec = ts.do(t, http.MethodPost, "/api/v1/trust/compute", map[string]any{"damping": 0.9, "max_iterations": 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ranking := decode[model.TrustRanking](t, rec)
	assert.InDelta(t, 0.9, ranking.Run.Damping, 1e-9)
	assert.Equal(t, 2, ranking.Run.ProviderCount)
	assert.Equal(t, 2, ranking.Run.EdgeCount)
	require.Len(t, ranking.Scores, 2)

	sum := 0.0
	for i, s := range ranking.Scores {
		sum += s.Score
		assert.Equal(t, i+1, s.Rank)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	rec = ts.do(t, http.MethodGet, "/api/v1/trust/top?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[model.TrustRanking](t, rec)
	assert.Equal(t, ranking.Run.ID, top.Run.ID)
	require.Len(t, top.Scores, 1)
	assert.Equal(t, 1, top.Scores[0].Rank)
	assert.NotEmpty(t, top.Scores[0].DisplayName)
}

func TestComputeTrust_InvalidParams(t *testing.T) {
	ts := newTestServer(t)
	ts.verify(t, bostonNPI)

	rec := ts.do(t, http.MethodPost, "/api/v1/trust/compute", map[string]any{"damping": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "damping", decode[errorBody](t, rec).Field)

	rec = ts.do(t, http.MethodGet, "/api/v1/trust/top?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.verify(t, bostonNPI)

	rec := ts.do(t, http.MethodGet, "/api/v1/providers/"+bostonNPI, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[model.Provider](t, rec)
	assert.Equal(t, bostonNPI, p.NPINumber)
	assert.True(t, p.HasCoordinates())
	assert.NotEmpty(t, p.IntegrityHash)

	rec = ts.do(t, http.MethodGet, "/api/v1/providers/"+bostonNPI+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[model.IntegrityCheck](t, rec)
	assert.True(t, check.Valid)
	assert.Equal(t, p.IntegrityHash, check.Stored)

	rec = ts.do(t, http.MethodGet, "/api/v1/providers/"+cambridgeNPI, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/providers/abc/verify", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
