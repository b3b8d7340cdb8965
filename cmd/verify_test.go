package main

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

	"github.com/sells-group/provider-trust/internal/config"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
)

const (
	bostonNPI  = "1234567893"
	quincyNPI  = "1987654321"
	missingNPI = "1111111111"
)

var upstreamRecords = map[string]string{
	bostonNPI: `{"number": "1234567893", "enumeration_type": "NPI-1",
		"basic": {"first_name": "JANE", "last_name": "DOE"},
		"addresses": [{"address_purpose": "LOCATION", "address_1": "1 MAIN ST", "city": "BOSTON", "state": "MA", "postal_code": "02101", "country_code": "US"}],
		"taxonomies": [{"code": "207R00000X", "desc": "Internal Medicine", "primary": true}]}`,
	quincyNPI: `{"number": "1987654321", "enumeration_type": "NPI-2",
		"basic": {"organization_name": "QUINCY FAMILY CLINIC"},
		"addresses": [{"address_purpose": "LOCATION", "address_1": "9 HANCOCK ST", "city": "QUINCY", "state": "MA", "postal_code": "02169", "country_code": "US"}],
		"taxonomies": [{"code": "261QP2300X", "desc": "Clinic/Center, Primary Care", "primary": true}]}`,
}

// useTestConfig points the global config at a temp SQLite store and fake
// registry and geocoder servers for the duration of the test.
func useTestConfig(t *testing.T) {
	t.Helper()

	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := upstreamRecords[r.URL.Query().Get("number")]
		if !ok {
			fmt.Fprint(w, `{"result_count": 0, "results": []}`)
			return
		}
		fmt.Fprintf(w, `{"result_count": 1, "results": [%s]}`, raw)
	}))
	t.Cleanup(registry.Close)

	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/reverse" {
			fmt.Fprint(w, `{"display_name": "1, Main Street, Boston, MA", "address": {"house_number": "1", "road": "Main Street", "city": "Boston", "state": "Massachusetts", "postcode": "02101", "country_code": "us"}}`)
			return
		}
		q := r.URL.Query().Get("q")
		switch {
		case strings.Contains(q, "BOSTON"):
			fmt.Fprint(w, `[{"lat": "42.3601", "lon": "-71.0589"}]`)
		case strings.Contains(q, "QUINCY"):
			fmt.Fprint(w, `[{"lat": "42.2529", "lon": "-71.0023"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	t.Cleanup(nominatim.Close)

	prev, prevFormat := cfg, outputFormat
	t.Cleanup(func() { cfg, outputFormat = prev, prevFormat })

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "cli.db")
	c.Registry.BaseURL = registry.URL
	c.Registry.Retry.MaxAttempts = 1
	c.Geocode.BaseURL = nominatim.URL
	c.Geocode.UserAgent = "provider-trust-test/1.0"
	c.Geocode.Retry.MaxAttempts = 1
	c.Cache.Driver = "memory"
	c.Graph = config.GraphConfig{ProximityRadiusKm: 50, ProximityFloor: 0.1, TaxonomyWeight: 0.8, SameLocationWeight: 0.6}
	c.Trust = config.TrustConfig{Damping: 0.85, MaxIterations: 100, Tolerance: 1e-6}
	c.Workflow.MaxConcurrent = 2
	cfg = c
	outputFormat = formatJSON
}

func TestInitStore(t *testing.T) {
	useTestConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg.Store.Driver = "mysql"
	_, err = initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	useTestConfig(t)
	cfg.Geocode.UserAgent = ""

	_, err := initEnv(context.Background(), "store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.user_agent")
}

func TestLimiter(t *testing.T) {
	assert.Equal(t, 1, limiter(1).Burst())
	assert.InDelta(t, 1.0, float64(limiter(1).Limit()), 1e-9)
	assert.InDelta(t, 0.5, float64(limiter(2).Limit()), 1e-9)
	assert.True(t, limiter(0).Allow())
}

func TestRunVerify(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, "store")
	require.NoError(t, err)
	defer env.Close()

	var out bytes.Buffer
	require.NoError(t, runVerify(ctx, &out, env.Orchestrator, []string{bostonNPI, quincyNPI}, 2))

	var execs []model.WorkflowExecution
	require.NoError(t, json.Unmarshal(out.Bytes(), &execs))
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.Equal(t, model.ExecutionSuccess, e.Status)
		assert.Len(t, e.Evidence, 3)
	}

	p, err := env.Providers.Get(ctx, quincyNPI)
	require.NoError(t, err)
	assert.Equal(t, "QUINCY FAMILY CLINIC", p.DisplayName)
	assert.True(t, p.HasCoordinates())
}

func TestRunVerify_PartialFailure(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, "store")
	require.NoError(t, err)
	defer env.Close()

	var out bytes.Buffer
	err = runVerify(ctx, &out, env.Orchestrator, []string{bostonNPI, missingNPI, "12AB"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 verifications did not succeed")

	var execs []model.WorkflowExecution
	require.NoError(t, json.Unmarshal(out.Bytes(), &execs))
	require.Len(t, execs, 2)
	assert.Equal(t, model.ExecutionSuccess, execs[0].Status)
	assert.Equal(t, model.ExecutionFailed, execs[1].Status)
	assert.Len(t, execs[1].Evidence, 1)

	failed, err := env.Store.ListExecutions(ctx, store.ExecutionFilter{Status: model.ExecutionFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestLocateProvider(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, "store")
	require.NoError(t, err)
	defer env.Close()

	var out bytes.Buffer
	require.NoError(t, runVerify(ctx, &out, env.Orchestrator, []string{bostonNPI}, 1))

	loc, err := locateProvider(ctx, env.Providers, env.Geocoder, bostonNPI)
	require.NoError(t, err)
	assert.InDelta(t, 42.3601, loc.Latitude, 1e-9)
	assert.Equal(t, "1 MAIN ST, BOSTON, MA, 02101, US", loc.Stored)
	require.NotNil(t, loc.Nearest)
	assert.Equal(t, "1 Main Street", loc.Nearest.Street)
	assert.Equal(t, "Boston", loc.Nearest.City)

	_, err = locateProvider(ctx, env.Providers, env.Geocoder, missingNPI)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
