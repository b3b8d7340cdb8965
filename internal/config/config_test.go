package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://npiregistry.cms.hhs.gov/api/", cfg.Registry.BaseURL)
	assert.InDelta(t, 1.0, cfg.Registry.RateLimitSecs, 0.001)
	assert.Equal(t, 3, cfg.Registry.Retry.MaxAttempts)
	assert.Equal(t, 2000, cfg.Registry.Retry.InitialBackoffMs)
	assert.Equal(t, 10000, cfg.Registry.Retry.MaxBackoffMs)
	assert.Equal(t, 24, cfg.Registry.CacheTTLHours)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.BaseURL)
	assert.Equal(t, "provider-trust/1.0", cfg.Geocode.UserAgent)
	assert.Equal(t, 720, cfg.Geocode.CacheTTLHours)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.InDelta(t, 50.0, cfg.Graph.ProximityRadiusKm, 0.001)
	assert.InDelta(t, 0.1, cfg.Graph.ProximityFloor, 0.001)
	assert.InDelta(t, 0.8, cfg.Graph.TaxonomyWeight, 0.001)
	assert.False(t, cfg.Graph.SameLocationEnabled)
	assert.InDelta(t, 0.85, cfg.Trust.Damping, 0.001)
	assert.Equal(t, 100, cfg.Trust.MaxIterations)
	assert.InDelta(t, 1e-6, cfg.Trust.Tolerance, 1e-9)
	assert.Equal(t, 4, cfg.Workflow.MaxConcurrent)
	assert.Equal(t, "provider-trust", cfg.Temporal.TaskQueue)
	assert.Empty(t, cfg.Schedule.RecomputeCron)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 30, cfg.Monitoring.StuckAfterMins)
	assert.Equal(t, 0, cfg.Monitoring.StaleTrustHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: trust.db
log:
  level: debug
  format: console
graph:
  same_location_enabled: true
trust:
  max_iterations: 250
schedule:
  recompute_cron: "@hourly"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "trust.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Graph.SameLocationEnabled)
	assert.Equal(t, 250, cfg.Trust.MaxIterations)
	assert.Equal(t, "@hourly", cfg.Schedule.RecomputeCron)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.85, cfg.Trust.Damping, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("PROVIDER_TRUST_STORE_DRIVER", "postgres")
	t.Setenv("PROVIDER_TRUST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PROVIDER_TRUST_SERVER_PORT", "3000")
	t.Setenv("PROVIDER_TRUST_REGISTRY_RATE_LIMIT_SECS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 2.5, cfg.Registry.RateLimitSecs, 0.001)
}

func TestRateInterval(t *testing.T) {
	assert.Equal(t, time.Second, RateInterval(1))
	assert.Equal(t, 1500*time.Millisecond, RateInterval(1.5))
	assert.Equal(t, time.Duration(0), RateInterval(0))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/trust"
	cfg.Registry.BaseURL = "https://npiregistry.cms.hhs.gov/api/"
	cfg.Geocode.UserAgent = "provider-trust/1.0"
	cfg.Trust.Damping = 0.85
	cfg.Trust.MaxIterations = 100
	cfg.Server.Port = 8080
	cfg.Temporal.HostPort = "localhost:7233"
	return cfg
}

func TestValidateStore_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("store"))
}

func TestValidateStore_PostgresWithoutURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateStore_SQLiteWithoutURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"mysql" is not supported`)
}

func TestValidateStore_MissingUserAgent(t *testing.T) {
	cfg := validDefaults()
	cfg.Geocode.UserAgent = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.user_agent")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateWorker_NoTemporal(t *testing.T) {
	cfg := validDefaults()
	cfg.Temporal.HostPort = ""

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.host_port")
}

func TestValidate_DampingOutOfRange(t *testing.T) {
	cfg := validDefaults()
	cfg.Trust.Damping = 1.0

	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trust.damping")
}
