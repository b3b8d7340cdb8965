package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Graph      GraphConfig      `yaml:"graph" mapstructure:"graph"`
	Trust      TrustConfig      `yaml:"trust" mapstructure:"trust"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RetryConfig holds retry tuning for an external service.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// RegistryConfig configures the NPI Registry client.
type RegistryConfig struct {
	BaseURL       string      `yaml:"base_url" mapstructure:"base_url"`
	RateLimitSecs float64     `yaml:"rate_limit_secs" mapstructure:"rate_limit_secs"`
	TimeoutSecs   int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLHours int         `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	Retry         RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// GeocodeConfig configures the Nominatim geocoder client.
type GeocodeConfig struct {
	BaseURL       string      `yaml:"base_url" mapstructure:"base_url"`
	UserAgent     string      `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitSecs float64     `yaml:"rate_limit_secs" mapstructure:"rate_limit_secs"`
	TimeoutSecs   int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLHours int         `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	Retry         RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// CacheConfig selects the lookup response cache backend.
type CacheConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // memory, redis, none
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// GraphConfig configures edge derivation rules.
type GraphConfig struct {
	ProximityRadiusKm   float64 `yaml:"proximity_radius_km" mapstructure:"proximity_radius_km"`
	ProximityFloor      float64 `yaml:"proximity_floor" mapstructure:"proximity_floor"`
	TaxonomyWeight      float64 `yaml:"taxonomy_weight" mapstructure:"taxonomy_weight"`
	SameLocationEnabled bool    `yaml:"same_location_enabled" mapstructure:"same_location_enabled"`
	SameLocationWeight  float64 `yaml:"same_location_weight" mapstructure:"same_location_weight"`
}

// TrustConfig configures the rank propagation engine.
type TrustConfig struct {
	Damping       float64 `yaml:"damping" mapstructure:"damping"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// WorkflowConfig configures workflow execution fan-out.
type WorkflowConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScheduleConfig configures the periodic graph + trust recompute.
type ScheduleConfig struct {
	RecomputeCron string `yaml:"recompute_cron" mapstructure:"recompute_cron"`
}

// TemporalConfig configures the Temporal worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// MonitoringConfig configures execution health alerts. Checks run only when
// WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
	StaleTrustHours      int     `yaml:"stale_trust_hours" mapstructure:"stale_trust_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RateInterval converts a seconds value into the minimum spacing between calls.
func RateInterval(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROVIDER_TRUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("registry.base_url", "https://npiregistry.cms.hhs.gov/api/")
	v.SetDefault("registry.rate_limit_secs", 1.0)
	v.SetDefault("registry.timeout_secs", 30)
	v.SetDefault("registry.cache_ttl_hours", 24)
	v.SetDefault("registry.retry.max_attempts", 3)
	v.SetDefault("registry.retry.initial_backoff_ms", 2000)
	v.SetDefault("registry.retry.max_backoff_ms", 10000)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "provider-trust/1.0")
	v.SetDefault("geocode.rate_limit_secs", 1.0)
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("geocode.cache_ttl_hours", 720)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff_ms", 2000)
	v.SetDefault("geocode.retry.max_backoff_ms", 10000)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("graph.proximity_radius_km", 50.0)
	v.SetDefault("graph.proximity_floor", 0.1)
	v.SetDefault("graph.taxonomy_weight", 0.8)
	v.SetDefault("graph.same_location_enabled", false)
	v.SetDefault("graph.same_location_weight", 0.6)
	v.SetDefault("trust.damping", 0.85)
	v.SetDefault("trust.max_iterations", 100)
	v.SetDefault("trust.tolerance", 1e-6)
	v.SetDefault("workflow.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "provider-trust")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stuck_after_mins", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present. The mode
// names the command family: "store" needs a database, "serve" additionally
// needs a usable port, "worker" needs a Temporal endpoint.
func (c *Config) Validate(mode string) error {
	var errs []error

	needsStore := mode == "store" || mode == "serve" || mode == "worker"
	if needsStore {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
			}
		case "sqlite":
		default:
			errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
		}
		if c.Registry.BaseURL == "" {
			errs = append(errs, errors.New("registry.base_url is required"))
		}
		if c.Geocode.UserAgent == "" {
			errs = append(errs, errors.New("geocode.user_agent is required by the Nominatim usage policy"))
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	if mode == "worker" && c.Temporal.HostPort == "" {
		errs = append(errs, errors.New("temporal.host_port is required"))
	}

	if c.Trust.Damping <= 0 || c.Trust.Damping >= 1 {
		errs = append(errs, fmt.Errorf("trust.damping %v must be in (0, 1)", c.Trust.Damping))
	}
	if c.Trust.MaxIterations <= 0 {
		errs = append(errs, errors.New("trust.max_iterations must be positive"))
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
