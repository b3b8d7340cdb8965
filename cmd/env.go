package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-trust/internal/cache"
	"github.com/sells-group/provider-trust/internal/config"
	"github.com/sells-group/provider-trust/internal/db"
	"github.com/sells-group/provider-trust/internal/graph"
	"github.com/sells-group/provider-trust/internal/provider"
	"github.com/sells-group/provider-trust/internal/resilience"
	"github.com/sells-group/provider-trust/internal/store"
	"github.com/sells-group/provider-trust/internal/trust"
	"github.com/sells-group/provider-trust/internal/workflow"
	"github.com/sells-group/provider-trust/pkg/geocode"
	"github.com/sells-group/provider-trust/pkg/npi"
)

const defaultSQLitePath = "provider-trust.db"

// appEnv holds the store, clients and services shared by every command.
type appEnv struct {
	Store        store.Store
	Cache        cache.Cache
	Geocoder     geocode.Client
	Providers    *provider.Service
	Orchestrator *workflow.Orchestrator
	Graph        *graph.Builder
	Trust        *trust.Engine
}

// Close waits for background runs and releases the cache and store.
func (e *appEnv) Close() {
	if e.Orchestrator != nil {
		e.Orchestrator.Wait()
	}
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates config, opens the store and applies the schema.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// limiter converts a configured spacing into a token bucket. A non-positive
// spacing disables limiting.
func limiter(secs float64) *rate.Limiter {
	interval := config.RateInterval(secs)
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func httpClient(timeoutSecs int) *http.Client {
	if timeoutSecs <= 0 {
		timeoutSecs = 30
	}
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}

// initEnv opens the store and cache and wires the registry and geocoder
// clients, each with its own limiter, into the services. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := npi.NewClient(
		npi.WithBaseURL(cfg.Registry.BaseURL),
		npi.WithHTTPClient(httpClient(cfg.Registry.TimeoutSecs)),
		npi.WithLimiter(limiter(cfg.Registry.RateLimitSecs)),
		npi.WithRetry(resilience.FromConfig(cfg.Registry.Retry)),
		npi.WithCache(c, time.Duration(cfg.Registry.CacheTTLHours)*time.Hour),
	)
	geocoder := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithHTTPClient(httpClient(cfg.Geocode.TimeoutSecs)),
		geocode.WithLimiter(limiter(cfg.Geocode.RateLimitSecs)),
		geocode.WithRetry(resilience.FromConfig(cfg.Geocode.Retry)),
		geocode.WithCache(c, time.Duration(cfg.Geocode.CacheTTLHours)*time.Hour),
	)

	providers := provider.NewService(st)
	return &appEnv{
		Store:        st,
		Cache:        c,
		Geocoder:     geocoder,
		Providers:    providers,
		Orchestrator: workflow.New(st, registry, geocoder, providers),
		Graph:        graph.NewBuilder(st, graph.RulesFromConfig(cfg.Graph)),
		Trust:        trust.NewEngine(st, trust.ParamsFromConfig(cfg.Trust)),
	}, nil
}
