// Package npi provides a client for the CMS NPI Registry (NPPES) API.
package npi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-trust/internal/cache"
	"github.com/sells-group/provider-trust/internal/metrics"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/resilience"
)

// DefaultBaseURL is the public NPPES API endpoint.
const DefaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"

const (
	apiVersion  = "2.1"
	serviceName = "npi"
)

// Client looks up providers in the NPI Registry.
type Client interface {
	// Lookup fetches one provider by NPI number. A number the registry does
	// not know yields Found=false and a nil error.
	Lookup(ctx context.Context, number string) (*Result, error)
}

// Result is the outcome of a lookup.
type Result struct {
	Found  bool
	Record *Record
	// Raw is the registry's result object verbatim.
	Raw json.RawMessage
	// Cached is true when the result was served from the response cache.
	Cached bool
}

type apiResponse struct {
	ResultCount int               `json:"result_count"`
	Results     []json.RawMessage `json:"results"`
	Errors      []apiError        `json:"Errors"`
}

type apiError struct {
	Description string `json:"description"`
	Field       string `json:"field"`
	Number      string `json:"number"`
}

// Option configures the registry client.
type Option func(*client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// WithLimiter injects the limiter every outbound attempt waits on.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *client) {
		c.limiter = l
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) {
		c.retry = cfg
	}
}

// WithCache enables response caching for ttl.
func WithCache(store cache.Cache, ttl time.Duration) Option {
	return func(c *client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

type client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	cache    cache.Cache
	cacheTTL time.Duration
	flight   resilience.Flight[*Result]
}

// NewClient creates a registry client. Without WithLimiter it allows one call
// per second.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		retry:   resilience.DefaultRetryConfig(),
		cache:   cache.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.Limiter = c.limiter
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(serviceName, "lookup")
	}
	return c
}

func cacheKey(number string) string {
	return "npi:" + number
}

// Lookup validates number, consults the cache, then queries the registry.
// Concurrent lookups of the same number share one outbound call.
func (c *client) Lookup(ctx context.Context, number string) (*Result, error) {
	if !ValidNumber(number) {
		return nil, model.NewValidationError("npi_number", "must be exactly 10 digits")
	}

	if raw, ok, err := c.cache.Get(ctx, cacheKey(number)); err != nil {
		zap.L().Warn("npi: cache read failed", zap.String("npi", number), zap.Error(err))
	} else if ok {
		rec, perr := ParseRecord(raw)
		if perr == nil {
			metrics.ObserveCall(serviceName, metrics.OutcomeCacheHit)
			return &Result{Found: true, Record: rec, Raw: json.RawMessage(raw), Cached: true}, nil
		}
		zap.L().Warn("npi: discarding unreadable cache entry", zap.String("npi", number), zap.Error(perr))
	}

	shared, err := c.flight.Do(ctx, number, func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Result, error) {
			return c.fetch(ctx, number)
		})
	})
	if err != nil {
		metrics.ObserveCall(serviceName, metrics.OutcomeError)
		return nil, err
	}
	res := *shared

	if !res.Found {
		metrics.ObserveCall(serviceName, metrics.OutcomeNotFound)
		return &res, nil
	}
	metrics.ObserveCall(serviceName, metrics.OutcomeOK)
	if err := c.cache.Set(ctx, cacheKey(number), res.Raw, c.cacheTTL); err != nil {
		zap.L().Warn("npi: cache write failed", zap.String("npi", number), zap.Error(err))
	}
	return &res, nil
}

func (c *client) fetch(ctx context.Context, number string) (*Result, error) {
	params := url.Values{
		"number":  {number},
		"version": {apiVersion},
	}
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "npi: build request")
	}
	req.Header.Set("Accept", "application/json")

	zap.L().Debug("npi: fetching record", zap.String("npi", number))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "npi: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse(serviceName, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "npi: read body"), 0)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "npi: parse response")
	}

	if len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		field := e.Field
		if field == "" {
			field = "npi_number"
		}
		return nil, model.NewValidationError(field, e.Description)
	}

	if parsed.ResultCount == 0 || len(parsed.Results) == 0 {
		zap.L().Info("npi: no registry match", zap.String("npi", number))
		return &Result{Found: false}, nil
	}

	raw := parsed.Results[0]
	rec, err := ParseRecord(raw)
	if err != nil {
		return nil, err
	}
	return &Result{Found: true, Record: rec, Raw: raw}, nil
}
