// Package geocode resolves postal addresses to coordinates via Nominatim
// (OpenStreetMap).
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/provider-trust/internal/cache"
	"github.com/sells-group/provider-trust/internal/resilience"
)

// DefaultBaseURL is the public Nominatim endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

const serviceName = "nominatim"

// Client geocodes addresses.
type Client interface {
	// Geocode resolves a single address. An address Nominatim cannot place
	// yields Matched=false and a nil error.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)

	// ReverseGeocode resolves coordinates to the nearest address.
	ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string // defaults to "US"
}

// Query renders the free-form search string sent to Nominatim: the non-empty
// parts joined by ", ".
func (a AddressInput) Query() string {
	country := strings.TrimSpace(a.Country)
	if country == "" {
		country = "US"
	}
	var parts []string
	for _, p := range []string{a.Street, a.City, a.State, a.ZipCode, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	DisplayName string  `json:"display_name,omitempty"`
	Matched     bool    `json:"matched"`
	Query       string  `json:"-"`
	Cached      bool    `json:"-"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		g.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header required by the Nominatim usage
// policy.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		g.userAgent = ua
	}
}

// WithLimiter injects the limiter every outbound attempt waits on. It must
// not be shared with other services.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *geocoder) {
		g.limiter = l
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

// WithCache enables result caching for ttl. Misses are cached too.
func WithCache(store cache.Cache, ttl time.Duration) Option {
	return func(g *geocoder) {
		g.cache = store
		g.cacheTTL = ttl
	}
}

type geocoder struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	cache      cache.Cache
	cacheTTL   time.Duration
	flight     resilience.Flight[*Result]
}

// NewClient creates a Nominatim client. Without WithLimiter it allows one
// call per second.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "provider-trust/1.0",
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		retry:      resilience.DefaultRetryConfig(),
		cache:      cache.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.retry.Limiter = g.limiter
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger(serviceName, "geocode")
	}
	return g
}
