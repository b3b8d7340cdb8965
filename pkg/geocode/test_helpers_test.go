package geocode

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/provider-trust/internal/resilience"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestClient(srvURL string, opts ...Option) Client {
	base := []Option{
		WithBaseURL(srvURL),
		WithLimiter(newTestLimiter()),
		WithRetry(fastRetry()),
		WithUserAgent("provider-trust-test/1.0"),
	}
	return NewClient(append(base, opts...)...)
}
