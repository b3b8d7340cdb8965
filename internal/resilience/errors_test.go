package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("npi: parse response"), false},
		{"explicit", NewTransientError(errors.New("npi: unexpected status 503"), 503), true},
		{"wrapped explicit", fmt.Errorf("lookup: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"caller cancelled", fmt.Errorf("npi: request: %w", context.Canceled), false},
		{"network timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"temporary dns", &net.DNSError{IsTemporary: true, Err: "server misbehaving"}, true},
		{"connection reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"broken pipe errno", fmt.Errorf("write tcp: %w", syscall.EPIPE), true},
		{"truncated body", fmt.Errorf("geocode: read body: %w", io.ErrUnexpectedEOF), true},
		{"flattened reset", errors.New("Get \"https://npiregistry.cms.hhs.gov/api/\": connection reset by peer"), true},
		{"flattened tls", errors.New("net/http: TLS handshake timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("nominatim: unexpected status 503")
	te := NewTransientError(inner, 503)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, inner.Error(), te.Error())
	assert.Equal(t, 503, te.StatusCode)
}

func response(code int, retryAfter string) *http.Response {
	resp := &http.Response{StatusCode: code, Header: http.Header{}}
	if retryAfter != "" {
		resp.Header.Set("Retry-After", retryAfter)
	}
	return resp
}

func TestCheckResponse(t *testing.T) {
	for _, code := range []int{200, 204} {
		assert.NoError(t, CheckResponse("npi", response(code, "")))
	}

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		err := CheckResponse("npi", response(code, ""))
		var te *TransientError
		require.True(t, errors.As(err, &te), "status %d", code)
		assert.Equal(t, code, te.StatusCode)
		assert.Contains(t, err.Error(), fmt.Sprintf("npi: unexpected status %d", code))
	}

	for _, code := range []int{400, 401, 403, 404, 422} {
		err := CheckResponse("nominatim", response(code, ""))
		require.Error(t, err)
		assert.False(t, IsTransient(err), "status %d", code)
	}
}

func TestCheckResponse_RetryAfter(t *testing.T) {
	err := CheckResponse("nominatim", response(429, "3"))
	assert.Equal(t, 3*time.Second, retryAfter(err))

	assert.Zero(t, retryAfter(CheckResponse("nominatim", response(503, "soon"))))
	assert.Zero(t, retryAfter(errors.New("plain")))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2*time.Second, parseRetryAfter(" 2 ", now))
	assert.Zero(t, parseRetryAfter("0", now))
	assert.Zero(t, parseRetryAfter("-5", now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
