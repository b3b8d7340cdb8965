package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-trust/internal/cache"
	"github.com/sells-group/provider-trust/internal/resilience"
)

func TestAddressInput_Query(t *testing.T) {
	tests := []struct {
		name string
		in   AddressInput
		want string
	}{
		{"full", AddressInput{Street: "1 Main St", City: "Boston", State: "MA", ZipCode: "02108", Country: "US"}, "1 Main St, Boston, MA, 02108, US"},
		{"default country", AddressInput{Street: "1 Main St", City: "Boston", State: "MA"}, "1 Main St, Boston, MA, US"},
		{"blank parts dropped", AddressInput{Street: " 1 Main St ", City: "", State: "MA", Country: "CA"}, "1 Main St, MA, CA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Query())
		})
	}
}

func TestGeocode_Matched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1 Main St, Boston, MA, 02108, US", q.Get("q"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "provider-trust-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"lat": "42.3601", "lon": "-71.0589", "display_name": "Boston, MA"}]`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Geocode(context.Background(), AddressInput{
		Street: "1 Main St", City: "Boston", State: "MA", ZipCode: "02108",
	})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.InDelta(t, 42.3601, res.Latitude, 1e-9)
	assert.InDelta(t, -71.0589, res.Longitude, 1e-9)
	assert.Equal(t, "Boston, MA", res.DisplayName)
	assert.Equal(t, "1 Main St, Boston, MA, 02108, US", res.Query)
}

func TestGeocode_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Geocode(context.Background(), AddressInput{Street: "nowhere"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestGeocode_BadCoordinate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"lat": "north", "lon": "-71.0"}]`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), AddressInput{Street: "1 Main St"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse lat")
}

func TestGeocode_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), AddressInput{Street: "1 Main St"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeocode_CachesMatchesAndMisses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("q") == "1 Main St, US" {
			_, _ = io.WriteString(w, `[{"lat": "42.36", "lon": "-71.05"}]`)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithCache(cache.NewMemory(), time.Hour))
	ctx := context.Background()

	for range 2 {
		hit, err := c.Geocode(ctx, AddressInput{Street: "1 Main St"})
		require.NoError(t, err)
		assert.True(t, hit.Matched)

		miss, err := c.Geocode(ctx, AddressInput{Street: "Atlantis"})
		require.NoError(t, err)
		assert.False(t, miss.Matched)
	}
	assert.Equal(t, int32(2), calls.Load(), "second round is served from cache")

	again, err := c.Geocode(ctx, AddressInput{Street: "  1 main st "})
	require.NoError(t, err)
	assert.True(t, again.Cached, "cache key ignores case and padding")
	assert.InDelta(t, 42.36, again.Latitude, 1e-9)
}

func TestGeocode_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).Geocode(ctx, AddressInput{Street: "1 Main St"})
	require.Error(t, err)
}

func TestReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "42.3601", r.URL.Query().Get("lat"))
		assert.Equal(t, "-71.0589", r.URL.Query().Get("lon"))
		_, _ = io.WriteString(w, `{
			"display_name": "1, Main Street, Boston",
			"address": {"house_number": "1", "road": "Main Street", "town": "Boston", "state": "Massachusetts", "postcode": "02108", "country_code": "us"}
		}`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).ReverseGeocode(context.Background(), 42.3601, -71.0589)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "1 Main Street", res.Street)
	assert.Equal(t, "Boston", res.City)
	assert.Equal(t, "02108", res.ZipCode)
	assert.Equal(t, "us", res.CountryCode)
}

func TestReverseGeocode_NoAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error": "Unable to geocode"}`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).ReverseGeocode(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGeocode_CancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	var calls atomic.Int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		_, _ = io.WriteString(w, `[{"lat": "42.3601", "lon": "-71.0589", "display_name": "Boston"}]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	addr := AddressInput{Street: "1 Main St", City: "Boston", State: "MA", ZipCode: "02101"}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Geocode(ctxA, addr)
		errA <- err
	}()
	<-arrived

	var resB *Result
	var errB error
	doneB := make(chan struct{})
	go func() {
		defer close(doneB)
		resB, errB = c.Geocode(context.Background(), addr)
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	select {
	case <-doneB:
	case <-time.After(5 * time.Second):
		t.Fatal("joined geocode never returned")
	}
	require.NoError(t, errB)
	assert.True(t, resB.Matched)
	assert.InDelta(t, 42.3601, resB.Latitude, 1e-9)
	assert.Equal(t, int32(1), calls.Load())
}
