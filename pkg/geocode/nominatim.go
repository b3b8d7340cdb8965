package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/metrics"
	"github.com/sells-group/provider-trust/internal/resilience"
)

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode checks the cache, then searches Nominatim for the address.
// Concurrent requests for the same query share one outbound call.
func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	query := addr.Query()
	key := cacheKey(query)

	if cached, ok := g.checkCache(ctx, key); ok {
		metrics.ObserveCall(serviceName, metrics.OutcomeCacheHit)
		cached.Query = query
		return cached, nil
	}

	shared, err := g.flight.Do(ctx, key, func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Result, error) {
			return g.search(ctx, query)
		})
	})
	if err != nil {
		metrics.ObserveCall(serviceName, metrics.OutcomeError)
		return nil, err
	}
	res := *shared
	res.Query = query

	if res.Matched {
		metrics.ObserveCall(serviceName, metrics.OutcomeOK)
	} else {
		metrics.ObserveCall(serviceName, metrics.OutcomeNotFound)
	}
	g.storeCache(ctx, key, &res)
	return &res, nil
}

func (g *geocoder) search(ctx context.Context, query string) (*Result, error) {
	params := url.Values{
		"q":              {query},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	var hits []searchHit
	if err := g.getJSON(ctx, "/search", params, &hits); err != nil {
		return nil, err
	}

	if len(hits) == 0 {
		zap.L().Info("geocode: no match", zap.String("query", query))
		return &Result{Matched: false}, nil
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lat %q", hits[0].Lat)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lon %q", hits[0].Lon)
	}

	zap.L().Debug("geocode: matched",
		zap.String("query", query),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
	)
	return &Result{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: hits[0].DisplayName,
		Matched:     true,
	}, nil
}

// getJSON performs one GET against the Nominatim API and decodes the body
// into out. Network failures and retryable statuses come back transient.
func (g *geocoder) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := g.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "geocode: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse(serviceName, resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "geocode: read body"), 0)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "geocode: parse response")
	}
	return nil
}
