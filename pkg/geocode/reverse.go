package geocode

import (
	"context"
	"net/url"
	"strconv"

	"github.com/sells-group/provider-trust/internal/metrics"
	"github.com/sells-group/provider-trust/internal/resilience"
)

// ReverseResult holds the result of a reverse geocode operation.
type ReverseResult struct {
	DisplayName string `json:"display_name"`
	Street      string `json:"street"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zip_code"`
	CountryCode string `json:"country_code"`
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		HouseNumber string `json:"house_number"`
		Road        string `json:"road"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		State       string `json:"state"`
		Postcode    string `json:"postcode"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// ReverseGeocode converts a lat/lng to the nearest address. A point with no
// address returns (nil, nil).
func (g *geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lng, 'f', -1, 64)},
		"format":         {"json"},
		"addressdetails": {"1"},
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*reverseResponse, error) {
		var r reverseResponse
		if err := g.getJSON(ctx, "/reverse", params, &r); err != nil {
			return nil, err
		}
		return &r, nil
	})
	if err != nil {
		metrics.ObserveCall(serviceName, metrics.OutcomeError)
		return nil, err
	}
	if resp.Error != "" {
		metrics.ObserveCall(serviceName, metrics.OutcomeNotFound)
		return nil, nil
	}
	metrics.ObserveCall(serviceName, metrics.OutcomeOK)

	a := resp.Address
	street := a.Road
	if a.HouseNumber != "" && a.Road != "" {
		street = a.HouseNumber + " " + a.Road
	}
	city := a.City
	if city == "" {
		city = a.Town
	}
	if city == "" {
		city = a.Village
	}
	return &ReverseResult{
		DisplayName: resp.DisplayName,
		Street:      street,
		City:        city,
		State:       a.State,
		ZipCode:     a.Postcode,
		CountryCode: a.CountryCode,
	}, nil
}
