// Package geo holds the point type used for provider locations: EWKB
// encoding for storage and great-circle distance for the trust graph.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is WGS 84.
const SRID = 4326

// EarthRadiusKm is the mean Earth radius used for haversine distance.
const EarthRadiusKm = 6371.0

// NewPoint builds a WGS 84 point. go-geom orders coordinates X=lon, Y=lat.
func NewPoint(lat, lon float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(SRID)
}

// LatLon returns the latitude and longitude of p.
func LatLon(p *geom.Point) (lat, lon float64) {
	return p.Y(), p.X()
}

// EncodeEWKB encodes a lat/lon pair as little-endian EWKB with SRID 4326.
// Either coordinate being nil encodes to nil.
func EncodeEWKB(lat, lon *float64) ([]byte, error) {
	if lat == nil || lon == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(NewPoint(*lat, *lon), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB decodes a point written by EncodeEWKB. Empty input yields nil
// coordinates.
func DecodeEWKB(data []byte) (lat, lon *float64, err error) {
	if len(data) == 0 {
		return nil, nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, nil, eris.Wrap(err, "geo: decode EWKB")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return nil, nil, eris.Errorf("geo: expected point, got %T", g)
	}
	y, x := LatLon(p)
	return &y, &x, nil
}

// HaversineKm returns the great-circle distance between a and b in km.
func HaversineKm(a, b *geom.Point) float64 {
	lat1, lon1 := LatLon(a)
	lat2, lon2 := LatLon(b)

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
