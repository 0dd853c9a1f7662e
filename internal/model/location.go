package model

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const earthRadiusMeters = 6371008.8

// Location is a WGS84 coordinate supplied by the geolocation collaborator.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Point returns the location as an SRID 4326 point (x = longitude).
func (l Location) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{l.Longitude, l.Latitude}).SetSRID(4326)
}

// WKT renders the location as well-known text, or "" if it cannot.
func (l Location) WKT() string {
	s, err := wkt.Marshal(l.Point())
	if err != nil {
		return ""
	}
	return s
}

// EncodeEWKB encodes the location for storage next to its proof.
func (l Location) EncodeEWKB() ([]byte, error) {
	data, err := ewkb.Marshal(l.Point(), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "model: encode location")
	}
	return data, nil
}

// DecodeLocation parses an EWKB point written by EncodeEWKB.
func DecodeLocation(data []byte) (*Location, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "model: decode location")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("model: expected point geometry, got %T", g)
	}
	return &Location{Latitude: pt.Y(), Longitude: pt.X()}, nil
}

// DistanceMeters returns the great-circle distance between two locations.
func (l Location) DistanceMeters(o Location) float64 {
	a, b := l.Point(), o.Point()
	lat1, lat2 := toRadians(a.Y()), toRadians(b.Y())
	dLat := lat2 - lat1
	dLon := toRadians(b.X() - a.X())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether l lies inside the site's radius.
func (s Site) Within(l Location) bool {
	center := Location{Latitude: s.Latitude, Longitude: s.Longitude}
	return center.DistanceMeters(l) <= s.RadiusMeters
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
