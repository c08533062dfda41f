// Package geo holds the geometry and feature types shared by the enrichment
// pipeline: coordinates, boundary features, address metadata and their
// GeoJSON/EWKB encodings.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ErrOutOfRange is returned when a coordinate falls outside WGS84 bounds.
var ErrOutOfRange = eris.New("geo: coordinate out of range")

// NewCoordinate validates lat/lon and returns a Coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return Coordinate{}, eris.Wrapf(ErrOutOfRange, "lat=%v lon=%v", lat, lon)
	}
	return c, nil
}

// Valid reports whether the coordinate lies within [-90,90] x [-180,180].
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// XY returns the coordinate in x/y (lon, lat) order.
func (c Coordinate) XY() []float64 {
	return []float64{c.Lon, c.Lat}
}

// CacheKey rounds the coordinate to roughly 1m so near-identical facilities
// share provider lookups.
func (c Coordinate) CacheKey() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// ParseDegrees parses a decimal-degree string. Non-numeric input reports ok=false
// rather than an error so callers can treat it as missing.
func ParseDegrees(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
