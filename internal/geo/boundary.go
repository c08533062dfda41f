package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// SRID is the spatial reference used for every stored geometry (WGS84).
const SRID = 4326

// minRingPoints is the smallest closed ring: a triangle plus its closing point.
const minRingPoints = 4

// Geometry type names as they appear in GeoJSON.
const (
	TypePoint        = "Point"
	TypePolygon      = "Polygon"
	TypeMultiPolygon = "MultiPolygon"
)

// ErrBadRing is returned when a ring has fewer than four points after closure.
var ErrBadRing = eris.New("geo: ring needs at least 4 points after closure")

// ErrUnsupportedGeometry is returned for geometries other than Polygon/MultiPolygon.
var ErrUnsupportedGeometry = eris.New("geo: unsupported geometry type")

// BoundaryFeature is a closed Polygon or MultiPolygon plus provenance and a
// derived axis-aligned bounding box.
type BoundaryFeature struct {
	Geometry geom.T
	Bounds   *geom.Bounds
	Source   string
	OSMID    int64
	OSMType  string
}

// CloseRing returns the ring with its first coordinate appended when the ring
// is not already closed. The input is not modified.
func CloseRing(ring []geom.Coord) []geom.Coord {
	if len(ring) == 0 {
		return nil
	}
	out := make([]geom.Coord, len(ring), len(ring)+1)
	copy(out, ring)
	first, last := ring[0], ring[len(ring)-1]
	if !first.Equal(geom.XY, last) {
		out = append(out, first.Clone())
	}
	return out
}

func closedRing(ring []geom.Coord) ([]geom.Coord, error) {
	closed := CloseRing(ring)
	if len(closed) < minRingPoints {
		return nil, eris.Wrapf(ErrBadRing, "got %d points", len(closed))
	}
	return closed, nil
}

// NewPolygonFeature builds a single-ring Polygon feature, closing the ring.
func NewPolygonFeature(ring []geom.Coord) (*BoundaryFeature, error) {
	closed, err := closedRing(ring)
	if err != nil {
		return nil, err
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{closed})
	if err != nil {
		return nil, eris.Wrap(err, "geo: build polygon")
	}
	return newFeature(poly.SetSRID(SRID)), nil
}

// NewMultiPolygonFeature builds a MultiPolygon with one polygon per ring.
// Rings that cannot be closed into a valid polygon are skipped; an error is
// returned only when no ring survives.
func NewMultiPolygonFeature(rings [][]geom.Coord) (*BoundaryFeature, error) {
	coords := make([][][]geom.Coord, 0, len(rings))
	for _, ring := range rings {
		closed, err := closedRing(ring)
		if err != nil {
			continue
		}
		coords = append(coords, [][]geom.Coord{closed})
	}
	if len(coords) == 0 {
		return nil, eris.Wrap(ErrBadRing, "geo: multipolygon has no valid member rings")
	}
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "geo: build multipolygon")
	}
	return newFeature(mp.SetSRID(SRID)), nil
}

// FromGeometry wraps an already-decoded Polygon or MultiPolygon, closing
// every ring. Any other geometry type yields ErrUnsupportedGeometry.
func FromGeometry(g geom.T) (*BoundaryFeature, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		rings, err := closeAll(t.Coords())
		if err != nil {
			return nil, err
		}
		poly, err := geom.NewPolygon(geom.XY).SetCoords(rings)
		if err != nil {
			return nil, eris.Wrap(err, "geo: rebuild polygon")
		}
		return newFeature(poly.SetSRID(SRID)), nil
	case *geom.MultiPolygon:
		polys := t.Coords()
		out := make([][][]geom.Coord, 0, len(polys))
		for _, p := range polys {
			rings, err := closeAll(p)
			if err != nil {
				return nil, err
			}
			out = append(out, rings)
		}
		mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(out)
		if err != nil {
			return nil, eris.Wrap(err, "geo: rebuild multipolygon")
		}
		return newFeature(mp.SetSRID(SRID)), nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedGeometry, "%T", g)
	}
}

func closeAll(rings [][]geom.Coord) ([][]geom.Coord, error) {
	if len(rings) == 0 {
		return nil, eris.Wrap(ErrBadRing, "geo: polygon has no rings")
	}
	out := make([][]geom.Coord, len(rings))
	for i, r := range rings {
		closed, err := closedRing(flatten2D(r))
		if err != nil {
			return nil, err
		}
		out[i] = closed
	}
	return out, nil
}

// flatten2D drops any Z/M ordinates so every stored geometry is XY.
func flatten2D(ring []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(ring))
	for i, c := range ring {
		out[i] = geom.Coord{c.X(), c.Y()}
	}
	return out
}

func newFeature(g geom.T) *BoundaryFeature {
	return &BoundaryFeature{Geometry: g, Bounds: g.Bounds()}
}

// Type returns the GeoJSON type name of the geometry.
func (f *BoundaryFeature) Type() string {
	switch f.Geometry.(type) {
	case *geom.Polygon:
		return TypePolygon
	case *geom.MultiPolygon:
		return TypeMultiPolygon
	default:
		return ""
	}
}

// BBox returns [minLon, minLat, maxLon, maxLat].
func (f *BoundaryFeature) BBox() [4]float64 {
	b := f.Bounds
	if b == nil {
		b = f.Geometry.Bounds()
	}
	return [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
}

// BBoxPolygon returns the bounding box as a closed rectangle polygon.
func (f *BoundaryFeature) BBoxPolygon() *geom.Polygon {
	bb := f.BBox()
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{bb[0], bb[1]},
		{bb[0], bb[3]},
		{bb[2], bb[3]},
		{bb[2], bb[1]},
		{bb[0], bb[1]},
	}}).SetSRID(SRID)
}

// Center returns the center of the bounding box.
func (f *BoundaryFeature) Center() Coordinate {
	bb := f.BBox()
	return Coordinate{Lat: (bb[1] + bb[3]) / 2, Lon: (bb[0] + bb[2]) / 2}
}

// Contains reports whether c lies strictly inside the geometry. Points on a
// ring boundary, or inside a hole, are not contained.
func (f *BoundaryFeature) Contains(c Coordinate) bool {
	p := geom.Coord{c.Lon, c.Lat}
	switch t := f.Geometry.(type) {
	case *geom.Polygon:
		return polygonContains(t, p)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), p) {
				return true
			}
		}
	}
	return false
}

func polygonContains(poly *geom.Polygon, p geom.Coord) bool {
	if poly.NumLinearRings() == 0 {
		return false
	}
	if !poly.Bounds().OverlapsPoint(geom.XY, p) {
		return false
	}
	shell := poly.LinearRing(0)
	if xy.LocatePointInRing(geom.XY, p, shell.FlatCoords()) != location.Interior {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		hole := poly.LinearRing(i)
		if xy.LocatePointInRing(geom.XY, p, hole.FlatCoords()) != location.Exterior {
			return false
		}
	}
	return true
}
