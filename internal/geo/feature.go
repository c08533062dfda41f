package geo

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// AddressInfo is normalized address/country metadata for a coordinate.
type AddressInfo struct {
	DisplayName string `json:"address"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// Empty reports whether no field is set.
func (a AddressInfo) Empty() bool {
	return a.DisplayName == "" && a.Country == "" && a.CountryCode == ""
}

// EnrichedFeature is the pipeline's terminal output unit: a boundary (or a
// bare point when no boundary matched) plus address and company metadata.
type EnrichedFeature struct {
	Point       *Coordinate
	Boundary    *BoundaryFeature
	Address     AddressInfo
	CompanyName string
	EntityType  string
	Tags        map[string]string
}

// Geometry returns the boundary geometry, or a Point when no boundary is set.
// It returns nil when the feature has neither.
func (f *EnrichedFeature) Geometry() geom.T {
	if f.Boundary != nil && f.Boundary.Geometry != nil {
		return f.Boundary.Geometry
	}
	if f.Point != nil {
		return geom.NewPointFlat(geom.XY, f.Point.XY()).SetSRID(SRID)
	}
	return nil
}

// GeometryType returns the GeoJSON type of Geometry, or "" when absent.
func (f *EnrichedFeature) GeometryType() string {
	if f.Boundary != nil && f.Boundary.Geometry != nil {
		return f.Boundary.Type()
	}
	if f.Point != nil {
		return TypePoint
	}
	return ""
}

// Properties flattens metadata to GeoJSON properties. Tags never override the
// named properties.
func (f *EnrichedFeature) Properties() map[string]any {
	props := make(map[string]any, len(f.Tags)+7)
	for k, v := range f.Tags {
		props[k] = v
	}
	props["company_name"] = nilIfEmpty(f.CompanyName)
	props["entity_type"] = nilIfEmpty(f.EntityType)
	props["address"] = nilIfEmpty(f.Address.DisplayName)
	props["country"] = nilIfEmpty(f.Address.Country)
	props["country_code"] = nilIfEmpty(f.Address.CountryCode)
	props["osm_id"] = nil
	props["osm_type"] = nil
	if f.Boundary != nil {
		if f.Boundary.OSMID != 0 {
			props["osm_id"] = f.Boundary.OSMID
		}
		props["osm_type"] = nilIfEmpty(f.Boundary.OSMType)
	}
	return props
}

// GeoJSON converts the feature to a go-geom GeoJSON feature.
func (f *EnrichedFeature) GeoJSON() *geojson.Feature {
	out := &geojson.Feature{
		Geometry:   f.Geometry(),
		Properties: f.Properties(),
	}
	if f.Boundary != nil && f.Boundary.Bounds != nil {
		out.BBox = f.Boundary.Bounds
	}
	return out
}

// MarshalJSON encodes the feature as a GeoJSON Feature.
func (f *EnrichedFeature) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.GeoJSON())
}

// FeatureCollection wraps features in a GeoJSON FeatureCollection.
func FeatureCollection(features []EnrichedFeature) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	for i := range features {
		fc.Features = append(fc.Features, features[i].GeoJSON())
	}
	return fc
}

// namedProperties are the properties Properties writes itself; every other
// string property decodes into Tags.
var namedProperties = map[string]bool{
	"company_name": true, "entity_type": true, "address": true,
	"country": true, "country_code": true, "osm_id": true, "osm_type": true,
}

// DecodeFeatureCollection parses a GeoJSON FeatureCollection as written by
// FeatureCollection. Point features keep their point; Polygon and
// MultiPolygon features become boundaries located at their bbox center.
func DecodeFeatureCollection(data []byte) ([]EnrichedFeature, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "geo: decode feature collection")
	}
	out := make([]EnrichedFeature, 0, len(fc.Features))
	for i, gf := range fc.Features {
		f, err := fromGeoJSON(gf)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: feature %d", i)
		}
		out = append(out, f)
	}
	return out, nil
}

func fromGeoJSON(gf *geojson.Feature) (EnrichedFeature, error) {
	props := gf.Properties
	f := EnrichedFeature{
		CompanyName: stringProp(props, "company_name"),
		EntityType:  stringProp(props, "entity_type"),
		Address: AddressInfo{
			DisplayName: stringProp(props, "address"),
			Country:     stringProp(props, "country"),
			CountryCode: stringProp(props, "country_code"),
		},
	}
	for k, v := range props {
		if s, ok := v.(string); ok && !namedProperties[k] {
			if f.Tags == nil {
				f.Tags = make(map[string]string)
			}
			f.Tags[k] = s
		}
	}

	switch g := gf.Geometry.(type) {
	case *geom.Point:
		c, err := NewCoordinate(g.Y(), g.X())
		if err != nil {
			return f, err
		}
		f.Point = &c
	case nil:
		return f, eris.New("geo: feature has no geometry")
	default:
		b, err := FromGeometry(g)
		if err != nil {
			return f, err
		}
		if gf.BBox != nil {
			b.Bounds = gf.BBox
		}
		b.OSMType = stringProp(props, "osm_type")
		if id, ok := props["osm_id"].(float64); ok {
			b.OSMID = int64(id)
		}
		f.Boundary = b
		center := b.Center()
		f.Point = &center
	}
	return f, nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// EncodeGeoJSON marshals a geometry to its GeoJSON geometry object.
func EncodeGeoJSON(g geom.T) ([]byte, error) {
	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode geojson")
	}
	return data, nil
}

// DecodeGeoJSON parses a GeoJSON geometry object.
func DecodeGeoJSON(data []byte) (geom.T, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geo: decode geojson")
	}
	return g, nil
}

// EncodeEWKB marshals a geometry to little-endian EWKB with SRID 4326.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	if s, ok := g.(interface{ SRID() int }); ok && s.SRID() == 0 {
		g = withSRID(g)
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode ewkb")
	}
	return data, nil
}

func withSRID(g geom.T) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(SRID)
	case *geom.Polygon:
		return t.SetSRID(SRID)
	case *geom.MultiPolygon:
		return t.SetSRID(SRID)
	default:
		return g
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
