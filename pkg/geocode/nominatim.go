package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

const (
	nominatimURL      = "https://nominatim.openstreetmap.org/reverse"
	nominatimProvider = "nominatim"
	defaultUserAgent  = "facility-enrich/1.0"
)

// displayKeys are tried in order; the first present one names the place.
var displayKeys = []string{"city", "town", "village", "hamlet", "suburb", "borough", "county"}

// Nominatim reverse geocodes coordinates into an address and the outline of
// the matched OSM object.
type Nominatim struct {
	endpoint
}

// NewNominatim creates a Nominatim client paced at one request per second.
func NewNominatim(opts ...Option) *Nominatim {
	n := &Nominatim{endpoint{
		provider:   nominatimProvider,
		baseURL:    nominatimURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{},
		gate:       resilience.NewGate(nominatimProvider, time.Second, 25*time.Second),
	}}
	n.apply(opts)
	return n
}

type nominatimResponse struct {
	Features []nominatimFeature `json:"features"`
	Error    string             `json:"error"`
}

type nominatimFeature struct {
	BBox       []float64       `json:"bbox"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties struct {
		OSMID   int64             `json:"osm_id"`
		OSMType string            `json:"osm_type"`
		Address map[string]string `json:"address"`
	} `json:"properties"`
}

// ReverseGeocode returns the address and boundary polygon at p. Only Polygon
// geometries are trusted: any other geometry, or no match at all, returns a
// KindInsufficientPrecision error and no address.
func (n *Nominatim) ReverseGeocode(ctx context.Context, p geo.Coordinate) (*geo.AddressInfo, *geo.BoundaryFeature, error) {
	params := url.Values{
		"lat":             {strconv.FormatFloat(p.Lat, 'f', -1, 64)},
		"lon":             {strconv.FormatFloat(p.Lon, 'f', -1, 64)},
		"format":          {"geojson"},
		"polygon_geojson": {"1"},
		"zoom":            {"18"},
		"accept-language": {"en"},
	}

	var resp nominatimResponse
	if err := n.getJSON(ctx, n.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.Features) == 0 {
		return nil, nil, resilience.Imprecise(nominatimProvider, "no feature at point")
	}
	feat := resp.Features[0]

	var head struct {
		Type string `json:"type"`
	}
	if len(feat.Geometry) > 0 {
		_ = json.Unmarshal(feat.Geometry, &head)
	}
	if head.Type != geo.TypePolygon {
		zap.L().Info("geocode: dropped non-polygon reverse geocode result",
			zap.String("geometry", head.Type),
			zap.Float64("lat", p.Lat), zap.Float64("lon", p.Lon),
			zap.Int64("osm_id", feat.Properties.OSMID))
		return nil, nil, resilience.Imprecise(nominatimProvider, "dropped "+orNone(head.Type)+" geometry")
	}

	g, err := geo.DecodeGeoJSON(feat.Geometry)
	if err != nil {
		return nil, nil, resilience.Unavailable(nominatimProvider, err)
	}
	boundary, err := geo.FromGeometry(g)
	if err != nil {
		return nil, nil, resilience.Imprecise(nominatimProvider, err.Error())
	}
	boundary.Source = nominatimProvider
	boundary.OSMID = feat.Properties.OSMID
	boundary.OSMType = feat.Properties.OSMType
	if len(feat.BBox) == 4 {
		boundary.Bounds = geom.NewBounds(geom.XY).Set(feat.BBox[0], feat.BBox[1], feat.BBox[2], feat.BBox[3])
	}

	info := addressFromComponents(feat.Properties.Address)
	return &info, boundary, nil
}

func addressFromComponents(addr map[string]string) geo.AddressInfo {
	country := addr["country"]
	display := country
	for _, k := range displayKeys {
		if v := strings.TrimSpace(addr[k]); v != "" {
			display = v + ", " + country
			break
		}
	}
	return geo.AddressInfo{
		DisplayName: display,
		Country:     country,
		CountryCode: strings.ToUpper(addr["country_code"]),
	}
}

func orNone(s string) string {
	if s == "" {
		return "missing"
	}
	return s
}
