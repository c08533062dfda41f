// Package overpass matches coordinates to OpenStreetMap building and site
// outlines through the Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

const (
	defaultBaseURL   = "https://overpass.private.coffee/api/interpreter"
	defaultUserAgent = "facility-enrich/1.0"
	providerName     = "overpass"

	// DefaultRadius is the search radius around a facility, in meters.
	DefaultRadius = 30

	// BranchEntityType labels every region search result; Overpass tags
	// carry no facility classification.
	BranchEntityType = "Branch"

	regionTimeoutSlack = 30 * time.Second
)

// Client queries Overpass for facility outlines.
type Client interface {
	// NearestContaining returns the first candidate within radiusMeters of
	// point whose outline strictly contains point, or nil when none does.
	NearestContaining(ctx context.Context, point geo.Coordinate, radiusMeters int) (*geo.BoundaryFeature, error)

	// FetchRegion returns every way or relation inside the ISO 3166-2 region
	// whose name or brand matches pattern.
	FetchRegion(ctx context.Context, regionCode, pattern string, timeoutSecs int) ([]geo.EnrichedFeature, error)

	// SearchRegion is FetchRegion as a lazy sequence: the query runs on the
	// first iteration and the sequence cannot be restarted. Provider
	// failures are logged and yield an empty sequence.
	SearchRegion(ctx context.Context, regionCode, pattern string, timeoutSecs int) iter.Seq[geo.EnrichedFeature]
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the interpreter endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithGate sets the pacing gate shared by every query.
func WithGate(g *resilience.Gate) Option {
	return func(c *client) { c.gate = g }
}

type client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	gate       *resilience.Gate
}

// NewClient creates an Overpass Client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{},
		gate:       resilience.NewGate(providerName, time.Second, 150*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Geometry []latLon          `json:"geometry"`
	Members  []member          `json:"members"`
	Tags     map[string]string `json:"tags"`
}

type member struct {
	Type     string   `json:"type"`
	Ref      int64    `json:"ref"`
	Role     string   `json:"role"`
	Geometry []latLon `json:"geometry"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func ring(points []latLon) []geom.Coord {
	coords := make([]geom.Coord, len(points))
	for i, p := range points {
		coords[i] = geom.Coord{p.Lon, p.Lat}
	}
	return coords
}

// outline converts an element into a closed boundary. A way becomes a
// Polygon; each member way of a relation becomes one polygon of a
// MultiPolygon. Elements without usable rings return nil.
func (el element) outline() *geo.BoundaryFeature {
	var (
		f   *geo.BoundaryFeature
		err error
	)
	switch el.Type {
	case "way":
		if len(el.Geometry) == 0 {
			return nil
		}
		f, err = geo.NewPolygonFeature(ring(el.Geometry))
	case "relation":
		var rings [][]geom.Coord
		for _, m := range el.Members {
			if m.Type != "way" || len(m.Geometry) == 0 {
				continue
			}
			rings = append(rings, ring(m.Geometry))
		}
		if len(rings) == 0 {
			return nil
		}
		f, err = geo.NewMultiPolygonFeature(rings)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	f.Source = providerName
	f.OSMID = el.ID
	f.OSMType = el.Type
	return f
}

func (c *client) NearestContaining(ctx context.Context, point geo.Coordinate, radiusMeters int) (*geo.BoundaryFeature, error) {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadius
	}
	q := nearestQuery(point, radiusMeters)

	var resp response
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		reqURL := c.baseURL + "?" + url.Values{"data": {q}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return eris.Wrap(err, "overpass: build request")
		}
		return c.do(req, false, &resp)
	})
	if err != nil {
		return nil, err
	}

	for _, el := range resp.Elements {
		f := el.outline()
		if f == nil {
			continue
		}
		if f.Contains(point) {
			zap.L().Debug("overpass: containing outline",
				zap.String("osm_type", f.OSMType), zap.Int64("osm_id", f.OSMID), zap.String("geometry", f.Type()))
			return f, nil
		}
	}
	zap.L().Info("overpass: no containing outline",
		zap.Float64("lat", point.Lat), zap.Float64("lon", point.Lon),
		zap.Int("radius", radiusMeters), zap.Int("candidates", len(resp.Elements)))
	return nil, nil
}

func (c *client) FetchRegion(ctx context.Context, regionCode, pattern string, timeoutSecs int) ([]geo.EnrichedFeature, error) {
	regionCode = strings.ToUpper(strings.TrimSpace(regionCode))
	if regionCode == "" || pattern == "" {
		return nil, resilience.Tag(resilience.KindInvalidInput, providerName, eris.New("overpass: region code and pattern are required"))
	}
	if timeoutSecs <= 0 {
		timeoutSecs = 1200
	}
	q := regionQuery(regionCode, pattern, timeoutSecs)

	var resp response
	timeout := time.Duration(timeoutSecs)*time.Second + regionTimeoutSlack
	err := c.gate.DoTimeout(ctx, timeout, func(ctx context.Context) error {
		form := url.Values{"data": {q}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form))
		if err != nil {
			return eris.Wrap(err, "overpass: build request")
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.do(req, true, &resp)
	})
	if err != nil {
		return nil, err
	}

	country, _ := geo.SplitRegionCode(regionCode)
	addr := regionAddress(regionCode)

	features := make([]geo.EnrichedFeature, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		f := el.outline()
		if f == nil {
			continue
		}
		name := el.Tags["name"]
		if name == "" {
			name = el.Tags["brand"]
		}
		features = append(features, geo.EnrichedFeature{
			Boundary:    f,
			Address:     addr,
			CompanyName: name,
			EntityType:  BranchEntityType,
		})
	}
	zap.L().Info("overpass: region search complete",
		zap.String("region", regionCode), zap.String("country", country), zap.Int("found", len(features)))
	return features, nil
}

func (c *client) SearchRegion(ctx context.Context, regionCode, pattern string, timeoutSecs int) iter.Seq[geo.EnrichedFeature] {
	used := false
	return func(yield func(geo.EnrichedFeature) bool) {
		if used {
			return
		}
		used = true

		features, err := c.FetchRegion(ctx, regionCode, pattern, timeoutSecs)
		if err != nil {
			zap.L().Warn("overpass: region search failed",
				zap.String("region", regionCode), zap.String("kind", resilience.KindOf(err).String()), zap.Error(err))
			return
		}
		for _, f := range features {
			if !yield(f) {
				return
			}
		}
	}
}

// do sends req and decodes the element list into out. requireJSON rejects
// responses whose Content-Type is not JSON; Overpass serves HTML error pages
// under load.
func (c *client) do(req *http.Request, requireJSON bool, out *response) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.Unavailable(providerName, eris.Wrap(err, "overpass: request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError(providerName, resp.StatusCode)
	}
	if requireJSON {
		mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mt != "application/json" {
			return resilience.Unavailable(providerName, eris.Errorf("overpass: non-JSON response %q", mt))
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.Unavailable(providerName, eris.Wrap(err, "overpass: read body"))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.Unavailable(providerName, eris.Wrap(err, "overpass: parse response"))
	}
	return nil
}

func regionAddress(regionCode string) geo.AddressInfo {
	country, sub := geo.SplitRegionCode(regionCode)
	countryName := geo.CountryName(country)
	display := countryName
	if name := geo.SubdivisionName(sub); name != "" {
		display = name + ", " + countryName
	}
	return geo.AddressInfo{DisplayName: display, Country: countryName, CountryCode: country}
}
