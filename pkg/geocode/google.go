package geocode

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

const (
	googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
	googleProvider   = "google"
)

// Region is the locality and country around a coordinate. Missing parts are
// empty.
type Region struct {
	City        string
	Country     string
	CountryCode string
}

// Empty reports whether no part was found.
func (r Region) Empty() bool {
	return r.City == "" && r.Country == "" && r.CountryCode == ""
}

// Address converts the region into address metadata.
func (r Region) Address() geo.AddressInfo {
	display := r.City
	if display == "" {
		display = r.Country
	}
	return geo.AddressInfo{DisplayName: display, Country: r.Country, CountryCode: r.CountryCode}
}

// Google wraps the Google Geocoding API.
type Google struct {
	endpoint
	key string
}

// NewGoogle creates a Google Geocoding client.
func NewGoogle(key string, opts ...Option) *Google {
	g := &Google{
		endpoint: endpoint{
			provider:   googleProvider,
			baseURL:    googleGeocodeURL,
			httpClient: &http.Client{},
			gate:       resilience.NewGate(googleProvider, time.Second, 10*time.Second),
		},
		key: key,
	}
	g.apply(opts)
	return g
}

type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

type googleResult struct {
	FormattedAddress  string   `json:"formatted_address"`
	Types             []string `json:"types"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

func (g *Google) query(ctx context.Context, params url.Values) (*googleResponse, error) {
	if g.key == "" {
		return nil, resilience.Unavailable(googleProvider, eris.New("geocode: google api key not configured"))
	}
	params.Set("key", g.key)

	var resp googleResponse
	if err := g.getJSON(ctx, g.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case "OK":
		return &resp, nil
	case "ZERO_RESULTS":
		return &resp, nil
	default:
		return nil, resilience.Unavailable(googleProvider, eris.Errorf("geocode: google status %s %s", resp.Status, resp.ErrorMessage))
	}
}

// RegionFromCoords returns the first locality and the first country among
// the results for p.
func (g *Google) RegionFromCoords(ctx context.Context, p geo.Coordinate) (Region, error) {
	resp, err := g.query(ctx, url.Values{
		"latlng": {strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)},
	})
	if err != nil {
		return Region{}, err
	}

	var r Region
	cityFound, countryFound := false, false
	for _, res := range resp.Results {
		if !cityFound && slices.Contains(res.Types, "locality") {
			r.City = res.FormattedAddress
			cityFound = true
		}
		if !countryFound && slices.Contains(res.Types, "country") {
			r.Country = res.FormattedAddress
			for _, comp := range res.AddressComponents {
				if slices.Contains(comp.Types, "country") {
					r.CountryCode = comp.ShortName
					break
				}
			}
			countryFound = true
		}
	}
	return r, nil
}

// GeocodeText returns the location of the first result for free text.
func (g *Google) GeocodeText(ctx context.Context, text string) (geo.Coordinate, error) {
	if text == "" {
		return geo.Coordinate{}, resilience.Tag(resilience.KindInvalidInput, googleProvider, eris.New("geocode: empty text"))
	}
	resp, err := g.query(ctx, url.Values{"address": {text}})
	if err != nil {
		return geo.Coordinate{}, err
	}
	if len(resp.Results) == 0 {
		return geo.Coordinate{}, resilience.Imprecise(googleProvider, "no result for "+strconv.Quote(text))
	}
	loc := resp.Results[0].Geometry.Location
	c, err := geo.NewCoordinate(loc.Lat, loc.Lng)
	if err != nil {
		return geo.Coordinate{}, resilience.Unavailable(googleProvider, err)
	}
	return c, nil
}
