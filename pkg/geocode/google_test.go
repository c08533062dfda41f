package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-enrich/internal/resilience"
)

const reverseRegionResponse = `{
  "status": "OK",
  "results": [
    {"formatted_address": "10 Downing St, London SW1A 2AA, UK", "types": ["street_address"]},
    {"formatted_address": "London, UK", "types": ["locality", "political"]},
    {"formatted_address": "Westminster, London, UK", "types": ["locality", "political"]},
    {"formatted_address": "United Kingdom", "types": ["country", "political"],
     "address_components": [{"long_name": "United Kingdom", "short_name": "GB", "types": ["country", "political"]}]}
  ]
}`

func newGoogleServer(t *testing.T, body string, seen *[]string) *Google {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = append(*seen, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return NewGoogle("test-key", WithBaseURL(srv.URL), WithGate(resilience.NewGate("google", 0, 0)))
}

func TestRegionFromCoords(t *testing.T) {
	var seen []string
	g := newGoogleServer(t, reverseRegionResponse, &seen)

	r, err := g.RegionFromCoords(context.Background(), london)
	require.NoError(t, err)
	assert.Equal(t, "London, UK", r.City)
	assert.Equal(t, "United Kingdom", r.Country)
	assert.Equal(t, "GB", r.CountryCode)

	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], "latlng=51.5%2C-0.12")
	assert.Contains(t, seen[0], "key=test-key")

	addr := r.Address()
	assert.Equal(t, "London, UK", addr.DisplayName)
	assert.Equal(t, "GB", addr.CountryCode)
}

func TestRegionFromCoords_CountryOnly(t *testing.T) {
	g := newGoogleServer(t, `{"status":"OK","results":[{"formatted_address":"Iceland","types":["country"],
		"address_components":[{"short_name":"IS","types":["country"]}]}]}`, nil)

	r, err := g.RegionFromCoords(context.Background(), london)
	require.NoError(t, err)
	assert.Empty(t, r.City)
	assert.Equal(t, "Iceland", r.Address().DisplayName)
}

func TestRegionFromCoords_ZeroResults(t *testing.T) {
	g := newGoogleServer(t, `{"status":"ZERO_RESULTS","results":[]}`, nil)

	r, err := g.RegionFromCoords(context.Background(), london)
	require.NoError(t, err)
	assert.True(t, r.Empty())
}

func TestGoogle_Errors(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		g := newGoogleServer(t, `{"status":"REQUEST_DENIED","error_message":"bad key"}`, nil)
		_, err := g.RegionFromCoords(context.Background(), london)
		require.Error(t, err)
		assert.True(t, resilience.Is(err, resilience.KindProviderUnavailable))
		assert.Contains(t, err.Error(), "REQUEST_DENIED")
	})

	t.Run("missing key", func(t *testing.T) {
		g := NewGoogle("")
		_, err := g.RegionFromCoords(context.Background(), london)
		assert.True(t, resilience.Is(err, resilience.KindProviderUnavailable))
	})
}

func TestGeocodeText(t *testing.T) {
	var seen []string
	g := newGoogleServer(t, `{"status":"OK","results":[{"geometry":{"location":{"lat":48.8566,"lng":2.3522}}}]}`, &seen)

	c, err := g.GeocodeText(context.Background(), "Paris, France")
	require.NoError(t, err)
	assert.InDelta(t, 48.8566, c.Lat, 1e-9)
	assert.InDelta(t, 2.3522, c.Lon, 1e-9)
	assert.Contains(t, seen[0], "address=Paris%2C+France")
}

func TestGeocodeText_NoResult(t *testing.T) {
	g := newGoogleServer(t, `{"status":"ZERO_RESULTS","results":[]}`, nil)

	_, err := g.GeocodeText(context.Background(), "Nowhere")
	assert.True(t, resilience.Is(err, resilience.KindInsufficientPrecision))

	_, err = g.GeocodeText(context.Background(), "")
	assert.True(t, resilience.Is(err, resilience.KindInvalidInput))
}
