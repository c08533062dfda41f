package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-enrich/internal/dataset"
	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
	"github.com/sells-group/facility-enrich/pkg/geocode"
)

const lineStringReverse = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {"osm_id": 7, "osm_type": "way", "address": {"road": "Strand", "city": "London", "country": "United Kingdom", "country_code": "gb"}},
    "geometry": {"type": "LineString", "coordinates": [[-0.13,51.49],[-0.11,51.51]]}
  }]
}`

const polygonReverse = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "bbox": [-0.13, 51.49, -0.11, 51.51],
    "properties": {"osm_id": 4242, "osm_type": "way", "address": {"city": "London", "country": "United Kingdom", "country_code": "gb"}},
    "geometry": {"type": "Polygon", "coordinates": [[[-0.13,51.49],[-0.13,51.51],[-0.11,51.51],[-0.11,51.49]]]}
  }]
}`

const localityResponse = `{
  "status": "OK",
  "results": [
    {"formatted_address": "London, UK", "types": ["locality", "political"]},
    {"formatted_address": "United Kingdom", "types": ["country", "political"],
     "address_components": [{"long_name": "United Kingdom", "short_name": "GB", "types": ["country", "political"]}]}
  ]
}`

func jsonServer(t *testing.T, status int, body string, hits *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type providerHits struct {
	nominatim atomic.Int32
	google    atomic.Int32
}

func realNormalizer(t *testing.T, nominatimStatus int, nominatimBody string) (*geocode.Normalizer, *providerHits) {
	t.Helper()
	hits := &providerHits{}
	nom := geocode.NewNominatim(
		geocode.WithBaseURL(jsonServer(t, nominatimStatus, nominatimBody, &hits.nominatim)),
		geocode.WithGate(resilience.NewGate("nominatim", 0, 0)),
	)
	g := geocode.NewGoogle("test-key",
		geocode.WithBaseURL(jsonServer(t, http.StatusOK, localityResponse, &hits.google)),
		geocode.WithGate(resilience.NewGate("google", 0, 0)),
	)
	return geocode.NewNormalizer(nom, g, 0), hits
}

func noOutline() *mockMatcher {
	m := &mockMatcher{}
	m.On("NearestContaining", mock.Anything, london, 30).Return(nil, nil)
	return m
}

func TestRun_LineStringReverseLeavesAddressEmpty(t *testing.T) {
	n, hits := realNormalizer(t, http.StatusOK, lineStringReverse)

	p := New(Deps{Matcher: noOutline(), Normalizer: n}, Options{})
	c := london
	report, err := p.Run(context.Background(), corpSource(), []dataset.Row{testRow(2, "TestCo", &c)})
	require.NoError(t, err)
	require.Len(t, report.Features, 1)

	f := report.Features[0]
	assert.True(t, f.Address.Empty(), "address after LineString primary: %+v", f.Address)
	assert.Equal(t, geo.TypePoint, f.GeometryType())
	assert.Equal(t, 0, report.WithAddress)
	assert.Equal(t, int32(0), hits.google.Load(), "imprecise primary does not fall back")
	assert.Equal(t, 2, report.KindCounts()["insufficient_precision"], "boundary and address both imprecise")
}

func TestRun_UnavailablePrimaryFallsBackToLocality(t *testing.T) {
	n, hits := realNormalizer(t, http.StatusServiceUnavailable, `{}`)

	p := New(Deps{Matcher: noOutline(), Normalizer: n}, Options{})
	c := london
	report, err := p.Run(context.Background(), corpSource(), []dataset.Row{testRow(2, "TestCo", &c)})
	require.NoError(t, err)
	require.Len(t, report.Features, 1)

	assert.Equal(t, geo.AddressInfo{DisplayName: "London, UK", Country: "United Kingdom", CountryCode: "GB"}, report.Features[0].Address)
	assert.Equal(t, int32(1), hits.google.Load())
}

func TestRun_NominatimPolygonIgnoredByDefault(t *testing.T) {
	n, _ := realNormalizer(t, http.StatusOK, polygonReverse)

	p := New(Deps{Matcher: noOutline(), Normalizer: n}, Options{})
	c := london
	report, err := p.Run(context.Background(), corpSource(), []dataset.Row{testRow(2, "TestCo", &c)})
	require.NoError(t, err)
	require.Len(t, report.Features, 1)
	assert.Equal(t, geo.TypePoint, report.Features[0].GeometryType())
	assert.Equal(t, "London, United Kingdom", report.Features[0].Address.DisplayName)

	src := corpSource()
	src.BoundaryFallback = dataset.BoundaryFallbackNominatim
	n, _ = realNormalizer(t, http.StatusOK, polygonReverse)
	p = New(Deps{Matcher: noOutline(), Normalizer: n}, Options{})
	report, err = p.Run(context.Background(), src, []dataset.Row{testRow(2, "TestCo", &c)})
	require.NoError(t, err)
	assert.Equal(t, geo.TypePolygon, report.Features[0].GeometryType())
}
