package overpass

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL), WithGate(resilience.NewGate("overpass-test", 0, 0)))
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}
}

// An open square way around (0.5, 0.5), a relation elsewhere, and a way
// that contains the point but comes later.
const nearbyElements = `{"elements":[
	{"type":"way","id":10,"geometry":[{"lat":5,"lon":5},{"lat":6,"lon":5},{"lat":6,"lon":6},{"lat":5,"lon":6}]},
	{"type":"way","id":11,"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":0},{"lat":1,"lon":1},{"lat":0,"lon":1}],"tags":{"building":"yes"}},
	{"type":"way","id":12,"geometry":[{"lat":-1,"lon":-1},{"lat":2,"lon":-1},{"lat":2,"lon":2},{"lat":-1,"lon":2},{"lat":-1,"lon":-1}]}
]}`

func TestNearestContaining_FirstContainingWins(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		gotQuery = r.URL.Query().Get("data")
		jsonHandler(nearbyElements)(w, r)
	})

	f, err := c.NearestContaining(context.Background(), geo.Coordinate{Lat: 0.5, Lon: 0.5}, 0)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, int64(11), f.OSMID)
	assert.Equal(t, "way", f.OSMType)
	assert.Equal(t, "overpass", f.Source)
	assert.Equal(t, geo.TypePolygon, f.Type())
	assert.Equal(t, [4]float64{0, 0, 1, 1}, f.BBox())

	assert.Contains(t, gotQuery, "around:30,0.5000000,0.5000000")
	assert.Contains(t, gotQuery, `[!"amenity"]`)
	assert.Contains(t, gotQuery, "out geom;")
}

func TestNearestContaining_OutsideReturnsNil(t *testing.T) {
	c := newTestClient(t, jsonHandler(nearbyElements))

	f, err := c.NearestContaining(context.Background(), geo.Coordinate{Lat: 50, Lon: 50}, 30)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestNearestContaining_Relation(t *testing.T) {
	c := newTestClient(t, jsonHandler(`{"elements":[{"type":"relation","id":99,"members":[
		{"type":"node","ref":1},
		{"type":"way","ref":2,"role":"outer"},
		{"type":"way","ref":3,"role":"outer","geometry":[{"lat":0,"lon":0},{"lat":1,"lon":0},{"lat":1,"lon":1},{"lat":0,"lon":1}]},
		{"type":"way","ref":4,"role":"outer","geometry":[{"lat":10,"lon":10},{"lat":11,"lon":10},{"lat":11,"lon":11},{"lat":10,"lon":11}]}
	]}]}`))

	f, err := c.NearestContaining(context.Background(), geo.Coordinate{Lat: 10.5, Lon: 10.5}, 30)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, geo.TypeMultiPolygon, f.Type())
	assert.Equal(t, "relation", f.OSMType)
	assert.Equal(t, int64(99), f.OSMID)
}

func TestNearestContaining_DegenerateCandidatesSkipped(t *testing.T) {
	c := newTestClient(t, jsonHandler(`{"elements":[
		{"type":"way","id":1,"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":1}]},
		{"type":"way","id":2},
		{"type":"node","id":3},
		{"type":"relation","id":4,"members":[]}
	]}`))

	f, err := c.NearestContaining(context.Background(), geo.Coordinate{Lat: 0.5, Lon: 0.5}, 30)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestNearestContaining_ProviderFailures(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusGatewayTimeout) },
		"bad json": jsonHandler(`{"elements":`),
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, h)
			f, err := c.NearestContaining(context.Background(), geo.Coordinate{Lat: 0.5, Lon: 0.5}, 30)
			require.Error(t, err)
			assert.Nil(t, f)
			assert.Equal(t, resilience.KindProviderUnavailable, resilience.KindOf(err))
		})
	}
}

func TestFetchRegion(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("data")
		jsonHandler(`{"elements":[
			{"type":"way","id":1,"tags":{"name":"Nestle Factory"},"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":0},{"lat":1,"lon":1},{"lat":0,"lon":1}]},
			{"type":"relation","id":2,"tags":{"brand":"Nestle"},"members":[{"type":"way","ref":5,"geometry":[{"lat":3,"lon":3},{"lat":4,"lon":3},{"lat":4,"lon":4},{"lat":3,"lon":4}]}]},
			{"type":"way","id":3,"tags":{"name":"broken"},"geometry":[]}
		]}`)(w, r)
	})

	features, err := c.FetchRegion(context.Background(), "us-ca", `Nestl"e`, 600)
	require.NoError(t, err)
	require.Len(t, features, 2)

	first := features[0]
	assert.Equal(t, "Nestle Factory", first.CompanyName)
	assert.Equal(t, BranchEntityType, first.EntityType)
	assert.Equal(t, "US", first.Address.CountryCode)
	assert.Equal(t, "United States", first.Address.Country)
	assert.Equal(t, "California, United States", first.Address.DisplayName)
	assert.Equal(t, geo.TypePolygon, first.GeometryType())

	assert.Equal(t, "Nestle", features[1].CompanyName, "brand is used when name is absent")
	assert.Equal(t, geo.TypeMultiPolygon, features[1].GeometryType())

	assert.Contains(t, gotQuery, "[timeout:600]")
	assert.Contains(t, gotQuery, `area["ISO3166-2"="US-CA"]`)
	assert.Contains(t, gotQuery, `way["brand"~"Nestl\"e",i]["highway"!~"."](area.searchArea);`)
	assert.Equal(t, 4, strings.Count(gotQuery, "(area.searchArea)"))
}

func TestFetchRegion_CountryOnly(t *testing.T) {
	c := newTestClient(t, jsonHandler(`{"elements":[{"type":"way","id":1,"tags":{"name":"X"},"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":0},{"lat":1,"lon":1},{"lat":0,"lon":1}]}]}`))
	features, err := c.FetchRegion(context.Background(), "GB", "X", 0)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "United Kingdom", features[0].Address.DisplayName)
}

func TestFetchRegion_InvalidInput(t *testing.T) {
	c := NewClient()
	_, err := c.FetchRegion(context.Background(), "", "x", 10)
	assert.Equal(t, resilience.KindInvalidInput, resilience.KindOf(err))
}

func TestSearchRegion_NonJSONIsEmpty(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>rate limited</html>")
	})

	var got []geo.EnrichedFeature
	for f := range c.SearchRegion(context.Background(), "GB-ENG", "Nestl", 10) {
		got = append(got, f)
	}
	assert.Empty(t, got)
	assert.Equal(t, 1, calls)
}

func TestSearchRegion_LazyAndNotRestartable(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		jsonHandler(`{"elements":[
			{"type":"way","id":1,"tags":{"name":"A"},"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":0},{"lat":1,"lon":1},{"lat":0,"lon":1}]},
			{"type":"way","id":2,"tags":{"name":"B"},"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":0},{"lat":1,"lon":1},{"lat":0,"lon":1}]}
		]}`)(w, r)
	})

	seq := c.SearchRegion(context.Background(), "GB-SCT", "A|B", 10)
	assert.Equal(t, 0, calls, "no request before iteration")

	var names []string
	for f := range seq {
		names = append(names, f.CompanyName)
	}
	assert.Equal(t, []string{"A", "B"}, names)

	for range seq {
		t.Fatal("sequence must not restart")
	}
	assert.Equal(t, 1, calls)
}
