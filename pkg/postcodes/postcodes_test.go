package postcodes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-enrich/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(
		WithBaseURL(srv.URL+"/postcodes"),
		WithGate(resilience.NewGate("postcodes-test", 0, 0)),
	)
}

func TestLookup_OK(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":200,"result":{"postcode":"SW1A 1AA","latitude":51.501009,"longitude":-0.141588}}`)
	})

	got, err := c.Lookup(context.Background(), " SW1A 1AA ")
	require.NoError(t, err)
	assert.InDelta(t, 51.501009, got.Lat, 1e-9)
	assert.InDelta(t, -0.141588, got.Lon, 1e-9)
	assert.Equal(t, "/postcodes/SW1A%201AA", gotPath)
}

func TestLookup_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":404,"error":"Postcode not found"}`)
	})

	_, err := c.Lookup(context.Background(), "ZZ99 9ZZ")
	require.Error(t, err)
	assert.Equal(t, resilience.KindProviderUnavailable, resilience.KindOf(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestLookup_BodyStatusAndEmptyResult(t *testing.T) {
	for name, body := range map[string]string{
		"body status": `{"status":500}`,
		"null result": `{"status":200,"result":null}`,
		"missing lon": `{"status":200,"result":{"latitude":51.5}}`,
		"not json":    `<html>`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			_, err := c.Lookup(context.Background(), "SW1A 1AA")
			require.Error(t, err)
			assert.Equal(t, resilience.KindProviderUnavailable, resilience.KindOf(err))
		})
	}
}

func TestLookup_EmptyPostcode(t *testing.T) {
	c := NewClient()
	_, err := c.Lookup(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, resilience.KindInvalidInput, resilience.KindOf(err))
}
