// Package postcodes looks up postcode centroids via postcodes.io.
package postcodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

const (
	defaultBaseURL = "https://api.postcodes.io/postcodes/"
	providerName   = "postcodes"
)

// Client resolves postcodes to coordinates.
type Client interface {
	Lookup(ctx context.Context, postcode string) (geo.Coordinate, error)
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the lookup endpoint. The postcode is appended.
func WithBaseURL(u string) Option {
	return func(c *client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithGate sets the pacing gate shared by every lookup.
func WithGate(g *resilience.Gate) Option {
	return func(c *client) { c.gate = g }
}

type client struct {
	baseURL    string
	httpClient *http.Client
	gate       *resilience.Gate
}

// NewClient creates a postcodes.io Client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		gate:       resilience.NewGate(providerName, time.Second, 10*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	Status int `json:"status"`
	Result *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"result"`
	Error string `json:"error"`
}

// Lookup returns the centroid of postcode. Non-200 responses and empty
// results are provider failures.
func (c *client) Lookup(ctx context.Context, postcode string) (geo.Coordinate, error) {
	postcode = strings.TrimSpace(postcode)
	if postcode == "" {
		return geo.Coordinate{}, resilience.Tag(resilience.KindInvalidInput, providerName, eris.New("postcodes: empty postcode"))
	}

	var out geo.Coordinate
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url.PathEscape(postcode), nil)
		if err != nil {
			return eris.Wrap(err, "postcodes: build request")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return resilience.Unavailable(providerName, eris.Wrap(err, "postcodes: request"))
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return resilience.StatusError(providerName, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resilience.Unavailable(providerName, eris.Wrap(err, "postcodes: read body"))
		}

		var lr lookupResponse
		if err := json.Unmarshal(body, &lr); err != nil {
			return resilience.Unavailable(providerName, eris.Wrap(err, "postcodes: parse response"))
		}
		if lr.Status != http.StatusOK {
			return resilience.Unavailable(providerName, eris.Errorf("postcodes: body status %d", lr.Status))
		}
		if lr.Result == nil || lr.Result.Latitude == nil || lr.Result.Longitude == nil {
			return resilience.Unavailable(providerName, eris.Errorf("postcodes: no result for %q", postcode))
		}

		out, err = geo.NewCoordinate(*lr.Result.Latitude, *lr.Result.Longitude)
		if err != nil {
			return resilience.Unavailable(providerName, eris.Wrap(err, "postcodes: result"))
		}
		return nil
	})
	return out, err
}
