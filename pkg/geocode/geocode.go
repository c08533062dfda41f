// Package geocode normalizes coordinates into address metadata using
// Nominatim reverse geocoding (primary, boundary-aware) and the Google
// Geocoding API (secondary, locality and country).
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/resilience"
)

// Option configures a provider client.
type Option func(*endpoint)

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(u string) Option {
	return func(e *endpoint) { e.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *endpoint) { e.httpClient = hc }
}

// WithUserAgent sets the User-Agent header. Nominatim's usage policy
// requires an identifying agent.
func WithUserAgent(ua string) Option {
	return func(e *endpoint) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

// WithGate sets the pacing gate shared by every call to the provider.
func WithGate(g *resilience.Gate) Option {
	return func(e *endpoint) { e.gate = g }
}

type endpoint struct {
	provider   string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	gate       *resilience.Gate
}

func (e *endpoint) apply(opts []Option) {
	for _, opt := range opts {
		opt(e)
	}
}

// getJSON issues a GET through the gate and decodes the body into out.
func (e *endpoint) getJSON(ctx context.Context, reqURL string, out any) error {
	return e.gate.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return eris.Wrapf(err, "geocode: %s build request", e.provider)
		}
		if e.userAgent != "" {
			req.Header.Set("User-Agent", e.userAgent)
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return resilience.Unavailable(e.provider, eris.Wrapf(err, "geocode: %s request", e.provider))
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return resilience.StatusError(e.provider, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resilience.Unavailable(e.provider, eris.Wrapf(err, "geocode: %s read body", e.provider))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return resilience.Unavailable(e.provider, eris.Wrapf(err, "geocode: %s parse response", e.provider))
		}
		return nil
	})
}

var errNotConfigured = eris.New("geocode: provider not configured")
