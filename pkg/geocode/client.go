// Package geocode resolves crash location strings to coordinates via the
// OpenStreetMap Nominatim search API.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mke-data/crash-cli/internal/resilience"
)

// Client resolves a canonical address string to coordinates.
type Client interface {
	// Geocode resolves a single canonical location string. An address the
	// provider cannot match is returned as Matched=false, not as an error.
	Geocode(ctx context.Context, location string) (*Result, error)
}

// Result holds the geocoding output for one location.
type Result struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
	Matched     bool
}

// Option configures the Nominatim client.
type Option func(*nominatim)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *nominatim) {
		n.httpClient = hc
	}
}

// WithBaseURL overrides the Nominatim search endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(n *nominatim) {
		n.baseURL = u
	}
}

// WithUserAgent sets the identifying client tag sent on every request.
// Nominatim's usage policy requires one.
func WithUserAgent(ua string) Option {
	return func(n *nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithQuerySuffix sets the fixed suffix appended to every query to anchor
// free-text crash locations to a city and state.
func WithQuerySuffix(suffix string) Option {
	return func(n *nominatim) {
		n.querySuffix = suffix
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(n *nominatim) {
		if rps > 0 {
			n.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *nominatim) {
		if d > 0 {
			n.httpClient.Timeout = d
		}
	}
}

// WithRetryConfig overrides the retry behavior for API calls.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(n *nominatim) {
		n.retryCfg = cfg
	}
}

// NewClient creates a Nominatim-backed Client with the given options.
func NewClient(opts ...Option) Client {
	n := &nominatim{
		httpClient:  &http.Client{Timeout: 6 * time.Second},
		baseURL:     "https://nominatim.openstreetmap.org/search",
		userAgent:   "MilwaukeeCrashInsights/1.0",
		querySuffix: "Milwaukee, Wisconsin, USA",
		limiter:     rate.NewLimiter(1, 1), // Nominatim policy: 1 req/s
		retryCfg:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}
