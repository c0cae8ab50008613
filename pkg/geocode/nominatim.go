package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mke-data/crash-cli/internal/resilience"
)

type nominatim struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	querySuffix string
	limiter     *rate.Limiter
	retryCfg    resilience.RetryConfig
}

// nominatimResult is one element of the JSON array returned by /search.
// Coordinates arrive as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode implements Client. The request is rate limited and retried on
// 429/5xx and network errors; an empty result array is an unmatched address,
// not an error.
func (n *nominatim) Geocode(ctx context.Context, location string) (*Result, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	query := location
	if n.querySuffix != "" {
		query = location + ", " + n.querySuffix
	}
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	reqURL := n.baseURL + "?" + params.Encode()

	retryCfg := n.retryCfg
	retryCfg.OnRetry = resilience.RetryLogger("nominatim", "search")

	body, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return n.fetch(ctx, reqURL)
	})
	if err != nil {
		return nil, err
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}

	if len(results) == 0 {
		zap.L().Debug("geocode: no match", zap.String("location", location))
		return &Result{Matched: false}, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lat %q", results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lon %q", results[0].Lon)
	}

	return &Result{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: results[0].DisplayName,
		Matched:     true,
	}, nil
}

// fetch performs one HTTP GET, classifying retryable statuses as transient.
func (n *nominatim) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}
	return body, nil
}
