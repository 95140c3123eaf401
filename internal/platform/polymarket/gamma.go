// Package polymarket adapts the Polymarket Gamma API into normalized quotes.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// DefaultGammaHost is the public Gamma API root.
const DefaultGammaHost = "https://gamma-api.polymarket.com"

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event and market discovery.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaHost
	}
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetEventsOptions are the query parameters of GET /events.
type GetEventsOptions struct {
	Limit  int
	Offset int
	Closed *bool
	Slug   string
}

// GetEvents returns a page of events.
func (g *GammaClient) GetEvents(ctx context.Context, opts GetEventsOptions) ([]APIEvent, error) {
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Closed != nil {
		params.Set("closed", strconv.FormatBool(*opts.Closed))
	}
	if opts.Slug != "" {
		params.Set("slug", opts.Slug)
	}

	path := "/events"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var events []APIEvent
	if err := g.getJSON(ctx, path, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event by its ID.
func (g *GammaClient) GetEvent(ctx context.Context, id string) (APIEvent, error) {
	var event APIEvent
	if err := g.getJSON(ctx, "/events/"+url.PathEscape(id), &event); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", id, err)
	}
	return event, nil
}

// GetEventBySlug returns a single event looked up by its URL slug.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	events, err := g.GetEvents(ctx, GetEventsOptions{Slug: slug})
	if err != nil {
		return APIEvent{}, err
	}
	if len(events) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return events[0], nil
}

// getJSON sends an unauthenticated GET request and decodes the body.
func (g *GammaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrSourceUnavailable, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrSourceUnavailable, err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx HTTP status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrSourceUnavailable, domain.ErrRateLimited, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden, statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrSourceUnavailable, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
