// Package graph is a client for the Meta Graph API endpoints used to publish
// to Facebook Pages and Instagram business accounts.
//
// Every call takes the access token explicitly: page tokens for publishing,
// the user token for page discovery. The client holds no credentials.
//
// Instagram publishing is a multi-step process:
//  1. Create a media container per item from a public URL
//  2. For carousels: create a parent container that references the children
//  3. For videos: poll the container until processing finishes
//  4. Publish the container
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultVersion is the Graph API version used when none is configured.
	DefaultVersion = "v18.0"

	graphHost      = "https://graph.facebook.com"
	defaultTimeout = 30 * time.Second

	// MaxCarouselItems is the largest carousel either platform accepts from us.
	MaxCarouselItems = 10

	initialPollInterval = 2 * time.Second
	maxPollInterval     = 30 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// Client calls the Graph API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter

	pollInterval    time.Duration
	maxPollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at a different host, including the version path.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithLimiter makes every call wait on l before it is sent.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithPollInterval sets the initial and maximum container poll intervals.
func WithPollInterval(initial, max time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = initial
		c.maxPollInterval = max
	}
}

// NewClient creates a client for the given API version (e.g. "v18.0").
func NewClient(version string, opts ...Option) *Client {
	if version == "" {
		version = DefaultVersion
	}
	c := &Client{
		httpClient:      &http.Client{Timeout: defaultTimeout},
		baseURL:         graphHost + "/" + version,
		pollInterval:    initialPollInterval,
		maxPollInterval: maxPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the versioned API root.
func (c *Client) BaseURL() string { return c.baseURL }

// idResponse is the common shape of create/publish responses.
type idResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}

// post sends a form-encoded POST and decodes the response into out.
func (c *Client) post(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	paramNames := make([]string, 0, len(params))
	for k := range params {
		if k != "access_token" {
			paramNames = append(paramNames, k)
		}
	}
	log.Trace().Strs("formParams", paramNames).Str("path", path).Msg("Graph API form parameters")

	return c.do(req, path, out)
}

// get sends a GET with params as the query string.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.getURL(ctx, u, path, out)
}

// getURL fetches an absolute URL, as returned in paging.next.
func (c *Client) getURL(ctx context.Context, rawURL, logPath string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, logPath, out)
}

func (c *Client) do(req *http.Request, logPath string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	log.Debug().Str("method", req.Method).Str("path", logPath).Msg("Graph API request")

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Graph API response")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", duration).Str("path", logPath).Msg("Graph API response")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if apiErr := parseError(body, resp.StatusCode); apiErr != nil {
		log.Error().
			Str("errorMessage", apiErr.Message).
			Str("errorType", apiErr.Type).
			Int("errorCode", apiErr.Code).
			Str("fbtraceId", apiErr.FBTraceID).
			Str("path", logPath).
			Msg("Graph API error")
		return apiErr
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(body), 200))
	}
	return nil
}

// truncate returns the first n bytes of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
