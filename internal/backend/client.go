// Package backend is the REST client for the i-SMART research backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/metrics"
)

// maxErrorBody caps how much of an error response is kept on StatusError.
const maxErrorBody = 4 << 10

// Client talks to the backend over JSON/HTTP.
type Client struct {
	baseURL      string
	recommendURL string
	httpClient   *http.Client
	logger       *logrus.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRecommendURL points recommendation lookups at a separate host.
func WithRecommendURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.recommendURL = strings.TrimSuffix(u, "/")
		}
	}
}

// New creates a client for baseURL. A zero timeout means no client-side timeout.
func New(baseURL string, timeout time.Duration, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	c.recommendURL = c.baseURL
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one call. route is the templated path used for metrics.
type request struct {
	method      string
	base        string
	path        string
	route       string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	base := r.base
	if base == "" {
		base = c.baseURL
	}
	u := base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", r.method, r.route, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	return req, nil
}

// send performs r and returns the response with its body unread.
// The caller must close the body.
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordBackendRequest(r.method, r.route, 0, elapsed)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.method,
			"route":  r.route,
		}).Debug("backend request failed")
		return nil, fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}

	metrics.RecordBackendRequest(r.method, r.route, resp.StatusCode, elapsed)
	c.logger.WithFields(logrus.Fields{
		"method":   r.method,
		"route":    r.route,
		"status":   resp.StatusCode,
		"duration": elapsed.String(),
	}).Debug("backend request")
	return resp, nil
}

// makeRequest performs r, fails on non-2xx, and decodes the JSON body into out
// when out is non-nil.
func (c *Client) makeRequest(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", r.method, r.route, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Route: r.route, Err: err}
	}
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bytes.NewReader(data), nil
}
