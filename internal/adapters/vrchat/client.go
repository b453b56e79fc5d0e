// Package vrchat talks to the VRChat web API: a JSON client with a fixed
// per-request timeout, the page loop shared by every listing, and the
// keyword and owner fetch strategies built on it.
package vrchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/worldwatch/pkg/logger"
	"github.com/okian/worldwatch/pkg/metrics"
)

// Defaults.
const (
	DefaultBaseURL = "https://api.vrchat.cloud/api/1"
	DefaultTimeout = 30 * time.Second
)

// Client issues GET requests against the API. It never retries.
type Client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

// NewClient returns a Client with defaults applied.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON fetches u and decodes the body with numbers kept as json.Number.
// strategy labels metrics only.
func (c *Client) GetJSON(ctx context.Context, strategy, u string, headers http.Header) (any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	start := time.Now()
	metrics.RecordPageFetched(strategy)
	v, err := c.do(ctx, req)
	metrics.RecordFetchLatency(strategy, time.Since(start))
	if err != nil {
		metrics.RecordFetchError(strategy, Kind(err))
		c.log.Debug(ctx, "request failed", logger.String("url", redact(u)), logger.Error(err))
		return nil, err
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w (status %d)", ErrForbidden, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 32<<20))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: read body: %w", ErrTransient, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return v, nil
}

// GetWorld fetches one world's detail record.
func (c *Client) GetWorld(ctx context.Context, id string, headers http.Header) (map[string]any, error) {
	v, err := c.GetJSON(ctx, "detail", c.baseURL+"/worlds/"+url.PathEscape(id), headers)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: world %s is not an object", ErrDecode, id)
	}
	return m, nil
}

// redact drops the query so search terms stay out of logs.
func redact(u string) string {
	p, err := url.Parse(u)
	if err != nil {
		return ""
	}
	p.RawQuery = ""
	return p.String()
}
