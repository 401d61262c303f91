// Package base provides the shared HTTP plumbing under the Confluence and LLM
// clients: bounded concurrency, a circuit breaker, body limits and per-call
// metrics.
// It never retries; every response, including 429, goes back to the caller.
package base

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/infra"
	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
)

const (
	// DefaultTimeout for API requests
	DefaultTimeout = 30 * time.Second

	// MaxConcurrentRequests limits parallel API calls
	MaxConcurrentRequests = 5

	// MaxResponseSize caps how much of a response body is read
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultUserAgent is sent when a request sets none
	DefaultUserAgent = "confluence-spec-mcp-server/1.0"
)

// Client provides common HTTP client infrastructure with concurrency
// limiting and circuit breaking.
type Client struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	CircuitBreaker *infra.CircuitBreaker
	Semaphore      chan struct{}
	UserAgent      string
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.HTTPClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.Logger = l
	}
}

// WithCircuitBreaker sets a custom circuit breaker
func WithCircuitBreaker(cb *infra.CircuitBreaker) ClientOption {
	return func(client *Client) {
		client.CircuitBreaker = cb
	}
}

// WithMaxConcurrent sets the number of concurrent requests
func WithMaxConcurrent(n int) ClientOption {
	return func(client *Client) {
		if n > 0 {
			client.Semaphore = make(chan struct{}, n)
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(client *Client) {
		client.UserAgent = ua
	}
}

// NewClient creates a new base client with default settings
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		HTTPClient:     NewHTTPClient(DefaultTimeout),
		Logger:         slog.Default(),
		CircuitBreaker: infra.NewCircuitBreaker(infra.CircuitBreakerConfig{}),
		Semaphore:      make(chan struct{}, MaxConcurrentRequests),
		UserAgent:      DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CircuitBreakerStats returns the current circuit breaker state
func (c *Client) CircuitBreakerStats() infra.CircuitBreakerStats {
	return c.CircuitBreaker.Stats()
}

// AcquireSlot blocks until a request slot is available or ctx is done
func (c *Client) AcquireSlot(ctx context.Context) error {
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	default:
	}

	metrics.RateLimitWaits.Inc()
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for request slot: %w", ctx.Err())
	}
}

// ReleaseSlot releases a request slot
func (c *Client) ReleaseSlot() {
	<-c.Semaphore
}

// Request describes a single HTTP call
type Request struct {
	Operation string // metric/log label, e.g. "get_page"
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string // URL after redirects
}

// TransportError reports that no HTTP response was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Do performs one HTTP request. Non-2xx statuses are not errors at this
// layer; they are returned for the caller to classify. Errors are either
// *infra.ErrCircuitOpen or *TransportError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	if err := c.CircuitBreaker.Allow(); err != nil {
		return nil, err
	}

	if err := c.AcquireSlot(ctx); err != nil {
		return nil, &TransportError{Op: r.Operation, Err: err}
	}
	defer c.ReleaseSlot()

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, &TransportError{Op: r.Operation, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(r.Operation, time.Since(start).Seconds(), 0)
		c.CircuitBreaker.RecordFailure()
		c.Logger.Warn("Upstream request failed",
			"operation", r.Operation,
			"method", r.Method,
			"error", err)
		return nil, &TransportError{Op: r.Operation, Err: err}
	}

	data, err := readAndClose(resp, MaxResponseSize)
	metrics.RecordAPICall(r.Operation, time.Since(start).Seconds(), resp.StatusCode)
	if err != nil {
		c.CircuitBreaker.RecordFailure()
		return nil, &TransportError{Op: r.Operation, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500:
		c.CircuitBreaker.RecordFailure()
	case resp.StatusCode != http.StatusTooManyRequests:
		c.CircuitBreaker.RecordSuccess()
	}

	c.Logger.Debug("Upstream request",
		"operation", r.Operation,
		"method", r.Method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// readAndClose reads at most limit bytes of the body and closes it
func readAndClose(resp *http.Response, limit int64) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return body, nil
}

// Truncate shortens a string to maxLen, adding "..." if truncated
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// NewHTTPClient creates an HTTP client with tuned transport settings
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
