// Package upstream provides the HTTP client shared by every external market
// data provider: JSON decoding, error classification, bounded retries and
// per-source cooldowns after rate limiting.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream requests by upstream and status",
	}, []string{"upstream", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by upstream",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"upstream"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_errors_total",
		Help: "Total upstream errors by upstream and class",
	}, []string{"upstream", "class"})
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 8 << 20

// DefaultRateLimitCooldown applies when a 429 carries no usable Retry-After.
const DefaultRateLimitCooldown = 60 * time.Second

// Gate suppresses calls to an upstream that recently rate limited us.
type Gate interface {
	ShouldAllowRequest(ctx context.Context, upstream string) bool
	Trip(ctx context.Context, upstream string, retryAfter time.Duration)
}

// Config holds the client configuration.
type Config struct {
	// Name identifies the upstream in logs, metrics and cooldown state.
	Name string

	// BaseURL is prefixed to every request path.
	BaseURL string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string

	// Retry policy for server and network failures.
	Retry RetryConfig

	// Gate is optional; when nil no cooldown is applied.
	Gate Gate
}

// DefaultConfig returns a configuration for a data service.
func DefaultConfig(name, baseURL string) Config {
	return Config{
		Name:      name,
		BaseURL:   baseURL,
		Timeout:   10 * time.Second,
		UserAgent: "coin-market-cache/1.0",
		Retry:     DefaultRetryConfig(),
	}
}

// Client performs JSON GET requests against one upstream.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("upstream name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required for upstream %s", cfg.Name)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url for upstream %s: %w", cfg.Name, err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{},
		config:     cfg,
		logger:     logger.With().Str("upstream", cfg.Name).Logger(),
	}, nil
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.config.Name
}

// GetJSON fetches path with the given query and decodes the body into out.
// Failures are returned as *Error.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.config.Gate != nil && !c.config.Gate.ShouldAllowRequest(ctx, c.config.Name) {
		upstreamRequestsTotal.WithLabelValues(c.config.Name, "cooldown").Inc()
		return &Error{
			Upstream:   c.config.Name,
			StatusCode: http.StatusTooManyRequests,
			ErrorClass: ErrorClassRateLimit,
			Message:    "cooling down after rate limit",
		}
	}

	target := c.config.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	err := retryWithBackoff(ctx, c.config.Name, c.config.Retry, c.logger, func() error {
		return c.attempt(ctx, target, out)
	})

	if c.config.Gate != nil && ClassOf(err) == ErrorClassRateLimit {
		retryAfter, ok := RetryAfterOf(err)
		if !ok {
			retryAfter = DefaultRateLimitCooldown
		}
		c.config.Gate.Trip(ctx, c.config.Name, retryAfter)
	}
	return err
}

// attempt performs a single bounded request.
func (c *Client) attempt(ctx context.Context, target string, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(c.config.Name).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return &Error{Upstream: c.config.Name, ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(c.config.Name, string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(c.config.Name, "network_error").Inc()
		c.logger.Debug().Err(err).Msg("Upstream request failed")
		return &Error{Upstream: c.config.Name, ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(c.config.Name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(c.config.Name, string(errClass)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")

		return &Error{
			Upstream:   c.config.Name,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(c.config.Name, string(ErrorClassNetwork)).Inc()
		return &Error{Upstream: c.config.Name, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		upstreamErrorsTotal.WithLabelValues(c.config.Name, string(ErrorClassProtocol)).Inc()
		return &Error{Upstream: c.config.Name, StatusCode: resp.StatusCode, ErrorClass: ErrorClassProtocol, Message: "decode body", Err: err}
	}
	return nil
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
