// Package client provides the HTTP client used to talk to the open-data API:
// per-request timeouts, retry with exponential backoff, optional client-side
// throttling and an optional Redis response cache.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pcastr/monitor-politico/pkg/cache"
	"github.com/pcastr/monitor-politico/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_http_requests_total",
		Help: "Total API requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_http_request_duration_seconds",
		Help:    "API request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_http_errors_total",
		Help: "Total failed request attempts by class",
	}, []string{"class"})
)

// DefaultUserAgent identifies the ingester to the API.
const DefaultUserAgent = "monitor-politico/1.0"

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 64 << 20

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	UserAgent string

	// Timeout bounds each individual request
	Timeout time.Duration

	// Retry: MaxRetries is the total number of attempts per URL, the delay
	// after attempt n (zero-based) is BackoffFactor * 2^n
	MaxRetries    int
	BackoffFactor time.Duration

	// Rate limiting: requests per second, 0 disables throttling
	RateLimit float64
	RateBurst int

	// Caching: nil Redis disables the response cache
	Redis    *redis.Client
	CacheTTL time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:     DefaultUserAgent,
		Timeout:       10 * time.Second,
		MaxRetries:    5,
		BackoffFactor: 1 * time.Second,
		RateLimit:     0,
		RateBurst:     1,
		CacheTTL:      cache.DefaultTTL,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1 (got %d)", c.MaxRetries)
	}
	if c.BackoffFactor < 0 {
		return fmt.Errorf("backoff_factor must be >= 0 (got %s)", c.BackoffFactor)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0 (got %g)", c.RateLimit)
	}
	return nil
}

// Client fetches JSON documents with retry.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	config     Config
	sleep      Sleeper
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	logger = logger.With().Str("component", "http-client").Logger()

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.New(cfg.RateLimit, cfg.RateBurst, logger),
		config:     cfg,
		sleep:      sleepContext,
		logger:     logger,
	}
	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Get fetches rawURL and returns the body of the first 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.GetJSON(ctx, rawURL, func(b []byte) error {
		body = b
		return nil
	})
	return body, err
}

// GetJSON fetches rawURL and hands the body to decode. A decode failure
// counts as a failed attempt and is retried like a transport error. After
// MaxRetries failed attempts a *FetchError is returned.
func (c *Client) GetJSON(ctx context.Context, rawURL string, decode func([]byte) error) error {
	key := cache.KeyFor(rawURL)
	if c.fromCache(ctx, key, rawURL, decode) {
		return nil
	}

	policy := retryPolicy{
		maxAttempts: c.config.MaxRetries,
		factor:      c.config.BackoffFactor,
		sleep:       c.sleep,
		logger:      c.logger,
	}

	return policy.do(ctx, rawURL, func(attempt int) error {
		resp, body, err := c.attempt(ctx, rawURL)
		if err != nil {
			return err
		}

		if err := decode(body); err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return &HTTPError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassDecode,
				Message:    "decode response body",
				Err:        err,
			}
		}

		c.store(ctx, key, rawURL, resp, body)
		return nil
	})
}

// attempt performs a single GET. Any non-2xx status is an error.
func (c *Client) attempt(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	host := hostOf(rawURL)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", rawURL).Msg("Executing request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(host, "network_error").Inc()
		return nil, nil, &HTTPError{
			URL:        rawURL,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	c.limiter.Observe(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		return resp, nil, &HTTPError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return resp, nil, &HTTPError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	return resp, body, nil
}

func (c *Client) fromCache(ctx context.Context, key cache.Key, rawURL string, decode func([]byte) error) bool {
	if c.cache == nil {
		return false
	}

	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache get error")
		}
		return false
	}

	if err := decode(entry.Data); err != nil {
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("Cached body no longer decodes, refetching")
		_ = c.cache.Delete(ctx, key)
		return false
	}

	c.logger.Debug().Str("url", rawURL).Dur("ttl", entry.TTL()).Msg("Served from cache")
	return true
}

func (c *Client) store(ctx context.Context, key cache.Key, rawURL string, resp *http.Response, body []byte) {
	if c.cache == nil || !cache.Cacheable(resp) {
		return
	}
	entry := cache.NewEntry(resp, body, c.config.CacheTTL)
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to cache response")
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetSleeper replaces the backoff sleeper (for testing).
func (c *Client) SetSleeper(s Sleeper) {
	c.sleep = s
}

// PurgeCache drops every cached response. Without a cache it does nothing.
func (c *Client) PurgeCache(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	n, err := c.cache.Purge(ctx)
	if err != nil {
		return n, err
	}
	c.logger.Info().Int("entries", n).Msg("Response cache purged")
	return n, nil
}

// Close releases the Redis connection when one was configured.
func (c *Client) Close() error {
	if c.config.Redis != nil {
		return c.config.Redis.Close()
	}
	return nil
}
