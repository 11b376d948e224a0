package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cityweather/weather-lookup/internal/cache"
	"github.com/cityweather/weather-lookup/internal/observability"
)

// Endpoint identifies one of the four logical provider endpoints. The value
// is the provider URL path appended to the base URL.
type Endpoint string

const (
	EndpointCurrent        Endpoint = "data/2.5/weather"
	EndpointForecast       Endpoint = "data/2.5/forecast"
	EndpointGeocodeDirect  Endpoint = "geo/1.0/direct"
	EndpointGeocodeReverse Endpoint = "geo/1.0/reverse"
)

// Params holds request query parameters. Values are already stringified so
// the fingerprint and the wire encoding see identical text.
type Params map[string]string

// Fetcher is the weather-client contract used by the service layer.
type Fetcher interface {
	FetchData(ctx context.Context, endpoint Endpoint, params Params) (json.RawMessage, error)
	ClearCache(ctx context.Context) error
}

// Options tunes client behavior. Zero values select the defaults noted on
// each field.
type Options struct {
	CacheTTL           time.Duration // default 5m
	AttemptTimeout     time.Duration // default 5s
	Retries            int           // default 2, negative disables; attempts = retries + 1
	MinRequestInterval time.Duration // default 1s, shared across all endpoints
	Logger             *zap.Logger
}

// Client wraps the weather provider API with fingerprint-keyed caching, a
// process-wide minimum-interval throttle and bounded retries. Construct once
// per process and share; the cache and throttle are the only mutable state.
type Client struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	store          cache.Cache
	cacheTTL       time.Duration
	attemptTimeout time.Duration
	retries        int
	throttle       *rate.Limiter
	logger         *zap.Logger
}

// New creates a Client. apiKey is required; baseURL is the provider root
// (e.g. "https://api.openweathermap.org").
func New(apiKey, baseURL string, store cache.Cache, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrNotConfigured)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = 2
	}
	if opts.MinRequestInterval <= 0 {
		opts.MinRequestInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		apiKey:         apiKey,
		baseURL:        baseURL,
		store:          store,
		cacheTTL:       opts.CacheTTL,
		attemptTimeout: opts.AttemptTimeout,
		retries:        opts.Retries,
		throttle:       rate.NewLimiter(rate.Every(opts.MinRequestInterval), 1),
		logger:         opts.Logger,
		httpClient:     &http.Client{},
	}, nil
}

// FetchData returns the raw JSON payload for the given endpoint and
// parameters. Cache hits younger than the TTL short-circuit without touching
// the network or the throttle. On miss, attempts are spaced by the throttle,
// bounded by the attempt timeout and retried up to the configured count;
// exhaustion surfaces ErrFetchFailed wrapping the last cause. Successful
// payloads are cached before being returned.
func (c *Client) FetchData(ctx context.Context, endpoint Endpoint, params Params) (json.RawMessage, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrNotConfigured)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}

	key := Fingerprint(endpoint, params)
	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("weather_api").Inc()
		c.logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			c.logger.Debug("retrying request",
				zap.String("endpoint", string(endpoint)),
				zap.Int("attempt", attempt+1))
		}

		payload, err := c.callAPI(ctx, endpoint, params)
		if err == nil {
			if setErr := c.store.Set(ctx, key, payload, c.cacheTTL); setErr != nil {
				c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
			}
			return payload, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrFetchFailed, lastErr)
}

// callAPI performs one network attempt: wait out the global throttle, issue
// the request under the attempt timeout, and validate the status and body.
func (c *Client) callAPI(ctx context.Context, endpoint Endpoint, params Params) (json.RawMessage, error) {
	waitStart := time.Now()
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("throttle wait: %w", err)
	}
	observability.ThrottleWaitSeconds.Observe(time.Since(waitStart).Seconds())

	reqCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	return json.RawMessage(body), nil
}

// buildRequest assembles the provider URL: base/endpoint plus the caller's
// parameters with appid and units=metric always appended.
func (c *Client) buildRequest(ctx context.Context, endpoint Endpoint, params Params) (*http.Request, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	base = base.JoinPath(string(endpoint))

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("appid", c.apiKey)
	query.Set("units", "metric")
	base.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// ClearCache drops every cached payload. Called when the unit preference
// changes so stale metric-unit payloads are not served.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// isRetryable reports whether an attempt error is transient. Configuration
// and malformed-response errors are final; everything else (timeouts, network
// failures, non-2xx statuses) is retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return true
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
