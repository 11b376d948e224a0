package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cityweather/weather-lookup/internal/cache"
)

// countingHandler records the arrival time of every request it serves.
type countingHandler struct {
	mu      sync.Mutex
	arrived []time.Time
	handler http.HandlerFunc
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.arrived = append(h.arrived, time.Now())
	h.mu.Unlock()
	h.handler(w, r)
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.arrived)
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, baseURL string, opts Options) *Client {
	t.Helper()
	if opts.MinRequestInterval == 0 {
		opts.MinRequestInterval = time.Millisecond
	}
	c, err := New("test-api-key-12345", baseURL, cache.NewInMemoryCache(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		baseURL string
		wantErr bool
	}{
		{name: "missing API key", apiKey: "", baseURL: "https://api.test", wantErr: true},
		{name: "missing base URL", apiKey: "key-12345", baseURL: "", wantErr: true},
		{name: "valid", apiKey: "key-12345", baseURL: "https://api.test", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.apiKey, tt.baseURL, cache.NewInMemoryCache(), Options{})
			if tt.wantErr {
				if !errors.Is(err, ErrNotConfigured) {
					t.Errorf("New() error = %v, want ErrNotConfigured", err)
				}
			} else if err != nil {
				t.Errorf("New() unexpected error: %v", err)
			}
		})
	}
}

func TestFetchData_EmptyEndpoint(t *testing.T) {
	c := newTestClient(t, "https://api.test", Options{})
	_, err := c.FetchData(context.Background(), "", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("FetchData() error = %v, want ErrNotConfigured", err)
	}
}

func TestFetchData_Success(t *testing.T) {
	h := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("appid"); got != "test-api-key-12345" {
			t.Errorf("appid = %q, want credential", got)
		}
		if got := r.URL.Query().Get("units"); got != "metric" {
			t.Errorf("units = %q, want metric", got)
		}
		if !strings.HasSuffix(r.URL.Path, "data/2.5/weather") {
			t.Errorf("path = %q, want current-weather endpoint", r.URL.Path)
		}
		okJSON(`{"main":{"temp":15.5}}`)(w, r)
	}}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	payload, err := c.FetchData(context.Background(), EndpointCurrent, Params{"lat": "51.5", "lon": "-0.12"})
	if err != nil {
		t.Fatalf("FetchData() error = %v", err)
	}
	if !strings.Contains(string(payload), `"temp":15.5`) {
		t.Errorf("payload = %s, want raw provider body", payload)
	}
}

// TestFetchData_CacheHit verifies that a repeated identical request within the
// TTL is served from cache with no second network call, and that the entry is
// refetched once stale.
func TestFetchData_CacheHit(t *testing.T) {
	h := &countingHandler{handler: okJSON(`{"ok":true}`)}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{CacheTTL: 50 * time.Millisecond})
	ctx := context.Background()
	params := Params{"lat": "1", "lon": "2"}

	if _, err := c.FetchData(ctx, EndpointCurrent, params); err != nil {
		t.Fatalf("first FetchData() error = %v", err)
	}
	// Same logical request, different insertion order.
	if _, err := c.FetchData(ctx, EndpointCurrent, Params{"lon": "2", "lat": "1"}); err != nil {
		t.Fatalf("second FetchData() error = %v", err)
	}
	if h.count() != 1 {
		t.Fatalf("network calls = %d, want 1 (second request cached)", h.count())
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := c.FetchData(ctx, EndpointCurrent, params); err != nil {
		t.Fatalf("third FetchData() error = %v", err)
	}
	if h.count() != 2 {
		t.Errorf("network calls = %d, want 2 after TTL expiry", h.count())
	}
}

// TestFetchData_MinSpacing verifies that consecutive network calls are never
// issued closer together than the configured minimum interval.
func TestFetchData_MinSpacing(t *testing.T) {
	h := &countingHandler{handler: okJSON(`{}`)}
	server := httptest.NewServer(h)
	defer server.Close()

	const interval = 100 * time.Millisecond
	c := newTestClient(t, server.URL, Options{MinRequestInterval: interval})
	ctx := context.Background()

	// Distinct params so the cache never short-circuits.
	for i, p := range []Params{{"q": "london"}, {"q": "paris"}, {"q": "oslo"}} {
		if _, err := c.FetchData(ctx, EndpointGeocodeDirect, p); err != nil {
			t.Fatalf("FetchData() #%d error = %v", i, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.arrived) != 3 {
		t.Fatalf("network calls = %d, want 3", len(h.arrived))
	}
	for i := 1; i < len(h.arrived); i++ {
		gap := h.arrived[i].Sub(h.arrived[i-1])
		if gap < interval-10*time.Millisecond {
			t.Errorf("gap between call %d and %d = %v, want >= %v", i-1, i, gap, interval)
		}
	}
}

// TestFetchData_RetryExhaustion verifies that a permanently failing upstream
// is attempted exactly retries+1 times before ErrFetchFailed surfaces.
func TestFetchData_RetryExhaustion(t *testing.T) {
	h := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{Retries: 2})
	_, err := c.FetchData(context.Background(), EndpointCurrent, Params{"lat": "1", "lon": "2"})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("FetchData() error = %v, want ErrFetchFailed", err)
	}
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Errorf("FetchData() error should wrap the last cause, got %v", err)
	}
	if h.count() != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", h.count())
	}
}

// TestFetchData_NonRetryableMalformed verifies that an invalid JSON body is
// surfaced immediately without retries.
func TestFetchData_NonRetryableMalformed(t *testing.T) {
	h := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{Retries: 2})
	_, err := c.FetchData(context.Background(), EndpointCurrent, Params{"lat": "1"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("FetchData() error = %v, want ErrMalformedResponse", err)
	}
	if h.count() != 1 {
		t.Errorf("attempts = %d, want 1 (malformed responses are not retried)", h.count())
	}
}

// TestFetchData_Timeout verifies that a slow upstream surfaces as a timeout
// error distinct from other failures.
func TestFetchData_Timeout(t *testing.T) {
	h := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		okJSON(`{}`)(w, r)
	}}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{AttemptTimeout: 30 * time.Millisecond, Retries: -1})
	_, err := c.FetchData(context.Background(), EndpointCurrent, Params{"lat": "1"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("FetchData() error = %v, want ErrTimeout", err)
	}
}

func TestFetchData_ErrorStatusIsFailureDespiteBody(t *testing.T) {
	h := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"looks":"fine"}`)) // body must be ignored on non-2xx
	}}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{Retries: -1})
	_, err := c.FetchData(context.Background(), EndpointCurrent, Params{"lat": "1"})
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Errorf("FetchData() error = %v, want ErrUpstreamStatus", err)
	}
}

func TestClearCache(t *testing.T) {
	h := &countingHandler{handler: okJSON(`{}`)}
	server := httptest.NewServer(h)
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	ctx := context.Background()
	params := Params{"lat": "1", "lon": "2"}

	if _, err := c.FetchData(ctx, EndpointCurrent, params); err != nil {
		t.Fatalf("FetchData() error = %v", err)
	}
	if err := c.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if _, err := c.FetchData(ctx, EndpointCurrent, params); err != nil {
		t.Fatalf("FetchData() after clear error = %v", err)
	}
	if h.count() != 2 {
		t.Errorf("network calls = %d, want 2 after cache clear", h.count())
	}
}
