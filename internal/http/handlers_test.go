package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cityweather/weather-lookup/internal/client"
	"github.com/cityweather/weather-lookup/internal/health"
	"github.com/cityweather/weather-lookup/internal/history"
	"github.com/cityweather/weather-lookup/internal/location"
	"github.com/cityweather/weather-lookup/internal/models"
	"github.com/cityweather/weather-lookup/internal/service"
)

type fakeFetcher struct {
	payloads map[client.Endpoint]json.RawMessage
	cleared  int
}

func (f *fakeFetcher) FetchData(ctx context.Context, endpoint client.Endpoint, params client.Params) (json.RawMessage, error) {
	payload, ok := f.payloads[endpoint]
	if !ok {
		return nil, fmt.Errorf("unexpected endpoint %s", endpoint)
	}
	return payload, nil
}

func (f *fakeFetcher) ClearCache(ctx context.Context) error {
	f.cleared++
	return nil
}

func weatherPayloads() map[client.Endpoint]json.RawMessage {
	dt := time.Now().Unix()
	return map[client.Endpoint]json.RawMessage{
		client.EndpointGeocodeDirect: json.RawMessage(`[{"name":"London","country":"GB","lat":51.5,"lon":-0.12}]`),
		client.EndpointGeocodeReverse: json.RawMessage(`[{"name":"London","country":"GB","lat":51.5,"lon":-0.12}]`),
		client.EndpointCurrent: json.RawMessage(fmt.Sprintf(`{
			"dt": %d,
			"main": {"temp": 18.24, "feels_like": 17.8, "humidity": 71},
			"wind": {"speed": 4.1},
			"weather": [{"icon": "03d", "main": "Clouds", "description": "broken clouds"}]
		}`, dt)),
		client.EndpointForecast: json.RawMessage(fmt.Sprintf(`{"list":[{
			"dt": %d,
			"main": {"temp_min": 12.0, "temp_max": 19.5, "humidity": 70},
			"wind": {"speed": 3.0},
			"weather": [{"icon": "10d"}]
		}]}`, dt)),
	}
}

// deniedSensor always reports permission denied.
type deniedSensor struct{}

func (deniedSensor) Permission(ctx context.Context) location.PermissionState {
	return location.PermissionDenied
}

func (deniedSensor) Position(ctx context.Context, opts location.PositionOptions) (models.Coordinate, error) {
	return models.Coordinate{}, &location.SensorError{Code: location.SensorPositionUnavailable}
}

type noIP struct{}

func (noIP) Locate(ctx context.Context) (location.IPLocation, error) {
	return location.IPLocation{}, fmt.Errorf("unreachable")
}

func newTestRouter(t *testing.T, f *fakeFetcher, resolver *location.Resolver, healthCfg *HealthConfig) *mux.Router {
	t.Helper()
	hist := history.New(history.NewMemoryStore(), nil)
	svc := service.New(f, resolver, hist, nil)
	handler := NewHandler(svc, healthCfg, zap.NewNop(), 2, 100)

	router := mux.NewRouter()
	router.HandleFunc("/weather", handler.GetWeatherByCoordinate).Methods("GET").Queries("lat", "{lat}", "lon", "{lon}")
	router.HandleFunc("/weather/{city}", handler.GetWeatherByCity).Methods("GET")
	router.HandleFunc("/locate", handler.GetWeatherByDeviceLocation).Methods("GET")
	router.HandleFunc("/searches/recent", handler.GetRecentSearches).Methods("GET")
	router.HandleFunc("/preferences/unit", handler.GetUnitPreference).Methods("GET")
	router.HandleFunc("/preferences/unit", handler.PutUnitPreference).Methods("PUT")
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	return router
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, body)
	}
	return resp.Error.Code
}

func TestGetWeatherByCity(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{payloads: weatherPayloads()}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/weather/London", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var report models.WeatherReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if report.CityName != "London, GB" {
		t.Errorf("cityName = %q, want %q", report.CityName, "London, GB")
	}
	if report.Current.Temperature != 18.2 {
		t.Errorf("temperature = %v, want 18.2", report.Current.Temperature)
	}
}

func TestGetWeatherByCity_InvalidInput(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)

	tests := []struct {
		name string
		path string
		code string
	}{
		{"too short", "/weather/a", "INVALID_CITY"},
		{"invalid chars", "/weather/Lon%3Cdon", "INVALID_CITY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := decodeErrorCode(t, rec.Body.Bytes()); got != tt.code {
				t.Errorf("error code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestGetWeatherByCity_NotFound(t *testing.T) {
	f := &fakeFetcher{payloads: map[client.Endpoint]json.RawMessage{
		client.EndpointGeocodeDirect: json.RawMessage(`[]`),
	}}
	router := newTestRouter(t, f, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/weather/Nowhereville", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeErrorCode(t, rec.Body.Bytes()); got != "CITY_NOT_FOUND" {
		t.Errorf("error code = %q, want CITY_NOT_FOUND", got)
	}
}

func TestGetWeatherByCoordinate(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{payloads: weatherPayloads()}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/weather?lat=51.5&lon=-0.12", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestGetWeatherByCoordinate_Invalid(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"not numbers", "lat=abc&lon=0"},
		{"latitude out of range", "lat=91&lon=0"},
		{"longitude out of range", "lat=0&lon=181"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", "/weather?"+tt.query, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := decodeErrorCode(t, rec.Body.Bytes()); got != "INVALID_COORDINATES" {
				t.Errorf("error code = %q, want INVALID_COORDINATES", got)
			}
		})
	}
}

func TestLocate_PermissionDenied(t *testing.T) {
	resolver := location.NewResolver(deniedSensor{}, noIP{}, location.Options{})
	router := newTestRouter(t, &fakeFetcher{}, resolver, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/locate", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body %s)", rec.Code, rec.Body.String())
	}
	if got := decodeErrorCode(t, rec.Body.Bytes()); got != "PERMISSION_DENIED" {
		t.Errorf("error code = %q, want PERMISSION_DENIED", got)
	}
}

func TestRecentSearches_EmptyIsArray(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/searches/recent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"searches":[]`) {
		t.Errorf("body = %s, want empty searches array", rec.Body.String())
	}
}

func TestUnitPreferenceRoundTrip(t *testing.T) {
	f := &fakeFetcher{}
	router := newTestRouter(t, f, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("PUT", "/preferences/unit", strings.NewReader(`{"unit":"Fahrenheit"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if f.cleared != 1 {
		t.Errorf("cache cleared %d times on unit change, want 1", f.cleared)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/preferences/unit", nil))
	if !strings.Contains(rec.Body.String(), `"unit":"fahrenheit"`) {
		t.Errorf("GET body = %s, want fahrenheit", rec.Body.String())
	}
}

func TestPutUnitPreference_Invalid(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("PUT", "/preferences/unit", strings.NewReader(`{"unit":"kelvin"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeErrorCode(t, rec.Body.Bytes()); got != "INVALID_UNIT" {
		t.Errorf("error code = %q, want INVALID_UNIT", got)
	}
}

func TestGetHealth_Healthy(t *testing.T) {
	health.Reset()
	t.Cleanup(health.Reset)
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s, want healthy", rec.Body.String())
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	SetDraining(true)
	t.Cleanup(func() { SetDraining(false) })
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"shutting-down"`) {
		t.Errorf("body = %s, want shutting-down", rec.Body.String())
	}
}

func TestGetHealth_Degraded(t *testing.T) {
	health.Reset()
	t.Cleanup(health.Reset)
	for i := 0; i < 10; i++ {
		health.RecordError()
	}

	f := &fakeFetcher{}
	cfg := &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
		StartTime:        time.Now(),
	}
	router := newTestRouter(t, f, nil, cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"degraded"`) {
		t.Errorf("body = %s, want degraded", rec.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	health.Reset()
	t.Cleanup(health.Reset)

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	router := newTestRouter(t, &fakeFetcher{payloads: weatherPayloads()}, nil, nil)
	limited := RateLimitMiddleware(limiter)(router)

	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, httptest.NewRequest("GET", "/weather/London", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	limited.ServeHTTP(rec, httptest.NewRequest("GET", "/weather/London", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if got := decodeErrorCode(t, rec.Body.Bytes()); got != "RATE_LIMITED" {
		t.Errorf("error code = %q, want RATE_LIMITED", got)
	}
	if health.DenialCount(time.Minute) != 1 {
		t.Error("denial not recorded in health tracker")
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	router := newTestRouter(t, &fakeFetcher{}, nil, nil)
	wrapped := CorrelationIDMiddleware(zap.NewNop())(router)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header not set")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	wrapped.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "fixed-id" {
		t.Errorf("X-Correlation-ID = %q, want propagated fixed-id", got)
	}
}
