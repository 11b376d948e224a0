package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cityweather/weather-lookup/internal/health"
	"github.com/cityweather/weather-lookup/internal/history"
	"github.com/cityweather/weather-lookup/internal/location"
	"github.com/cityweather/weather-lookup/internal/models"
	"github.com/cityweather/weather-lookup/internal/service"
	"github.com/cityweather/weather-lookup/internal/validation"
)

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached or redis.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          *service.WeatherService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	cityMinLen       int
	cityMaxLen       int
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. cityMinLen/cityMaxLen bound the accepted
// city input length; zero disables the corresponding bound.
func NewHandler(weather *service.WeatherService, healthConfig *HealthConfig, logger *zap.Logger, cityMinLen, cityMaxLen int) *Handler {
	return &Handler{
		weather:      weather,
		healthConfig: healthConfig,
		logger:       logger,
		cityMinLen:   cityMinLen,
		cityMaxLen:   cityMaxLen,
	}
}

// GetWeatherByCity handles GET /weather/{city}.
func (h *Handler) GetWeatherByCity(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLen, h.cityMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	report, err := h.weather.ByCity(r.Context(), city)
	if err != nil {
		health.RecordError()
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, report)
}

// GetWeatherByCoordinate handles GET /weather?lat=...&lon=...
func (h *Handler) GetWeatherByCoordinate(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat and lon must be numbers")
		return
	}

	report, err := h.weather.ByCoordinate(r.Context(), models.Coordinate{Latitude: lat, Longitude: lon})
	if err != nil {
		if errors.Is(err, validation.ErrInvalidCoordinates) {
			writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
			return
		}
		health.RecordError()
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, report)
}

// GetWeatherByDeviceLocation handles GET /locate. It runs the device/IP
// fallback chain and returns weather for whichever source resolved.
func (h *Handler) GetWeatherByDeviceLocation(w http.ResponseWriter, r *http.Request) {
	report, err := h.weather.ByDeviceLocation(r.Context())
	if err != nil {
		health.RecordError()
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, report)
}

// GetRecentSearches handles GET /searches/recent.
func (h *Handler) GetRecentSearches(w http.ResponseWriter, r *http.Request) {
	recent := h.weather.RecentSearches(r.Context())
	if recent == nil {
		recent = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"searches": recent})
}

// GetUnitPreference handles GET /preferences/unit.
func (h *Handler) GetUnitPreference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"unit": string(h.weather.Unit(r.Context()))})
}

// PutUnitPreference handles PUT /preferences/unit.
func (h *Handler) PutUnitPreference(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Unit string `json:"unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a unit field")
		return
	}
	unit := history.Unit(strings.ToLower(strings.TrimSpace(body.Unit)))
	if err := h.weather.SetUnit(r.Context(), unit); err != nil {
		if errors.Is(err, history.ErrInvalidUnit) {
			writeError(w, r, http.StatusBadRequest, "INVALID_UNIT", "unit must be celsius or fahrenheit")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "PREFERENCE_WRITE_FAILED", "could not persist unit preference")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unit": string(unit)})
}

// writeLookupError maps service-layer failures onto the error response
// contract. Location chain failures carry a user-facing message per code;
// everything else is an upstream failure.
func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("lookup error", zap.Error(err))
	}

	var resolveErr *location.ResolveError
	switch {
	case errors.Is(err, service.ErrCityNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "City not found. Please check the spelling and try again.")
	case errors.As(err, &resolveErr):
		status := http.StatusServiceUnavailable
		if resolveErr.Code == location.CodePermissionDenied {
			status = http.StatusForbidden
		}
		writeError(w, r, status, string(resolveErr.Code), resolveErr.UserMessage())
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-lookup",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates the health conditions in priority order:
// shutting-down > overloaded > idle > degraded > healthy. Each condition is
// evaluated only if previous conditions are not met.
func (h *Handler) computeHealthStatus() healthResult {
	if IsDraining() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.OverloadWindow > 0 && h.healthConfig.RateLimitRPS > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(health.DenialCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if health.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := health.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
