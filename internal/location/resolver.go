package location

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cityweather/weather-lookup/internal/models"
	"github.com/cityweather/weather-lookup/internal/observability"
	"github.com/cityweather/weather-lookup/internal/validation"
)

// State names the steps of the resolution chain. Each Resolve call walks the
// chain from checking-permission; terminal states end the attempt and a fresh
// call is required to retry.
type State string

const (
	StateIdle               State = "IDLE"
	StateCheckingPermission State = "CHECKING_PERMISSION"
	StateHighAccuracy       State = "HIGH_ACCURACY_ATTEMPT"
	StateLowAccuracy        State = "LOW_ACCURACY_ATTEMPT"
	StateIPFallback         State = "IP_FALLBACK"
	StateResolved           State = "RESOLVED"
	StateFailed             State = "FAILED"
)

// Options tunes the per-source timeouts. Zero values select the defaults
// noted on each field.
type Options struct {
	HighAccuracyTimeout time.Duration // default 10s, fresh fix only
	LowAccuracyTimeout  time.Duration // default 5s
	LowAccuracyMaxAge   time.Duration // default 5m, cached fix permitted
	Logger              *zap.Logger
}

// Resolver orchestrates the geolocation fallback chain: high-accuracy device
// fix, then low-accuracy/cached fix, then IP-based lookup. Every candidate
// coordinate is validated before it can resolve the chain; an invalid
// coordinate counts as a failed attempt and drives the same fallback as a
// sensor error.
type Resolver struct {
	sensor      Sensor
	ip          IPLocator
	highTimeout time.Duration
	lowTimeout  time.Duration
	lowMaxAge   time.Duration
	logger      *zap.Logger
}

// NewResolver creates a Resolver over the given device sensor and IP
// locator. Pass UnavailableSensor() on platforms without device geolocation.
func NewResolver(sensor Sensor, ip IPLocator, opts Options) *Resolver {
	if opts.HighAccuracyTimeout <= 0 {
		opts.HighAccuracyTimeout = 10 * time.Second
	}
	if opts.LowAccuracyTimeout <= 0 {
		opts.LowAccuracyTimeout = 5 * time.Second
	}
	if opts.LowAccuracyMaxAge <= 0 {
		opts.LowAccuracyMaxAge = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		sensor:      sensor,
		ip:          ip,
		highTimeout: opts.HighAccuracyTimeout,
		lowTimeout:  opts.LowAccuracyTimeout,
		lowMaxAge:   opts.LowAccuracyMaxAge,
		logger:      opts.Logger,
	}
}

// Resolve walks the fallback chain once and returns the first valid
// coordinate together with its source. On total failure it returns a
// *ResolveError carrying the stable failure code; intermediate failures only
// drive transitions and are never surfaced.
func (r *Resolver) Resolve(ctx context.Context) (models.LocationResult, error) {
	state := StateCheckingPermission

	for {
		switch state {
		case StateCheckingPermission:
			perm := r.sensor.Permission(ctx)
			if perm == PermissionDenied {
				// A position attempt is guaranteed to fail; skip the chain
				// rather than burning both sensor timeouts.
				return r.fail(CodePermissionDenied, nil)
			}
			r.transition(state, StateHighAccuracy, zap.String("permission", string(perm)))
			state = StateHighAccuracy

		case StateHighAccuracy:
			coord, err := r.sensor.Position(ctx, PositionOptions{
				Timeout:      r.highTimeout,
				MaximumAge:   0,
				HighAccuracy: true,
			})
			if result, ok := r.accept(coord, err, models.SourceDeviceHighAccuracy); ok {
				return result, nil
			}
			r.transition(state, StateLowAccuracy, zap.Error(err))
			state = StateLowAccuracy

		case StateLowAccuracy:
			coord, err := r.sensor.Position(ctx, PositionOptions{
				Timeout:      r.lowTimeout,
				MaximumAge:   r.lowMaxAge,
				HighAccuracy: false,
			})
			if result, ok := r.accept(coord, err, models.SourceDeviceLowAccuracy); ok {
				return result, nil
			}
			r.transition(state, StateIPFallback, zap.Error(err))
			state = StateIPFallback

		case StateIPFallback:
			loc, err := r.ip.Locate(ctx)
			if err != nil {
				return r.fail(classifyIPFailure(err), err)
			}
			coord := models.Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude}
			if err := validation.ValidateCoordinate(coord); err != nil {
				return r.fail(CodeInvalidCoords, err)
			}
			result := models.LocationResult{
				Name:       ipDisplayName(loc),
				Coordinate: coord,
				Source:     models.SourceIPFallback,
			}
			r.resolved(result)
			return result, nil
		}
	}
}

// accept validates a device fix and builds the result when the attempt
// succeeded with an in-range coordinate.
func (r *Resolver) accept(coord models.Coordinate, err error, source models.LocationSource) (models.LocationResult, bool) {
	if err != nil {
		return models.LocationResult{}, false
	}
	if validation.ValidateCoordinate(coord) != nil {
		r.logger.Warn("device fix rejected",
			zap.String("source", string(source)),
			zap.Float64("latitude", coord.Latitude),
			zap.Float64("longitude", coord.Longitude))
		return models.LocationResult{}, false
	}
	result := models.LocationResult{Coordinate: coord, Source: source}
	r.resolved(result)
	return result, true
}

func (r *Resolver) resolved(result models.LocationResult) {
	observability.LocationResolutionsTotal.WithLabelValues(string(result.Source)).Inc()
	r.logger.Info("location resolved",
		zap.String("source", string(result.Source)),
		zap.Float64("latitude", result.Coordinate.Latitude),
		zap.Float64("longitude", result.Coordinate.Longitude))
}

func (r *Resolver) fail(code Code, cause error) (models.LocationResult, error) {
	observability.LocationFailuresTotal.WithLabelValues(string(code)).Inc()
	r.logger.Warn("location resolution failed", zap.String("code", string(code)), zap.Error(cause))
	return models.LocationResult{}, newResolveError(code, cause)
}

func (r *Resolver) transition(from, to State, fields ...zap.Field) {
	fields = append(fields, zap.String("from", string(from)), zap.String("to", string(to)))
	r.logger.Debug("resolver transition", fields...)
}

// classifyIPFailure maps the final IP-lookup failure to the surfaced code.
func classifyIPFailure(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrMissingCoordinateFields):
		return CodePositionUnavailable
	default:
		return CodeNetworkFailure
	}
}

// ipDisplayName renders "City, Country" with whichever parts are present.
func ipDisplayName(loc IPLocation) string {
	switch {
	case loc.City != "" && loc.Country != "":
		return loc.City + ", " + loc.Country
	case loc.City != "":
		return loc.City
	default:
		return ""
	}
}
