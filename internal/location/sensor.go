package location

import (
	"context"
	"fmt"
	"time"

	"github.com/cityweather/weather-lookup/internal/models"
)

// PermissionState reflects the platform permission for device geolocation.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionPrompt  PermissionState = "prompt"
	PermissionDenied  PermissionState = "denied"
	// PermissionUnknown means the permission API is unavailable; the chain
	// proceeds to a position attempt as if the state were prompt.
	PermissionUnknown PermissionState = "unknown"
)

// PositionOptions mirror the knobs a device geolocation request accepts.
// MaximumAge permits a cached fix no older than the given duration; zero
// demands a fresh fix.
type PositionOptions struct {
	Timeout      time.Duration
	MaximumAge   time.Duration
	HighAccuracy bool
}

// SensorCode is the fixed error set a device geolocation sensor can report.
type SensorCode string

const (
	SensorPermissionDenied    SensorCode = "PERMISSION_DENIED"
	SensorPositionUnavailable SensorCode = "POSITION_UNAVAILABLE"
	SensorTimeout             SensorCode = "TIMEOUT"
)

// SensorError is a device geolocation failure with its platform error code.
type SensorError struct {
	Code SensorCode
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("device geolocation failed: %s", e.Code)
}

// Sensor is the device geolocation collaborator. Permission queries the
// platform permission state; Position requests a fix under the given options
// and fails with a *SensorError on sensor-level errors.
type Sensor interface {
	Permission(ctx context.Context) PermissionState
	Position(ctx context.Context, opts PositionOptions) (models.Coordinate, error)
}

// unavailableSensor represents a platform with no device geolocation at all,
// e.g. a server deployment where only the IP fallback applies.
type unavailableSensor struct{}

func (unavailableSensor) Permission(ctx context.Context) PermissionState {
	return PermissionUnknown
}

func (unavailableSensor) Position(ctx context.Context, opts PositionOptions) (models.Coordinate, error) {
	return models.Coordinate{}, &SensorError{Code: SensorPositionUnavailable}
}

// UnavailableSensor returns a Sensor whose position attempts always fail,
// pushing the chain straight through to the IP fallback.
func UnavailableSensor() Sensor {
	return unavailableSensor{}
}
