package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cityweather/weather-lookup/internal/client"
	"github.com/cityweather/weather-lookup/internal/history"
	"github.com/cityweather/weather-lookup/internal/location"
	"github.com/cityweather/weather-lookup/internal/models"
	"github.com/cityweather/weather-lookup/internal/normalize"
	"github.com/cityweather/weather-lookup/internal/observability"
	"github.com/cityweather/weather-lookup/internal/validation"
)

// ErrCityNotFound is returned when the direct geocode yields no match.
var ErrCityNotFound = errors.New("city not found")

// fallbackName labels reports when no geocoded place name is available.
const fallbackName = "Current Location"

// WeatherService orchestrates lookups: resolve a coordinate (by city name,
// explicit coordinate or the device/IP fallback chain), fetch current and
// forecast payloads through the caching client, normalize them and record
// the search history.
type WeatherService struct {
	fetcher  client.Fetcher
	resolver *location.Resolver
	history  *history.History
	logger   *zap.Logger
}

// New creates a WeatherService with the provided dependencies.
func New(fetcher client.Fetcher, resolver *location.Resolver, hist *history.History, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		fetcher:  fetcher,
		resolver: resolver,
		history:  hist,
		logger:   logger,
	}
}

// geoResult mirrors one element of the provider's geocoding responses.
type geoResult struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// ByCity looks up weather for a searched city: direct geocode to a
// coordinate, then current plus forecast. The search term is recorded in the
// history on success.
func (s *WeatherService) ByCity(ctx context.Context, city string) (models.WeatherReport, error) {
	city = strings.TrimSpace(city)
	observability.RecordWeatherQuery(city)

	raw, err := s.fetcher.FetchData(ctx, client.EndpointGeocodeDirect, client.Params{"q": city})
	if err != nil {
		return models.WeatherReport{}, fmt.Errorf("geocode %q: %w", city, err)
	}
	var results []geoResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return models.WeatherReport{}, fmt.Errorf("%w: geocode response: %v", normalize.ErrMalformedResponse, err)
	}
	if len(results) == 0 {
		return models.WeatherReport{}, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	}

	place := results[0]
	coord := models.Coordinate{Latitude: place.Lat, Longitude: place.Lon}
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.WeatherReport{}, fmt.Errorf("geocode %q: %w", city, err)
	}

	report, err := s.reportFor(ctx, coord, displayName(place))
	if err != nil {
		return models.WeatherReport{}, err
	}

	if _, err := s.history.Record(ctx, city); err != nil {
		s.logger.Warn("record search history", zap.String("city", city), zap.Error(err))
	}
	return report, nil
}

// ByCoordinate looks up weather for an explicit coordinate, reverse-geocoding
// a display name best-effort.
func (s *WeatherService) ByCoordinate(ctx context.Context, coord models.Coordinate) (models.WeatherReport, error) {
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.WeatherReport{}, err
	}
	observability.RecordWeatherQuery("")
	return s.reportFor(ctx, coord, s.reverseName(ctx, coord))
}

// ByDeviceLocation runs the location fallback chain and looks up weather for
// whatever source resolved. The report carries the winning source so callers
// can tell a precise fix from an IP approximation.
func (s *WeatherService) ByDeviceLocation(ctx context.Context) (models.WeatherReport, error) {
	resolved, err := s.resolver.Resolve(ctx)
	if err != nil {
		return models.WeatherReport{}, err
	}

	name := resolved.Name
	if name == "" {
		name = s.reverseName(ctx, resolved.Coordinate)
	}
	observability.RecordWeatherQuery(name)

	report, err := s.reportFor(ctx, resolved.Coordinate, name)
	if err != nil {
		return models.WeatherReport{}, err
	}
	report.Source = resolved.Source
	return report, nil
}

// RecentSearches returns the persisted search terms, most recent first.
func (s *WeatherService) RecentSearches(ctx context.Context) []string {
	return s.history.Recent(ctx)
}

// Unit returns the persisted temperature-unit preference.
func (s *WeatherService) Unit(ctx context.Context) history.Unit {
	return s.history.Unit(ctx)
}

// SetUnit persists a new unit preference and clears the response cache so no
// stale payload outlives the change.
func (s *WeatherService) SetUnit(ctx context.Context, unit history.Unit) error {
	if err := s.history.SetUnit(ctx, unit); err != nil {
		return err
	}
	if err := s.fetcher.ClearCache(ctx); err != nil {
		s.logger.Warn("clear cache on unit change", zap.Error(err))
	}
	return nil
}

// reportFor fetches and normalizes current conditions plus the forecast for
// a validated coordinate.
func (s *WeatherService) reportFor(ctx context.Context, coord models.Coordinate, name string) (models.WeatherReport, error) {
	params := coordParams(coord)

	currentRaw, err := s.fetcher.FetchData(ctx, client.EndpointCurrent, params)
	if err != nil {
		return models.WeatherReport{}, fmt.Errorf("fetch current conditions: %w", err)
	}
	current, err := normalize.Current(currentRaw)
	if err != nil {
		return models.WeatherReport{}, err
	}

	forecastRaw, err := s.fetcher.FetchData(ctx, client.EndpointForecast, params)
	if err != nil {
		return models.WeatherReport{}, fmt.Errorf("fetch forecast: %w", err)
	}
	daily, err := normalize.Forecast(forecastRaw)
	if err != nil {
		return models.WeatherReport{}, err
	}

	return models.WeatherReport{
		CityName: name,
		Current:  current,
		Daily:    daily,
	}, nil
}

// reverseName reverse-geocodes a display name. Best-effort: any failure
// falls back to a generic label rather than failing the lookup.
func (s *WeatherService) reverseName(ctx context.Context, coord models.Coordinate) string {
	raw, err := s.fetcher.FetchData(ctx, client.EndpointGeocodeReverse, coordParams(coord))
	if err != nil {
		s.logger.Debug("reverse geocode failed", zap.Error(err))
		return fallbackName
	}
	var results []geoResult
	if err := json.Unmarshal(raw, &results); err != nil || len(results) == 0 {
		return fallbackName
	}
	return displayName(results[0])
}

func coordParams(coord models.Coordinate) client.Params {
	return client.Params{
		"lat": strconv.FormatFloat(coord.Latitude, 'f', -1, 64),
		"lon": strconv.FormatFloat(coord.Longitude, 'f', -1, 64),
	}
}

// displayName renders "Name, Country" the way the widget shows city names.
func displayName(place geoResult) string {
	if place.Name == "" {
		return fallbackName
	}
	if place.Country == "" {
		return place.Name
	}
	return place.Name + ", " + place.Country
}
