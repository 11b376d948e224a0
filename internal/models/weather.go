package models

// Coordinate is a geographic position produced by a location source.
// Accuracy is in meters and is zero when the source does not report it.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// LocationSource identifies which source in the fallback chain produced a coordinate.
type LocationSource string

const (
	SourceDeviceHighAccuracy LocationSource = "device_high_accuracy"
	SourceDeviceLowAccuracy  LocationSource = "device_low_accuracy"
	SourceIPFallback         LocationSource = "ip_fallback"
)

// LocationResult is the outcome of a successful location resolution.
// Immutable once constructed; Name may be empty for device sources and is
// then filled in by a reverse geocode downstream.
type LocationResult struct {
	Name       string         `json:"name"`
	Coordinate Coordinate     `json:"coordinate"`
	Source     LocationSource `json:"source"`
}

// WeatherSnapshot is the normalized current-conditions reading.
// Temperature, FeelsLike and WindSpeed are rounded to one decimal place.
type WeatherSnapshot struct {
	Date          string  `json:"date"`
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feelsLike"`
	Humidity      int     `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
	ConditionCode string  `json:"conditionCode"`
	Description   string  `json:"description"`
}

// ForecastDay is one distinct calendar day of the normalized forecast,
// built from the first provider reading of that day.
type ForecastDay struct {
	Date          string  `json:"date"`
	TempMin       float64 `json:"tempMin"`
	TempMax       float64 `json:"tempMax"`
	Humidity      int     `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
	ConditionCode string  `json:"conditionCode"`
}

// WeatherReport is the full lookup result handed to callers: resolved city
// name, the coordinate source when device/IP resolution was used, current
// conditions and up to five forecast days.
type WeatherReport struct {
	CityName string          `json:"cityName"`
	Source   LocationSource  `json:"source,omitempty"`
	Current  WeatherSnapshot `json:"current"`
	Daily    []ForecastDay   `json:"daily"`
}
