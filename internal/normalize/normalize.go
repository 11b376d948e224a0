// Package normalize maps raw provider payloads into the stable internal
// weather shapes. All functions are pure: no network, no clock beyond the
// timestamps embedded in the payload, no shared state.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cityweather/weather-lookup/internal/models"
)

// ErrMalformedResponse means the provider payload is missing the primary
// measurement or condition fields. Surfaced as-is; never retried.
var ErrMalformedResponse = errors.New("malformed provider response")

const dateLayout = "2006-01-02"

// currentPayload mirrors the provider's current-conditions response. Main is
// a pointer so a missing block is distinguishable from zero measurements.
type currentPayload struct {
	Dt   int64 `json:"dt"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Icon        string `json:"icon"`
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

// forecastPayload mirrors the provider's 3-hour interval forecast response.
type forecastPayload struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMin  float64 `json:"temp_min"`
			TempMax  float64 `json:"temp_max"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []struct {
			Icon string `json:"icon"`
		} `json:"weather"`
	} `json:"list"`
}

// Current maps a raw current-conditions payload to a WeatherSnapshot.
// Fails with ErrMalformedResponse when the measurement block or the condition
// list is absent. Temperature, feels-like and wind speed are rounded to one
// decimal place.
func Current(raw json.RawMessage) (models.WeatherSnapshot, error) {
	var payload currentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Main == nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: missing measurements", ErrMalformedResponse)
	}
	if len(payload.Weather) == 0 {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: missing conditions", ErrMalformedResponse)
	}

	ts := time.Now()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0)
	}

	return models.WeatherSnapshot{
		Date:          ts.Format(dateLayout),
		Temperature:   Round1(payload.Main.Temp),
		FeelsLike:     Round1(payload.Main.FeelsLike),
		Humidity:      payload.Main.Humidity,
		WindSpeed:     Round1(payload.Wind.Speed),
		ConditionCode: payload.Weather[0].Icon,
		Description:   payload.Weather[0].Description,
	}, nil
}

// Forecast maps a raw 3-hour interval forecast to at most five ForecastDay
// values, one per distinct local calendar day, keeping the first entry
// encountered for each day. Entries are presumed chronologically ordered as
// returned by the provider. An empty list yields an empty slice, never an
// error.
func Forecast(raw json.RawMessage) ([]models.ForecastDay, error) {
	var payload forecastPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	const maxDays = 5
	days := make([]models.ForecastDay, 0, maxDays)
	seen := make(map[string]struct{}, maxDays)

	for _, entry := range payload.List {
		date := time.Unix(entry.Dt, 0).Format(dateLayout)
		if _, ok := seen[date]; ok {
			continue
		}
		seen[date] = struct{}{}

		icon := ""
		if len(entry.Weather) > 0 {
			icon = entry.Weather[0].Icon
		}
		days = append(days, models.ForecastDay{
			Date:          date,
			TempMin:       Round1(entry.Main.TempMin),
			TempMax:       Round1(entry.Main.TempMax),
			Humidity:      entry.Main.Humidity,
			WindSpeed:     Round1(entry.Wind.Speed),
			ConditionCode: icon,
		})
		if len(days) == maxDays {
			break
		}
	}
	return days, nil
}

// Round1 rounds to one decimal place by scaling to integer tenths and
// rounding half away from zero. 21.35 becomes 21.4, not 21.3.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}
