package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/cityweather/weather-lookup/internal/models"
)

// ErrCityEmpty is returned when the city input is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when the city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when the city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrInvalidCoordinates is returned when a latitude/longitude pair is not a
// finite in-range position. Rejected immediately; invalid coordinates never
// reach a weather call.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, period, apostrophe. Returns the trimmed string or an error suitable
// for 400 INVALID_CITY responses. Normalization (e.g. lowercase) is left to the
// service layer.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// isAllowedCityRune returns true for letters (Unicode), digits, space, comma,
// hyphen, period, apostrophe.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ValidateCoordinate rejects non-finite values and positions outside
// latitude [-90,90] or longitude [-180,180].
func ValidateCoordinate(c models.Coordinate) error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return ErrInvalidCoordinates
	}
	if math.Abs(c.Latitude) > 90 || math.Abs(c.Longitude) > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
