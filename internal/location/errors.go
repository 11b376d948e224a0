package location

import "fmt"

// Code is the stable machine-readable classification of a resolution failure.
type Code string

const (
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodePositionUnavailable Code = "POSITION_UNAVAILABLE"
	CodeTimeout             Code = "TIMEOUT"
	CodeInvalidCoords       Code = "INVALID_COORDS"
	CodeNetworkFailure      Code = "NETWORK_FAILURE"
)

// userMessages maps each code to its single user-facing message template.
// Message templates live here and nowhere else; call sites must not invent
// their own wording.
var userMessages = map[Code]string{
	CodePermissionDenied:    "Location access was denied. Enable location permissions for this site and try again, or search by city name.",
	CodePositionUnavailable: "Your location could not be determined. Check that location services are enabled, or search by city name.",
	CodeTimeout:             "Locating you took too long. Move to an area with better reception and try again, or search by city name.",
	CodeInvalidCoords:       "The location source returned coordinates that are out of range. Try again, or search by city name.",
	CodeNetworkFailure:      "The location service could not be reached. Check your network connection and try again.",
}

// ResolveError is the error surfaced when the whole fallback chain has
// failed. It carries the stable code plus the underlying cause of the final
// attempt.
type ResolveError struct {
	Code  Code
	cause error
}

func newResolveError(code Code, cause error) *ResolveError {
	return &ResolveError{Code: code, cause: cause}
}

func (e *ResolveError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("location resolution failed (%s): %v", e.Code, e.cause)
	}
	return fmt.Sprintf("location resolution failed (%s)", e.Code)
}

func (e *ResolveError) Unwrap() error {
	return e.cause
}

// UserMessage returns the fixed human-readable message with troubleshooting
// guidance for this failure code.
func (e *ResolveError) UserMessage() string {
	if msg, ok := userMessages[e.Code]; ok {
		return msg
	}
	return userMessages[CodePositionUnavailable]
}
