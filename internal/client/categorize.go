package client

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (weatherApiErrorsTotal).
const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryNotConfigured ErrorCategory = "not_configured"
	ErrorCategoryUpstream      ErrorCategory = "upstream_status"
	ErrorCategoryMalformed     ErrorCategory = "malformed"
	ErrorCategoryExhausted     ErrorCategory = "retries_exhausted"
	ErrorCategoryCache         ErrorCategory = "cache"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
// Sentinel matches take priority; string probing is the fallback for errors
// that arrive from outside this package.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrNotConfigured):
		return ErrorCategoryNotConfigured
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryMalformed
	case errors.Is(err, ErrFetchFailed):
		return ErrorCategoryExhausted
	case errors.Is(err, ErrUpstreamStatus):
		return ErrorCategoryUpstream
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "cache") {
		return ErrorCategoryCache
	}
	return ErrorCategoryUnknown
}
