package client

import "errors"

var (
	// ErrNotConfigured means the client is missing its API credential or the
	// caller passed an empty endpoint. Never retried.
	ErrNotConfigured = errors.New("client not configured")

	// ErrTimeout means a single network attempt exceeded the attempt timeout.
	// Distinct from other network failures so callers can classify it.
	ErrTimeout = errors.New("request timed out")

	// ErrUpstreamStatus means the provider answered with a non-2xx status.
	// The body is ignored; the status alone makes the attempt a failure.
	ErrUpstreamStatus = errors.New("upstream returned error status")

	// ErrMalformedResponse means the provider body was not valid JSON.
	// Not retried; a broken payload will not fix itself.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrFetchFailed wraps the last underlying cause after retries are
	// exhausted.
	ErrFetchFailed = errors.New("weather fetch failed")
)
