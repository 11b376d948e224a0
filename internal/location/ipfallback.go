package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// IPLocation is the approximate position derived from the caller's network
// address. City and Country are best-effort and may be empty.
type IPLocation struct {
	Latitude  float64
	Longitude float64
	City      string
	Country   string
}

// IPLocator is the IP-geolocation collaborator. Best-effort and optional:
// it requires no credential and is only consulted after both device attempts
// have failed.
type IPLocator interface {
	Locate(ctx context.Context) (IPLocation, error)
}

// ErrMissingCoordinateFields means the IP service answered but without the
// latitude/longitude fields the chain needs.
var ErrMissingCoordinateFields = errors.New("ip lookup response missing coordinate fields")

// HTTPIPLocator calls an external IP-geolocation endpoint returning
// {latitude, longitude, city, country} as JSON.
type HTTPIPLocator struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPIPLocator creates a locator for the given endpoint URL. timeout
// bounds the whole lookup; zero selects 4 seconds.
func NewHTTPIPLocator(url string, timeout time.Duration) *HTTPIPLocator {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &HTTPIPLocator{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// ipResponse uses pointers for the coordinate fields so a missing field is
// distinguishable from a legitimate zero value.
type ipResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	City      string   `json:"city"`
	Country   string   `json:"country"`
}

// Locate implements IPLocator.
func (l *HTTPIPLocator) Locate(ctx context.Context) (IPLocation, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, l.url, nil)
	if err != nil {
		return IPLocation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return IPLocation{}, fmt.Errorf("ip lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return IPLocation{}, fmt.Errorf("ip lookup returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return IPLocation{}, fmt.Errorf("read ip lookup body: %w", err)
	}

	var parsed ipResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return IPLocation{}, fmt.Errorf("parse ip lookup body: %w", err)
	}
	if parsed.Latitude == nil || parsed.Longitude == nil {
		return IPLocation{}, ErrMissingCoordinateFields
	}

	return IPLocation{
		Latitude:  *parsed.Latitude,
		Longitude: *parsed.Longitude,
		City:      parsed.City,
		Country:   parsed.Country,
	}, nil
}
