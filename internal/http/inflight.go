package http

import (
	"context"
	"sync/atomic"
	"time"
)

// draining is the process-wide flag set when shutdown begins. The health
// handler reports shutting-down while it is true.
var draining atomic.Bool

// SetDraining marks the process as draining. Call when SIGTERM/SIGINT is
// received.
func SetDraining(v bool) {
	draining.Store(v)
}

// IsDraining reports whether the process is draining and should not receive
// new traffic.
func IsDraining() bool {
	return draining.Load()
}

// inFlight counts requests currently being served, maintained by
// MetricsMiddleware and drained during graceful shutdown.
var inFlight atomic.Int64

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return inFlight.Load()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done,
// re-checking every checkInterval.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
