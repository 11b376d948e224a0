// Package health maintains sliding windows of request outcomes used by the
// /health endpoint to decide between healthy, degraded and idle states.
package health

import (
	"sync"
	"time"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeError
	outcomeDenied
)

// event is one recorded request outcome.
type event struct {
	at   time.Time
	kind outcome
}

// Tracker records request outcomes and answers windowed counts. Events older
// than the retention horizon are pruned on every write.
type Tracker struct {
	mu     sync.Mutex
	events []event
}

const retention = 30 * time.Minute

var defaultTracker Tracker

// RecordSuccess records a served weather lookup.
func RecordSuccess() { defaultTracker.record(outcomeSuccess) }

// RecordError records a failed weather lookup (upstream error, timeout, etc.).
func RecordError() { defaultTracker.record(outcomeError) }

// RecordDenial records a rate-limit denial (429). Call from middleware.
func RecordDenial() { defaultTracker.record(outcomeDenied) }

// ErrorRate returns (errorCount, totalCount) within the window, where total
// is successes plus errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.errorRate(window)
}

// RequestCount returns all recorded outcomes within the window, denials included.
func RequestCount(window time.Duration) int {
	return defaultTracker.count(window, nil)
}

// DenialCount returns the rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	denied := outcomeDenied
	return defaultTracker.count(window, &denied)
}

// Reset clears all recorded data. For tests only.
func Reset() { defaultTracker.reset() }

func (t *Tracker) record(kind outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.events = append(t.events, event{at: now, kind: kind})
	t.pruneLocked(now)
}

func (t *Tracker) errorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	for _, e := range t.events {
		if e.at.Before(cutoff) || e.kind == outcomeDenied {
			continue
		}
		total++
		if e.kind == outcomeError {
			errors++
		}
	}
	return errors, total
}

func (t *Tracker) count(window time.Duration, only *outcome) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	n := 0
	for _, e := range t.events {
		if e.at.Before(cutoff) {
			continue
		}
		if only != nil && e.kind != *only {
			continue
		}
		n++
	}
	return n
}

func (t *Tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
