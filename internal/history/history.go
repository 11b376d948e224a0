// Package history owns the recent-searches list and the temperature-unit
// preference, persisted as JSON values under fixed keys.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Fixed storage keys. The shapes stored under them are a JSON array of
// strings and a JSON string respectively.
const (
	RecentSearchesKey = "weather_recent_searches"
	UnitPreferenceKey = "weather_unit_preference"
)

// MaxRecent bounds the recent-searches list.
const MaxRecent = 5

// Unit is the temperature display preference.
type Unit string

const (
	UnitCelsius    Unit = "celsius"
	UnitFahrenheit Unit = "fahrenheit"
)

// ErrInvalidUnit is returned for a unit outside the closed set.
var ErrInvalidUnit = fmt.Errorf("unit must be %q or %q", UnitCelsius, UnitFahrenheit)

// History reads and writes the persisted widget state. Terms are kept
// most-recent-first, distinct case-insensitively, capped at MaxRecent.
type History struct {
	store  Store
	logger *zap.Logger
}

// New creates a History over the given store.
func New(store Store, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{store: store, logger: logger}
}

// Recent returns the stored search terms, most recent first. An absent or
// unreadable value yields an empty list; history is best-effort state.
func (h *History) Recent(ctx context.Context) []string {
	data, ok, err := h.store.Read(ctx, RecentSearchesKey)
	if err != nil {
		h.logger.Warn("read recent searches", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var terms []string
	if err := json.Unmarshal(data, &terms); err != nil {
		h.logger.Warn("corrupt recent searches, resetting", zap.Error(err))
		return nil
	}
	return terms
}

// Record inserts a search term at the front of the list, removing any
// case-insensitive duplicate and trimming to MaxRecent, then persists the
// result. Returns the updated list.
func (h *History) Record(ctx context.Context, term string) ([]string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return h.Recent(ctx), nil
	}

	current := h.Recent(ctx)
	updated := make([]string, 0, MaxRecent)
	updated = append(updated, term)
	for _, existing := range current {
		if strings.EqualFold(existing, term) {
			continue
		}
		updated = append(updated, existing)
		if len(updated) == MaxRecent {
			break
		}
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal recent searches: %w", err)
	}
	if err := h.store.Write(ctx, RecentSearchesKey, data); err != nil {
		return nil, fmt.Errorf("persist recent searches: %w", err)
	}
	return updated, nil
}

// Unit returns the stored temperature preference, defaulting to celsius.
func (h *History) Unit(ctx context.Context) Unit {
	data, ok, err := h.store.Read(ctx, UnitPreferenceKey)
	if err != nil || !ok {
		return UnitCelsius
	}
	var unit Unit
	if err := json.Unmarshal(data, &unit); err != nil {
		h.logger.Warn("corrupt unit preference, using celsius", zap.Error(err))
		return UnitCelsius
	}
	if unit != UnitCelsius && unit != UnitFahrenheit {
		return UnitCelsius
	}
	return unit
}

// SetUnit persists the temperature preference. Values outside the closed set
// are rejected.
func (h *History) SetUnit(ctx context.Context, unit Unit) error {
	if unit != UnitCelsius && unit != UnitFahrenheit {
		return ErrInvalidUnit
	}
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("marshal unit preference: %w", err)
	}
	if err := h.store.Write(ctx, UnitPreferenceKey, data); err != nil {
		return fmt.Errorf("persist unit preference: %w", err)
	}
	return nil
}
