package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRecord_MostRecentFirst(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryStore(), nil)

	for _, term := range []string{"London", "Paris", "Oslo"} {
		if _, err := h.Record(ctx, term); err != nil {
			t.Fatalf("Record(%q) error = %v", term, err)
		}
	}

	got := h.Recent(ctx)
	want := []string{"Oslo", "Paris", "London"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Recent() = %v, want %v", got, want)
	}
}

// TestRecord_CaseInsensitiveDedupe verifies that re-searching a term moves it
// to the front with the new casing instead of duplicating it.
func TestRecord_CaseInsensitiveDedupe(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryStore(), nil)

	_, _ = h.Record(ctx, "London")
	_, _ = h.Record(ctx, "Paris")
	if _, err := h.Record(ctx, "LONDON"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got := h.Recent(ctx)
	want := []string{"LONDON", "Paris"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Recent() = %v, want %v", got, want)
	}
}

func TestRecord_CapsAtFive(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryStore(), nil)

	terms := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, term := range terms {
		if _, err := h.Record(ctx, term); err != nil {
			t.Fatalf("Record(%q) error = %v", term, err)
		}
	}

	got := h.Recent(ctx)
	want := []string{"g", "f", "e", "d", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Recent() = %v, want %v", got, want)
	}
}

func TestRecord_IgnoresBlank(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryStore(), nil)

	_, _ = h.Record(ctx, "London")
	if _, err := h.Record(ctx, "   "); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got := h.Recent(ctx)
	if !reflect.DeepEqual(got, []string{"London"}) {
		t.Errorf("Recent() = %v, blank terms must not be recorded", got)
	}
}

// TestStoredShape pins the persisted format: a plain JSON string array under
// the fixed key, most recent first.
func TestStoredShape(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := New(store, nil)

	_, _ = h.Record(ctx, "London")
	_, _ = h.Record(ctx, "Paris")

	data, ok, err := store.Read(ctx, RecentSearchesKey)
	if err != nil || !ok {
		t.Fatalf("Read() = ok %v, err %v", ok, err)
	}
	var terms []string
	if err := json.Unmarshal(data, &terms); err != nil {
		t.Fatalf("stored value is not a JSON string array: %v", err)
	}
	if !reflect.DeepEqual(terms, []string{"Paris", "London"}) {
		t.Errorf("stored = %v", terms)
	}
}

func TestUnit_DefaultAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryStore(), nil)

	if got := h.Unit(ctx); got != UnitCelsius {
		t.Errorf("Unit() = %q, want celsius default", got)
	}

	if err := h.SetUnit(ctx, UnitFahrenheit); err != nil {
		t.Fatalf("SetUnit() error = %v", err)
	}
	if got := h.Unit(ctx); got != UnitFahrenheit {
		t.Errorf("Unit() = %q, want fahrenheit", got)
	}

	if err := h.SetUnit(ctx, "kelvin"); err == nil {
		t.Error("SetUnit(kelvin) error = nil, want ErrInvalidUnit")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if _, ok, err := store.Read(ctx, "absent"); err != nil || ok {
		t.Errorf("Read(absent) = ok %v, err %v; want miss without error", ok, err)
	}

	if err := store.Write(ctx, "k", []byte(`["a"]`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, ok, err := store.Read(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Read() = ok %v, err %v", ok, err)
	}
	if string(data) != `["a"]` {
		t.Errorf("Read() = %s", data)
	}

	h := New(store, nil)
	if _, err := h.Record(ctx, "London"); err != nil {
		t.Fatalf("Record() over FileStore error = %v", err)
	}
	if got := h.Recent(ctx); !reflect.DeepEqual(got, []string{"London"}) {
		t.Errorf("Recent() = %v", got)
	}
}
