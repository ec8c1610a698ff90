package process

import (
	"errors"
	"testing"
)

func hardTable(table map[string]Bounds) func(string) (Bounds, bool) {
	return func(id string) (Bounds, bool) {
		b, ok := table[id]
		return b, ok
	}
}

func TestEnsureSearchBoundsDefaults(t *testing.T) {
	book := NewBoundsBook()
	book.EnsureSearchBounds([]string{"Ore"}, hardTable(map[string]Bounds{
		"Ore": {Low: 100, High: 200},
	}))

	search, ok := book.Search("Ore")
	if !ok {
		t.Fatal("expected search bounds for Ore")
	}
	if search.Low != 110 || search.High != 190 {
		t.Errorf("default search bounds = [%g, %g], want [110, 190]", search.Low, search.High)
	}
}

func TestEnsureSearchBoundsIdempotent(t *testing.T) {
	lookup := hardTable(map[string]Bounds{
		"Ore":       {Low: 60, High: 90},
		"WaterMill": {Low: 5, High: 25},
	})
	ids := []string{"Ore", "WaterMill"}

	book := NewBoundsBook()
	book.EnsureSearchBounds(ids, lookup)
	first := book.SearchBounds()

	book.EnsureSearchBounds(ids, lookup)
	second := book.SearchBounds()

	for id, want := range first {
		if second[id] != want {
			t.Errorf("bounds drifted on second ensure: %s = %+v, want %+v", id, second[id], want)
		}
	}
}

func TestSetSearchBoundsSticky(t *testing.T) {
	lookup := hardTable(map[string]Bounds{"Ore": {Low: 0, High: 10}})

	book := NewBoundsBook()
	book.EnsureSearchBounds([]string{"Ore"}, lookup)

	if err := book.SetSearchBounds("Ore", 2, 8); err != nil {
		t.Fatalf("SetSearchBounds: %v", err)
	}

	// Model reload that still contains the id must not clobber the edit.
	book.EnsureSearchBounds([]string{"Ore"}, lookup)

	search, _ := book.Search("Ore")
	if search.Low != 2 || search.High != 8 {
		t.Errorf("search bounds after reload = [%g, %g], want [2, 8]", search.Low, search.High)
	}
	if !book.Edited("Ore") {
		t.Error("expected Ore to be marked as operator-edited")
	}
}

func TestSetSearchBoundsNormalization(t *testing.T) {
	book := NewBoundsBook()

	// Inverted input is swapped, not rejected.
	if err := book.SetSearchBounds("Ore", 8, 2); err != nil {
		t.Fatalf("inverted bounds should be normalized, got error: %v", err)
	}
	search, _ := book.Search("Ore")
	if search.Low != 2 || search.High != 8 {
		t.Errorf("normalized bounds = [%g, %g], want [2, 8]", search.Low, search.High)
	}

	// A degenerate interval is a validation error.
	err := book.SetSearchBounds("Ore", 5, 5)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("degenerate interval: got %v, want ValidationError", err)
	}
}

func TestBoundsHelpers(t *testing.T) {
	b := Bounds{Low: 10, High: 30}
	if b.Span() != 20 {
		t.Errorf("Span = %g, want 20", b.Span())
	}
	if b.Mid() != 20 {
		t.Errorf("Mid = %g, want 20", b.Mid())
	}
	if !b.Contains(10) || !b.Contains(30) || b.Contains(31) {
		t.Error("Contains endpoints inclusive, outside exclusive")
	}
	if !(Bounds{Low: 12, High: 28}).ContainedIn(b) {
		t.Error("inner interval should be contained")
	}
	if (Bounds{Low: 5, High: 28}).ContainedIn(b) {
		t.Error("interval extending below should not be contained")
	}
}
