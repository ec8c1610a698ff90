package process

import "fmt"

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// searchInset is the fraction of the hard span trimmed from each side when a
// default search bound is derived.
const searchInset = 0.1

// BoundsBook owns, per variable, the hard physical bound and the search
// bound used for optimization. Search bounds set by the operator are sticky:
// they survive model and mill switches for as long as the variable id does.
type BoundsBook struct {
	hard   map[string]Bounds
	search map[string]Bounds
	edited map[string]bool
}

// NewBoundsBook creates an empty bounds book.
func NewBoundsBook() *BoundsBook {
	return &BoundsBook{
		hard:   make(map[string]Bounds),
		search: make(map[string]Bounds),
		edited: make(map[string]bool),
	}
}

// EnsureSearchBounds records hard bounds for the given variables and derives
// a default search bound (hard bound inset by 10% on each side) for any
// variable that does not have one yet. Existing search bounds are never
// overwritten, so calling it again with the same variable set is a no-op.
// It is intended to run once per model load, not per tick.
func (b *BoundsBook) EnsureSearchBounds(ids []string, hardLookup func(id string) (Bounds, bool)) {
	for _, id := range ids {
		hard, ok := hardLookup(id)
		if !ok {
			continue
		}
		b.hard[id] = hard
		if _, exists := b.search[id]; exists {
			continue
		}
		inset := hard.Span() * searchInset
		b.search[id] = Bounds{Low: hard.Low + inset, High: hard.High - inset}
	}
}

// SetSearchBounds records an operator-chosen search bound. Inverted input is
// swapped rather than rejected; a degenerate interval (low == high) fails
// with a ValidationError.
func (b *BoundsBook) SetSearchBounds(id string, low, high float64) error {
	if low == high {
		return &ValidationError{Field: "search bounds", Reason: fmt.Sprintf("degenerate interval [%g, %g] for %s", low, high, id)}
	}
	if low > high {
		low, high = high, low
	}
	b.search[id] = Bounds{Low: low, High: high}
	b.edited[id] = true
	return nil
}

// Hard returns the hard bound for a variable.
func (b *BoundsBook) Hard(id string) (Bounds, bool) {
	bounds, ok := b.hard[id]
	return bounds, ok
}

// Search returns the search bound for a variable.
func (b *BoundsBook) Search(id string) (Bounds, bool) {
	bounds, ok := b.search[id]
	return bounds, ok
}

// SearchBounds returns a copy of all recorded search bounds, keyed by
// variable id.
func (b *BoundsBook) SearchBounds() map[string]Bounds {
	out := make(map[string]Bounds, len(b.search))
	for id, bounds := range b.search {
		out[id] = bounds
	}
	return out
}

// Edited reports whether the operator has adjusted the search bound for id.
func (b *BoundsBook) Edited(id string) bool { return b.edited[id] }
