package orchestrator

import (
	"sync"
	"time"

	"github.com/vkaramfilov/milldeck/internal/backend"
)

// SampleTracker holds the most recent sample per variable and the latest
// overall feed timestamp. It is purely reactive: the push cadence belongs to
// the feed, the tracker never polls.
type SampleTracker struct {
	mu       sync.Mutex
	current  map[string]float64
	seenAt   map[string]time.Time
	latest   time.Time
	consumed bool
}

// NewSampleTracker creates an empty tracker.
func NewSampleTracker() *SampleTracker {
	return &SampleTracker{
		current:  make(map[string]float64),
		seenAt:   make(map[string]time.Time),
		consumed: true,
	}
}

// Ingest records a sample. The current value is updated unconditionally; the
// latest overall timestamp advances only when strictly greater than the
// stored one, which is what arms ConsumeNewTimestamp.
func (t *SampleTracker) Ingest(s backend.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current[s.ID] = s.Value
	t.seenAt[s.ID] = s.Timestamp
	if s.Timestamp.After(t.latest) {
		t.latest = s.Timestamp
		t.consumed = false
	}
}

// ConsumeNewTimestamp reports whether a new feed timestamp arrived since the
// last call that returned true. True exactly once per distinct timestamp:
// the caller consumes the trigger.
func (t *SampleTracker) ConsumeNewTimestamp() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumed {
		return false
	}
	t.consumed = true
	return true
}

// Current returns the live PV value for a variable.
func (t *SampleTracker) Current(id string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.current[id]
	return v, ok
}

// Currents returns a copy of all live PV values.
func (t *SampleTracker) Currents() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.current))
	for id, v := range t.current {
		out[id] = v
	}
	return out
}

// LatestTimestamp returns the newest timestamp seen on the feed.
func (t *SampleTracker) LatestTimestamp() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// Invalidate swallows any armed trigger. Called on mill or model switches so
// a timestamp that arrived for the old model cannot start a prediction
// against the new one.
func (t *SampleTracker) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumed = true
}
