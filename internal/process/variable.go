// Package process defines the process-variable data model shared by the
// orchestrator and the presentation layer: variable roles, bounds, and the
// bounds book that tracks physical limits and optimization search ranges.
package process

// Role classifies a process variable within a model context.
type Role string

const (
	// RoleMV marks a manipulated variable: an input the operator or the
	// optimizer can set.
	RoleMV Role = "MV"
	// RoleCV marks a controlled variable: measured or predicted, never set
	// directly.
	RoleCV Role = "CV"
	// RoleDV marks a disturbance variable: an uncontrollable external factor.
	RoleDV Role = "DV"
	// RoleTarget marks the quality variable the optimization drives toward a
	// setpoint.
	RoleTarget Role = "TARGET"
	// RoleUnknown is assigned when neither model metadata nor the fallback
	// table recognizes the variable. Callers treat it as measured-but-not-
	// manipulated, i.e. CV by convention.
	RoleUnknown Role = "UNKNOWN"
)

// Bounds is a closed numeric interval.
type Bounds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Span returns High - Low.
func (b Bounds) Span() float64 { return b.High - b.Low }

// Mid returns the midpoint of the interval.
func (b Bounds) Mid() float64 { return (b.Low + b.High) / 2 }

// Contains reports whether v lies within the interval (inclusive).
func (b Bounds) Contains(v float64) bool { return v >= b.Low && v <= b.High }

// ContainedIn reports whether b is a sub-interval of outer.
func (b Bounds) ContainedIn(outer Bounds) bool {
	return b.Low >= outer.Low && b.High <= outer.High
}

// Variable is one physical process signal. Current is written only by the
// live sample tracker; Slider only by the user or result application; the
// bounds only by the bounds book. That writer partition is what keeps the
// shared table safe without per-field locks.
type Variable struct {
	ID      string
	Unit    string
	Role    Role
	Hard    Bounds
	Search  Bounds
	Current *float64 // nil until the feed delivers a sample
	Slider  *float64 // nil until the operator touches it
}
