package orchestrator

import "github.com/vkaramfilov/milldeck/internal/backend"

// ProposedSetpoint is the reconciled view the presentation layer renders:
// optimization results merged with manual overrides into one value map.
// It is derived state, recomputed on every change; never mutated directly.
type ProposedSetpoint struct {
	Values   map[string]float64
	Feasible bool
}

// Reconcile merges the latest completed result with manual overrides.
// The result seeds the map with its best MV settings and, for the CV and
// target ids, its predicted values. Overrides win per variable id: last
// write wins at single-id granularity. The feasible flag passes through
// verbatim; reconciliation does not reinterpret feasibility.
func Reconcile(result *backend.OptimizationResult, targetID string, overrides map[string]float64) ProposedSetpoint {
	sp := ProposedSetpoint{Values: make(map[string]float64)}

	if result != nil {
		for id, v := range result.BestMV {
			sp.Values[id] = v
		}
		for id, v := range result.BestCV {
			sp.Values[id] = v
		}
		if targetID != "" {
			sp.Values[targetID] = result.BestTarget
		}
		sp.Feasible = result.Feasible
	}

	for id, v := range overrides {
		sp.Values[id] = v
	}

	return sp
}
