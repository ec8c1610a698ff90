// Package backend provides the HTTP and websocket client for the
// model-serving backend: model registry, prediction, optimization jobs and
// the live sample feed.
package backend

import "time"

// ModelKind selects between the serving model families.
type ModelKind string

const (
	// ModelXGB is the primary gradient-boosted model.
	ModelXGB ModelKind = "xgb"
	// ModelGPR is the alternate Gaussian-process model with uncertainty.
	ModelGPR ModelKind = "gpr"
)

// ModelSummary describes one trained model available for a mill.
type ModelSummary struct {
	Name        string    `json:"name"`
	Features    []string  `json:"features"`
	TargetCol   string    `json:"target_col"`
	LastTrained time.Time `json:"last_trained"`
}

// FeatureClassification carries the explicit role lists the registry reports
// for a loaded model.
type FeatureClassification struct {
	MVs    []string `json:"mvs"`
	CVs    []string `json:"cvs"`
	DVs    []string `json:"dvs"`
	Target string   `json:"target"`
}

// LoadedModel is the response to a model load request. A model must be
// loaded into serving memory before any predict or optimize call for its
// mill.
type LoadedModel struct {
	MillID             string                 `json:"mill_id"`
	Kind               ModelKind              `json:"kind"`
	Path               string                 `json:"path"`
	Features           []string               `json:"features"`
	TargetID           string                 `json:"target_id"`
	Classification     *FeatureClassification `json:"feature_classification,omitempty"`
	HasCompleteCascade bool                   `json:"has_complete_cascade"`
}

// PredictRequest asks the serving backend for a target prediction from MV
// and DV values. Stateless; safe to issue concurrently.
type PredictRequest struct {
	MillID   string             `json:"mill_id"`
	Kind     ModelKind          `json:"model_kind"`
	MVValues map[string]float64 `json:"mv_values"`
	DVValues map[string]float64 `json:"dv_values"`
}

// PredictResponse is the predicted target plus intermediate CV predictions.
type PredictResponse struct {
	PredictedTarget float64            `json:"predicted_target"`
	PredictedCVs    map[string]float64 `json:"predicted_cvs"`
	Uncertainty     *float64           `json:"uncertainty,omitempty"`
}

// Bounds is a closed [low, high] interval on the wire.
type Bounds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// OptimizationRequest configures one optimization job submission.
type OptimizationRequest struct {
	MillID      string             `json:"mill_id"`
	Kind        ModelKind          `json:"model_kind"`
	TargetID    string             `json:"target_id"`
	TargetValue float64            `json:"target_value"`
	Tolerance   float64            `json:"tolerance"`
	MVBounds    map[string]Bounds  `json:"mv_bounds"`
	DVValues    map[string]float64 `json:"dv_values"`
	TrialBudget int                `json:"trial_budget"`
	TimeLimit   int                `json:"time_limit_seconds,omitempty"`
}

// JobState is the backend-reported lifecycle state of a job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// JobHandle is returned on job submission.
type JobHandle struct {
	JobID  string   `json:"job_id"`
	Status JobState `json:"status"`
}

// JobStatus is one polled status snapshot.
type JobStatus struct {
	JobID           string   `json:"job_id"`
	Status          JobState `json:"status"`
	Error           string   `json:"error,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
}

// OptimizationResult is the terminal payload of a completed job.
type OptimizationResult struct {
	JobID         string               `json:"job_id"`
	BestMV        map[string]float64   `json:"best_mv"`
	BestCV        map[string]float64   `json:"best_cv"`
	BestTarget    float64              `json:"best_target"`
	Feasible      bool                 `json:"feasible"`
	SuccessRate   float64              `json:"success_rate"`
	Distributions map[string][]float64 `json:"distributions,omitempty"`
}

// Sample is one live process-value reading from the time-series feed.
type Sample struct {
	ID        string    `json:"id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
