package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vkaramfilov/milldeck/internal/backend"
)

// fakeBackend scripts boundary responses for orchestrator tests.
type fakeBackend struct {
	mu sync.Mutex

	predictFn func(backend.PredictRequest) (*backend.PredictResponse, error)
	submitFn  func(backend.OptimizationRequest) (*backend.JobHandle, error)
	statusFn  func(jobID string) (*backend.JobStatus, error)
	resultFn  func(jobID string) (*backend.OptimizationResult, error)
	cancelErr error

	predictCalls int64
	statusCalls  int64
	submitCalls  int64
	cancelled    []string
}

var _ Backend = (*fakeBackend)(nil)

func (f *fakeBackend) ListModels(ctx context.Context, millID string) (map[string]backend.ModelSummary, error) {
	return map[string]backend.ModelSummary{}, nil
}

func (f *fakeBackend) LoadModel(ctx context.Context, millID string, kind backend.ModelKind) (*backend.LoadedModel, error) {
	return &backend.LoadedModel{
		MillID:   millID,
		Kind:     kind,
		Features: []string{"Ore", "WaterMill", "Shisti", "PulpHC"},
		TargetID: "PSI80",
		Classification: &backend.FeatureClassification{
			MVs:    []string{"Ore", "WaterMill"},
			CVs:    []string{"PulpHC"},
			DVs:    []string{"Shisti"},
			Target: "PSI80",
		},
		HasCompleteCascade: true,
	}, nil
}

func (f *fakeBackend) Predict(ctx context.Context, req backend.PredictRequest) (*backend.PredictResponse, error) {
	atomic.AddInt64(&f.predictCalls, 1)
	f.mu.Lock()
	fn := f.predictFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &backend.PredictResponse{PredictedTarget: 28.5, PredictedCVs: map[string]float64{"PulpHC": 440}}, nil
}

func (f *fakeBackend) SubmitOptimization(ctx context.Context, req backend.OptimizationRequest) (*backend.JobHandle, error) {
	atomic.AddInt64(&f.submitCalls, 1)
	f.mu.Lock()
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &backend.JobHandle{JobID: "job-1", Status: backend.JobStateRunning}, nil
}

func (f *fakeBackend) JobStatus(ctx context.Context, jobID string) (*backend.JobStatus, error) {
	atomic.AddInt64(&f.statusCalls, 1)
	f.mu.Lock()
	fn := f.statusFn
	f.mu.Unlock()
	if fn != nil {
		return fn(jobID)
	}
	return &backend.JobStatus{JobID: jobID, Status: backend.JobStateRunning}, nil
}

func (f *fakeBackend) JobResult(ctx context.Context, jobID string) (*backend.OptimizationResult, error) {
	f.mu.Lock()
	fn := f.resultFn
	f.mu.Unlock()
	if fn != nil {
		return fn(jobID)
	}
	return &backend.OptimizationResult{
		JobID:      jobID,
		BestMV:     map[string]float64{"Ore": 80},
		BestCV:     map[string]float64{"PulpHC": 450},
		BestTarget: 30.1,
		Feasible:   true,
	}, nil
}

func (f *fakeBackend) CancelJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return f.cancelErr
}

func (f *fakeBackend) statusCallCount() int64 { return atomic.LoadInt64(&f.statusCalls) }

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
