package orchestrator

import (
	"context"

	"github.com/vkaramfilov/milldeck/internal/backend"
)

// Backend is the boundary to the remote model-serving system. The concrete
// implementation lives in internal/backend; tests script a fake.
type Backend interface {
	ListModels(ctx context.Context, millID string) (map[string]backend.ModelSummary, error)
	LoadModel(ctx context.Context, millID string, kind backend.ModelKind) (*backend.LoadedModel, error)
	Predict(ctx context.Context, req backend.PredictRequest) (*backend.PredictResponse, error)
	SubmitOptimization(ctx context.Context, req backend.OptimizationRequest) (*backend.JobHandle, error)
	JobStatus(ctx context.Context, jobID string) (*backend.JobStatus, error)
	JobResult(ctx context.Context, jobID string) (*backend.OptimizationResult, error)
	CancelJob(ctx context.Context, jobID string) error
}

// FeedSource delivers live process samples for a mill until the context is
// cancelled.
type FeedSource interface {
	Subscribe(ctx context.Context, millID string, onSample func(backend.Sample) error) error
}

// Compile-time check that the HTTP client satisfies the boundary.
var _ Backend = (*backend.Client)(nil)

// Compile-time check for the websocket feed.
var _ FeedSource = (*backend.Feed)(nil)
