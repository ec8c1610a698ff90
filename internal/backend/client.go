package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the model-serving backend over JSON/HTTP.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	predictTimeout time.Duration
}

// Options tunes client behaviour; zero values fall back to defaults.
type Options struct {
	// RequestTimeout bounds registry and job calls. Default 30s.
	RequestTimeout time.Duration
	// PredictTimeout bounds prediction calls, which are fired continuously
	// and must fail fast. Default 5s.
	PredictTimeout time.Duration
}

// New creates a backend client for the given base URL.
func New(baseURL string, opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = 5 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: opts.RequestTimeout},
		predictTimeout: opts.PredictTimeout,
	}
}

// apiError is the backend's JSON error envelope.
type apiError struct {
	Error string `json:"error"`
}

// do issues one JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, ae.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ListModels returns the trained models available for a mill, keyed by name.
func (c *Client) ListModels(ctx context.Context, millID string) (map[string]ModelSummary, error) {
	var out map[string]ModelSummary
	path := fmt.Sprintf("/api/v1/mills/%s/models", url.PathEscape(millID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return out, nil
}

// LoadModel loads a model into serving memory and reports its feature roles.
func (c *Client) LoadModel(ctx context.Context, millID string, kind ModelKind) (*LoadedModel, error) {
	var out LoadedModel
	path := fmt.Sprintf("/api/v1/mills/%s/models/%s/load", url.PathEscape(millID), url.PathEscape(string(kind)))
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &out, nil
}

// Predict returns the predicted target and CV values for the given MV and DV
// settings. Uses the short predict timeout: a slow prediction is treated as
// a recoverable failure, not something to wait out.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	var out PredictResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/predict", req, &out); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return &out, nil
}

// SubmitOptimization submits a job and returns its handle.
func (c *Client) SubmitOptimization(ctx context.Context, req OptimizationRequest) (*JobHandle, error) {
	var out JobHandle
	if err := c.do(ctx, http.MethodPost, "/api/v1/optimize", req, &out); err != nil {
		return nil, fmt.Errorf("submit optimization: %w", err)
	}
	return &out, nil
}

// JobStatus fetches the current status of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	path := fmt.Sprintf("/api/v1/jobs/%s", url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	return &out, nil
}

// JobResult fetches the full result payload of a completed job.
func (c *Client) JobResult(ctx context.Context, jobID string) (*OptimizationResult, error) {
	var out OptimizationResult
	path := fmt.Sprintf("/api/v1/jobs/%s/result", url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("job result: %w", err)
	}
	return &out, nil
}

// CancelJob requests cancellation. The backend treats cancel of an
// already-terminal job as a no-op, and so do we.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	path := fmt.Sprintf("/api/v1/jobs/%s/cancel", url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}
