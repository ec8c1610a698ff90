package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkaramfilov/milldeck/internal/backend"
	"github.com/vkaramfilov/milldeck/internal/metrics"
)

func validRequest() backend.OptimizationRequest {
	return backend.OptimizationRequest{
		MillID:      "Mill01",
		Kind:        backend.ModelXGB,
		TargetID:    "PSI80",
		TargetValue: 30,
		Tolerance:   0.01,
		MVBounds:    map[string]backend.Bounds{"Ore": {Low: 60, High: 90}},
		DVValues:    map[string]float64{"Shisti": 0.4},
		TrialBudget: 100,
	}
}

func newTestController(t *testing.T, fb *fakeBackend, maxPolls int) (*JobController, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector()
	c := NewJobController(fb, JobControllerOptions{
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	}, testLogger(t), collector)
	return c, collector
}

func TestSubmitValidation(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestController(t, fb, 10)

	tests := []struct {
		name   string
		mutate func(*backend.OptimizationRequest)
	}{
		{"empty bounds", func(r *backend.OptimizationRequest) { r.MVBounds = nil }},
		{"inverted bound", func(r *backend.OptimizationRequest) { r.MVBounds["Ore"] = backend.Bounds{Low: 90, High: 60} }},
		{"missing target", func(r *backend.OptimizationRequest) { r.TargetID = "" }},
		{"zero tolerance", func(r *backend.OptimizationRequest) { r.Tolerance = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := c.Submit(context.Background(), req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr, "rejected before any network call")
		})
	}

	assert.EqualValues(t, 0, atomic.LoadInt64(&fb.submitCalls), "validation failures never reach the service")
	assert.Equal(t, StateIdle, c.State())
}

func TestJobRunsToCompletion(t *testing.T) {
	var polls int64
	fb := &fakeBackend{}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		if atomic.AddInt64(&polls, 1) < 4 {
			return &backend.JobStatus{JobID: jobID, Status: backend.JobStateRunning}, nil
		}
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateCompleted}, nil
	}

	c, _ := newTestController(t, fb, 300)

	var terminalCalls int64
	c.SetOnTerminal(func(JobSnapshot) { atomic.AddInt64(&terminalCalls, 1) })

	snap, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "job-1", snap.ID)
	assert.Equal(t, StateRunning, snap.Status)

	require.Eventually(t, func() bool { return c.State() == StateCompleted }, time.Second, time.Millisecond)

	final, ok := c.CurrentJob()
	require.True(t, ok)
	require.NotNil(t, final.Result, "completed implies a retrievable result")
	assert.InDelta(t, 30.1, final.Result.BestTarget, 0.001)
	assert.True(t, final.Result.Feasible)
	assert.NotNil(t, final.CompletedAt)

	// Terminal side effects fire exactly once even as polls settle.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt64(&terminalCalls))
}

func TestSubmitRejectedByService(t *testing.T) {
	fb := &fakeBackend{}
	fb.submitFn = func(backend.OptimizationRequest) (*backend.JobHandle, error) {
		return nil, errors.New("model not loaded")
	}

	c, _ := newTestController(t, fb, 10)
	_, err := c.Submit(context.Background(), validRequest())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateFailed, c.State())
}

func TestDoubleSubmitIsBlocked(t *testing.T) {
	release := make(chan struct{})
	fb := &fakeBackend{}
	fb.submitFn = func(backend.OptimizationRequest) (*backend.JobHandle, error) {
		<-release
		return &backend.JobHandle{JobID: "job-slow", Status: backend.JobStateRunning}, nil
	}

	c, _ := newTestController(t, fb, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Submit(context.Background(), validRequest())
	}()

	require.Eventually(t, func() bool { return c.State() == StateStarting }, time.Second, time.Millisecond)

	// The double-click: state `starting` masks the round trip.
	_, err := c.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrJobActive)
	assert.EqualValues(t, 1, atomic.LoadInt64(&fb.submitCalls))

	close(release)
	<-done
}

func TestPollCeilingForcesTimeout(t *testing.T) {
	fb := &fakeBackend{} // default status: running forever
	c, _ := newTestController(t, fb, 5)

	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, time.Millisecond)

	final, _ := c.CurrentJob()
	var timeout *JobTimeoutError
	require.ErrorAs(t, final.Err, &timeout, "local timeout, distinguishable from JobFailedError")
	assert.Equal(t, 5, timeout.Polls)
}

func TestTransportErrorOnPollTickRetries(t *testing.T) {
	var polls int64
	fb := &fakeBackend{}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		if atomic.AddInt64(&polls, 1) < 3 {
			return nil, errors.New("connection refused")
		}
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateCompleted}, nil
	}

	c, collector := newTestController(t, fb, 300)
	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == StateCompleted }, time.Second, time.Millisecond)
	assert.EqualValues(t, 2, collector.Count(metrics.CtrPollTransportErrors))
}

func TestBackendFailureSurfacesMessage(t *testing.T) {
	fb := &fakeBackend{}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateFailed, Error: "no feasible region"}, nil
	}

	c, _ := newTestController(t, fb, 10)
	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, time.Millisecond)

	final, _ := c.CurrentJob()
	var jerr *JobFailedError
	require.ErrorAs(t, final.Err, &jerr)
	assert.Contains(t, jerr.Message, "no feasible region")
}

func TestCompletedWithoutResultDowngradesToFailed(t *testing.T) {
	fb := &fakeBackend{}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateCompleted}, nil
	}
	fb.resultFn = func(jobID string) (*backend.OptimizationResult, error) {
		return nil, errors.New("result store unavailable")
	}

	c, _ := newTestController(t, fb, 10)
	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, time.Millisecond)

	final, _ := c.CurrentJob()
	assert.Nil(t, final.Result)
	var terr *TransportError
	require.ErrorAs(t, final.Err, &terr)
}

func TestCancelHaltsPollingImmediately(t *testing.T) {
	fb := &fakeBackend{} // running forever
	c, _ := newTestController(t, fb, 1000)

	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fb.statusCallCount() > 2 }, time.Second, time.Millisecond)

	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, StateCancelled, c.State())

	// No further polls are scheduled after the cancel tick. Allow the
	// in-flight one to land, then require a stable count.
	time.Sleep(20 * time.Millisecond)
	settled := fb.statusCallCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, fb.statusCallCount())

	// Remote cancel was issued best-effort.
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.cancelled) == 1
	}, time.Second, time.Millisecond)
}

func TestCancelOnInactiveJobIsNoop(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestController(t, fb, 10)

	require.NoError(t, c.Cancel(context.Background()), "cancel with no job is not an error")
	assert.Equal(t, StateIdle, c.State())

	fb.mu.Lock()
	cancels := len(fb.cancelled)
	fb.mu.Unlock()
	assert.Zero(t, cancels)
}

func TestFailedRemoteCancelStaysCancelled(t *testing.T) {
	fb := &fakeBackend{cancelErr: errors.New("gateway timeout")}
	c, _ := newTestController(t, fb, 1000)

	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, time.Millisecond)

	require.NoError(t, c.Cancel(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateCancelled, c.State(), "a failed remote cancel never resurrects running")
}

func TestStaleJobResponseDiscarded(t *testing.T) {
	gateA := make(chan struct{})
	var jobSeq int64
	fb := &fakeBackend{}
	fb.submitFn = func(backend.OptimizationRequest) (*backend.JobHandle, error) {
		id := atomic.AddInt64(&jobSeq, 1)
		if id == 1 {
			return &backend.JobHandle{JobID: "job-A", Status: backend.JobStateRunning}, nil
		}
		return &backend.JobHandle{JobID: "job-B", Status: backend.JobStateRunning}, nil
	}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		if jobID == "job-A" {
			// Job A's poll response arrives only after job B started.
			<-gateA
			return &backend.JobStatus{JobID: jobID, Status: backend.JobStateCompleted}, nil
		}
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateRunning}, nil
	}

	c, collector := newTestController(t, fb, 1000)

	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fb.statusCallCount() >= 1 }, time.Second, time.Millisecond)

	// Supersede job A while its poll is in flight.
	require.NoError(t, c.Cancel(context.Background()))
	_, err = c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	// Release A's late response: it must not mutate state belonging to B.
	close(gateA)

	require.Eventually(t, func() bool {
		return collector.Count(metrics.CtrStalePollDropped) >= 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateRunning, c.State(), "job B unaffected by A's late completion")
	cur, _ := c.CurrentJob()
	assert.Equal(t, "job-B", cur.ID)
	assert.Nil(t, cur.Result)
}

func TestPollAfterTerminalIsNoop(t *testing.T) {
	fb := &fakeBackend{}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateCompleted}, nil
	}

	c, _ := newTestController(t, fb, 10)
	_, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == StateCompleted }, time.Second, time.Millisecond)

	// Re-entering poll after a terminal state must not regress the state
	// machine or double-fire side effects.
	done := c.pollOnce(context.Background(), "job-1")
	assert.True(t, done)
	assert.Equal(t, StateCompleted, c.State())
}

func TestJobHistoryBounded(t *testing.T) {
	fb := &fakeBackend{}
	fb.statusFn = func(jobID string) (*backend.JobStatus, error) {
		return &backend.JobStatus{JobID: jobID, Status: backend.JobStateCompleted}, nil
	}

	collector := metrics.NewCollector()
	c := NewJobController(fb, JobControllerOptions{
		PollInterval: time.Millisecond,
		MaxPolls:     10,
		HistoryLimit: 3,
	}, testLogger(t), collector)

	for i := 0; i < 5; i++ {
		_, err := c.Submit(context.Background(), validRequest())
		require.NoError(t, err)
		require.Eventually(t, func() bool { return c.State() == StateCompleted }, time.Second, time.Millisecond)
	}

	history := c.History()
	assert.Len(t, history, 3, "stale jobs are retained only in a bounded list")
}
