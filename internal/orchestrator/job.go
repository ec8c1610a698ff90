package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/vkaramfilov/milldeck/internal/backend"
	"github.com/vkaramfilov/milldeck/internal/metrics"
)

// Job controller states. `starting` masks the submit round trip before a
// job id is known, which is what makes a double-click a no-op.
const (
	StateIdle      = "idle"
	StateStarting  = "starting"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Job controller events.
const (
	eventSubmit   = "submit"
	eventAccept   = "accept"
	eventReject   = "reject"
	eventComplete = "complete"
	eventFail     = "fail"
	eventCancel   = "cancel"
)

// DefaultPollInterval is the fixed poll cadence while a job is running.
const DefaultPollInterval = 2 * time.Second

// DefaultMaxPolls is the wall-clock ceiling: a job still running after this
// many polls is failed locally. The backend is not trusted to always
// terminate.
const DefaultMaxPolls = 300

// Job is the lifecycle record of one optimization request.
type Job struct {
	ID          string
	Request     backend.OptimizationRequest
	Status      string
	SubmittedAt time.Time
	CompletedAt *time.Time
	Err         error
	Result      *backend.OptimizationResult
	Polls       int

	terminalHandled bool
}

// JobSnapshot is an immutable copy of a job record.
type JobSnapshot struct {
	ID          string
	Request     backend.OptimizationRequest
	Status      string
	SubmittedAt time.Time
	CompletedAt *time.Time
	Err         error
	Result      *backend.OptimizationResult
	Polls       int
}

func (j *Job) snapshot() JobSnapshot {
	return JobSnapshot{
		ID:          j.ID,
		Request:     j.Request,
		Status:      j.Status,
		SubmittedAt: j.SubmittedAt,
		CompletedAt: j.CompletedAt,
		Err:         j.Err,
		Result:      j.Result,
		Polls:       j.Polls,
	}
}

// Terminal reports whether the snapshot is in a final state.
func (s JobSnapshot) Terminal() bool {
	return s.Status == StateCompleted || s.Status == StateFailed || s.Status == StateCancelled
}

// JobControllerOptions tunes the poll loop.
type JobControllerOptions struct {
	PollInterval time.Duration
	MaxPolls     int
	HistoryLimit int
}

// JobController owns the optimization job state machine: submit, poll,
// terminate. Poll responses are validated against the current job id before
// being applied; anything else is a stale response and is dropped.
type JobController struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Collector

	pollInterval time.Duration
	maxPolls     int
	historyLimit int

	// onTerminal fires exactly once per job when it reaches a final state.
	// Invoked without the controller lock held.
	onTerminal func(JobSnapshot)

	mu         sync.Mutex
	machine    *fsm.FSM
	job        *Job
	currentID  string
	history    []*Job
	cancelPoll context.CancelFunc
}

// NewJobController creates a controller in the idle state.
func NewJobController(b Backend, opts JobControllerOptions, logger *slog.Logger, collector *metrics.Collector) *JobController {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = DefaultMaxPolls
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}

	c := &JobController{
		backend:      b,
		logger:       logger,
		metrics:      collector,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		historyLimit: opts.HistoryLimit,
	}

	c.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSubmit, Src: []string{StateIdle, StateCompleted, StateFailed, StateCancelled}, Dst: StateStarting},
			{Name: eventAccept, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: eventReject, Src: []string{StateStarting}, Dst: StateFailed},
			{Name: eventComplete, Src: []string{StateRunning}, Dst: StateCompleted},
			{Name: eventFail, Src: []string{StateRunning}, Dst: StateFailed},
			{Name: eventCancel, Src: []string{StateStarting, StateRunning}, Dst: StateCancelled},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Info("optimization state", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return c
}

// SetOnTerminal registers the terminal-state callback.
func (c *JobController) SetOnTerminal(fn func(JobSnapshot)) { c.onTerminal = fn }

// State returns the externally observed controller state.
func (c *JobController) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// CurrentJob returns a snapshot of the active (or most recent) job.
func (c *JobController) CurrentJob() (JobSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return JobSnapshot{}, false
	}
	return c.job.snapshot(), true
}

// History returns snapshots of past jobs, most recent first. The list is
// bounded; older jobs fall off.
func (c *JobController) History() []JobSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]JobSnapshot, 0, len(c.history))
	for _, j := range c.history {
		out = append(out, j.snapshot())
	}
	return out
}

func validateRequest(req backend.OptimizationRequest) error {
	if len(req.MVBounds) == 0 {
		return &ValidationError{Field: "mv_bounds", Reason: "no manipulated variables to search over"}
	}
	for id, b := range req.MVBounds {
		if !(b.Low < b.High) {
			return &ValidationError{Field: "mv_bounds", Reason: "empty interval for " + id}
		}
	}
	if req.TargetID == "" {
		return &ValidationError{Field: "target_id", Reason: "missing target"}
	}
	if math.IsNaN(req.TargetValue) || math.IsInf(req.TargetValue, 0) {
		return &ValidationError{Field: "target_value", Reason: "target value is not finite"}
	}
	if req.Tolerance <= 0 {
		return &ValidationError{Field: "tolerance", Reason: "tolerance must be positive"}
	}
	return nil
}

// Submit validates and submits one optimization request. It blocks for the
// submit round trip only; polling continues in the background. A submission
// while another job is starting or running fails with ErrJobActive.
func (c *JobController) Submit(ctx context.Context, req backend.OptimizationRequest) (JobSnapshot, error) {
	if err := validateRequest(req); err != nil {
		return JobSnapshot{}, err
	}

	c.mu.Lock()
	if cur := c.machine.Current(); cur == StateStarting || cur == StateRunning {
		c.mu.Unlock()
		return JobSnapshot{}, ErrJobActive
	}
	if err := c.machine.Event(ctx, eventSubmit); err != nil {
		c.mu.Unlock()
		return JobSnapshot{}, err
	}
	job := &Job{
		Request:     req,
		Status:      StateStarting,
		SubmittedAt: time.Now(),
	}
	c.job = job
	c.currentID = ""
	c.history = append([]*Job{job}, c.history...)
	if len(c.history) > c.historyLimit {
		c.history = c.history[:c.historyLimit]
	}
	c.mu.Unlock()

	start := time.Now()
	handle, err := c.backend.SubmitOptimization(ctx, req)
	if c.metrics != nil {
		c.metrics.Observe(metrics.OpJobSubmit, time.Since(start))
	}

	c.mu.Lock()
	if c.job != job {
		// Superseded while the submit round trip was outstanding
		// (Invalidate on a model switch). The response belongs to nobody.
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.Inc(metrics.CtrStalePollDropped)
		}
		return JobSnapshot{}, ErrDisposed
	}
	if err != nil {
		job.Err = &TransportError{Op: "submit optimization", Err: err}
		c.terminate(ctx, job, eventReject)
		snap := job.snapshot()
		c.mu.Unlock()
		return snap, job.Err
	}

	job.ID = handle.JobID
	if job.terminalHandled {
		// Cancelled while the submit round trip was outstanding. The poll
		// loop never starts; the accepted job is cancelled remotely now
		// that its id is known.
		snap := job.snapshot()
		c.mu.Unlock()
		go func() {
			if cerr := c.backend.CancelJob(context.Background(), handle.JobID); cerr != nil {
				c.logger.Warn("remote cancel failed", "job_id", handle.JobID, "error", cerr)
			}
		}()
		return snap, nil
	}
	c.currentID = handle.JobID
	if ferr := c.machine.Event(ctx, eventAccept); ferr != nil {
		snap := job.snapshot()
		c.mu.Unlock()
		return snap, ferr
	}
	job.Status = StateRunning

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancelPoll = cancel
	go c.pollLoop(pollCtx, job.ID)

	snap := job.snapshot()
	c.mu.Unlock()

	c.logger.Info("optimization submitted", "job_id", snap.ID, "trials", req.TrialBudget, "target", req.TargetValue)
	return snap, nil
}

// pollLoop polls the job status at a fixed interval until a terminal status
// or the poll ceiling. It terminates itself on any terminal outcome.
func (c *JobController) pollLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.pollOnce(ctx, jobID) {
				return
			}
		}
	}
}

// pollOnce performs one poll tick. Returns true when the loop must stop.
func (c *JobController) pollOnce(ctx context.Context, jobID string) bool {
	start := time.Now()
	status, err := c.backend.JobStatus(ctx, jobID)
	if c.metrics != nil {
		c.metrics.Observe(metrics.OpJobPoll, time.Since(start))
	}

	// On completion the full result is fetched exactly once, before the
	// terminal transition: a "completed" status without a retrievable
	// result must never become observable.
	var result *backend.OptimizationResult
	var resultErr error
	if err == nil && status.Status == backend.JobStateCompleted {
		result, resultErr = c.backend.JobResult(ctx, jobID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if jobID != c.currentID || c.job == nil || c.job.ID != jobID {
		// A response for a superseded job. Never applied, only counted.
		if c.metrics != nil {
			c.metrics.Inc(metrics.CtrStalePollDropped)
		}
		c.logger.Debug("discarding stale poll response", "job_id", jobID, "current", c.currentID)
		return true
	}
	job := c.job
	if job.terminalHandled {
		return true
	}

	job.Polls++

	if err != nil {
		// Transport failure on a single tick is not terminal; the loop
		// retries on the next interval up to the ceiling.
		if c.metrics != nil {
			c.metrics.Inc(metrics.CtrPollTransportErrors)
		}
		c.logger.Warn("poll failed, will retry", "job_id", jobID, "polls", job.Polls, "error", err)
		return c.enforceCeiling(ctx, job)
	}

	switch status.Status {
	case backend.JobStatePending, backend.JobStateRunning:
		return c.enforceCeiling(ctx, job)

	case backend.JobStateCompleted:
		if resultErr != nil {
			job.Err = &TransportError{Op: "fetch result", Err: resultErr}
			c.terminate(ctx, job, eventFail)
			return true
		}
		job.Result = result
		c.terminate(ctx, job, eventComplete)
		return true

	case backend.JobStateFailed:
		job.Err = &JobFailedError{JobID: jobID, Message: status.Error}
		c.terminate(ctx, job, eventFail)
		return true

	case backend.JobStateCancelled:
		c.terminate(ctx, job, eventCancel)
		return true

	default:
		c.logger.Warn("unknown job status", "job_id", jobID, "status", string(status.Status))
		return c.enforceCeiling(ctx, job)
	}
}

// enforceCeiling fails the job locally once the poll budget is exhausted.
// Caller holds the lock.
func (c *JobController) enforceCeiling(ctx context.Context, job *Job) bool {
	if job.Polls < c.maxPolls {
		return false
	}
	job.Err = &JobTimeoutError{JobID: job.ID, Polls: job.Polls}
	c.terminate(ctx, job, eventFail)
	return true
}

// terminate moves the machine to a terminal state and fires the terminal
// side effects exactly once for this job. Caller holds the lock.
func (c *JobController) terminate(ctx context.Context, job *Job, event string) {
	if job.terminalHandled {
		return
	}
	job.terminalHandled = true

	if err := c.machine.Event(ctx, event); err != nil {
		c.logger.Error("invalid terminal transition", "event", event, "state", c.machine.Current(), "error", err)
	}
	job.Status = c.machine.Current()
	now := time.Now()
	job.CompletedAt = &now

	if c.cancelPoll != nil {
		c.cancelPoll()
		c.cancelPoll = nil
	}

	snap := job.snapshot()
	fn := c.onTerminal
	if fn != nil {
		go fn(snap)
	}

	switch job.Status {
	case StateCompleted:
		c.logger.Info("optimization completed", "job_id", job.ID, "polls", job.Polls, "feasible", job.Result != nil && job.Result.Feasible)
	case StateCancelled:
		c.logger.Info("optimization cancelled", "job_id", job.ID, "polls", job.Polls)
	default:
		c.logger.Error("optimization failed", "job_id", job.ID, "polls", job.Polls, "error", job.Err)
	}
}

// Cancel stops the local poll loop immediately and marks the job cancelled,
// then requests a remote cancel best-effort. Cancelling a job that is no
// longer active is a no-op, not an error; a failed remote cancel is logged
// but does not resurrect the running state.
func (c *JobController) Cancel(ctx context.Context) error {
	c.mu.Lock()
	cur := c.machine.Current()
	if cur != StateStarting && cur != StateRunning {
		c.mu.Unlock()
		return nil
	}
	job := c.job
	jobID := c.currentID
	c.terminate(ctx, job, eventCancel)
	c.mu.Unlock()

	if jobID != "" {
		go func() {
			if err := c.backend.CancelJob(context.Background(), jobID); err != nil {
				c.logger.Warn("remote cancel failed", "job_id", jobID, "error", err)
			}
		}()
	}
	return nil
}

// Invalidate tears down the active job for a mill/model switch: the poll
// loop stops and any job still in flight is cancelled locally. Synchronous,
// so no request for the new model can race a response for the old one.
func (c *JobController) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.machine.Current()
	if (cur == StateStarting || cur == StateRunning) && c.job != nil {
		c.terminate(context.Background(), c.job, eventCancel)
	}
	c.currentID = ""
}
