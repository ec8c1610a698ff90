package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vkaramfilov/milldeck/internal/backend"
	"github.com/vkaramfilov/milldeck/internal/metrics"
	"github.com/vkaramfilov/milldeck/internal/process"
)

// MillInfo supplies static per-mill variable metadata: physical hard bounds
// and engineering units. config.MillRegistry implements it.
type MillInfo interface {
	HardBounds(mill, id string) (low, high float64, ok bool)
	Unit(mill, id string) string
}

// SessionParams configures a new session.
type SessionParams struct {
	Backend Backend
	Feed    FeedSource // optional; nil disables the live path
	Mills   MillInfo   // optional; nil means no hard bounds, no search ranges
	Logger  *slog.Logger
	Metrics *metrics.Collector // optional; created when nil

	PollInterval   time.Duration
	MaxPolls       int
	SliderDebounce time.Duration
	HistoryLimit   int
	TrialBudget    int
}

// DefaultTrialBudget is the optimization trial budget when none is set.
const DefaultTrialBudget = 100

// DefaultTolerance is the target tolerance when none is set.
const DefaultTolerance = 0.01

// Session is the orchestrator facade: one dashboard session owning the
// sample tracker, the prediction trigger, the job controller, the bounds
// book and the reconciled setpoint view. Presentation layers are thin
// consumers of its actions and State snapshot; there is exactly one state
// machine regardless of how many screens render it.
type Session struct {
	ID string

	backendClient Backend
	feed          FeedSource
	mills         MillInfo
	logger        *slog.Logger
	metrics       *metrics.Collector
	trialBudget   int

	tracker   *SampleTracker
	predictor *Predictor
	jobs      *JobController

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	mill           string
	model          *backend.LoadedModel
	roles          map[string]process.Role
	book           *process.BoundsBook
	sliders        map[string]float64
	overrides      map[string]float64
	latestResult   *backend.OptimizationResult
	targetSetpoint float64
	tolerance      float64
	feedCancel     context.CancelFunc
	disposed       bool
}

// NewSession creates a session. No model is loaded until ChangeMill.
func NewSession(p SessionParams) *Session {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewCollector()
	}
	if p.TrialBudget <= 0 {
		p.TrialBudget = DefaultTrialBudget
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            uuid.New().String()[:8],
		backendClient: p.Backend,
		feed:          p.Feed,
		mills:         p.Mills,
		logger:        p.Logger,
		metrics:       p.Metrics,
		trialBudget:   p.TrialBudget,
		tracker:       NewSampleTracker(),
		ctx:           ctx,
		cancel:        cancel,
		book:          process.NewBoundsBook(),
		sliders:       make(map[string]float64),
		overrides:     make(map[string]float64),
		tolerance:     DefaultTolerance,
	}

	s.predictor = NewPredictor(ctx, p.Backend, s.predictRequest, p.SliderDebounce, p.Logger, p.Metrics)
	s.jobs = NewJobController(p.Backend, JobControllerOptions{
		PollInterval: p.PollInterval,
		MaxPolls:     p.MaxPolls,
		HistoryLimit: p.HistoryLimit,
	}, p.Logger, p.Metrics)
	s.jobs.SetOnTerminal(s.handleTerminal)

	return s
}

// invalidateForSwitch tears down every in-flight guard tied to the current
// model, synchronously, before anything is issued for the next one: the poll
// loop, both prediction latches and the live-timestamp trigger. A late
// response for the old model can then never be misapplied to the new state.
func (s *Session) invalidateForSwitch(stopFeed bool) {
	s.jobs.Invalidate()
	s.predictor.Invalidate()
	s.tracker.Invalidate()

	s.mu.Lock()
	s.latestResult = nil
	s.overrides = make(map[string]float64)
	if stopFeed && s.feedCancel != nil {
		s.feedCancel()
		s.feedCancel = nil
	}
	s.mu.Unlock()
}

// ChangeMill switches the session to a mill, loading the given model kind
// and re-attaching the live feed. The old model's state is invalidated
// first; a loaded model is immutable, so switching is always an explicit
// reload.
func (s *Session) ChangeMill(ctx context.Context, mill string, kind backend.ModelKind) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.mu.Unlock()

	s.invalidateForSwitch(true)

	if err := s.loadModel(ctx, mill, kind); err != nil {
		return err
	}

	if s.feed != nil {
		feedCtx, cancel := context.WithCancel(s.ctx)
		s.mu.Lock()
		s.feedCancel = cancel
		s.mu.Unlock()
		go s.runFeed(feedCtx, mill)
	}
	return nil
}

// ChangeModel reloads the other model kind for the current mill. The feed
// keeps running: samples are mill-scoped, not model-scoped.
func (s *Session) ChangeModel(ctx context.Context, kind backend.ModelKind) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	mill := s.mill
	s.mu.Unlock()

	if mill == "" {
		return ErrNoModel
	}

	s.invalidateForSwitch(false)
	return s.loadModel(ctx, mill, kind)
}

func (s *Session) loadModel(ctx context.Context, mill string, kind backend.ModelKind) error {
	start := time.Now()
	model, err := s.backendClient.LoadModel(ctx, mill, kind)
	s.metrics.Observe(metrics.OpModelLoad, time.Since(start))
	if err != nil {
		return &TransportError{Op: "load model", Err: err}
	}

	var meta *process.ModelMetadata
	if model.Classification != nil {
		meta = &process.ModelMetadata{
			MVs:    model.Classification.MVs,
			CVs:    model.Classification.CVs,
			DVs:    model.Classification.DVs,
			Target: model.Classification.Target,
		}
	}
	ids := append([]string{}, model.Features...)
	if model.TargetID != "" {
		ids = append(ids, model.TargetID)
	}
	roles := process.Classify(model.Features, meta)
	if model.TargetID != "" {
		roles[model.TargetID] = process.RoleTarget
	}

	s.mu.Lock()
	s.mill = mill
	s.model = model
	s.roles = roles

	// Search bounds are (re)derived here and only here: running this per
	// tick instead of per model load would clobber operator edits.
	s.book.EnsureSearchBounds(ids, func(id string) (process.Bounds, bool) {
		if s.mills == nil {
			return process.Bounds{}, false
		}
		low, high, ok := s.mills.HardBounds(mill, id)
		return process.Bounds{Low: low, High: high}, ok
	})

	// Pre-optimization baseline: target setpoint at the midpoint of the
	// target's declared range.
	if hard, ok := s.book.Hard(model.TargetID); ok {
		s.targetSetpoint = hard.Mid()
	}
	s.mu.Unlock()

	s.logger.Info("model loaded",
		"mill", mill,
		"kind", string(kind),
		"features", len(model.Features),
		"target", model.TargetID,
		"cascade_complete", model.HasCompleteCascade)
	return nil
}

func (s *Session) runFeed(ctx context.Context, mill string) {
	err := s.feed.Subscribe(ctx, mill, func(sample backend.Sample) error {
		s.handleSample(sample)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("live feed detached", "mill", mill, "error", err)
	}
}

// handleSample ingests one feed sample and, when it carries a new timestamp,
// arms the live prediction path. Value changes alone never trigger it.
func (s *Session) handleSample(sample backend.Sample) {
	s.tracker.Ingest(sample)
	s.metrics.Inc(metrics.CtrSamplesIngested)

	if s.tracker.ConsumeNewTimestamp() {
		s.metrics.Inc(metrics.CtrNewTimestamps)
		s.predictor.OnNewTimestamp()
	}
}

// predictRequest builds the request for a prediction path at fire time.
func (s *Session) predictRequest(path Path) (backend.PredictRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model == nil {
		return backend.PredictRequest{}, false
	}

	req := backend.PredictRequest{
		MillID:   s.mill,
		Kind:     s.model.Kind,
		MVValues: make(map[string]float64),
		DVValues: make(map[string]float64),
	}

	for id, role := range s.roles {
		switch role {
		case process.RoleMV:
			if path == PathLive {
				// Time-driven predictions reflect the plant as it runs,
				// not the operator's what-if sliders.
				if v, ok := s.tracker.Current(id); ok {
					req.MVValues[id] = v
				} else if v, ok := s.sliders[id]; ok {
					req.MVValues[id] = v
				}
			} else {
				if v, ok := s.sliders[id]; ok {
					req.MVValues[id] = v
				} else if v, ok := s.tracker.Current(id); ok {
					req.MVValues[id] = v
				}
			}
		case process.RoleDV:
			if v, ok := s.sliders[id]; ok {
				req.DVValues[id] = v
			} else if v, ok := s.tracker.Current(id); ok {
				req.DVValues[id] = v
			}
		}
	}

	if len(req.MVValues) == 0 {
		return backend.PredictRequest{}, false
	}
	return req, true
}

// SetSlider records an operator-proposed value for a variable and arms the
// manual prediction path. After a completed optimization the edit also
// becomes a per-id override of the proposed setpoint.
func (s *Session) SetSlider(id string, value float64) {
	s.mu.Lock()
	s.sliders[id] = value
	if s.latestResult != nil {
		s.overrides[id] = value
	}
	s.mu.Unlock()

	s.predictor.NotifyEdit()
}

// SetSearchBounds records an operator-chosen optimization search range.
func (s *Session) SetSearchBounds(id string, low, high float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.SetSearchBounds(id, low, high)
}

// SetTarget sets the target setpoint and tolerance for the next job.
func (s *Session) SetTarget(value, tolerance float64) error {
	if tolerance <= 0 {
		return &ValidationError{Field: "tolerance", Reason: "must be positive"}
	}
	s.mu.Lock()
	s.targetSetpoint = value
	s.tolerance = tolerance
	s.mu.Unlock()
	return nil
}

// StartOptimization submits a job from the current search bounds, target
// setpoint and disturbance snapshot.
func (s *Session) StartOptimization(ctx context.Context) (JobSnapshot, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return JobSnapshot{}, ErrDisposed
	}
	if s.model == nil {
		s.mu.Unlock()
		return JobSnapshot{}, ErrNoModel
	}

	req := backend.OptimizationRequest{
		MillID:      s.mill,
		Kind:        s.model.Kind,
		TargetID:    s.model.TargetID,
		TargetValue: s.targetSetpoint,
		Tolerance:   s.tolerance,
		MVBounds:    make(map[string]backend.Bounds),
		DVValues:    make(map[string]float64),
		TrialBudget: s.trialBudget,
	}
	for id, role := range s.roles {
		switch role {
		case process.RoleMV:
			if b, ok := s.book.Search(id); ok {
				req.MVBounds[id] = backend.Bounds{Low: b.Low, High: b.High}
			}
		case process.RoleDV:
			if v, ok := s.sliders[id]; ok {
				req.DVValues[id] = v
			} else if v, ok := s.tracker.Current(id); ok {
				req.DVValues[id] = v
			}
		}
	}
	s.mu.Unlock()

	return s.jobs.Submit(ctx, req)
}

// Cancel aborts the active optimization job, if any.
func (s *Session) Cancel(ctx context.Context) error {
	return s.jobs.Cancel(ctx)
}

// handleTerminal runs once per job when it reaches a terminal state.
func (s *Session) handleTerminal(snap JobSnapshot) {
	if snap.Status != StateCompleted || snap.Result == nil {
		return
	}
	s.mu.Lock()
	s.latestResult = snap.Result
	// A fresh result starts from a clean override slate; edits made after
	// this point win per id.
	s.overrides = make(map[string]float64)
	s.mu.Unlock()
}

// Reset returns the session to the pre-optimization baseline: the seeded
// result and all overrides are dropped and the target setpoint re-centers
// at the midpoint of the target's declared range. Sliders stay put.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latestResult = nil
	s.overrides = make(map[string]float64)
	if s.model != nil {
		if hard, ok := s.book.Hard(s.model.TargetID); ok {
			s.targetSetpoint = hard.Mid()
		}
	}
}

// Proposed returns the reconciled setpoint view.
func (s *Session) Proposed() ProposedSetpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetID := ""
	if s.model != nil {
		targetID = s.model.TargetID
	}
	return Reconcile(s.latestResult, targetID, s.overrides)
}

// SessionState is an immutable snapshot for the presentation layer.
type SessionState struct {
	SessionID      string
	Mill           string
	ModelKind      backend.ModelKind
	TargetID       string
	TargetSetpoint float64
	Tolerance      float64
	Variables      []process.Variable
	FeedTimestamp  time.Time
	JobState       string
	Job            *JobSnapshot
	Manual         PredictionSlot
	Live           PredictionSlot
	Proposed       ProposedSetpoint
	History        []JobSnapshot
}

// State assembles a consistent snapshot of the session.
func (s *Session) State() SessionState {
	s.mu.Lock()

	st := SessionState{
		SessionID:      s.ID,
		Mill:           s.mill,
		TargetSetpoint: s.targetSetpoint,
		Tolerance:      s.tolerance,
	}
	targetID := ""
	if s.model != nil {
		st.ModelKind = s.model.Kind
		st.TargetID = s.model.TargetID
		targetID = s.model.TargetID

		ids := append([]string{}, s.model.Features...)
		if targetID != "" {
			ids = append(ids, targetID)
		}
		for _, id := range ids {
			v := process.Variable{ID: id, Role: s.roles[id]}
			if s.mills != nil {
				v.Unit = s.mills.Unit(s.mill, id)
			}
			if hard, ok := s.book.Hard(id); ok {
				v.Hard = hard
			}
			if search, ok := s.book.Search(id); ok {
				v.Search = search
			}
			if cur, ok := s.tracker.Current(id); ok {
				val := cur
				v.Current = &val
			}
			if sl, ok := s.sliders[id]; ok {
				val := sl
				v.Slider = &val
			}
			st.Variables = append(st.Variables, v)
		}
	}
	st.Proposed = Reconcile(s.latestResult, targetID, s.overrides)
	s.mu.Unlock()

	st.FeedTimestamp = s.tracker.LatestTimestamp()
	st.JobState = s.jobs.State()
	if snap, ok := s.jobs.CurrentJob(); ok {
		st.Job = &snap
	}
	st.History = s.jobs.History()
	st.Manual = s.predictor.Slot(PathManual)
	st.Live = s.predictor.Slot(PathLive)
	return st
}

// Metrics exposes the session's diagnostics collector.
func (s *Session) Metrics() *metrics.Collector { return s.metrics }

// Dispose cancels in-flight polls and predictions and detaches the live
// feed. The session cannot be reused afterwards.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	if s.feedCancel != nil {
		s.feedCancel()
		s.feedCancel = nil
	}
	s.mu.Unlock()

	s.jobs.Invalidate()
	s.predictor.Invalidate()
	s.cancel()
	s.logger.Info("session disposed", "session_id", s.ID)
}

// String implements fmt.Stringer for log friendliness.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (mill %s)", s.ID, s.mill)
}
