package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vkaramfilov/milldeck/internal/backend"
	"github.com/vkaramfilov/milldeck/internal/metrics"
)

// Path identifies one of the two independent prediction request paths.
type Path string

const (
	// PathManual is the user-initiated what-if path: slider values for MV
	// and DV, fired after the operator stops editing.
	PathManual Path = "manual"
	// PathLive is the time-driven path: live PV values for MV, slider/DV
	// values for DV, fired only by a new feed timestamp.
	PathLive Path = "live"
)

// PredictionSlot holds the last-good response for one path plus the last
// path-scoped error. A failure records Err without clearing Response, and
// never touches the other path's slot.
type PredictionSlot struct {
	Response *backend.PredictResponse
	At       time.Time
	Err      error
}

// RequestFunc builds the prediction request for a path at fire time, so the
// request always reflects the freshest slider and PV values. Returning false
// suppresses the request (no model loaded, no values yet).
type RequestFunc func(path Path) (backend.PredictRequest, bool)

// Predictor drives the two prediction paths. Each path has its own debounce
// timer and its own in-flight latch; the paths can proceed concurrently
// without corrupting each other's guard.
type Predictor struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Collector
	request RequestFunc

	// onResult, when set, is invoked after a path's slot changes. Called
	// without internal locks held.
	onResult func(Path)

	debounce time.Duration
	ctx      context.Context

	mu         sync.Mutex
	generation uint64
	paths      map[Path]*pathState
}

type pathState struct {
	inFlight bool
	pending  bool // a trigger arrived while in flight; refire on completion
	timer    *time.Timer
	slot     PredictionSlot
}

// NewPredictor creates a predictor. ctx bounds all outgoing requests and is
// normally the session lifetime context.
func NewPredictor(ctx context.Context, b Backend, request RequestFunc, debounce time.Duration, logger *slog.Logger, collector *metrics.Collector) *Predictor {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Predictor{
		backend:  b,
		logger:   logger,
		metrics:  collector,
		request:  request,
		debounce: debounce,
		ctx:      ctx,
		paths: map[Path]*pathState{
			PathManual: {},
			PathLive:   {},
		},
	}
}

// SetOnResult registers the slot-change callback.
func (p *Predictor) SetOnResult(fn func(Path)) { p.onResult = fn }

// NotifyEdit (re)arms the manual path debounce. The prediction fires once
// the operator has stopped editing for the debounce window.
func (p *Predictor) NotifyEdit() { p.schedule(PathManual) }

// OnNewTimestamp arms the live path. Callers invoke it only after consuming
// a new feed timestamp; value changes alone never reach this path, otherwise
// every PV tick during a slider drag would storm the backend.
func (p *Predictor) OnNewTimestamp() { p.schedule(PathLive) }

func (p *Predictor) schedule(path Path) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.paths[path]
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(p.debounce, func() { p.fire(path) })
}

// fire issues one prediction for a path, holding that path's latch for the
// duration of the request.
func (p *Predictor) fire(path Path) {
	p.mu.Lock()
	st := p.paths[path]
	if st.inFlight {
		st.pending = true
		p.mu.Unlock()
		return
	}
	st.inFlight = true
	gen := p.generation
	p.mu.Unlock()

	req, ok := p.request(path)
	if !ok {
		p.clearLatch(path)
		return
	}

	start := time.Now()
	resp, err := p.backend.Predict(p.ctx, req)
	if p.metrics != nil {
		switch path {
		case PathManual:
			p.metrics.Observe(metrics.OpPredictManual, time.Since(start))
		case PathLive:
			p.metrics.Observe(metrics.OpPredictLive, time.Since(start))
		}
	}
	p.complete(path, gen, resp, err)
}

func (p *Predictor) clearLatch(path Path) {
	p.mu.Lock()
	st := p.paths[path]
	st.inFlight = false
	st.pending = false
	p.mu.Unlock()
}

// complete applies a response under the latch, discarding it if the model
// generation moved on while the request was in flight.
func (p *Predictor) complete(path Path, gen uint64, resp *backend.PredictResponse, err error) {
	p.mu.Lock()
	st := p.paths[path]
	st.inFlight = false
	refire := st.pending
	st.pending = false

	if gen != p.generation {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.Inc(metrics.CtrStalePredictDropped)
		}
		p.logger.Debug("discarding stale prediction", "path", string(path), "generation", gen)
		return
	}

	if err != nil {
		st.slot.Err = &TransportError{Op: "predict (" + string(path) + ")", Err: err}
	} else {
		st.slot = PredictionSlot{Response: resp, At: time.Now()}
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("prediction failed", "path", string(path), "error", err)
	}
	if p.onResult != nil {
		p.onResult(path)
	}
	if refire {
		p.schedule(path)
	}
}

// Slot returns a copy of a path's current slot.
func (p *Predictor) Slot(path Path) PredictionSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paths[path].slot
}

// InFlight reports whether a path currently has a request outstanding.
func (p *Predictor) InFlight(path Path) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paths[path].inFlight
}

// Invalidate bumps the model generation so in-flight responses are
// discarded, stops pending timers, and clears both slots. Called
// synchronously on mill/model switches before any request for the new model
// is issued.
func (p *Predictor) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	for _, st := range p.paths {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.pending = false
		st.slot = PredictionSlot{}
	}
}
