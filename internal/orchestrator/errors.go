// Package orchestrator implements the client-side cascade optimization
// orchestrator: the live sample tracker, the two prediction trigger paths,
// the optimization job state machine, the result reconciler, and the
// Session facade the presentation layer consumes.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/vkaramfilov/milldeck/internal/process"
)

// ValidationError is re-exported from process so callers can match request
// validation failures from either package with one errors.As target.
type ValidationError = process.ValidationError

// TransportError reports a network or service failure on a boundary call.
// It is scoped to the path that issued the call and never corrupts other
// in-flight paths.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// JobFailedError is a terminal backend-reported optimization failure.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// JobTimeoutError is synthesized locally when the poll ceiling is exhausted
// while the backend still reports the job as running. Distinguishable from
// JobFailedError for diagnostics.
type JobTimeoutError struct {
	JobID string
	Polls int
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %d polls without a terminal status", e.JobID, e.Polls)
}

// ErrNoModel is returned by actions that require a loaded model.
var ErrNoModel = errors.New("no model loaded")

// ErrJobActive is returned when a submission is attempted while another job
// is still starting or running.
var ErrJobActive = errors.New("an optimization job is already active")

// ErrDisposed is returned by actions on a disposed session.
var ErrDisposed = errors.New("session is disposed")
