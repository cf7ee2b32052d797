package engine

import (
	"errors"
	"fmt"
)

// TickError represents a failed tick.
//
// It carries the tick number and the failing step so the cause of a halted
// scheduler can be inspected without parsing log output.
type TickError struct {
	// Code identifies the error category.
	Code TickErrorCode

	// RunID identifies the scheduler run.
	RunID string

	// Tick is the number of the failed tick.
	Tick uint64

	// Step is the name of the failing pipeline step, if known.
	Step string

	// Err is the underlying failure.
	Err error
}

// TickErrorCode categorizes tick errors.
type TickErrorCode string

const (
	// ErrCodeTickStepFailure indicates a pipeline step failed during a tick.
	ErrCodeTickStepFailure TickErrorCode = "TICK_STEP_FAILURE"
)

// ErrNotIdle is returned by Run when the scheduler has already been started.
var ErrNotIdle = errors.New("scheduler already started")

// Error implements the error interface.
func (e *TickError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: tick %d failed (run=%s, step=%s): %v", e.Code, e.Tick, e.RunID, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: tick %d failed (run=%s): %v", e.Code, e.Tick, e.RunID, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TickError) Unwrap() error {
	return e.Err
}

// IsTickStepFailure returns true if the error is a tick step failure.
// Uses errors.As to handle wrapped errors.
func IsTickStepFailure(err error) bool {
	var te *TickError
	if errors.As(err, &te) {
		return te.Code == ErrCodeTickStepFailure
	}
	return false
}

// stepNamer is implemented by pipeline.StepError.
type stepNamer interface {
	error
	StepName() string
}

// newTickStepFailure creates a TickError for a failed tick.
func newTickStepFailure(runID string, tick uint64, err error) *TickError {
	te := &TickError{
		Code:  ErrCodeTickStepFailure,
		RunID: runID,
		Tick:  tick,
		Err:   err,
	}
	var sn stepNamer
	if errors.As(err, &sn) {
		te.Step = sn.StepName()
	}
	return te
}
