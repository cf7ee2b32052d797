package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StepEvent is one observed pipeline step boundary.
type StepEvent struct {
	Tick  uint64
	Step  string
	Start bool // true for start, false for finish
	Err   error
}

// String renders the event as "tick/step/start" or "tick/step/finish".
func (e StepEvent) String() string {
	edge := "finish"
	if e.Start {
		edge = "start"
	}
	return fmt.Sprintf("%d/%s/%s", e.Tick, e.Step, edge)
}

// StepRecorder records pipeline step boundaries in the order they happen.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type StepRecorder struct {
	mu     sync.Mutex
	events []StepEvent
}

// StepStarted records the start of a step.
func (r *StepRecorder) StepStarted(tick uint64, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StepEvent{Tick: tick, Step: step, Start: true})
}

// StepFinished records the end of a step.
func (r *StepRecorder) StepFinished(tick uint64, step string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StepEvent{Tick: tick, Step: step, Err: err})
}

// Events returns a copy of the recorded events.
func (r *StepRecorder) Events() []StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Strings returns the recorded events rendered with StepEvent.String.
func (r *StepRecorder) Strings() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}
