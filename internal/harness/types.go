package harness

// TraceEvent is one row emitted by a query step.
type TraceEvent struct {
	Tick uint64         `json:"tick"`
	Step string         `json:"step"`
	Row  map[string]any `json:"row"`
}

// StepRun is one completed step execution, in execution order.
type StepRun struct {
	Tick   uint64 `json:"tick"`
	Step   string `json:"step"`
	Failed bool   `json:"failed,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// RunID is the scheduler run ID.
	RunID string `json:"run_id"`

	// Ticks is the number of the last tick started.
	Ticks uint64 `json:"ticks"`

	// State is the scheduler's final state.
	State string `json:"state"`

	// HaltedAt is the tick that halted the scheduler, zero if none did.
	HaltedAt uint64 `json:"halted_at,omitempty"`

	// HaltedStep is the step that halted the scheduler.
	HaltedStep string `json:"halted_step,omitempty"`

	// Trace holds every row emitted by query steps, in emission order.
	Trace []TraceEvent `json:"trace"`

	// Steps holds every finished step, in execution order.
	Steps []StepRun `json:"steps"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepRun{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// stepsByTick groups the finished steps by tick.
func (r *Result) stepsByTick() map[uint64][]string {
	out := make(map[uint64][]string)
	for _, s := range r.Steps {
		out[s.Tick] = append(out[s.Tick], s.Step)
	}
	return out
}
