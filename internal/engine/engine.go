package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tickmirror/internal/metrics"
)

// Ticker runs one tick of work. Implemented by *pipeline.Pipeline.
type Ticker interface {
	RunTick(ctx context.Context, tick uint64) error
}

// DefaultInterval is the delay between the end of one tick and the start of
// the next: one simulated second.
const DefaultInterval = time.Second

// State is the lifecycle state of a Scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FailurePolicy decides what a failed tick does to the scheduler.
type FailurePolicy string

const (
	// PolicyHalt stops the scheduler on the first failed tick.
	PolicyHalt FailurePolicy = "halt"
	// PolicySkip logs the failed tick and continues with the next one.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy parses "halt" or "skip".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case PolicyHalt, PolicySkip:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want halt or skip)", s)
	}
}

// Scheduler is the single-writer tick loop.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - Start(): runs Run on a new goroutine
//   - State(), Err(), Ticks(), RunID(): safe from any goroutine
type Scheduler struct {
	ticker   Ticker
	clock    *Clock
	interval time.Duration
	policy   FailurePolicy
	idGen    IDGenerator
	maxTicks uint64 // 0 means unbounded
	runID    string

	mu    sync.Mutex
	state State
	err   error
}

// Option allows configuration of scheduler parameters.
type Option func(*Scheduler)

// WithInterval sets the delay between ticks.
//
// Default: 1s (DefaultInterval). Zero runs ticks back to back.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithFailurePolicy sets what happens when a tick fails.
//
// Default: PolicyHalt.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Scheduler) {
		s.policy = p
	}
}

// WithClock sets the tick counter. Used to resume numbering from a known tick.
func WithClock(c *Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithIDGenerator sets the run ID generator.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Scheduler) {
		s.idGen = g
	}
}

// WithMaxTicks stops the scheduler after it has run n ticks, without
// sleeping after the last one. Zero means run until cancelled.
func WithMaxTicks(n uint64) Option {
	return func(s *Scheduler) {
		s.maxTicks = n
	}
}

// New creates a Scheduler driving ticker.
func New(ticker Ticker, opts ...Option) *Scheduler {
	s := &Scheduler{
		ticker:   ticker,
		clock:    NewClock(),
		interval: DefaultInterval,
		policy:   PolicyHalt,
		idGen:    UUIDv7Generator{},
		state:    StateIdle,
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	s.runID = s.idGen.Generate()
	return s
}

// Start runs the scheduler on its own goroutine. The returned channel
// receives Run's result and is then closed.
func (s *Scheduler) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.Run(ctx)
	}()
	return done
}

// Run executes ticks until ctx is cancelled, the tick limit is reached, or a
// tick fails under PolicyHalt.
//
// Returns ctx.Err() when cancelled, nil when the tick limit is reached, and
// the *TickError when halted. Cancellation while a tick is running is a
// stop, not a tick failure.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.transition(StateIdle, StateRunning) {
		return ErrNotIdle
	}
	metrics.SchedulerHalted.Set(0)

	slog.Info("scheduler starting",
		"run_id", s.runID,
		"interval", s.interval,
		"policy", s.policy,
		"max_ticks", s.maxTicks,
	)

	for ran := uint64(0); ; ran++ {
		if err := ctx.Err(); err != nil {
			return s.stop(err)
		}
		if s.maxTicks > 0 && ran >= s.maxTicks {
			return s.stop(nil)
		}

		if err := s.runTick(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stop(ctx.Err())
			}
			if s.policy != PolicySkip {
				return s.halt(err)
			}
		}

		if s.maxTicks > 0 && ran+1 >= s.maxTicks {
			continue
		}
		if err := s.sleep(ctx); err != nil {
			return s.stop(err)
		}
	}
}

// runTick runs one tick and records its outcome.
func (s *Scheduler) runTick(ctx context.Context) error {
	tick := s.clock.Next()
	start := time.Now()
	err := s.ticker.RunTick(ctx, tick)
	elapsed := time.Since(start)
	metrics.TickSeconds.Observe(elapsed.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		te := newTickStepFailure(s.runID, tick, err)
		metrics.TicksTotal.WithLabelValues(metrics.Fail).Inc()
		slog.Error("tick failed",
			"run_id", s.runID,
			"tick", tick,
			"step", te.Step,
			"policy", s.policy,
			"code", te.Code,
			"error", err,
		)
		return te
	}

	metrics.TicksTotal.WithLabelValues(metrics.Ok).Inc()
	slog.Debug("tick complete", "run_id", s.runID, "tick", tick, "elapsed", elapsed)
	return nil
}

// sleep waits for the interval or until ctx is done.
func (s *Scheduler) sleep(ctx context.Context) error {
	if s.interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) stop(err error) error {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	slog.Info("scheduler stopped", "run_id", s.runID, "ticks", s.clock.Current())
	return err
}

func (s *Scheduler) halt(err error) error {
	s.mu.Lock()
	s.state = StateHalted
	s.err = err
	s.mu.Unlock()

	metrics.SchedulerHalted.Set(1)
	slog.Error("scheduler halted", "run_id", s.runID, "ticks", s.clock.Current(), "error", err)
	return err
}

func (s *Scheduler) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that halted the scheduler, or nil.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ticks returns the number of the last tick started.
func (s *Scheduler) Ticks() uint64 {
	return s.clock.Current()
}

// RunID returns the identifier this scheduler tags its log records with.
func (s *Scheduler) RunID() string {
	return s.runID
}
