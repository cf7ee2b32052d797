package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Acquirer hands out connections to the mirror. *store.Pool implements it.
type Acquirer interface {
	Acquire(ctx context.Context) (*sql.Conn, error)
}

// Observer is notified around every step execution.
// Calls happen on the goroutine running the tick.
type Observer interface {
	StepStarted(tick uint64, step string)
	StepFinished(tick uint64, step string, elapsed time.Duration, err error)
}

// StepError reports the failure of one step during a tick.
type StepError struct {
	Step string
	Tick uint64
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed at tick %d: %v", e.Step, e.Tick, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// StepName returns the name of the failing step.
func (e *StepError) StepName() string {
	return e.Step
}

// IsStepError reports whether err is, or wraps, a *StepError.
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}

// Pipeline is an immutable, ordered list of steps bound to a connection source.
//
// Thread-safety: RunTick must not be called concurrently; ticks are sequential.
type Pipeline struct {
	pool      Acquirer
	steps     []compiledStep
	sink      Sink
	observers []Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSink sets the sink receiving query step rows. Default: DiscardSink.
func WithSink(s Sink) Option {
	return func(p *Pipeline) {
		p.sink = s
	}
}

// WithObserver adds an observer of step execution.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, o)
	}
}

// New compiles steps and returns a Pipeline running them in the given order.
//
// Step names must be unique. Scripts are split into statements once, here.
func New(pool Acquirer, steps []Step, opts ...Option) (*Pipeline, error) {
	if pool == nil {
		return nil, fmt.Errorf("pipeline requires a connection pool")
	}
	compiled, err := compileAll(steps)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		pool:  pool,
		steps: compiled,
		sink:  DiscardSink{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Validate checks that steps would form a valid pipeline without running them.
func Validate(steps []Step) error {
	_, err := compileAll(steps)
	return err
}

func compileAll(steps []Step) ([]compiledStep, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one step")
	}

	out := make([]compiledStep, 0, len(steps))
	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if seen[step.Name] {
			return nil, fmt.Errorf("duplicate step name: %s", step.Name)
		}
		seen[step.Name] = true

		cs, err := compile(step)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

// Steps returns the step definitions in execution order.
func (p *Pipeline) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, cs := range p.steps {
		out[i] = cs.Step
	}
	return out
}

// RunTick executes every step once, in order. It stops at the first failing
// step and returns a *StepError. Cancellation of ctx is checked before each
// step and interrupts connection acquisition and statement execution.
func (p *Pipeline) RunTick(ctx context.Context, tick uint64) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.started(tick, step.Name)
		start := time.Now()
		err := p.runStep(ctx, tick, step)
		p.finished(tick, step.Name, time.Since(start), err)

		if err != nil {
			return &StepError{Step: step.Name, Tick: tick, Err: err}
		}
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, tick uint64, step compiledStep) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch step.Mode {
	case ModeQuery:
		return p.query(ctx, conn, tick, step)
	default:
		return execInTx(ctx, conn, step)
	}
}

// execInTx runs all statements of step in a single transaction.
func execInTx(ctx context.Context, conn *sql.Conn, step compiledStep) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for i, st := range step.statements {
		if _, err := tx.ExecContext(ctx, st.sql, st.args...); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// query streams the rows of a query step to the sink.
func (p *Pipeline) query(ctx context.Context, conn *sql.Conn, tick uint64, step compiledStep) error {
	st := step.statements[0]
	rows, err := conn.QueryContext(ctx, st.sql, st.args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := p.sink.Emit(tick, step.Name, Row{Columns: cols, Values: values}); err != nil {
			return fmt.Errorf("emit: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

func (p *Pipeline) started(tick uint64, step string) {
	slog.Debug("step started", "tick", tick, "step", step)
	for _, o := range p.observers {
		o.StepStarted(tick, step)
	}
}

func (p *Pipeline) finished(tick uint64, step string, elapsed time.Duration, err error) {
	if err != nil {
		slog.Debug("step failed", "tick", tick, "step", step, "elapsed", elapsed, "error", err)
	} else {
		slog.Debug("step finished", "tick", tick, "step", step, "elapsed", elapsed)
	}
	for _, o := range p.observers {
		o.StepFinished(tick, step, elapsed, err)
	}
}
