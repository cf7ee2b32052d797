package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tickmirror/internal/engine"
	"github.com/roach88/tickmirror/internal/mirror"
	"github.com/roach88/tickmirror/internal/pipeline"
	"github.com/roach88/tickmirror/internal/store"
)

var mirrorSeq atomic.Int64

// worldSchema is the source schema every scenario starts from.
var worldSchema = []string{
	`CREATE TABLE velocity (id INTEGER PRIMARY KEY, vx REAL NOT NULL, vy REAL NOT NULL)`,
	`CREATE TABLE position (id INTEGER PRIMARY KEY, px REAL NOT NULL, py REAL NOT NULL)`,
	`CREATE INDEX idx_position_px ON position (px)`,
	`CREATE VIEW view_velocity_position AS
		SELECT velocity.id AS id, vx, vy, px, py
		FROM velocity JOIN position ON position.id = velocity.id`,
}

// defaultRunID is used when a scenario names no run ID.
const defaultRunID = "test-run-default"

// fixedRunID implements engine.IDGenerator with a constant ID so traces and
// golden files stay stable.
type fixedRunID string

func (id fixedRunID) Generate() string {
	if id == "" {
		return defaultRunID
	}
	return string(id)
}

// stepLog records finished steps in order.
type stepLog struct {
	mu    sync.Mutex
	steps []StepRun
}

func (l *stepLog) StepStarted(uint64, string) {}

func (l *stepLog) StepFinished(tick uint64, step string, _ time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, StepRun{Tick: tick, Step: step, Failed: err != nil})
}

// traceSink collects query rows as TraceEvents.
type traceSink struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (s *traceSink) Emit(tick uint64, step string, row pipeline.Row) error {
	values := make(map[string]any, len(row.Columns))
	for i, col := range row.Columns {
		v := row.Values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		values[col] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, TraceEvent{Tick: tick, Step: step, Row: values})
	return nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh source file and its own in-memory
// mirror. Ticks run back to back with a fixed run ID.
//
// Execution flow:
// 1. Write the entities into a temporary source database
// 2. Open a pool on a private mirror and load the source into it
// 3. Run the scenario's ticks through the scheduler
// 4. Evaluate assertions and return the result
//
// A non-nil error means the scenario could not be run at all; assertion
// failures are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "tickmirror-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "world.db")
	if err := writeSource(ctx, source, scenario.Entities); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}

	steps, err := scenario.steps()
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}

	uri := store.MemoryURI(fmt.Sprintf("tickmirror_harness_%d", mirrorSeq.Add(1)), true)
	pool, err := store.Open(ctx, uri, store.Options{MinConns: 1, MaxConns: 4})
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}
	defer pool.Close()

	if _, err := mirror.Load(ctx, source, uri); err != nil {
		return nil, fmt.Errorf("failed to load mirror: %w", err)
	}

	sink := &traceSink{}
	ran := &stepLog{}
	p, err := pipeline.New(pool, steps, pipeline.WithSink(sink), pipeline.WithObserver(ran))
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	sched := engine.New(p,
		engine.WithInterval(0),
		engine.WithMaxTicks(scenario.Ticks),
		engine.WithFailurePolicy(scenario.policy()),
		engine.WithIDGenerator(fixedRunID(scenario.RunID)),
	)
	runErr := sched.Run(ctx)

	result := NewResult()
	result.RunID = sched.RunID()
	result.Ticks = sched.Ticks()
	result.State = sched.State().String()
	result.Trace = append(result.Trace, sink.events...)
	result.Steps = append(result.Steps, ran.steps...)

	if runErr != nil {
		var te *engine.TickError
		if !errors.As(runErr, &te) {
			return nil, fmt.Errorf("scheduler stopped: %w", runErr)
		}
		result.HaltedAt = te.Tick
		result.HaltedStep = te.Step
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, pool.DB()) {
		result.AddError(msg)
	}
	if result.HaltedAt > 0 && !hasAssertion(scenario.Assertions, AssertHaltedAt) {
		result.AddError(fmt.Sprintf("scheduler halted unexpectedly: %v", runErr))
	}
	return result, nil
}

// writeSource creates a world database at path holding entities.
func writeSource(ctx context.Context, path string, entities []Entity) error {
	db, err := store.OpenDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range worldSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, e := range entities {
		if _, err := tx.ExecContext(ctx, `INSERT INTO velocity (id, vx, vy) VALUES (?, ?, ?)`, e.ID, e.VX, e.VY); err != nil {
			return fmt.Errorf("insert velocity %d: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO position (id, px, py) VALUES (?, ?, ?)`, e.ID, e.PX, e.PY); err != nil {
			return fmt.Errorf("insert position %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func hasAssertion(assertions []Assertion, typ string) bool {
	for _, a := range assertions {
		if a.Type == typ {
			return true
		}
	}
	return false
}
