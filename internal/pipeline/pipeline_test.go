package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tickmirror/internal/mirror"
	"github.com/roach88/tickmirror/internal/store"
	"github.com/roach88/tickmirror/internal/testutil"
)

// newWorld loads a world source holding entities into a fresh mirror and
// returns the pool over it.
func newWorld(t *testing.T, entities ...testutil.Entity) *store.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := store.Open(ctx, testutil.MirrorURI(t), store.Options{MinConns: 1, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = mirror.Load(ctx, testutil.NewWorldDB(t, entities...), pool.URI())
	require.NoError(t, err)
	return pool
}

func builtinStep(t *testing.T, name string, mode Mode, params ...sql.NamedArg) Step {
	t.Helper()
	script, err := Builtin(name)
	require.NoError(t, err)
	return Step{Name: name, Script: script, Params: params, Mode: mode}
}

var goldenEntities = []testutil.Entity{
	{ID: 1, VX: 10, VY: 5, PX: 0, PY: 0},
	{ID: 2, VX: -3, VY: 1.5, PX: 20, PY: -10},
	{ID: 3, VX: 40, VY: 0, PX: 90, PY: 0},
	{ID: 4, VX: 0, VY: -30, PX: 0, PY: -40},
}

func TestNew_Validation(t *testing.T) {
	pool := newWorld(t)

	tests := []struct {
		name  string
		steps []Step
		want  string
	}{
		{"no steps", nil, "at least one step"},
		{"empty name", []Step{{Script: "SELECT 1", Mode: ModeQuery}}, "name is required"},
		{"bad mode", []Step{{Name: "a", Script: "SELECT 1", Mode: "stream"}}, "unknown mode"},
		{"empty script", []Step{{Name: "a", Script: "-- nothing", Mode: ModeExec}}, "no statements"},
		{"multi query", []Step{{Name: "a", Script: "SELECT 1; SELECT 2;", Mode: ModeQuery}}, "exactly one statement"},
		{"duplicate", []Step{
			{Name: "a", Script: "SELECT 1", Mode: ModeQuery},
			{Name: "a", Script: "SELECT 2", Mode: ModeQuery},
		}, "duplicate step name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(pool, tt.steps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := New(nil, DefaultSteps(DefaultBounds()))
	assert.Error(t, err)
}

func TestPipeline_Steps(t *testing.T) {
	p, err := New(newWorld(t), DefaultSteps(DefaultBounds()))
	require.NoError(t, err)

	var names []string
	for _, s := range p.Steps() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StepPositionIntegrator, StepBallCollision, StepVelocityPositionDebugger}, names)
}

func TestRunTick_Integration(t *testing.T) {
	pool := newWorld(t, testutil.Entity{ID: 1, VX: 10, VY: 5, PX: 0, PY: 0})

	p, err := New(pool, []Step{builtinStep(t, StepPositionIntegrator, ModeExec)})
	require.NoError(t, err)

	require.NoError(t, p.RunTick(context.Background(), 1))
	assert.Equal(t, []testutil.Entity{{ID: 1, VX: 10, VY: 5, PX: 10, PY: 5}}, testutil.ReadEntities(t, pool.DB()))

	require.NoError(t, p.RunTick(context.Background(), 2))
	assert.Equal(t, []testutil.Entity{{ID: 1, VX: 10, VY: 5, PX: 20, PY: 10}}, testutil.ReadEntities(t, pool.DB()))
}

func TestRunTick_Collision(t *testing.T) {
	pool := newWorld(t,
		testutil.Entity{ID: 1, VX: 10, VY: 0, PX: 95, PY: 0},
		testutil.Entity{ID: 2, VX: 0, VY: -20, PX: 0, PY: -45},
		testutil.Entity{ID: 3, VX: 1, VY: 1, PX: 0, PY: 0},
	)

	p, err := New(pool, DefaultSteps(DefaultBounds()))
	require.NoError(t, err)
	require.NoError(t, p.RunTick(context.Background(), 1))

	assert.Equal(t, []testutil.Entity{
		{ID: 1, VX: -10, VY: 0, PX: 100, PY: 0},
		{ID: 2, VX: 0, VY: 20, PX: 0, PY: -50},
		{ID: 3, VX: 1, VY: 1, PX: 1, PY: 1},
	}, testutil.ReadEntities(t, pool.DB()))

	require.NoError(t, p.RunTick(context.Background(), 2))
	got := testutil.ReadEntities(t, pool.DB())
	assert.Equal(t, float64(90), got[0].PX, "entity must move back inside after reflection")
	assert.Equal(t, float64(-30), got[1].PY)
}

func TestRunTick_CustomBounds(t *testing.T) {
	pool := newWorld(t, testutil.Entity{ID: 1, VX: 3, VY: 0, PX: 9, PY: 0})

	p, err := New(pool, DefaultSteps(Bounds{XMin: -10, XMax: 10, YMin: -10, YMax: 10}))
	require.NoError(t, err)
	require.NoError(t, p.RunTick(context.Background(), 1))

	assert.Equal(t, []testutil.Entity{{ID: 1, VX: -3, VY: 0, PX: 10, PY: 0}}, testutil.ReadEntities(t, pool.DB()))
}

func TestRunTick_StepOrderAcrossTicks(t *testing.T) {
	pool := newWorld(t, goldenEntities...)
	rec := &testutil.StepRecorder{}

	p, err := New(pool, DefaultSteps(DefaultBounds()), WithObserver(rec))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.RunTick(ctx, 1))
	require.NoError(t, p.RunTick(ctx, 2))

	assert.Equal(t, []string{
		"1/position_integrator/start",
		"1/position_integrator/finish",
		"1/ball_collision/start",
		"1/ball_collision/finish",
		"1/velocity_position_debugger/start",
		"1/velocity_position_debugger/finish",
		"2/position_integrator/start",
		"2/position_integrator/finish",
		"2/ball_collision/start",
		"2/ball_collision/finish",
		"2/velocity_position_debugger/start",
		"2/velocity_position_debugger/finish",
	}, rec.Strings())
}

func TestRunTick_StepFailureStopsTick(t *testing.T) {
	pool := newWorld(t, testutil.Entity{ID: 1, VX: 1, VY: 1, PX: 0, PY: 0})
	rec := &testutil.StepRecorder{}

	p, err := New(pool, []Step{
		builtinStep(t, StepPositionIntegrator, ModeExec),
		{Name: "broken", Script: "UPDATE missing_table SET x = 1;", Mode: ModeExec},
		builtinStep(t, StepVelocityPositionDebugger, ModeQuery),
	}, WithObserver(rec))
	require.NoError(t, err)

	err = p.RunTick(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, IsStepError(err))

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "broken", se.Step)
	assert.Equal(t, uint64(7), se.Tick)
	assert.Contains(t, err.Error(), "missing_table")

	assert.Equal(t, []string{
		"7/position_integrator/start",
		"7/position_integrator/finish",
		"7/broken/start",
		"7/broken/finish",
	}, rec.Strings())
	assert.Error(t, rec.Events()[3].Err)

	// Steps are separate transactions; the integrator's commit stands.
	assert.Equal(t, []testutil.Entity{{ID: 1, VX: 1, VY: 1, PX: 1, PY: 1}}, testutil.ReadEntities(t, pool.DB()))
}

func TestRunTick_FailedStepRollsBack(t *testing.T) {
	pool := newWorld(t, testutil.Entity{ID: 1, VX: 1, VY: 1, PX: 0, PY: 0})

	p, err := New(pool, []Step{{
		Name: "half",
		Script: `UPDATE position SET px = 500;
			UPDATE missing_table SET x = 1;`,
		Mode: ModeExec,
	}})
	require.NoError(t, err)

	err = p.RunTick(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2")

	assert.Equal(t, []testutil.Entity{{ID: 1, VX: 1, VY: 1, PX: 0, PY: 0}}, testutil.ReadEntities(t, pool.DB()))
}

func TestRunTick_DebugProjectionIsReadOnly(t *testing.T) {
	pool := newWorld(t, goldenEntities...)
	var buf bytes.Buffer

	p, err := New(pool, []Step{builtinStep(t, StepVelocityPositionDebugger, ModeQuery)}, WithSink(NewWriterSink(&buf)))
	require.NoError(t, err)

	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, p.RunTick(context.Background(), tick))
	}

	assert.Equal(t, goldenEntities, testutil.ReadEntities(t, pool.DB()))
	assert.Equal(t, 12, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestRunTick_CancelledContext(t *testing.T) {
	pool := newWorld(t, goldenEntities...)
	rec := &testutil.StepRecorder{}

	p, err := New(pool, DefaultSteps(DefaultBounds()), WithObserver(rec))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.RunTick(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Events())
	assert.Equal(t, goldenEntities, testutil.ReadEntities(t, pool.DB()))
}

func TestRunTick_SinkErrorFailsStep(t *testing.T) {
	pool := newWorld(t, goldenEntities...)
	boom := errors.New("sink closed")

	p, err := New(pool, []Step{builtinStep(t, StepVelocityPositionDebugger, ModeQuery)},
		WithSink(sinkFunc(func(uint64, string, Row) error { return boom })))
	require.NoError(t, err)

	err = p.RunTick(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsStepError(err))
}

func TestDebugProjection_Golden(t *testing.T) {
	pool := newWorld(t, goldenEntities...)
	var buf bytes.Buffer

	p, err := New(pool, DefaultSteps(DefaultBounds()), WithSink(NewWriterSink(&buf)))
	require.NoError(t, err)

	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, p.RunTick(context.Background(), tick))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "debug_projection", buf.Bytes())
}

func TestSinks(t *testing.T) {
	row := Row{Columns: []string{"id", "label", "w", "blob"}, Values: []any{int64(3), nil, 2.5, []byte("xy")}}

	var a, b bytes.Buffer
	sink := MultiSink{NewWriterSink(&a), NewWriterSink(&b)}
	require.NoError(t, sink.Emit(4, "dbg", row))

	assert.Equal(t, "tick 4: id: 3, label: NULL, w: 2.5, blob: xy\n", a.String())
	assert.Equal(t, a.String(), b.String())

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	require.NoError(t, LogSink{Logger: logger}.Emit(4, "dbg", row))
	assert.Contains(t, logs.String(), "level=INFO")
	assert.Contains(t, logs.String(), "projection row")
	assert.Contains(t, logs.String(), "step=dbg")
	assert.Contains(t, logs.String(), "w=2.5")
}

type sinkFunc func(uint64, string, Row) error

func (f sinkFunc) Emit(tick uint64, step string, row Row) error { return f(tick, step, row) }
