package harness

import (
	"context"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tickmirror/internal/testutil"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_WallBounce(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "wall_bounce"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "run-wall-bounce", result.RunID)
	assert.Equal(t, uint64(3), result.Ticks)
	assert.Equal(t, "stopped", result.State)
	assert.Zero(t, result.HaltedAt)
	assert.Len(t, result.Steps, 9)
	assert.Len(t, result.Trace, 6)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, uint64(3), last.Tick)
	assert.Equal(t, map[string]any{
		"id": int64(2), "vx": float64(-5), "vy": float64(30), "px": float64(-25), "py": float64(10),
	}, last.Row)
}

func TestRun_CustomPipeline(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "drag"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []StepRun{
		{Tick: 1, Step: "position_integrator"}, {Tick: 1, Step: "drag"}, {Tick: 1, Step: "dump"},
		{Tick: 2, Step: "position_integrator"}, {Tick: 2, Step: "drag"}, {Tick: 2, Step: "dump"},
		{Tick: 3, Step: "position_integrator"}, {Tick: 3, Step: "drag"}, {Tick: 3, Step: "dump"},
	}, result.Steps)
}

func TestRun_HaltIsExpected(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "halt"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "halted", result.State)
	assert.Equal(t, uint64(1), result.HaltedAt)
	assert.Equal(t, "gravity", result.HaltedStep)
	assert.Equal(t, []StepRun{
		{Tick: 1, Step: "position_integrator"},
		{Tick: 1, Step: "gravity", Failed: true},
	}, result.Steps)
	assert.Empty(t, result.Trace)
}

func TestRun_UnexpectedHaltFails(t *testing.T) {
	scenario := loadTestScenario(t, "halt")
	scenario.Assertions = nil

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "scheduler halted unexpectedly")
	assert.Contains(t, result.Errors[0], "gravity")
}

func TestRun_SkipPolicyKeepsTicking(t *testing.T) {
	scenario := loadTestScenario(t, "halt")
	scenario.FailurePolicy = "skip"
	scenario.Assertions = []Assertion{
		{Type: AssertTraceCount, Step: "velocity_position_debugger", Count: 0},
		{Type: AssertFinalState, Table: "position", Where: map[string]any{"id": 1}, Expect: map[string]any{"px": 3, "py": 3}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "stopped", result.State)
	assert.Equal(t, uint64(3), result.Ticks)
}

func TestRun_FailedAssertions(t *testing.T) {
	scenario := loadTestScenario(t, "wall_bounce")
	scenario.Assertions = []Assertion{
		{Type: AssertFinalState, Table: "position", Where: map[string]any{"id": 1}, Expect: map[string]any{"px": 41}},
		{Type: AssertFinalState, Table: "position", Where: map[string]any{"id": 9}, Expect: map[string]any{"px": 0}},
		{Type: AssertFinalState, Table: "position", Where: map[string]any{"id": 1}, Expect: map[string]any{"pz": 0}},
		{Type: AssertFinalState, Table: "missing", Expect: map[string]any{"px": 0}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, "assertion[0]: final_state: position where id=1: px = 40, want 41", result.Errors[0])
	assert.Equal(t, "assertion[1]: final_state: position where id=9 matched 0 rows, want 1", result.Errors[1])
	assert.Equal(t, `assertion[2]: final_state: position has no column "pz"`, result.Errors[2])
	assert.Contains(t, result.Errors[3], "assertion[3]: final_state: query missing")
}

func TestRun_BadPipeline(t *testing.T) {
	scenario := loadTestScenario(t, "drag")
	scenario.Pipeline = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load pipeline")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, loadTestScenario(t, "wall_bounce"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ScenariosAreIsolated(t *testing.T) {
	scenario := loadTestScenario(t, "wall_bounce")

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, second.Pass, "errors: %v", second.Errors)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestWorldSchema_MatchesTestFixtures(t *testing.T) {
	assert.Equal(t, testutil.WorldSchema, worldSchema)
}

func TestFixedRunID(t *testing.T) {
	assert.Equal(t, "run-7", fixedRunID("run-7").Generate())
	assert.Equal(t, defaultRunID, fixedRunID("").Generate())
}

// The harness ships in the binary, so its non-test files must not pull in
// the testing package, directly or through testutil.
func TestHarness_NoTestingImports(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			assert.NotEqual(t, "testing", path, file)
			assert.NotContains(t, path, "internal/testutil", file)
		}
	}
}
