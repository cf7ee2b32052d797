package engine

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tickmirror/internal/mirror"
	"github.com/roach88/tickmirror/internal/pipeline"
	"github.com/roach88/tickmirror/internal/store"
	tmtestutil "github.com/roach88/tickmirror/internal/testutil"
)

// TestScheduler_OneShotLoad runs the default pipeline over a loaded mirror
// after the source file is gone.
func TestScheduler_OneShotLoad(t *testing.T) {
	ctx := context.Background()

	pool, err := store.Open(ctx, tmtestutil.MirrorURI(t), store.Options{MinConns: 2, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	path := tmtestutil.NewWorldDB(t,
		tmtestutil.Entity{ID: 1, VX: 10, VY: 5, PX: 0, PY: 0},
		tmtestutil.Entity{ID: 2, VX: 40, VY: 0, PX: 90, PY: 0},
	)
	_, err = mirror.Load(ctx, path, pool.URI())
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	var out bytes.Buffer
	rec := &tmtestutil.StepRecorder{}
	p, err := pipeline.New(pool, pipeline.DefaultSteps(pipeline.DefaultBounds()),
		pipeline.WithSink(pipeline.NewWriterSink(&out)),
		pipeline.WithObserver(rec),
	)
	require.NoError(t, err)

	s := New(p, WithInterval(0), WithMaxTicks(3))
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []tmtestutil.Entity{
		{ID: 1, VX: 10, VY: 5, PX: 30, PY: 15},
		{ID: 2, VX: -40, VY: 0, PX: 20, PY: 0},
	}, tmtestutil.ReadEntities(t, pool.DB()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 6)
	assert.Equal(t, "tick 3: id: 2, vx: -40, vy: 0, px: 20, py: 0", lines[5])
	assert.Len(t, rec.Events(), 18)
}

// TestScheduler_HaltsOnBrokenStep halts on a real SQL failure and leaves the
// mirror as the last successful step committed it.
func TestScheduler_HaltsOnBrokenStep(t *testing.T) {
	ctx := context.Background()

	pool, err := store.Open(ctx, tmtestutil.MirrorURI(t), store.Options{MinConns: 1, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = mirror.Load(ctx, tmtestutil.NewWorldDB(t, tmtestutil.Entity{ID: 1, VX: 1, VY: 1}), pool.URI())
	require.NoError(t, err)

	integrator, err := pipeline.Builtin(pipeline.StepPositionIntegrator)
	require.NoError(t, err)
	p, err := pipeline.New(pool, []pipeline.Step{
		{Name: pipeline.StepPositionIntegrator, Script: integrator, Mode: pipeline.ModeExec},
		{Name: "gravity", Script: "UPDATE velocity SET vy = vy - :g;", Mode: pipeline.ModeExec},
	})
	require.NoError(t, err)

	s := New(p, WithInterval(0), WithMaxTicks(5))
	err = s.Run(ctx)
	require.Error(t, err)

	var te *TickError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, uint64(1), te.Tick)
	assert.Equal(t, "gravity", te.Step)
	assert.Equal(t, StateHalted, s.State())

	assert.Equal(t, []tmtestutil.Entity{{ID: 1, VX: 1, VY: 1, PX: 1, PY: 1}}, tmtestutil.ReadEntities(t, pool.DB()))
}
