package pipeline

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed sql/*.sql
var builtinScripts embed.FS

// Names of the built-in steps, in tick order.
const (
	StepPositionIntegrator       = "position_integrator"
	StepBallCollision            = "ball_collision"
	StepVelocityPositionDebugger = "velocity_position_debugger"
)

// Mode selects how a step's script is run.
type Mode string

const (
	// ModeExec runs every statement of the script in one transaction.
	ModeExec Mode = "exec"
	// ModeQuery runs a single SELECT and emits each row to the Sink.
	ModeQuery Mode = "query"
)

// Step is one named transformation run once per tick.
type Step struct {
	Name   string
	Script string
	Params []sql.NamedArg
	Mode   Mode
}

// Bounds is the rectangle entities are kept inside by ball_collision.
type Bounds struct {
	XMin float64 `yaml:"xmin" env:"XMIN"`
	XMax float64 `yaml:"xmax" env:"XMAX"`
	YMin float64 `yaml:"ymin" env:"YMIN"`
	YMax float64 `yaml:"ymax" env:"YMAX"`
}

// DefaultBounds returns the standard world box (-100, 100, -50, 50).
func DefaultBounds() Bounds {
	return Bounds{XMin: -100, XMax: 100, YMin: -50, YMax: 50}
}

// Validate checks that the bounds describe a non-empty rectangle.
func (b Bounds) Validate() error {
	if b.XMin >= b.XMax || b.YMin >= b.YMax {
		return fmt.Errorf("invalid bounds: x [%g, %g], y [%g, %g]", b.XMin, b.XMax, b.YMin, b.YMax)
	}
	return nil
}

// Params returns the bounds as the named parameters of ball_collision.
func (b Bounds) Params() []sql.NamedArg {
	return []sql.NamedArg{
		sql.Named("xmin", b.XMin),
		sql.Named("xmax", b.XMax),
		sql.Named("ymin", b.YMin),
		sql.Named("ymax", b.YMax),
	}
}

// Builtin returns the embedded script of a built-in step.
func Builtin(name string) (string, error) {
	data, err := builtinScripts.ReadFile("sql/" + name + ".sql")
	if err != nil {
		return "", fmt.Errorf("unknown builtin step %q", name)
	}
	return string(data), nil
}

// DefaultSteps returns the built-in pipeline: integrate, collide, debug.
func DefaultSteps(bounds Bounds) []Step {
	return []Step{
		{Name: StepPositionIntegrator, Script: mustBuiltin(StepPositionIntegrator), Mode: ModeExec},
		{Name: StepBallCollision, Script: mustBuiltin(StepBallCollision), Params: bounds.Params(), Mode: ModeExec},
		{Name: StepVelocityPositionDebugger, Script: mustBuiltin(StepVelocityPositionDebugger), Mode: ModeQuery},
	}
}

func mustBuiltin(name string) string {
	script, err := Builtin(name)
	if err != nil {
		panic(err)
	}
	return script
}

// namedParams converts a parameter map into NamedArgs sorted by name.
func namedParams(params map[string]any) []sql.NamedArg {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sql.NamedArg, len(names))
	for i, name := range names {
		out[i] = sql.Named(name, params[name])
	}
	return out
}

// statement is a single SQL statement with the parameters it references.
type statement struct {
	sql  string
	args []any
}

// compiledStep is a Step split into statements once at construction.
type compiledStep struct {
	Step
	statements []statement
}

func compile(step Step) (compiledStep, error) {
	if step.Name == "" {
		return compiledStep{}, fmt.Errorf("step name is required")
	}
	switch step.Mode {
	case ModeExec, ModeQuery:
	default:
		return compiledStep{}, fmt.Errorf("step %s: unknown mode %q", step.Name, step.Mode)
	}

	stmts := SplitStatements(step.Script)
	if len(stmts) == 0 {
		return compiledStep{}, fmt.Errorf("step %s: script has no statements", step.Name)
	}
	if step.Mode == ModeQuery && len(stmts) != 1 {
		return compiledStep{}, fmt.Errorf("step %s: query script must hold exactly one statement, got %d", step.Name, len(stmts))
	}

	cs := compiledStep{Step: step, statements: make([]statement, len(stmts))}
	for i, text := range stmts {
		st := statement{sql: text}
		for _, p := range step.Params {
			if referencesParam(text, p.Name) {
				st.args = append(st.args, p)
			}
		}
		cs.statements[i] = st
	}
	return cs, nil
}
