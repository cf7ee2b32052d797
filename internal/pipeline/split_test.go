package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "single without semicolon",
			script: "SELECT 1",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "two statements",
			script: "UPDATE a SET x = 1;\nUPDATE b SET y = 2;\n",
			want:   []string{"UPDATE a SET x = 1", "UPDATE b SET y = 2"},
		},
		{
			name:   "semicolon inside string literal",
			script: "INSERT INTO t VALUES ('a;b'); SELECT 2",
			want:   []string{"INSERT INTO t VALUES ('a;b')", "SELECT 2"},
		},
		{
			name:   "escaped quote",
			script: "SELECT 'it''s;fine'; SELECT 3",
			want:   []string{"SELECT 'it''s;fine'", "SELECT 3"},
		},
		{
			name:   "quoted identifiers",
			script: `SELECT "a;b", [c;d], ` + "`e;f`" + ` FROM t`,
			want:   []string{`SELECT "a;b", [c;d], ` + "`e;f`" + ` FROM t`},
		},
		{
			name:   "line comments dropped",
			script: "-- header; with semicolon\nSELECT 1; -- trailing\n-- only a comment\n",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "block comments dropped",
			script: "SELECT /* a; b */ 1; /* nothing */",
			want:   []string{"SELECT   1"},
		},
		{
			name:   "empty statements skipped",
			script: ";;  ; SELECT 1;;",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "empty",
			script: "",
			want:   nil,
		},
		{
			name:   "unterminated literal kept",
			script: "SELECT 'oops",
			want:   []string{"SELECT 'oops"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestSplitStatements_BuiltinScripts(t *testing.T) {
	collision, err := Builtin(StepBallCollision)
	assert.NoError(t, err)
	assert.Len(t, SplitStatements(collision), 5)

	integrator, err := Builtin(StepPositionIntegrator)
	assert.NoError(t, err)
	assert.Len(t, SplitStatements(integrator), 1)

	debugger, err := Builtin(StepVelocityPositionDebugger)
	assert.NoError(t, err)
	assert.Len(t, SplitStatements(debugger), 1)
}

func TestReferencesParam(t *testing.T) {
	assert.True(t, referencesParam("WHERE px > :xmax", "xmax"))
	assert.True(t, referencesParam("WHERE px > @xmax", "xmax"))
	assert.True(t, referencesParam("WHERE px > $xmax)", "xmax"))
	assert.False(t, referencesParam("WHERE px > :xmax2", "xmax"))
	assert.True(t, referencesParam("WHERE a > :xmax2 OR b > :xmax", "xmax"))
	assert.False(t, referencesParam("WHERE px > 100", "xmax"))
}
