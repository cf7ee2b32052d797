package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator(t *testing.T) {
	gen := NewFixedIDGenerator("run-1")
	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-1", gen.Generate())
}

func TestFixedIDGenerator_Default(t *testing.T) {
	assert.Equal(t, "test-run-default", NewFixedIDGenerator("").Generate())
}

func TestStepRecorder(t *testing.T) {
	var r StepRecorder
	r.StepStarted(1, "integrate")
	r.StepFinished(1, "integrate", 0, nil)

	assert.Equal(t, []string{"1/integrate/start", "1/integrate/finish"}, r.Strings())
	assert.Len(t, r.Events(), 2)
}

func TestNewWorldDB(t *testing.T) {
	path := NewWorldDB(t, Entity{ID: 1, VX: 10, VY: 5})
	db := openFile(t, path)
	defer db.Close()

	got := ReadEntities(t, db)
	assert.Equal(t, []Entity{{ID: 1, VX: 10, VY: 5}}, got)
}
