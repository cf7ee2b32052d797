package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the YAML form of a pipeline:
//
//	steps:
//	  - builtin: position_integrator
//	  - name: drag
//	    script: scripts/drag.sql
//	    params: {factor: 0.99}
//	  - builtin: velocity_position_debugger
type File struct {
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec declares one step. Exactly one of Builtin and Script is set.
type StepSpec struct {
	Name    string         `yaml:"name"`
	Builtin string         `yaml:"builtin"`
	Script  string         `yaml:"script"` // Relative to the pipeline file.
	Params  map[string]any `yaml:"params"`
	Mode    Mode           `yaml:"mode"` // Default: exec, or the builtin's mode.
}

// LoadFile reads a pipeline file. The ball_collision builtin receives bounds
// as its parameters unless the file overrides them.
func LoadFile(path string, bounds Bounds) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	steps, err := LoadSteps(data, filepath.Dir(path), bounds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return steps, nil
}

// LoadSteps decodes a pipeline document, resolving script paths against dir.
func LoadSteps(data []byte, dir string, bounds Bounds) ([]Step, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("pipeline declares no steps")
	}

	defaults := make(map[string]Step)
	for _, s := range DefaultSteps(bounds) {
		defaults[s.Name] = s
	}

	steps := make([]Step, 0, len(f.Steps))
	for i, spec := range f.Steps {
		step, err := spec.resolve(dir, defaults)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s StepSpec) resolve(dir string, defaults map[string]Step) (Step, error) {
	var step Step
	switch {
	case s.Builtin != "" && s.Script != "":
		return Step{}, fmt.Errorf("builtin and script are mutually exclusive")
	case s.Builtin != "":
		def, ok := defaults[s.Builtin]
		if !ok {
			return Step{}, fmt.Errorf("unknown builtin step %q", s.Builtin)
		}
		step = def
	case s.Script != "":
		path := s.Script
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Step{}, fmt.Errorf("read script: %w", err)
		}
		step = Step{Name: trimExt(filepath.Base(path)), Script: string(data), Mode: ModeExec}
	default:
		return Step{}, fmt.Errorf("one of builtin or script is required")
	}

	if s.Name != "" {
		step.Name = s.Name
	}
	if s.Mode != "" {
		step.Mode = s.Mode
	}
	if s.Params != nil {
		step.Params = namedParams(s.Params)
	}
	return step, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
