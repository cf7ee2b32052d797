package mirror

import (
	"errors"
	"fmt"
)

// Phase identifies the step of a load that failed.
type Phase string

const (
	// PhaseConnect covers opening the direct source and mirror connections.
	PhaseConnect Phase = "connect"
	// PhaseSchemaRead covers reading the source catalog.
	PhaseSchemaRead Phase = "schema_read"
	// PhaseSchemaApply covers executing table, view and index DDL on the mirror.
	PhaseSchemaApply Phase = "schema_apply"
	// PhaseDataCopy covers attaching the mirror and copying rows.
	PhaseDataCopy Phase = "data_copy"
)

// Code returns the failure category reported for the phase.
func (p Phase) Code() string {
	switch p {
	case PhaseConnect:
		return "CONNECTION_FAILURE"
	case PhaseSchemaRead:
		return "SCHEMA_READ_FAILURE"
	case PhaseSchemaApply:
		return "SCHEMA_APPLY_FAILURE"
	case PhaseDataCopy:
		return "DATA_COPY_FAILURE"
	default:
		return "LOAD_FAILURE"
	}
}

// LoadError is returned by Load for any failure.
type LoadError struct {
	// Phase is the load step that failed.
	Phase Phase

	// Object names the schema object or table involved, if any.
	Object string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Object != "" {
		return fmt.Sprintf("%s: %s (object=%s): %v", e.Phase.Code(), e.Phase, e.Object, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Phase.Code(), e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsPhase reports whether err is a LoadError for the given phase.
// Uses errors.As to handle wrapped errors.
func IsPhase(err error, phase Phase) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Phase == phase
	}
	return false
}
