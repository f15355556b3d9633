package plan

import (
	"errors"
	"fmt"
)

// Sentinel errors for the plan package.
var (
	// ErrEmptyPlan is returned when the roadmap file has no plan content.
	ErrEmptyPlan = errors.New("roadmap is empty")

	// ErrSchema wraps JSON Schema violations.
	ErrSchema = errors.New("roadmap does not match schema")

	// ErrEngineVersion is returned when the roadmap's requires constraint
	// excludes the running engine.
	ErrEngineVersion = errors.New("roadmap requires a different engine version")
)

// ValidationError describes a validation problem with a specific phase field.
type ValidationError struct {
	PhaseID string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.PhaseID == "" {
		return fmt.Sprintf("plan field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("phase %q field %q: %s", e.PhaseID, e.Field, e.Message)
}
