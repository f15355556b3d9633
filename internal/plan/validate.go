package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/boshu2/phasegate/embedded"
	"github.com/boshu2/phasegate/internal/scope"
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(embedded.PlanSchemaURL, bytes.NewReader(embedded.PlanSchema)); err != nil {
			schemaErr = fmt.Errorf("load plan schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(embedded.PlanSchemaURL)
	})
	return schema, schemaErr
}

// checkSchema validates a YAML-decoded document against the embedded schema.
// The value is round-tripped through JSON so the validator sees JSON types.
func checkSchema(raw any) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := s.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrSchema, describe(ve))
		}
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

// describe flattens the deepest schema causes into one line each.
func describe(ve *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(leaves, "; ")
}

// Validate checks the semantic rules the schema cannot express. It returns an
// empty slice when the plan is usable. engineVersion is checked against the
// plan's requires constraint; a non-semver engine version (a dev build) skips
// that check.
func Validate(p *Plan, engineVersion string) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateRequires(p, engineVersion)...)
	errs = append(errs, validateGlobs("", "protected_globs", p.Protected())...)
	errs = append(errs, validateGlobs("", "llm_review_config.exclude_patterns", p.Review.ExcludePatterns)...)

	seen := make(map[string]bool)
	for _, ph := range p.Phases {
		errs = append(errs, validatePhaseID(ph, seen)...)
		errs = append(errs, validatePhaseGlobs(ph)...)
		errs = append(errs, validatePhaseGates(p, ph)...)
	}

	for _, id := range append(append([]string{}, p.MaintenancePhaseAllowlist...), p.ProtocolLock.AllowInPhases...) {
		if !seen[id] {
			errs = append(errs, ValidationError{Field: "maintenance_phase_allowlist", Message: fmt.Sprintf("unknown phase %q", id)})
		}
	}
	return errs
}

func validateRequires(p *Plan, engineVersion string) []ValidationError {
	if p.Requires == "" {
		return nil
	}
	c, err := semver.NewConstraint(p.Requires)
	if err != nil {
		return []ValidationError{{Field: "requires", Message: fmt.Sprintf("invalid version constraint: %v", err)}}
	}
	v, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil
	}
	if !c.Check(v) {
		return []ValidationError{{Field: "requires", Message: fmt.Sprintf("%v: engine %s does not satisfy %q", ErrEngineVersion, v, p.Requires)}}
	}
	return nil
}

func validatePhaseID(ph Phase, seen map[string]bool) []ValidationError {
	id := strings.TrimSpace(ph.ID)
	if id == "" {
		return []ValidationError{{PhaseID: ph.ID, Field: "id", Message: "required"}}
	}
	var errs []ValidationError
	if seen[id] {
		errs = append(errs, ValidationError{PhaseID: id, Field: "id", Message: "duplicate"})
	}
	if strings.ContainsAny(id, `/\`) {
		errs = append(errs, ValidationError{PhaseID: id, Field: "id", Message: "must not contain path separators"})
	}
	seen[id] = true
	return errs
}

func validatePhaseGlobs(ph Phase) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateGlobs(ph.ID, "scope.include", ph.Scope.Include)...)
	errs = append(errs, validateGlobs(ph.ID, "scope.exclude", ph.Scope.Exclude)...)
	errs = append(errs, validateGlobs(ph.ID, "drift_rules", ph.DriftRules.Patterns())...)
	return errs
}

func validateGlobs(phaseID, field string, patterns []string) []ValidationError {
	var errs []ValidationError
	for _, p := range patterns {
		if _, err := scope.Compile(p); err != nil {
			errs = append(errs, ValidationError{PhaseID: phaseID, Field: field, Message: err.Error()})
		}
	}
	return errs
}

func validatePhaseGates(p *Plan, ph Phase) []ValidationError {
	var errs []ValidationError
	gs := p.GateSet(ph)
	for _, req := range gs.Tests.Traces {
		if req.Command.IsZero() {
			errs = append(errs, ValidationError{PhaseID: ph.ID, Field: "gates.tests", Message: fmt.Sprintf("trace %q has no command (set plan.test_command)", req.Name)})
		}
	}
	for _, req := range gs.Lint.Traces {
		if req.Command.IsZero() {
			errs = append(errs, ValidationError{PhaseID: ph.ID, Field: "gates.lint", Message: "no command (set plan.lint_command)"})
		}
	}
	for _, d := range gs.Docs.Paths {
		if strings.TrimSpace(d.Path) == "" {
			errs = append(errs, ValidationError{PhaseID: ph.ID, Field: "gates.docs.must_update", Message: "empty path"})
		}
	}
	return errs
}
