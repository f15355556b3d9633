// Package types defines the data structures shared by the phase gate engine.
package types

import "time"

// Gate names, in pipeline order.
const (
	GateIntegrity = "integrity"
	GateArtifacts = "artifacts"
	GateTests     = "tests"
	GateLint      = "lint"
	GateDocs      = "docs"
	GateScope     = "scope"
	GateReview    = "review"
)

// GateOrder is the fixed evaluation order of the gate pipeline.
var GateOrder = []string{GateArtifacts, GateTests, GateLint, GateDocs, GateScope, GateReview}

// Severity distinguishes blocking issues from advisory ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single gate finding. Hint names the command or file that fixes it.
type Issue struct {
	Message  string   `json:"message"`
	Hint     string   `json:"hint,omitempty"`
	Severity Severity `json:"severity"`
}

// String renders the issue the way it appears in a verdict.
func (i Issue) String() string {
	s := i.Message
	if i.Severity == SeverityWarning {
		s = "warning: " + s
	}
	if i.Hint != "" {
		s += " -> " + i.Hint
	}
	return s
}

// GateReport is the outcome of one gate.
type GateReport struct {
	Gate    string  `json:"gate"`
	Skipped bool    `json:"skipped,omitempty"`
	Issues  []Issue `json:"issues,omitempty"`
}

// Blocking returns the issues that fail the gate.
func (r GateReport) Blocking() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity != SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// Warnings returns the advisory issues.
func (r GateReport) Warnings() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// Passed reports whether the gate has no blocking issues.
func (r GateReport) Passed() bool {
	return len(r.Blocking()) == 0
}

// BaselineMode records how the baseline was obtained.
type BaselineMode string

const (
	BaselinePinned  BaselineMode = "pinned"
	BaselineUnknown BaselineMode = "unknown"
)

// PhasePointer is the persisted current-phase record. It carries the pinned
// baseline and the roadmap/manifest hashes captured when the phase started.
type PhasePointer struct {
	PhaseID      string       `json:"phase_id"`
	BriefPath    string       `json:"brief_path,omitempty"`
	BaselineRef  string       `json:"baseline_ref"`
	BaselineMode BaselineMode `json:"baseline_mode"`
	RoadmapHash  string       `json:"roadmap_hash"`
	ManifestHash string       `json:"manifest_hash"`
	StartedAt    time.Time    `json:"started_at"`
	Completed    bool         `json:"completed,omitempty"`
}
