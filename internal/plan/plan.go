// Package plan loads and validates the roadmap document that declares the
// ordered phases, their scope rules, and their gate configuration.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultBaseBranch is the fallback branch for degraded baseline resolution.
const DefaultBaseBranch = "main"

// Plan is the parsed roadmap.
type Plan struct {
	ID          string  `yaml:"id" json:"id"`
	Summary     string  `yaml:"summary,omitempty" json:"summary,omitempty"`
	BaseBranch  string  `yaml:"base_branch,omitempty" json:"base_branch,omitempty"`
	Requires    string  `yaml:"requires,omitempty" json:"requires,omitempty"`
	TestCommand Command `yaml:"test_command,omitempty" json:"test_command,omitempty"`
	LintCommand Command `yaml:"lint_command,omitempty" json:"lint_command,omitempty"`

	ProtectedGlobs            []string     `yaml:"protected_globs,omitempty" json:"protected_globs,omitempty"`
	MaintenancePhaseAllowlist []string     `yaml:"maintenance_phase_allowlist,omitempty" json:"maintenance_phase_allowlist,omitempty"`
	ProtocolLock              ProtocolLock `yaml:"protocol_lock,omitempty" json:"protocol_lock,omitempty"`

	Review ReviewSettings `yaml:"llm_review_config,omitempty" json:"llm_review_config,omitempty"`

	Phases []Phase `yaml:"phases" json:"phases"`

	// Path and Hash identify the file the plan was loaded from.
	Path string `yaml:"-" json:"-"`
	Hash string `yaml:"-" json:"-"`
}

// ProtocolLock is the nested form of the protected-file settings.
type ProtocolLock struct {
	ProtectedGlobs []string `yaml:"protected_globs,omitempty" json:"protected_globs,omitempty"`
	AllowInPhases  []string `yaml:"allow_in_phases,omitempty" json:"allow_in_phases,omitempty"`
}

// ReviewSettings tunes the semantic review gate.
type ReviewSettings struct {
	Model                string   `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens            int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature          float64  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TimeoutSeconds       int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	FailOnTransportError bool     `yaml:"fail_on_transport_error,omitempty" json:"fail_on_transport_error,omitempty"`
	IncludeExtensions    []string `yaml:"include_extensions,omitempty" json:"include_extensions,omitempty"`
	ExcludePatterns      []string `yaml:"exclude_patterns,omitempty" json:"exclude_patterns,omitempty"`
}

// Phase is one unit of work. The engine never mutates it.
type Phase struct {
	ID          string     `yaml:"id" json:"id"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Brief       string     `yaml:"brief,omitempty" json:"brief,omitempty"`
	Scope       Scope      `yaml:"scope,omitempty" json:"scope,omitempty"`
	Artifacts   Artifacts  `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Gates       GateBlock  `yaml:"gates,omitempty" json:"gates,omitempty"`
	DriftRules  DriftRules `yaml:"drift_rules,omitempty" json:"drift_rules,omitempty"`
}

// Scope holds include/exclude globs.
type Scope struct {
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Artifacts lists files that must exist and be non-empty. In YAML it is
// either a mapping with must_exist or a bare list of paths.
type Artifacts struct {
	MustExist []string `yaml:"must_exist,omitempty" json:"must_exist,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Artifacts) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		return value.Decode(&a.MustExist)
	}
	type plain Artifacts
	return value.Decode((*plain)(a))
}

// DriftRules lists globs that must never change. Both spellings are accepted.
type DriftRules struct {
	ForbidChanges []string `yaml:"forbid_changes,omitempty" json:"forbid_changes,omitempty"`
	Forbid        []string `yaml:"forbid,omitempty" json:"forbid,omitempty"`
}

// Patterns returns the union of both forbid lists.
func (d DriftRules) Patterns() []string {
	out := make([]string, 0, len(d.ForbidChanges)+len(d.Forbid))
	out = append(out, d.ForbidChanges...)
	return append(out, d.Forbid...)
}

// GateBlock is the raw per-phase gate configuration as written in YAML.
// Resolve it with Plan.GateSet before use.
type GateBlock struct {
	Tests     *TestsBlock  `yaml:"tests,omitempty" json:"tests,omitempty"`
	Lint      *LintBlock   `yaml:"lint,omitempty" json:"lint,omitempty"`
	Docs      *DocsBlock   `yaml:"docs,omitempty" json:"docs,omitempty"`
	Drift     *DriftBlock  `yaml:"drift,omitempty" json:"drift,omitempty"`
	LLMReview *ReviewBlock `yaml:"llm_review,omitempty" json:"llm_review,omitempty"`
}

type TestsBlock struct {
	MustPass    bool        `yaml:"must_pass,omitempty" json:"must_pass,omitempty"`
	TestScope   string      `yaml:"test_scope,omitempty" json:"test_scope,omitempty"`
	Unit        *SuiteBlock `yaml:"unit,omitempty" json:"unit,omitempty"`
	Integration *SuiteBlock `yaml:"integration,omitempty" json:"integration,omitempty"`
}

type SuiteBlock struct {
	MustPass  *bool   `yaml:"must_pass,omitempty" json:"must_pass,omitempty"`
	AllowSkip bool    `yaml:"allow_skip,omitempty" json:"allow_skip,omitempty"`
	Command   Command `yaml:"command,omitempty" json:"command,omitempty"`
}

type LintBlock struct {
	MustPass  bool   `yaml:"must_pass,omitempty" json:"must_pass,omitempty"`
	LintScope string `yaml:"lint_scope,omitempty" json:"lint_scope,omitempty"`
}

type DocsBlock struct {
	MustUpdate []string `yaml:"must_update,omitempty" json:"must_update,omitempty"`
}

type DriftBlock struct {
	AllowedOutOfScopeChanges int `yaml:"allowed_out_of_scope_changes" json:"allowed_out_of_scope_changes"`
}

type ReviewBlock struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// document is the on-disk wrapper: the roadmap lives under a "plan" key.
type document struct {
	Plan *Plan `yaml:"plan"`
}

// Load reads, schema-checks, and parses the roadmap at path. Semantic
// validation is separate; see Validate.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roadmap: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes roadmap bytes. path is recorded for messages only.
func Parse(path string, data []byte) (*Plan, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parsing %s: %w", path, ErrEmptyPlan)
	}
	raw = wrapBare(raw)
	if err := checkSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var doc document
	if isWrapped(data) {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		doc.Plan = &Plan{}
		if err := yaml.Unmarshal(data, doc.Plan); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if doc.Plan == nil {
		return nil, fmt.Errorf("parsing %s: %w", path, ErrEmptyPlan)
	}

	p := doc.Plan
	p.Path = path
	p.Hash = HashBytes(data)
	if p.BaseBranch == "" {
		p.BaseBranch = DefaultBaseBranch
	}
	return p, nil
}

// wrapBare accepts a document that omits the "plan" wrapper but has phases.
func wrapBare(raw any) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	if _, has := m["plan"]; has {
		return raw
	}
	if _, has := m["phases"]; has {
		return map[string]any{"plan": m}
	}
	return raw
}

func isWrapped(data []byte) bool {
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return true
	}
	_, ok := probe["plan"]
	return ok
}

// Phase returns the phase with id.
func (p *Plan) Phase(id string) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// Next returns the phase following id, or false when id is the last phase.
func (p *Plan) Next(id string) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].ID == id && i+1 < len(p.Phases) {
			return &p.Phases[i+1], true
		}
	}
	return nil, false
}

// Protected returns every protected glob from both the top-level and the
// nested protocol_lock form.
func (p *Plan) Protected() []string {
	out := append([]string{}, p.ProtectedGlobs...)
	return append(out, p.ProtocolLock.ProtectedGlobs...)
}

// IsMaintenancePhase reports whether id is allow-listed to modify protected files.
func (p *Plan) IsMaintenancePhase(id string) bool {
	for _, lists := range [][]string{p.MaintenancePhaseAllowlist, p.ProtocolLock.AllowInPhases} {
		for _, allowed := range lists {
			if allowed == id {
				return true
			}
		}
	}
	return false
}

// BriefPath returns the phase brief, defaulting to <stateDir>/briefs/<id>.md.
func (ph Phase) BriefPath(stateDir string) string {
	if ph.Brief != "" {
		return ph.Brief
	}
	return stateDir + "/briefs/" + ph.ID + ".md"
}

// HashBytes returns the hex sha256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}
