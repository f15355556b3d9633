package plan

import "strings"

// Trace names written by the trace runner and read by the tests/lint gates.
const (
	TraceTests            = "tests"
	TraceTestsUnit        = "tests_unit"
	TraceTestsIntegration = "tests_integration"
	TraceLint             = "lint"
)

// Scope modes for test and lint runs.
const (
	ScopeModeScope = "scope"
	ScopeModeAll   = "all"
)

// Review defaults.
const (
	DefaultReviewModel     = "claude-sonnet-4-20250514"
	DefaultReviewMaxTokens = 2000
	DefaultReviewTimeout   = 60
)

var (
	defaultReviewExtensions = []string{".go", ".py", ".ts", ".tsx", ".md"}
	defaultReviewExcludes   = []string{"tests/**", "**/__pycache__/**", "runs/**", ".repo/**"}
)

// GateSet is the resolved, per-phase configuration of every gate. Each gate
// is an explicit enabled/disabled variant; the pipeline skips disabled ones.
type GateSet struct {
	Artifacts ArtifactsGate
	Tests     TraceGate
	Lint      TraceGate
	Docs      DocsGate
	Scope     ScopeGate
	Review    ReviewGate
}

type ArtifactsGate struct {
	Enabled bool
	Paths   []string
}

// TraceRequirement names one trace record a gate consumes and the command
// that produces it.
type TraceRequirement struct {
	Name      string
	Command   Command
	AllowSkip bool
	ScopeMode string
}

type TraceGate struct {
	Enabled bool
	Traces  []TraceRequirement
}

// DocRequirement is a must_update entry, optionally with a section anchor.
type DocRequirement struct {
	Path   string
	Anchor string
}

type DocsGate struct {
	Enabled bool
	Paths   []DocRequirement
}

type ScopeGate struct {
	Enabled           bool
	Include           []string
	Exclude           []string
	Forbid            []string
	AllowedOutOfScope int
}

type ReviewGate struct {
	Enabled  bool
	Settings ReviewSettings
}

// GateSet resolves the raw gate block of ph against plan-level defaults.
func (p *Plan) GateSet(ph Phase) GateSet {
	gs := GateSet{
		Artifacts: ArtifactsGate{Enabled: len(ph.Artifacts.MustExist) > 0, Paths: ph.Artifacts.MustExist},
		Tests:     p.testsGate(ph),
		Lint:      p.lintGate(ph),
		Docs:      docsGate(ph),
		Scope:     scopeGate(ph),
		Review:    p.reviewGate(ph),
	}
	return gs
}

func (p *Plan) testsGate(ph Phase) TraceGate {
	t := ph.Gates.Tests
	if t == nil {
		return TraceGate{}
	}
	mode := normalizeScopeMode(t.TestScope)

	if t.Unit != nil || t.Integration != nil {
		var g TraceGate
		add := func(name string, s *SuiteBlock) {
			if s == nil || (s.MustPass != nil && !*s.MustPass) {
				return
			}
			cmd := s.Command
			if cmd.IsZero() {
				cmd = p.TestCommand
			}
			g.Traces = append(g.Traces, TraceRequirement{Name: name, Command: cmd, AllowSkip: s.AllowSkip, ScopeMode: mode})
		}
		add(TraceTestsUnit, t.Unit)
		add(TraceTestsIntegration, t.Integration)
		g.Enabled = len(g.Traces) > 0
		return g
	}

	if !t.MustPass {
		return TraceGate{}
	}
	return TraceGate{Enabled: true, Traces: []TraceRequirement{{Name: TraceTests, Command: p.TestCommand, ScopeMode: mode}}}
}

func (p *Plan) lintGate(ph Phase) TraceGate {
	l := ph.Gates.Lint
	if l == nil || !l.MustPass {
		return TraceGate{}
	}
	return TraceGate{Enabled: true, Traces: []TraceRequirement{{
		Name: TraceLint, Command: p.LintCommand, ScopeMode: normalizeScopeMode(l.LintScope),
	}}}
}

func docsGate(ph Phase) DocsGate {
	d := ph.Gates.Docs
	if d == nil || len(d.MustUpdate) == 0 {
		return DocsGate{}
	}
	g := DocsGate{Enabled: true}
	for _, entry := range d.MustUpdate {
		path, anchor, _ := strings.Cut(entry, "#")
		g.Paths = append(g.Paths, DocRequirement{Path: strings.TrimSpace(path), Anchor: strings.TrimSpace(anchor)})
	}
	return g
}

func scopeGate(ph Phase) ScopeGate {
	forbid := ph.DriftRules.Patterns()
	g := ScopeGate{
		Enabled: ph.Gates.Drift != nil || len(forbid) > 0,
		Include: ph.Scope.Include,
		Exclude: ph.Scope.Exclude,
		Forbid:  forbid,
	}
	if ph.Gates.Drift != nil {
		g.AllowedOutOfScope = ph.Gates.Drift.AllowedOutOfScopeChanges
	}
	return g
}

func (p *Plan) reviewGate(ph Phase) ReviewGate {
	r := ph.Gates.LLMReview
	if r == nil || !r.Enabled {
		return ReviewGate{}
	}
	return ReviewGate{Enabled: true, Settings: p.Review.withDefaults()}
}

func (r ReviewSettings) withDefaults() ReviewSettings {
	if r.Model == "" {
		r.Model = DefaultReviewModel
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultReviewMaxTokens
	}
	if r.TimeoutSeconds == 0 {
		r.TimeoutSeconds = DefaultReviewTimeout
	}
	if len(r.IncludeExtensions) == 0 {
		r.IncludeExtensions = defaultReviewExtensions
	}
	if len(r.ExcludePatterns) == 0 {
		r.ExcludePatterns = defaultReviewExcludes
	}
	return r
}

func normalizeScopeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), ScopeModeScope) {
		return ScopeModeScope
	}
	return ScopeModeAll
}
