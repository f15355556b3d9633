package plan

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePlan = `plan:
  id: demo
  summary: Demo roadmap
  requires: ">= 0.1.0"
  test_command: go test ./...
  lint_command:
    command: [golangci-lint, run]
  protected_globs: ["tools/**"]
  protocol_lock:
    allow_in_phases: [P0-maint]
  llm_review_config:
    temperature: 0.2
  phases:
    - id: P0-maint
      description: Maintenance
    - id: P1
      description: Scaffold
      scope:
        include: ["src/**"]
        exclude: ["src/gen/**"]
      artifacts:
        must_exist: [src/main.go]
      gates:
        tests: {must_pass: true, test_scope: scope}
        lint: {must_pass: true}
        docs: {must_update: ["README.md#Usage", "CHANGELOG.md"]}
        drift: {allowed_out_of_scope_changes: 2}
        llm_review: {enabled: true}
      drift_rules:
        forbid_changes: ["*.env"]
        forbid: ["infra/"]
    - id: P2
      gates:
        tests:
          unit: {}
          integration: {allow_skip: true, command: "make integration"}
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writePlan(t, samplePlan))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.ID != "demo" {
		t.Errorf("ID = %q, want demo", p.ID)
	}
	if p.BaseBranch != DefaultBaseBranch {
		t.Errorf("BaseBranch = %q, want default %q", p.BaseBranch, DefaultBaseBranch)
	}
	if got := p.TestCommand.String(); got != "go test ./..." {
		t.Errorf("TestCommand = %q", got)
	}
	if got := p.LintCommand.Argv; len(got) != 2 || got[0] != "golangci-lint" {
		t.Errorf("LintCommand = %v", got)
	}
	if len(p.Phases) != 3 {
		t.Fatalf("len(Phases) = %d, want 3", len(p.Phases))
	}
	if len(p.Hash) != 64 {
		t.Errorf("Hash = %q, want sha256 hex", p.Hash)
	}
	if !p.IsMaintenancePhase("P0-maint") || p.IsMaintenancePhase("P1") {
		t.Error("IsMaintenancePhase mismatch")
	}
	if errs := Validate(p, "0.4.0"); len(errs) != 0 {
		t.Errorf("Validate() = %v, want none", errs)
	}
}

func TestLoad_BareDocument(t *testing.T) {
	p, err := Load(writePlan(t, "id: bare\nphases:\n  - id: P1\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.ID != "bare" || len(p.Phases) != 1 {
		t.Errorf("got %+v", p)
	}
}

func TestLoad_ArtifactsListForm(t *testing.T) {
	p, err := Load(writePlan(t, "plan:\n  id: demo\n  phases:\n    - id: P1\n      artifacts: [src/a.go, docs/a.md]\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := p.Phases[0].Artifacts.MustExist
	if len(got) != 2 || got[0] != "src/a.go" || got[1] != "docs/a.md" {
		t.Errorf("MustExist = %v", got)
	}
}

func TestLoad_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no phases", "plan:\n  id: x\n  phases: []\n"},
		{"missing id", "plan:\n  phases:\n    - id: P1\n"},
		{"bad temperature", "plan:\n  id: x\n  llm_review_config: {temperature: 3}\n  phases:\n    - id: P1\n"},
		{"negative drift", "plan:\n  id: x\n  phases:\n    - id: P1\n      gates: {drift: {allowed_out_of_scope_changes: -1}}\n"},
		{"bad test scope", "plan:\n  id: x\n  phases:\n    - id: P1\n      gates: {tests: {must_pass: true, test_scope: some}}\n"},
		{"command mapping without key", "plan:\n  id: x\n  test_command: {cmd: make}\n  phases:\n    - id: P1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writePlan(t, tt.content))
			if !errors.Is(err, ErrSchema) {
				t.Errorf("Load() error = %v, want ErrSchema", err)
			}
		})
	}
}

func TestLoad_EmptyAndMissing(t *testing.T) {
	if _, err := Load(writePlan(t, "")); !errors.Is(err, ErrEmptyPlan) {
		t.Errorf("empty plan error = %v, want ErrEmptyPlan", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	content := `plan:
  id: x
  requires: ">= 9.0.0"
  maintenance_phase_allowlist: [ghost]
  phases:
    - id: P1
      scope: {include: ["src/[a"]}
      gates: {tests: {must_pass: true}}
    - id: P1
    - id: a/b
`
	p, err := Load(writePlan(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	errs := Validate(p, "0.4.0")

	want := []string{
		`plan field "requires"`,
		`phase "P1" field "scope.include"`,
		`phase "P1" field "gates.tests"`,
		`phase "P1" field "id": duplicate`,
		`phase "a/b" field "id": must not contain path separators`,
		`unknown phase "ghost"`,
	}
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("Validate() missing %q in:\n%s", w, joined)
		}
	}
}

func TestValidate_DevVersionSkipsRequires(t *testing.T) {
	p, err := Load(writePlan(t, "plan:\n  id: x\n  requires: \">= 9.0.0\"\n  phases:\n    - id: P1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if errs := Validate(p, "dev"); len(errs) != 0 {
		t.Errorf("Validate(dev) = %v, want none", errs)
	}
}

func TestPhaseNavigation(t *testing.T) {
	p, err := Load(writePlan(t, samplePlan))
	if err != nil {
		t.Fatal(err)
	}
	next, ok := p.Next("P1")
	if !ok || next.ID != "P2" {
		t.Errorf("Next(P1) = %v, %v", next, ok)
	}
	if _, ok := p.Next("P2"); ok {
		t.Error("Next(last) should be false")
	}
	if _, ok := p.Phase("nope"); ok {
		t.Error("Phase(nope) should be false")
	}
	ph, _ := p.Phase("P1")
	if got := ph.BriefPath(".repo"); got != ".repo/briefs/P1.md" {
		t.Errorf("BriefPath = %q", got)
	}
}
