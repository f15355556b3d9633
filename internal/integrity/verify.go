package integrity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/types"
	"github.com/boshu2/phasegate/internal/worker"
)

const regenerateHint = "regenerate it in a maintenance phase: phasectl manifest generate"

// SelfCheck compares the engine entry point against its manifest digest.
// It returns at most one issue: once the engine itself is modified nothing
// else it reports can be trusted.
func SelfCheck(root string, m *Manifest) []types.Issue {
	if m.Entrypoint == "" {
		return []types.Issue{{
			Message:  "tamper detected: integrity manifest names no engine entry point",
			Hint:     regenerateHint,
			Severity: types.SeverityError,
		}}
	}
	want, ok := m.Files[m.Entrypoint]
	if !ok {
		return []types.Issue{{
			Message:  fmt.Sprintf("tamper detected: engine entry point %s is not recorded in the manifest", m.Entrypoint),
			Hint:     regenerateHint,
			Severity: types.SeverityError,
		}}
	}
	got, err := HashFile(resolve(root, m.Entrypoint))
	if err != nil || got != want {
		reason := "content hash mismatch"
		if err != nil {
			reason = err.Error()
		}
		return []types.Issue{{
			Message:  fmt.Sprintf("tamper detected: engine entry point %s was modified (%s)", m.Entrypoint, reason),
			Hint:     fmt.Sprintf("restore it with git checkout HEAD -- %s, or %s", m.Entrypoint, regenerateHint),
			Severity: types.SeverityError,
		}}
	}
	return nil
}

// SweepManifest verifies every manifest entry other than the entry point and
// collects all missing and modified files.
func SweepManifest(ctx context.Context, root string, m *Manifest, concurrency int) []types.Issue {
	var paths []string
	for _, p := range m.Paths() {
		if p != m.Entrypoint {
			paths = append(paths, p)
		}
	}

	var issues []types.Issue
	pool := worker.NewPool[string](concurrency)
	for _, r := range pool.Process(ctx, paths, hashUnder(root)) {
		switch {
		case errors.Is(r.Err, os.ErrNotExist):
			issues = append(issues, types.Issue{
				Message:  fmt.Sprintf("protected file missing: %s", r.Item),
				Hint:     fmt.Sprintf("git checkout HEAD -- %s", r.Item),
				Severity: types.SeverityError,
			})
		case r.Err != nil:
			issues = append(issues, types.Issue{
				Message:  fmt.Sprintf("protected file unreadable: %s: %v", r.Item, r.Err),
				Hint:     fmt.Sprintf("check permissions on %s", r.Item),
				Severity: types.SeverityError,
			})
		case r.Value != m.Files[r.Item]:
			issues = append(issues, types.Issue{
				Message:  fmt.Sprintf("protected file modified: %s", r.Item),
				Hint:     fmt.Sprintf("git checkout HEAD -- %s (or %s)", r.Item, regenerateHint),
				Severity: types.SeverityError,
			})
		}
	}
	return issues
}

// CheckProtectedChanges reports changed files that match a protected glob but
// are not covered by the manifest. Manifest entries are covered by the sweep.
func CheckProtectedChanges(changed, protected []string, m *Manifest) []types.Issue {
	if len(protected) == 0 {
		return nil
	}
	var issues []types.Issue
	for _, f := range changed {
		if _, inManifest := m.Files[f]; inManifest {
			continue
		}
		if scope.MatchAny(protected, f) {
			issues = append(issues, types.Issue{
				Message:  fmt.Sprintf("protected file changed: %s", f),
				Hint:     fmt.Sprintf("revert it (git checkout HEAD -- %s) or make the change in a maintenance phase", f),
				Severity: types.SeverityError,
			})
		}
	}
	return issues
}

// VerifyBinding compares the roadmap and manifest hashes captured when the
// phase started with their current values.
func VerifyBinding(ptr types.PhasePointer, roadmapHash, manifestHash string, roadmapPath, manifestPath string) []types.Issue {
	var issues []types.Issue
	if ptr.RoadmapHash != roadmapHash {
		issues = append(issues, types.Issue{
			Message:  fmt.Sprintf("roadmap changed mid-phase: expected %s, got %s", short(ptr.RoadmapHash), short(roadmapHash)),
			Hint:     fmt.Sprintf("restore %s to the version the phase started with", roadmapPath),
			Severity: types.SeverityError,
		})
	}
	if ptr.ManifestHash != manifestHash {
		issues = append(issues, types.Issue{
			Message:  fmt.Sprintf("manifest changed mid-phase: expected %s, got %s", short(ptr.ManifestHash), short(manifestHash)),
			Hint:     fmt.Sprintf("restore %s to the version the phase started with", manifestPath),
			Severity: types.SeverityError,
		})
	}
	return issues
}

// Input is everything a full verification needs. ChangedFiles is called at
// most once, and only after the self-check passes.
type Input struct {
	Root         string
	ManifestPath string
	RoadmapPath  string
	RoadmapHash  string
	Pointer      types.PhasePointer
	Protected    []string
	Maintenance  bool
	ChangedFiles func() []string
	Concurrency  int
}

// Report is the outcome of a verification.
type Report struct {
	// Tampered is set when the self-check failed; Issues then holds exactly
	// that one issue.
	Tampered bool

	// MaintenanceSkip is set when the sweep and binding were skipped.
	MaintenanceSkip bool

	Issues []types.Issue
}

// OK reports whether verification found no issues.
func (r Report) OK() bool { return len(r.Issues) == 0 }

// Verify runs the self-check, then (outside maintenance phases) the manifest
// sweep, the protected-change check, and the phase binding.
func Verify(ctx context.Context, in Input) Report {
	m, err := LoadManifest(in.ManifestPath)
	if err != nil {
		return Report{Tampered: true, Issues: []types.Issue{{
			Message:  fmt.Sprintf("tamper detected: cannot load integrity manifest: %v", err),
			Hint:     "restore the manifest from git or generate it: phasectl manifest generate",
			Severity: types.SeverityError,
		}}}
	}

	if issues := SelfCheck(in.Root, m); len(issues) > 0 {
		return Report{Tampered: true, Issues: issues}
	}
	if in.Maintenance {
		return Report{MaintenanceSkip: true}
	}

	var rep Report
	rep.Issues = append(rep.Issues, SweepManifest(ctx, in.Root, m, in.Concurrency)...)
	if in.ChangedFiles != nil {
		rep.Issues = append(rep.Issues, CheckProtectedChanges(in.ChangedFiles(), in.Protected, m)...)
	}

	manifestHash, err := HashFile(in.ManifestPath)
	if err != nil {
		manifestHash = ""
	}
	rep.Issues = append(rep.Issues, VerifyBinding(in.Pointer, in.RoadmapHash, manifestHash, in.RoadmapPath, in.ManifestPath)...)
	return rep
}

func short(h string) string {
	if h == "" {
		return "<none>"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
