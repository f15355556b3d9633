// Package storage owns the on-disk layout of the governed repository's state
// directory and the primitives used to persist records there: canonical JSON,
// atomic replace, and locked JSONL appends.
package storage

import "path/filepath"

const (
	// DefaultStateDir is the state directory relative to the repository root.
	DefaultStateDir = ".repo"

	// PlanFile is the roadmap consumed by the engine.
	PlanFile = "plan.yaml"

	// ManifestFile holds the integrity manifest.
	ManifestFile = "protocol_manifest.json"

	// StateDir holds the phase pointer, the history ledger, and the lock.
	StateDir = "state"

	// PointerFile is the current-phase pointer.
	PointerFile = "current.json"

	// HistoryFile is the append-only phase ledger.
	HistoryFile = "history.jsonl"

	// LockFile is the evaluation lock.
	LockFile = "evaluate.lock"

	// CritiquesDir holds verdict files.
	CritiquesDir = "critiques"

	// TracesDir holds trace records.
	TracesDir = "traces"

	// ScopeAuditDir holds scope-drift justifications.
	ScopeAuditDir = "scope_audit"
)

// Layout resolves every path the engine reads or writes.
type Layout struct {
	// Root is the repository working tree root.
	Root string

	// Base is the state directory (e.g. <root>/.repo).
	Base string
}

// NewLayout returns the layout for a repository root. An empty stateDir
// selects DefaultStateDir; a relative one is taken from root.
func NewLayout(root, stateDir string) Layout {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(root, stateDir)
	}
	return Layout{Root: root, Base: stateDir}
}

func (l Layout) PlanPath() string     { return filepath.Join(l.Base, PlanFile) }
func (l Layout) ManifestPath() string { return filepath.Join(l.Base, ManifestFile) }
func (l Layout) PointerPath() string  { return filepath.Join(l.Base, StateDir, PointerFile) }
func (l Layout) HistoryPath() string  { return filepath.Join(l.Base, StateDir, HistoryFile) }
func (l Layout) LockPath() string     { return filepath.Join(l.Base, StateDir, LockFile) }
func (l Layout) CritiquesDir() string { return filepath.Join(l.Base, CritiquesDir) }
func (l Layout) TracesDir() string    { return filepath.Join(l.Base, TracesDir) }

// ScopeAuditPath is the justification file for a phase.
func (l Layout) ScopeAuditPath(phaseID string) string {
	return filepath.Join(l.Base, ScopeAuditDir, phaseID+".md")
}

// Rel returns path relative to the repository root using forward slashes,
// or path unchanged when it is outside the root.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
