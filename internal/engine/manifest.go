package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/history"
	"github.com/boshu2/phasegate/internal/integrity"
	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/state"
	"github.com/boshu2/phasegate/internal/types"
)

// ManifestRequest selects what GenerateManifest covers.
type ManifestRequest struct {
	// Entrypoint is the engine entry point. Empty reuses the entry point of
	// the existing manifest.
	Entrypoint string
	// Patterns are extra paths or globs, added to the plan's protected globs.
	Patterns []string
}

// GenerateManifest hashes the protected files and writes the manifest. It
// is refused while a non-maintenance phase is active, since that would
// silently rebind the phase.
func (e *Engine) GenerateManifest(ctx context.Context, req ManifestRequest) (*integrity.Manifest, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return nil, err
	}
	st, err := e.Machine(p).Status(ctx)
	if err != nil {
		return nil, err
	}
	if (st.State != state.NoPhaseActive && st.State != state.Complete) && !p.IsMaintenancePhase(st.Pointer.PhaseID) {
		return nil, types.Errorf(types.KindConfiguration, "phase %s is not a maintenance phase", st.Pointer.PhaseID).
			WithHint("regenerate the manifest before phasectl start or in a phase listed in protocol_lock.allow_in_phases")
	}

	entry := req.Entrypoint
	if entry == "" {
		if prev, err := integrity.LoadManifest(e.layout.ManifestPath()); err == nil {
			entry = prev.Entrypoint
		}
	}
	if entry == "" {
		return nil, types.Errorf(types.KindConfiguration, "no engine entry point").
			WithHint("pass --entrypoint or set manifest.entrypoint in .phasegate/config.yaml")
	}

	patterns := append(append([]string{}, p.Protected()...), req.Patterns...)
	files, err := e.expand(ctx, patterns)
	if err != nil {
		return nil, err
	}

	m, err := integrity.Generate(ctx, e.opts.Root, entry, files, e.opts.Concurrency)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.Wrap(types.KindConfiguration, err, "generate manifest")
		}
		return nil, types.Wrap(types.KindPersistence, err, "generate manifest")
	}
	if err := m.Save(e.layout.ManifestPath()); err != nil {
		return nil, types.Wrap(types.KindPersistence, err, "write manifest")
	}

	phaseID := ""
	if st.Pointer != nil {
		phaseID = st.Pointer.PhaseID
	}
	detail := map[string]string{"files": fmt.Sprint(len(m.Files)), "entrypoint": m.Entrypoint}
	if _, err := history.NewLedger(e.layout.HistoryPath()).Append(history.KindManifestWrite, phaseID, detail); err != nil {
		e.logger.WarnContext(ctx, "history append failed", "kind", history.KindManifestWrite, "error", err)
	}
	e.logger.InfoContext(ctx, "manifest generated", "files", len(m.Files), "entrypoint", m.Entrypoint)
	return m, nil
}

// VerifyManifest runs the self-check and, if it passes, the manifest sweep.
// It does not consult the phase binding.
func (e *Engine) VerifyManifest(ctx context.Context) ([]types.Issue, error) {
	m, err := integrity.LoadManifest(e.layout.ManifestPath())
	if err != nil {
		if errors.Is(err, integrity.ErrManifestMissing) {
			return nil, types.Wrap(types.KindConfiguration, err, "verify manifest")
		}
		return nil, types.Wrap(types.KindIntegrity, err, "verify manifest")
	}
	if issues := integrity.SelfCheck(e.opts.Root, m); len(issues) > 0 {
		return issues, nil
	}
	return integrity.SweepManifest(ctx, e.opts.Root, m, e.opts.Concurrency), nil
}

// expand resolves patterns to existing repository files. Plain paths are
// kept as given; globs match tracked files, or the working tree when git is
// unavailable.
func (e *Engine) expand(ctx context.Context, patterns []string) ([]string, error) {
	var literal, globs []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.ContainsAny(p, "*?[") || strings.HasSuffix(p, "/"):
			globs = append(globs, p)
		default:
			literal = append(literal, strings.TrimPrefix(filepath.ToSlash(p), "/"))
		}
	}
	if err := scope.Validate(globs); err != nil {
		return nil, types.Wrap(types.KindConfiguration, err, "manifest patterns")
	}

	set := make(map[string]bool)
	for _, f := range literal {
		set[f] = true
	}
	if len(globs) > 0 {
		candidates, err := e.repoFiles(ctx)
		if err != nil {
			return nil, types.Wrap(types.KindPersistence, err, "list repository files")
		}
		stateRel := e.layout.Rel(e.layout.Base)
		for _, f := range candidates {
			if f == stateRel || strings.HasPrefix(f, stateRel+"/") {
				continue
			}
			if scope.MatchAny(globs, f) {
				set[f] = true
			}
		}
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) repoFiles(ctx context.Context) ([]string, error) {
	git := changeset.Git{Dir: e.opts.Root}
	if files, err := git.Lines(ctx, "ls-files", "--cached", "--others", "--exclude-standard"); err == nil {
		return files, nil
	}
	var files []string
	err := filepath.WalkDir(e.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			files = append(files, e.layout.Rel(path))
		}
		return nil
	})
	return files, err
}
