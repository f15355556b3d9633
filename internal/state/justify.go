package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/boshu2/phasegate/internal/history"
	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/types"
)

// Justification returns the repository-relative path of the recorded scope
// justification for phaseID, or "" if there is none.
func (m *Machine) Justification(phaseID string) string {
	path := m.Layout.ScopeAuditPath(phaseID)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return ""
	}
	return m.Layout.Rel(path)
}

// Justify records why the listed out-of-scope files were necessary. It
// overwrites any earlier justification for the phase.
func (m *Machine) Justify(ctx context.Context, phaseID, reason string, outOfScope []string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", types.Errorf(types.KindConfiguration, "empty justification for %s", phaseID).
			WithHint("explain on stdin why the out-of-scope changes are needed")
	}
	if _, err := m.RequireCurrent(phaseID); err != nil {
		return "", err
	}

	path := m.Layout.ScopeAuditPath(phaseID)
	err := storage.AtomicWrite(path, func(w io.Writer) error {
		return renderJustification(w, phaseID, reason, outOfScope, m.now().UTC())
	})
	if err != nil {
		return "", types.Wrap(types.KindPersistence, err, "write scope justification")
	}

	detail := map[string]string{"files": fmt.Sprint(len(outOfScope))}
	if _, err := m.History.Append(history.KindScopeJustify, phaseID, detail); err != nil {
		m.Logger.WarnContext(ctx, "history append failed", "kind", history.KindScopeJustify, "error", err)
	}
	return m.Layout.Rel(path), nil
}

func renderJustification(w io.Writer, phaseID, reason string, files []string, at time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Scope Drift Justification: %s\n\n", phaseID)
	fmt.Fprintf(&b, "**Date:** %s\n\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Out-of-Scope Files (%d)\n\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	fmt.Fprintf(&b, "\n## Justification\n\n%s\n", reason)
	_, err := io.WriteString(w, b.String())
	return err
}

// ClearJustification removes the recorded justification for phaseID.
func (m *Machine) ClearJustification(phaseID string) error {
	err := os.Remove(m.Layout.ScopeAuditPath(phaseID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
