package state

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/phasegate/internal/history"
	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/types"
)

const twoPhases = `plan:
  id: demo
  phases:
    - id: P1
      description: first
    - id: P2
      description: second
`

type fakeGit struct {
	head string
	err  error
}

func (g fakeGit) Head(context.Context) (string, error) { return g.head, g.err }

func newMachine(t *testing.T, git HeadResolver) *Machine {
	t.Helper()
	p, err := plan.Parse("plan.yaml", []byte(twoPhases))
	require.NoError(t, err)
	m := NewMachine(storage.NewLayout(t.TempDir(), ""), p, git, nil)
	m.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return m
}

func passReports() []types.GateReport {
	return []types.GateReport{{Gate: types.GateArtifacts}}
}

func failReports() []types.GateReport {
	return []types.GateReport{{Gate: types.GateArtifacts, Issues: []types.Issue{
		{Message: "missing required artifact: x", Hint: "create x", Severity: types.SeverityError},
	}}}
}

func TestStartPinsBaseline(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, fakeGit{head: "deadbeef"})

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoPhaseActive, st.State)

	ptr, err := m.Start(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", ptr.PhaseID)
	assert.Equal(t, "deadbeef", ptr.BaselineRef)
	assert.Equal(t, types.BaselinePinned, ptr.BaselineMode)
	assert.Equal(t, m.Plan.Hash, ptr.RoadmapHash)
	assert.Equal(t, ".repo/briefs/P1.md", ptr.BriefPath)

	loaded, err := m.Pointers.Load()
	require.NoError(t, err)
	assert.Equal(t, *ptr, *loaded)

	st, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Active, st.State)
	require.NotNil(t, st.Phase)
	assert.Equal(t, "first", st.Phase.Description)
}

func TestStart_UnknownBaseline(t *testing.T) {
	m := newMachine(t, fakeGit{err: errors.New("not a git repository")})
	ptr, err := m.Start(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, types.BaselineUnknown, ptr.BaselineMode)
	assert.Empty(t, ptr.BaselineRef)
}

func TestStart_Errors(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, fakeGit{head: "abc"})

	_, err := m.Start(ctx, "P9")
	assert.ErrorIs(t, err, types.ErrUnknownPhase)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))

	_, err = m.Start(ctx, "P1")
	require.NoError(t, err)
	_, err = m.Start(ctx, "P2")
	require.Error(t, err, "start while a phase is active")
	assert.Contains(t, err.Error(), "phasectl review P1")
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, fakeGit{head: "abc"})

	_, err := m.Advance(ctx)
	assert.ErrorIs(t, err, types.ErrNoActivePhase)

	_, err = m.Start(ctx, "P1")
	require.NoError(t, err)

	_, err = m.Advance(ctx)
	assert.ErrorIs(t, err, types.ErrNotApproved, "active phase cannot advance")

	_, err = m.Verdicts.WriteFail("P1", failReports())
	require.NoError(t, err)
	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingRevision, st.State)
	_, err = m.Advance(ctx)
	assert.ErrorIs(t, err, types.ErrNotApproved)

	_, err = m.Verdicts.WritePass("P1", passReports())
	require.NoError(t, err)
	st, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Approved, st.State)

	st, err = m.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Active, st.State)
	assert.Equal(t, "P2", st.Pointer.PhaseID)

	_, err = m.Verdicts.WritePass("P2", passReports())
	require.NoError(t, err)
	st, err = m.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Complete, st.State)

	_, err = m.Advance(ctx)
	assert.Error(t, err)

	events, err := m.History.List("", 0)
	require.NoError(t, err)
	kinds := make([]history.Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []history.Kind{history.KindStarted, history.KindAdvanced, history.KindCompleted}, kinds)
}

func TestRestartFromComplete(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, fakeGit{head: "abc"})
	require.NoError(t, m.Pointers.Save(types.PhasePointer{Completed: true}))

	_, err := m.Start(ctx, "P1")
	require.NoError(t, err)
	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Active, st.State, "a restart begins with no verdict")
}

func TestRequireCurrent(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, fakeGit{head: "abc"})

	_, err := m.RequireCurrent("P1")
	assert.ErrorIs(t, err, types.ErrNoActivePhase)

	_, err = m.Start(ctx, "P1")
	require.NoError(t, err)

	_, err = m.RequireCurrent("P2")
	assert.ErrorIs(t, err, types.ErrPhaseNotCurrent)
	_, err = m.RequireCurrent("nope")
	assert.ErrorIs(t, err, types.ErrUnknownPhase)

	ptr, err := m.RequireCurrent("P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", ptr.PhaseID)
}

func TestJustify(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, fakeGit{head: "abc"})
	_, err := m.Start(ctx, "P1")
	require.NoError(t, err)

	assert.Empty(t, m.Justification("P1"))

	_, err = m.Justify(ctx, "P1", "   ", nil)
	assert.Error(t, err)

	rel, err := m.Justify(ctx, "P1", "shared config needed a new key", []string{"README.md", "config.yaml"})
	require.NoError(t, err)
	assert.Equal(t, ".repo/scope_audit/P1.md", rel)
	assert.Equal(t, rel, m.Justification("P1"))

	data, err := os.ReadFile(m.Layout.ScopeAuditPath("P1"))
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.HasPrefix(body, "# Scope Drift Justification: P1\n"))
	assert.Contains(t, body, "**Date:** 2026-02-01T00:00:00Z")
	assert.Contains(t, body, "## Out-of-Scope Files (2)")
	assert.Contains(t, body, "- `README.md`")
	assert.Contains(t, body, "## Justification\n\nshared config needed a new key\n")

	_, err = m.Justify(ctx, "P2", "reason", nil)
	assert.ErrorIs(t, err, types.ErrPhaseNotCurrent)
}
