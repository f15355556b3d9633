package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/boshu2/phasegate/internal/history"
	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/types"
	"github.com/boshu2/phasegate/internal/verdict"
)

// State is derived from the pointer and the verdict files; it is never stored.
type State string

const (
	NoPhaseActive    State = "no-phase-active"
	Active           State = "active"
	AwaitingRevision State = "awaiting-revision"
	Approved         State = "approved"
	Complete         State = "complete"
)

// HeadResolver reports the current commit.
type HeadResolver interface {
	Head(ctx context.Context) (string, error)
}

// Status is a snapshot of the machine.
type Status struct {
	State   State
	Pointer *types.PhasePointer
	Phase   *plan.Phase
	Verdict verdict.Verdict
}

// Machine moves the repository between phases.
type Machine struct {
	Layout   storage.Layout
	Plan     *plan.Plan
	Pointers PointerStore
	Verdicts *verdict.Store
	History  *history.Ledger
	Git      HeadResolver
	Logger   *slog.Logger

	now func() time.Time
}

// NewMachine wires a machine over layout.
func NewMachine(layout storage.Layout, p *plan.Plan, git HeadResolver, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		Layout:   layout,
		Plan:     p,
		Pointers: PointerStore{Path: layout.PointerPath()},
		Verdicts: verdict.NewStore(layout.CritiquesDir()),
		History:  history.NewLedger(layout.HistoryPath()),
		Git:      git,
		Logger:   logger,
		now:      time.Now,
	}
}

// Status derives the current state.
func (m *Machine) Status(ctx context.Context) (Status, error) {
	ptr, err := m.Pointers.Load()
	if err != nil {
		return Status{}, err
	}
	if ptr == nil {
		return Status{State: NoPhaseActive}, nil
	}
	if ptr.Completed {
		return Status{State: Complete, Pointer: ptr}, nil
	}

	st := Status{State: Active, Pointer: ptr}
	if ph, ok := m.Plan.Phase(ptr.PhaseID); ok {
		st.Phase = ph
	}
	v, err := m.Verdicts.Load(ptr.PhaseID)
	switch {
	case errors.Is(err, verdict.ErrNoVerdict):
	case err != nil:
		return Status{}, types.Wrap(types.KindPersistence, err, "read verdict")
	case v.Status == verdict.StatusPass:
		st.State, st.Verdict = Approved, v
	default:
		st.State, st.Verdict = AwaitingRevision, v
	}
	return st, nil
}

// Start makes phaseID current with a freshly pinned baseline. It is allowed
// only when no phase is active or the plan is complete.
func (m *Machine) Start(ctx context.Context, phaseID string) (*types.PhasePointer, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st.State != NoPhaseActive && st.State != Complete {
		return nil, types.Errorf(types.KindConfiguration, "phase %s is %s; cannot start %s", st.Pointer.PhaseID, st.State, phaseID).
			WithHint("finish it with phasectl review " + st.Pointer.PhaseID + " and phasectl next")
	}
	ptr, err := m.begin(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	m.record(ctx, history.KindStarted, ptr)
	return ptr, nil
}

// Advance moves past an approved phase: the next phase becomes current, or
// the plan becomes complete when none remain. The returned status is the new
// state.
func (m *Machine) Advance(ctx context.Context) (Status, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	switch st.State {
	case NoPhaseActive:
		return Status{}, &types.Error{
			Kind: types.KindConfiguration,
			Msg:  "advance",
			Hint: "start one with phasectl start <phase>",
			Err:  types.ErrNoActivePhase,
		}
	case Complete:
		return Status{}, types.Errorf(types.KindConfiguration, "plan is complete; nothing to advance")
	case Active, AwaitingRevision:
		id := st.Pointer.PhaseID
		return Status{}, &types.Error{
			Kind: types.KindGate,
			Msg:  fmt.Sprintf("cannot advance %s (%s)", id, st.State),
			Hint: "run phasectl review " + id + " until it passes",
			Err:  types.ErrNotApproved,
		}
	}

	current := st.Pointer.PhaseID
	if st.Phase == nil {
		return Status{}, m.unknownPhase(current)
	}
	next, ok := m.Plan.Next(current)
	if !ok {
		done := types.PhasePointer{
			RoadmapHash:  m.Plan.Hash,
			ManifestHash: m.manifestHash(),
			StartedAt:    m.now().UTC(),
			Completed:    true,
		}
		if err := m.Pointers.Save(done); err != nil {
			return Status{}, err
		}
		m.record(ctx, history.KindCompleted, &types.PhasePointer{PhaseID: current})
		return Status{State: Complete, Pointer: &done}, nil
	}

	ptr, err := m.begin(ctx, next.ID)
	if err != nil {
		return Status{}, err
	}
	m.record(ctx, history.KindAdvanced, ptr)
	return Status{State: Active, Pointer: ptr, Phase: next}, nil
}

// RequireCurrent returns the pointer when phaseID is the active phase.
func (m *Machine) RequireCurrent(phaseID string) (*types.PhasePointer, error) {
	if _, ok := m.Plan.Phase(phaseID); !ok {
		return nil, m.unknownPhase(phaseID)
	}
	ptr, err := m.Pointers.Load()
	if err != nil {
		return nil, err
	}
	if ptr == nil || ptr.Completed {
		return nil, &types.Error{
			Kind: types.KindConfiguration,
			Msg:  "evaluate " + phaseID,
			Hint: "start it with phasectl start " + phaseID,
			Err:  types.ErrNoActivePhase,
		}
	}
	if ptr.PhaseID != phaseID {
		return nil, &types.Error{
			Kind: types.KindConfiguration,
			Msg:  fmt.Sprintf("%s requested but %s is current", phaseID, ptr.PhaseID),
			Hint: "run phasectl review " + ptr.PhaseID,
			Err:  types.ErrPhaseNotCurrent,
		}
	}
	return ptr, nil
}

func (m *Machine) begin(ctx context.Context, phaseID string) (*types.PhasePointer, error) {
	ph, ok := m.Plan.Phase(phaseID)
	if !ok {
		return nil, m.unknownPhase(phaseID)
	}

	ptr := types.PhasePointer{
		PhaseID:      ph.ID,
		BriefPath:    ph.BriefPath(m.Layout.Rel(m.Layout.Base)),
		BaselineMode: types.BaselinePinned,
		RoadmapHash:  m.Plan.Hash,
		ManifestHash: m.manifestHash(),
		StartedAt:    m.now().UTC(),
	}
	head, err := m.Git.Head(ctx)
	if err != nil {
		m.Logger.WarnContext(ctx, "could not pin baseline; change detection will use the merge-base",
			"phase", ph.ID, "error", err)
		ptr.BaselineMode = types.BaselineUnknown
	} else {
		ptr.BaselineRef = head
	}

	if err := m.Verdicts.Clear(ph.ID); err != nil {
		return nil, types.Wrap(types.KindPersistence, err, "clear stale verdict")
	}
	if err := m.ClearJustification(ph.ID); err != nil {
		return nil, types.Wrap(types.KindPersistence, err, "clear stale justification")
	}
	if err := m.Pointers.Save(ptr); err != nil {
		return nil, err
	}
	m.Logger.InfoContext(ctx, "phase started", "phase", ph.ID, "baseline", ptr.BaselineRef, "mode", ptr.BaselineMode)
	return &ptr, nil
}

func (m *Machine) unknownPhase(id string) error {
	return &types.Error{
		Kind: types.KindConfiguration,
		Msg:  id,
		Hint: "check the phase ids in " + m.Layout.Rel(m.Layout.PlanPath()),
		Err:  types.ErrUnknownPhase,
	}
}

func (m *Machine) manifestHash() string {
	h, err := plan.HashFile(m.Layout.ManifestPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.Logger.Warn("could not hash integrity manifest", "error", err)
	}
	return h
}

// record appends to the ledger. Ledger failures are logged, never fatal.
func (m *Machine) record(ctx context.Context, kind history.Kind, ptr *types.PhasePointer) {
	detail := map[string]string{}
	if ptr.BaselineRef != "" {
		detail["baseline"] = ptr.BaselineRef
	}
	if _, err := m.History.Append(kind, ptr.PhaseID, detail); err != nil {
		m.Logger.WarnContext(ctx, "history append failed", "kind", kind, "error", err)
	}
}
