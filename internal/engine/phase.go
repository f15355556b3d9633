package engine

import (
	"context"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/history"
	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/state"
	"github.com/boshu2/phasegate/internal/types"
)

// Start makes phaseID current. It holds the evaluation lock so a pointer
// never changes under a running evaluation.
func (e *Engine) Start(ctx context.Context, phaseID string) (*types.PhasePointer, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return nil, err
	}
	lk, err := e.acquire(ctx, "start "+phaseID)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lk.Path(), lk.Release)
	return e.Machine(p).Start(ctx, phaseID)
}

// Advance moves past the approved current phase.
func (e *Engine) Advance(ctx context.Context) (state.Status, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return state.Status{}, err
	}
	lk, err := e.acquire(ctx, "next")
	if err != nil {
		return state.Status{}, err
	}
	defer e.release(ctx, lk.Path(), lk.Release)
	return e.Machine(p).Advance(ctx)
}

// Status derives the current state.
func (e *Engine) Status(ctx context.Context) (state.Status, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return state.Status{}, err
	}
	return e.Machine(p).Status(ctx)
}

// Justify records why the current out-of-scope changes of phaseID are
// needed. The out-of-scope list is computed fresh from the change set.
func (e *Engine) Justify(ctx context.Context, phaseID, reason string) (string, []string, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return "", nil, err
	}
	m := e.Machine(p)
	ptr, err := m.RequireCurrent(phaseID)
	if err != nil {
		return "", nil, err
	}
	ph, _ := p.Phase(phaseID)
	gs := p.GateSet(*ph)

	cs := changeset.Resolve(ctx, changeset.Options{
		Root:             e.opts.Root,
		Baseline:         ptr.BaselineRef,
		FallbackBranches: []string{p.BaseBranch},
		IgnorePrefixes:   []string{e.layout.Rel(e.layout.Base)},
		IncludeUntracked: true,
		Logger:           e.logger,
	})
	cls, err := scope.Classify(cs.Files, gs.Scope.Include, gs.Scope.Exclude)
	if err != nil {
		return "", nil, types.Wrap(types.KindConfiguration, err, "classify scope")
	}
	rel, err := m.Justify(ctx, phaseID, reason, cls.OutOfScope)
	return rel, cls.OutOfScope, err
}

// History returns ledger events, optionally for one phase and limited to the
// most recent limit.
func (e *Engine) History(phaseID string, limit int) ([]history.Event, error) {
	events, err := history.NewLedger(e.layout.HistoryPath()).List(phaseID, limit)
	if err != nil {
		return nil, types.Wrap(types.KindPersistence, err, "read history")
	}
	return events, nil
}

func (e *Engine) release(ctx context.Context, path string, release func() error) {
	if err := release(); err != nil {
		e.logger.WarnContext(ctx, "lock release failed", "path", path, "error", err)
	}
}
