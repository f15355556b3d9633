// Package engine wires the plan, state machine, integrity verifier, change
// set, and gate pipeline into the operations the CLI exposes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/gates"
	"github.com/boshu2/phasegate/internal/history"
	"github.com/boshu2/phasegate/internal/integrity"
	"github.com/boshu2/phasegate/internal/lock"
	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/review"
	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/state"
	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/telemetry"
	"github.com/boshu2/phasegate/internal/types"
	"github.com/boshu2/phasegate/internal/verdict"
)

// Version is the engine version checked against a plan's requires
// constraint. Overridden at build time via ldflags.
var Version = "0.1.0"

// Exit codes.
const (
	ExitPass  = 0
	ExitFail  = 1
	ExitError = 2
)

// Options configures an Engine.
type Options struct {
	Root     string
	StateDir string

	// BaseBranch overrides the plan's base_branch for degraded baselines.
	BaseBranch string

	LockTimeout      time.Duration
	LockPollInterval time.Duration
	CommandTimeout   time.Duration
	Concurrency      int

	Reviewer  review.Reviewer
	Telemetry *telemetry.Provider
	Logger    *slog.Logger
}

// Engine runs phase operations against one repository.
type Engine struct {
	opts   Options
	layout storage.Layout
	logger *slog.Logger
}

// New returns an engine for opts.Root.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:   opts,
		layout: storage.NewLayout(opts.Root, opts.StateDir),
		logger: logger.With("component", "engine"),
	}
}

// Layout returns the repository's state layout.
func (e *Engine) Layout() storage.Layout { return e.layout }

// Outcome is the result of one evaluation.
type Outcome struct {
	PhaseID string
	Status  verdict.Status
	Reports []types.GateReport
	Fail    *verdict.Fail
	Pass    *verdict.Pass

	// Changes is the change set the gates saw. It is empty when integrity
	// verification stopped the evaluation first.
	Changes changeset.ChangeSet
}

// ExitCode maps the verdict to the process exit code.
func (o Outcome) ExitCode() int {
	if o.Status == verdict.StatusPass {
		return ExitPass
	}
	return ExitFail
}

// ExitCodeFor maps an operation error to an exit code. A gate refusal (such
// as advancing an unapproved phase) is a failure; anything else is an error.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitPass
	case types.KindOf(err) == types.KindGate:
		return ExitFail
	default:
		return ExitError
	}
}

// LoadPlan reads and validates the roadmap. Any problem is a configuration
// error and nothing is written.
func (e *Engine) LoadPlan() (*plan.Plan, error) {
	path := e.layout.PlanPath()
	p, err := plan.Load(path)
	if err != nil {
		hint := "fix " + e.layout.Rel(path)
		if errors.Is(err, os.ErrNotExist) {
			hint = "create " + e.layout.Rel(path)
		}
		return nil, &types.Error{Kind: types.KindConfiguration, Msg: "load roadmap", Hint: hint, Err: err}
	}
	if verrs := plan.Validate(p, Version); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, types.Errorf(types.KindConfiguration, "invalid roadmap: %s", strings.Join(msgs, "; ")).
			WithHint("fix " + e.layout.Rel(path) + " and run phasectl validate")
	}
	if e.opts.BaseBranch != "" {
		p.BaseBranch = e.opts.BaseBranch
	}
	return p, nil
}

// Machine returns the state machine over p.
func (e *Engine) Machine(p *plan.Plan) *state.Machine {
	return state.NewMachine(e.layout, p, changeset.Git{Dir: e.opts.Root}, e.logger)
}

// Evaluate runs integrity verification and the gate pipeline for the
// current phase and records exactly one verdict.
func (e *Engine) Evaluate(ctx context.Context, phaseID string) (Outcome, error) {
	start := time.Now()
	ctx, span := e.opts.Telemetry.StartSpan(ctx, "evaluate", attribute.String("phase", phaseID))
	defer span.End()

	p, err := e.LoadPlan()
	if err != nil {
		return Outcome{}, err
	}
	m := e.Machine(p)

	// The pointer is read under the lock so a concurrent next cannot move
	// the phase between the check and the verdict write.
	lk, err := e.acquire(ctx, "evaluate "+phaseID)
	if err != nil {
		return Outcome{}, err
	}
	defer e.release(ctx, lk.Path(), lk.Release)

	ptr, err := m.RequireCurrent(phaseID)
	if err != nil {
		return Outcome{}, err
	}
	ph, _ := p.Phase(phaseID)

	var (
		cs       changeset.ChangeSet
		resolved bool
	)
	changes := func() changeset.ChangeSet {
		if !resolved {
			cs = changeset.Resolve(ctx, changeset.Options{
				Root:             e.opts.Root,
				Baseline:         ptr.BaselineRef,
				FallbackBranches: []string{p.BaseBranch},
				IgnorePrefixes:   []string{e.layout.Rel(e.layout.Base)},
				IncludeUntracked: true,
				Logger:           e.logger,
			})
			resolved = true
		}
		return cs
	}

	rep := integrity.Verify(ctx, integrity.Input{
		Root:         e.opts.Root,
		ManifestPath: e.layout.ManifestPath(),
		RoadmapPath:  e.layout.Rel(e.layout.PlanPath()),
		RoadmapHash:  p.Hash,
		Pointer:      *ptr,
		Protected:    p.Protected(),
		Maintenance:  p.IsMaintenancePhase(phaseID),
		ChangedFiles: func() []string { return changes().Files },
		Concurrency:  e.opts.Concurrency,
	})
	if rep.MaintenanceSkip {
		e.logger.InfoContext(ctx, "maintenance phase: manifest sweep and binding skipped", "phase", phaseID)
	}
	if !rep.OK() {
		e.logger.WarnContext(ctx, "integrity verification failed", "phase", phaseID,
			"tampered", rep.Tampered, "issues", len(rep.Issues))
		reports := []types.GateReport{{Gate: types.GateIntegrity, Issues: rep.Issues}}
		out := Outcome{PhaseID: phaseID, Reports: reports}
		return e.finish(ctx, m, out, start)
	}

	out := Outcome{PhaseID: phaseID, Changes: changes()}
	gs := p.GateSet(*ph)
	cls, err := scope.Classify(out.Changes.Files, gs.Scope.Include, gs.Scope.Exclude)
	if err != nil {
		return Outcome{}, types.Wrap(types.KindConfiguration, err, "classify scope for "+phaseID)
	}

	pipeline := gates.Pipeline{Reviewer: e.opts.Reviewer, Logger: e.logger, Telemetry: e.opts.Telemetry}
	out.Reports = pipeline.Run(ctx, &gates.Input{
		Root:          e.opts.Root,
		Phase:         *ph,
		Gates:         gs,
		Changes:       out.Changes,
		Scope:         cls,
		TracesDir:     e.layout.TracesDir(),
		Baseline:      out.Changes.Base,
		Justification: m.Justification(phaseID),
	})
	return e.finish(ctx, m, out, start)
}

// finish writes the verdict for out.Reports and records the evaluation.
func (e *Engine) finish(ctx context.Context, m *state.Machine, out Outcome, start time.Time) (Outcome, error) {
	if gates.BlockingCount(out.Reports) > 0 {
		rec, err := m.Verdicts.WriteFail(out.PhaseID, out.Reports)
		if err != nil {
			return Outcome{}, types.Wrap(types.KindPersistence, err, "write fail verdict")
		}
		out.Status, out.Fail = verdict.StatusFail, &rec
	} else {
		rec, err := m.Verdicts.WritePass(out.PhaseID, out.Reports)
		if err != nil {
			return Outcome{}, types.Wrap(types.KindPersistence, err, "write pass verdict")
		}
		out.Status, out.Pass = verdict.StatusPass, &rec
	}

	detail := map[string]string{"status": string(out.Status)}
	if out.Fail != nil {
		detail["issues"] = fmt.Sprint(out.Fail.TotalIssueCount)
	}
	if out.Changes.Degraded {
		detail["degraded"] = "true"
	}
	if _, err := m.History.Append(history.KindEvaluated, out.PhaseID, detail); err != nil {
		e.logger.WarnContext(ctx, "history append failed", "kind", history.KindEvaluated, "error", err)
	}

	elapsed := time.Since(start)
	e.opts.Telemetry.RecordEvaluation(ctx, out.PhaseID, string(out.Status), elapsed)
	e.logger.InfoContext(ctx, "evaluation complete", "phase", out.PhaseID, "status", out.Status, "elapsed", elapsed)
	return out, nil
}

func (e *Engine) acquire(ctx context.Context, command string) (*lock.Lock, error) {
	path := e.layout.LockPath()
	lk, err := lock.Acquire(ctx, path, lock.Options{
		Timeout:      e.opts.LockTimeout,
		PollInterval: e.opts.LockPollInterval,
		Command:      command,
		Logger:       e.logger,
	})
	switch {
	case err == nil:
		return lk, nil
	case errors.Is(err, types.ErrLockTimeout):
		return nil, &types.Error{
			Kind: types.KindLock,
			Msg:  "acquire " + e.layout.Rel(path),
			Hint: "if no evaluation is running, remove the stale lock with phasectl unlock",
			Err:  err,
		}
	case ctx.Err() != nil:
		return nil, err
	default:
		return nil, types.Wrap(types.KindPersistence, err, "acquire evaluation lock")
	}
}

// Unlock removes the evaluation lock and returns its owner record. It is an
// explicit operator action.
func (e *Engine) Unlock(ctx context.Context) (lock.Owner, error) {
	owner, err := lock.ForceRemove(e.layout.LockPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lock.Owner{}, types.Errorf(types.KindConfiguration, "no evaluation lock at %s", e.layout.Rel(e.layout.LockPath()))
		}
		return lock.Owner{}, types.Wrap(types.KindPersistence, err, "remove evaluation lock")
	}
	ledger := history.NewLedger(e.layout.HistoryPath())
	detail := map[string]string{"owner": owner.ID, "pid": fmt.Sprint(owner.PID)}
	if _, err := ledger.Append(history.KindLockRemoved, "", detail); err != nil {
		e.logger.WarnContext(ctx, "history append failed", "kind", history.KindLockRemoved, "error", err)
	}
	return owner, nil
}
