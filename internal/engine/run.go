package engine

import (
	"context"
	"fmt"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/trace"
	"github.com/boshu2/phasegate/internal/types"
)

// Trace groups accepted by RunTraces.
const (
	RunTests = "tests"
	RunLint  = "lint"
)

// RunTraces runs the commands behind the tests and/or lint gates of the
// current phase and records their traces. It runs outside the evaluation
// lock. A group whose gate is disabled falls back to the plan-level command
// so operators can still run it by hand.
func (e *Engine) RunTraces(ctx context.Context, phaseID string, groups ...string) ([]trace.Record, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return nil, err
	}
	ptr, err := e.Machine(p).RequireCurrent(phaseID)
	if err != nil {
		return nil, err
	}
	ph, _ := p.Phase(phaseID)
	gs := p.GateSet(*ph)

	type job struct {
		req  plan.TraceRequirement
		keep func(string) bool
	}
	var jobs []job
	for _, g := range groups {
		switch g {
		case RunTests:
			for _, req := range traceRequirements(gs.Tests, plan.TraceTests, p.TestCommand) {
				jobs = append(jobs, job{req, trace.IsTestFile})
			}
		case RunLint:
			for _, req := range traceRequirements(gs.Lint, plan.TraceLint, p.LintCommand) {
				jobs = append(jobs, job{req, trace.IsLintable})
			}
		default:
			return nil, types.Errorf(types.KindConfiguration, "unknown trace %q", g).
				WithHint("use one of: tests, lint")
		}
	}

	var inScope []string
	for _, j := range jobs {
		if j.req.ScopeMode == plan.ScopeModeScope {
			inScope, err = e.inScopeFiles(ctx, p, *ptr, gs)
			if err != nil {
				return nil, err
			}
			break
		}
	}

	runner := &trace.Runner{
		Dir:       e.opts.Root,
		TracesDir: e.layout.TracesDir(),
		Timeout:   e.opts.CommandTimeout,
		Logger:    e.logger,
	}
	records := make([]trace.Record, 0, len(jobs))
	for _, j := range jobs {
		argv := trace.ScopedArgv(j.req.Command.Argv, inScope, j.req.ScopeMode, j.keep)
		rec, err := runner.Run(ctx, j.req.Name, argv)
		if err != nil {
			return records, types.Wrap(types.KindPersistence, err, fmt.Sprintf("write %s trace", j.req.Name))
		}
		if rec.ToolMissing {
			e.logger.WarnContext(ctx, "tooling unavailable", "trace", j.req.Name, "stderr", rec.Stderr)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Review runs the traces the phase's enabled gates consume, then evaluates.
func (e *Engine) Review(ctx context.Context, phaseID string) (Outcome, []trace.Record, error) {
	p, err := e.LoadPlan()
	if err != nil {
		return Outcome{}, nil, err
	}
	if _, err := e.Machine(p).RequireCurrent(phaseID); err != nil {
		return Outcome{}, nil, err
	}
	ph, _ := p.Phase(phaseID)
	gs := p.GateSet(*ph)

	var groups []string
	if gs.Tests.Enabled {
		groups = append(groups, RunTests)
	}
	if gs.Lint.Enabled {
		groups = append(groups, RunLint)
	}
	var records []trace.Record
	if len(groups) > 0 {
		records, err = e.RunTraces(ctx, phaseID, groups...)
		if err != nil {
			return Outcome{}, records, err
		}
	}
	out, err := e.Evaluate(ctx, phaseID)
	return out, records, err
}

func traceRequirements(g plan.TraceGate, name string, fallback plan.Command) []plan.TraceRequirement {
	if g.Enabled {
		return g.Traces
	}
	return []plan.TraceRequirement{{Name: name, Command: fallback, ScopeMode: plan.ScopeModeAll}}
}

func (e *Engine) inScopeFiles(ctx context.Context, p *plan.Plan, ptr types.PhasePointer, gs plan.GateSet) ([]string, error) {
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
		return nil, types.Wrap(types.KindConfiguration, err, "classify scope")
	}
	return cls.InScope, nil
}
