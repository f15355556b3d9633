// Package gates runs the fixed, ordered pipeline of phase checks. Each gate
// reads the shared inputs (phase configuration, change set, scope
// classification) and returns issues; gates never see each other's results.
package gates

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/review"
	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/telemetry"
	"github.com/boshu2/phasegate/internal/types"
)

// CLIName prefixes remediation commands in hints.
const CLIName = "phasectl"

// Input is everything a gate may consume. It is computed once per evaluation.
type Input struct {
	Root      string
	Phase     plan.Phase
	Gates     plan.GateSet
	Changes   changeset.ChangeSet
	Scope     scope.Classification
	TracesDir string

	// Baseline is the commit remediation hints restore committed files to.
	Baseline string

	// Justification is the repository-relative path of a recorded scope
	// justification for this phase, or "" if none exists.
	Justification string
}

type checkFunc func(*Pipeline, context.Context, *Input) []types.Issue

// gateFuncs maps each gate to its check.
var gateFuncs = map[string]checkFunc{
	types.GateArtifacts: (*Pipeline).checkArtifacts,
	types.GateTests:     (*Pipeline).checkTests,
	types.GateLint:      (*Pipeline).checkLint,
	types.GateDocs:      (*Pipeline).checkDocs,
	types.GateScope:     (*Pipeline).checkScope,
	types.GateReview:    (*Pipeline).checkReview,
}

// Pipeline evaluates gates in types.GateOrder.
type Pipeline struct {
	// Reviewer backs the review gate. A nil Reviewer fails the gate closed.
	Reviewer review.Reviewer
	Logger   *slog.Logger

	// Telemetry is optional; nil records nothing.
	Telemetry *telemetry.Provider
}

// Run evaluates every gate in order. Disabled gates produce a skipped report.
// All enabled gates run regardless of earlier failures.
func (p *Pipeline) Run(ctx context.Context, in *Input) []types.GateReport {
	logger := p.logger()
	reports := make([]types.GateReport, 0, len(types.GateOrder))
	for _, name := range types.GateOrder {
		if !enabled(in.Gates, name) {
			reports = append(reports, types.GateReport{Gate: name, Skipped: true})
			continue
		}
		start := time.Now()
		gctx, span := p.Telemetry.StartSpan(ctx, "gate."+name, attribute.String("phase", in.Phase.ID))
		issues := gateFuncs[name](p, gctx, in)
		report := types.GateReport{Gate: name, Issues: issues}
		span.SetAttributes(attribute.Int("issues", len(issues)))
		span.End()
		p.Telemetry.RecordGateIssues(ctx, name, len(report.Blocking()))
		logger.DebugContext(ctx, "gate evaluated", "gate", name, "issues", len(issues), "elapsed", time.Since(start))
		reports = append(reports, report)
	}
	return reports
}

// BlockingCount totals the blocking issues across reports.
func BlockingCount(reports []types.GateReport) int {
	n := 0
	for _, r := range reports {
		n += len(r.Blocking())
	}
	return n
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func enabled(gs plan.GateSet, name string) bool {
	switch name {
	case types.GateArtifacts:
		return gs.Artifacts.Enabled
	case types.GateTests:
		return gs.Tests.Enabled
	case types.GateLint:
		return gs.Lint.Enabled
	case types.GateDocs:
		return gs.Docs.Enabled
	case types.GateScope:
		return gs.Scope.Enabled
	case types.GateReview:
		return gs.Review.Enabled
	}
	return false
}

func fail(msg, hint string) types.Issue {
	return types.Issue{Message: msg, Hint: hint, Severity: types.SeverityError}
}

func warn(msg, hint string) types.Issue {
	return types.Issue{Message: msg, Hint: hint, Severity: types.SeverityWarning}
}
