package gates

import (
	"context"
	"fmt"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/scope"
	"github.com/boshu2/phasegate/internal/types"
)

// checkScope reports forbidden files first, then out-of-scope drift beyond
// the allowance. A recorded justification turns drift into a warning but
// never excuses a forbidden file.
func (p *Pipeline) checkScope(_ context.Context, in *Input) []types.Issue {
	g := in.Gates.Scope
	var issues []types.Issue

	forbidden, err := scope.CheckForbidden(in.Changes.Files, g.Forbid)
	if err != nil {
		return []types.Issue{fail("invalid forbid pattern: "+err.Error(), "fix drift_rules in plan.yaml")}
	}
	for _, f := range forbidden {
		issues = append(issues, fail("forbidden file changed: "+f, remediation(in, f)))
	}

	if !in.Scope.Declared {
		if len(in.Changes.Files) > 0 {
			issues = append(issues, warn("no scope declared for "+in.Phase.ID+"; drift not checked",
				"add scope.include to "+in.Phase.ID+" in plan.yaml"))
		}
		return issues
	}

	out := in.Scope.OutOfScope
	if len(out) <= g.AllowedOutOfScope {
		return issues
	}

	if in.Justification != "" {
		issues = append(issues, warn(
			fmt.Sprintf("%d out-of-scope files justified", len(out)),
			"see "+in.Justification))
		return issues
	}

	issues = append(issues, fail(
		fmt.Sprintf("out-of-scope changes: %d files, %d allowed", len(out), g.AllowedOutOfScope),
		fmt.Sprintf("revert the files below or %s justify-scope %s", CLIName, in.Phase.ID)))
	for _, f := range out {
		origin := in.Changes.OriginOf(f)
		msg := "out of scope: " + f
		if origin != "" {
			msg += " (" + string(origin) + ")"
		}
		issues = append(issues, fail(msg, remediation(in, f)))
	}
	return issues
}

// remediation is the command that undoes a change, by how it entered the set.
func remediation(in *Input, f string) string {
	switch in.Changes.OriginOf(f) {
	case changeset.OriginCommitted:
		base := in.Baseline
		if base == "" {
			base = in.Changes.Base
		}
		if base != "" {
			return fmt.Sprintf("git checkout %s -- %s", base, f)
		}
		return "git revert the commit that changed " + f
	case changeset.OriginUntracked:
		return "rm " + f
	default:
		return "git restore --staged --worktree -- " + f
	}
}
