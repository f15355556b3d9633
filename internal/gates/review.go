package gates

import (
	"context"
	"errors"
	"fmt"

	"github.com/boshu2/phasegate/internal/review"
	"github.com/boshu2/phasegate/internal/types"
)

// checkReview sends in-scope changes to the reviewer. A missing credential
// always fails, even with nothing to review; a transport failure follows the
// plan's policy.
func (p *Pipeline) checkReview(ctx context.Context, in *Input) []types.Issue {
	settings := in.Gates.Review.Settings
	rerun := fmt.Sprintf("%s review %s", CLIName, in.Phase.ID)

	if p.Reviewer == nil || !p.Reviewer.Available() {
		return []types.Issue{fail("semantic review enabled but ANTHROPIC_API_KEY is not set",
			"export ANTHROPIC_API_KEY or disable gates.llm_review for "+in.Phase.ID)}
	}

	selected, truncated := review.Select(in.Scope.InScope, settings)
	bundle := review.BuildBundle(in.Root, selected)
	if len(bundle) == 0 {
		return nil
	}

	var issues []types.Issue
	if truncated {
		issues = append(issues, warn(fmt.Sprintf("semantic review limited to first %d files", review.MaxFiles),
			"narrow llm_review_config.include_extensions"))
	}

	verdict, err := p.Reviewer.Review(ctx, review.Request{
		PhaseID:     in.Phase.ID,
		Description: in.Phase.Description,
		Files:       bundle,
		Settings:    settings,
	})
	var transport *review.TransportError
	switch {
	case errors.Is(err, review.ErrCredentialMissing):
		return append(issues, fail("semantic review enabled but ANTHROPIC_API_KEY is not set",
			"export ANTHROPIC_API_KEY or disable gates.llm_review for "+in.Phase.ID))
	case errors.As(err, &transport):
		if settings.FailOnTransportError {
			return append(issues, fail("semantic review unreachable: "+transport.Err.Error(), "retry with "+rerun))
		}
		p.logger().WarnContext(ctx, "semantic review skipped", "phase", in.Phase.ID, "error", err)
		return append(issues, warn("semantic review skipped: "+transport.Err.Error(),
			"retry with "+rerun+" or set llm_review_config.fail_on_transport_error"))
	case err != nil:
		return append(issues, fail("semantic review error: "+err.Error(), "retry with "+rerun))
	}

	if verdict.Approved {
		return issues
	}
	if len(verdict.Issues) == 0 {
		return append(issues, fail("review: changes not approved", "address the feedback, then "+rerun))
	}
	for _, msg := range verdict.Issues {
		issues = append(issues, fail("review: "+msg, "address the feedback, then "+rerun))
	}
	return issues
}
