package gates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/trace"
	"github.com/boshu2/phasegate/internal/types"
)

// checkArtifacts requires every declared path to exist and be non-empty.
// A directory counts as non-empty when it has at least one entry.
func (p *Pipeline) checkArtifacts(_ context.Context, in *Input) []types.Issue {
	var issues []types.Issue
	for _, rel := range in.Gates.Artifacts.Paths {
		path := filepath.Join(in.Root, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil {
			issues = append(issues, fail("missing required artifact: "+rel, "create "+rel))
			continue
		}
		if isEmpty(path, info) {
			issues = append(issues, fail("artifact is empty: "+rel, "write content to "+rel))
		}
	}
	return issues
}

func (p *Pipeline) checkTests(_ context.Context, in *Input) []types.Issue {
	return traceIssues(in, in.Gates.Tests)
}

func (p *Pipeline) checkLint(_ context.Context, in *Input) []types.Issue {
	return traceIssues(in, in.Gates.Lint)
}

// traceIssues interprets each required trace. Missing, tool-unavailable,
// failed and unparseable are reported distinctly; AllowSkip downgrades any
// of them to a warning.
func traceIssues(in *Input, g plan.TraceGate) []types.Issue {
	var issues []types.Issue
	for _, req := range g.Traces {
		res := trace.Read(in.TracesDir, req.Name)
		rel := relTo(in.Root, res.Path)
		label := traceLabel(req.Name)

		var issue types.Issue
		switch res.Status {
		case trace.StatusPassed:
			continue
		case trace.StatusMissing:
			issue = fail(label+" have not been run yet", fmt.Sprintf("%s run %s", CLIName, req.Name))
		case trace.StatusToolUnavailable:
			tool := "the configured command"
			if len(res.Record.Command) > 0 {
				tool = res.Record.Command[0]
			}
			issue = fail(fmt.Sprintf("tooling unavailable for %s: %s not found", label, tool),
				fmt.Sprintf("install %s or fix the command in plan.yaml, then %s run %s", tool, CLIName, req.Name))
		case trace.StatusFailed:
			msg := fmt.Sprintf("%s failed with exit code %d", label, res.Record.ExitCode)
			if res.Record.TimedOut {
				msg = label + " timed out"
			}
			issue = fail(msg, "see "+rel)
		default:
			issue = fail(fmt.Sprintf("could not parse %s results from trace: %v", label, res.Err),
				fmt.Sprintf("%s run %s", CLIName, req.Name))
		}
		if req.AllowSkip {
			issue.Severity = types.SeverityWarning
			issue.Message += " (allowed to skip)"
		}
		issues = append(issues, issue)
	}
	return issues
}

func traceLabel(name string) string {
	switch name {
	case plan.TraceTestsUnit:
		return "unit tests"
	case plan.TraceTestsIntegration:
		return "integration tests"
	case plan.TraceLint:
		return "lint checks"
	}
	return "tests"
}

// checkDocs requires each doc to exist, be non-empty, and be part of the
// change set. A doc that is a directory is touched when any file under it
// changed. An anchor additionally requires a matching markdown heading.
func (p *Pipeline) checkDocs(_ context.Context, in *Input) []types.Issue {
	var issues []types.Issue
	for _, doc := range in.Gates.Docs.Paths {
		path := filepath.Join(in.Root, filepath.FromSlash(doc.Path))
		info, err := os.Stat(path)
		if err != nil {
			issues = append(issues, fail("documentation not found: "+doc.Path, "create "+doc.Path))
			continue
		}
		if isEmpty(path, info) {
			issues = append(issues, fail("documentation is empty: "+doc.Path, "write content to "+doc.Path))
			continue
		}
		if !touched(in, doc.Path) {
			msg := "documentation not updated: " + doc.Path
			if len(in.Changes.Files) == 0 {
				msg += " (no changed files detected)"
			}
			issues = append(issues, fail(msg, fmt.Sprintf("edit %s as part of %s", doc.Path, in.Phase.ID)))
			continue
		}
		if doc.Anchor != "" && !info.IsDir() {
			ok, err := hasHeading(path, doc.Anchor)
			if err != nil {
				issues = append(issues, fail(fmt.Sprintf("documentation unreadable: %s: %v", doc.Path, err), "check permissions on "+doc.Path))
				continue
			}
			if !ok {
				issues = append(issues, fail(fmt.Sprintf("documentation section missing: %s#%s", doc.Path, doc.Anchor),
					fmt.Sprintf("add a heading containing %q to %s", doc.Anchor, doc.Path)))
			}
		}
	}
	return issues
}

func touched(in *Input, doc string) bool {
	doc = strings.TrimSuffix(doc, "/")
	if in.Changes.Contains(doc) {
		return true
	}
	prefix := doc + "/"
	for _, f := range in.Changes.Files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

// hasHeading reports whether a markdown heading mentions anchor. Hyphens in
// the anchor also match whitespace, so slug-style anchors find their titles.
func hasHeading(path, anchor string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	pat := strings.ReplaceAll(regexp.QuoteMeta(anchor), "-", `[-\s]`)
	re, err := regexp.Compile(`(?im)^#{1,6}\s+.*` + pat)
	if err != nil {
		return false, err
	}
	return re.Match(data), nil
}

func isEmpty(path string, info os.FileInfo) bool {
	if !info.IsDir() {
		return info.Size() == 0
	}
	entries, err := os.ReadDir(path)
	return err != nil || len(entries) == 0
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
