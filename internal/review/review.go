// Package review implements the pluggable semantic review: a bundle of
// in-scope file contents plus the phase description goes to a Reviewer,
// which answers with approval or a list of issues.
package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boshu2/phasegate/internal/plan"
	"github.com/boshu2/phasegate/internal/scope"
)

// Bundle limits.
const (
	MaxFiles    = 10
	MaxFileSize = 50_000
)

// ErrCredentialMissing is returned when the reviewer has no API key.
var ErrCredentialMissing = errors.New("review credential missing")

// TransportError wraps a failure to reach the reviewer. The gate applies the
// plan's transport policy to it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "review transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// File is one bundle entry. Skipped files carry no content.
type File struct {
	Path    string
	Content string
	Size    int64
	Skipped bool
}

// Request is what a Reviewer sees.
type Request struct {
	PhaseID     string
	Description string
	Files       []File
	Settings    plan.ReviewSettings
}

// Verdict is a reviewer's answer.
type Verdict struct {
	Approved bool
	Issues   []string
}

// Reviewer judges a bundle.
type Reviewer interface {
	// Available reports whether the reviewer has a credential. The gate
	// checks it before looking at the bundle.
	Available() bool
	Review(ctx context.Context, req Request) (Verdict, error)
}

// Select filters changed files down to what the reviewer should see:
// matching extension, not excluded, sorted, at most MaxFiles. The second
// return reports whether the list was truncated.
func Select(files []string, s plan.ReviewSettings) ([]string, bool) {
	var out []string
	for _, f := range files {
		if !hasExt(f, s.IncludeExtensions) || scope.MatchAny(s.ExcludePatterns, f) {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	if len(out) > MaxFiles {
		return out[:MaxFiles], true
	}
	return out, false
}

// BuildBundle reads the selected files under root. Unreadable or deleted
// files are dropped; files over MaxFileSize are listed as skipped.
func BuildBundle(root string, files []string) []File {
	var out []File
	for _, rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() > MaxFileSize {
			out = append(out, File{Path: rel, Size: info.Size(), Skipped: true})
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, File{Path: rel, Content: string(data), Size: info.Size()})
	}
	return out
}

// Prompt renders the review request as a single user message.
func Prompt(req Request) string {
	var b strings.Builder
	desc := req.Description
	if desc == "" {
		desc = "No description provided"
	}
	fmt.Fprintf(&b, "You are reviewing code changes for this phase goal:\n\n**Goal:** %s\n\n**Changed files:**\n", desc)
	sep := strings.Repeat("=", 60)
	for _, f := range req.Files {
		if f.Skipped {
			fmt.Fprintf(&b, "\n[%s: Skipped - %dKB exceeds limit]\n", f.Path, f.Size/1024)
			continue
		}
		fmt.Fprintf(&b, "\n%s\nFile: %s\n%s\n%s\n", sep, f.Path, sep, f.Content)
	}
	b.WriteString(`
Review the code against the goal. Check for:
1. Does the code accomplish the stated goal?
2. Are there any obvious bugs or issues?
3. Is the code reasonably clean and maintainable?
4. Any security concerns?

If the code looks good, respond: "APPROVED - Code meets standards"
If there are issues, list each as "- Issue: [specific problem]"

Focus on meaningful problems, not nitpicks.
`)
	return b.String()
}

// ParseReview interprets a reviewer reply. Any mention of APPROVED passes;
// otherwise each "- Issue:" line becomes an issue, and a reply with no such
// lines is returned whole as a single issue.
func ParseReview(text string) Verdict {
	text = strings.TrimSpace(text)
	if strings.Contains(strings.ToUpper(text), "APPROVED") {
		return Verdict{Approved: true}
	}
	var issues []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "- Issue:"); ok {
			issues = append(issues, strings.TrimSpace(rest))
		}
	}
	if len(issues) == 0 {
		issues = []string{"feedback: " + text}
	}
	return Verdict{Issues: issues}
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
