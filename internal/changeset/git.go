package changeset

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultGitTimeout bounds each git invocation.
const DefaultGitTimeout = 30 * time.Second

// Git runs git subcommands in a fixed working tree.
type Git struct {
	Dir     string
	Timeout time.Duration
}

// Run executes git with args and returns trimmed stdout.
func (g Git) Run(ctx context.Context, args ...string) (string, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// quotepath=off keeps non-ASCII paths unescaped in name-only output.
	cmd := exec.CommandContext(ctx, "git", append([]string{"-c", "core.quotepath=off"}, args...)...)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), timeout)
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Lines runs git and splits stdout into non-empty lines.
func (g Git) Lines(ctx context.Context, args ...string) ([]string, error) {
	out, err := g.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Head resolves HEAD to a full commit id.
func (g Git) Head(ctx context.Context) (string, error) {
	return g.Run(ctx, "rev-parse", "--verify", "HEAD^{commit}")
}

// CommitExists reports whether ref resolves to a commit.
func (g Git) CommitExists(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}
	_, err := g.Run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// MergeBase returns the merge base of HEAD and the first branch that resolves.
func (g Git) MergeBase(ctx context.Context, branches ...string) (string, string, error) {
	var lastErr error
	for _, b := range branches {
		if b == "" {
			continue
		}
		base, err := g.Run(ctx, "merge-base", "HEAD", b)
		if err == nil && base != "" {
			return base, b, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no fallback branch configured")
	}
	return "", "", lastErr
}

// Toplevel returns the repository root containing dir.
func Toplevel(ctx context.Context, dir string) (string, error) {
	return Git{Dir: dir}.Run(ctx, "rev-parse", "--show-toplevel")
}
