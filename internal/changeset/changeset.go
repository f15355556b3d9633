// Package changeset resolves the set of files changed since a phase's pinned
// baseline: committed since the baseline, staged, unstaged, and untracked.
//
// Resolution fails open. Any git failure yields an empty set plus a warning,
// so "no changes detected" and "could not determine changes" are the same
// permissive outcome for callers.
package changeset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Origin records how a file entered the change set. It decides which
// remediation command applies.
type Origin string

const (
	// OriginCommitted files changed in commits after the baseline.
	OriginCommitted Origin = "committed"
	// OriginUncommitted files differ between HEAD and the working tree or index.
	OriginUncommitted Origin = "uncommitted"
	// OriginUntracked files are new and not yet added.
	OriginUntracked Origin = "untracked"
)

// originRank orders origins when a file appears in several sources.
// Restoring to the baseline also discards working-tree edits, so committed wins.
var originRank = map[Origin]int{OriginCommitted: 3, OriginUncommitted: 2, OriginUntracked: 1}

// ChangeSet is the deduplicated set of repository-relative paths.
type ChangeSet struct {
	Files   []string
	Origins map[string]Origin

	// Base is the commit the committed diff was anchored on ("" if none).
	Base string

	// Degraded is set when the pinned baseline was unavailable and the
	// merge-base with the fallback branch was used instead.
	Degraded bool

	Warnings []string
}

// Contains reports whether path is in the set.
func (c ChangeSet) Contains(path string) bool {
	_, ok := c.Origins[path]
	return ok
}

// OriginOf returns how path entered the set.
func (c ChangeSet) OriginOf(path string) Origin {
	return c.Origins[path]
}

// Options configures a resolution.
type Options struct {
	// Root is the repository working tree.
	Root string

	// Baseline is the commit pinned at phase start.
	Baseline string

	// FallbackBranches are tried, in order, for a merge-base when Baseline
	// is empty or no longer resolves.
	FallbackBranches []string

	// IgnorePrefixes drops paths owned by the engine itself (its state dir).
	IgnorePrefixes []string

	// IncludeUntracked adds untracked, non-ignored files.
	IncludeUntracked bool

	Timeout time.Duration
	Logger  *slog.Logger
}

// Resolve computes the change set. It never returns an error.
func Resolve(ctx context.Context, opts Options) ChangeSet {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	git := Git{Dir: opts.Root, Timeout: opts.Timeout}
	cs := ChangeSet{Origins: make(map[string]Origin)}

	failOpen := func(err error) ChangeSet {
		msg := fmt.Sprintf("could not determine changed files, treating as no changes: %v", err)
		logger.WarnContext(ctx, "change set unavailable", "error", err)
		return ChangeSet{Origins: map[string]Origin{}, Warnings: []string{msg}}
	}

	if _, err := git.Head(ctx); err != nil {
		return failOpen(err)
	}

	base := opts.Baseline
	if !git.CommitExists(ctx, base) {
		mb, branch, err := git.MergeBase(ctx, opts.FallbackBranches...)
		if err != nil {
			return failOpen(fmt.Errorf("baseline %q unavailable and no merge-base found: %w", base, err))
		}
		cs.Degraded = true
		cs.Warnings = append(cs.Warnings, fmt.Sprintf(
			"baseline %q unavailable; using merge-base with %s (%s), results may include unrelated changes",
			base, branch, short(mb)))
		logger.WarnContext(ctx, "degraded baseline", "baseline", base, "fallback", branch, "merge_base", mb)
		base = mb
	}
	cs.Base = base

	committed, err := git.Lines(ctx, "diff", "--name-only", base, "HEAD")
	if err != nil {
		return failOpen(err)
	}
	uncommitted, err := git.Lines(ctx, "diff", "--name-only", "HEAD")
	if err != nil {
		return failOpen(err)
	}
	var untracked []string
	if opts.IncludeUntracked {
		untracked, err = git.Lines(ctx, "ls-files", "--others", "--exclude-standard")
		if err != nil {
			return failOpen(err)
		}
	}

	add := func(files []string, origin Origin) {
		for _, f := range files {
			if ignored(f, opts.IgnorePrefixes) {
				continue
			}
			if prev, ok := cs.Origins[f]; ok && originRank[prev] >= originRank[origin] {
				continue
			}
			cs.Origins[f] = origin
		}
	}
	add(committed, OriginCommitted)
	add(uncommitted, OriginUncommitted)
	add(untracked, OriginUntracked)

	cs.Files = make([]string, 0, len(cs.Origins))
	for f := range cs.Origins {
		cs.Files = append(cs.Files, f)
	}
	sort.Strings(cs.Files)

	logger.DebugContext(ctx, "resolved change set",
		"base", base, "files", len(cs.Files), "degraded", cs.Degraded)
	return cs
}

func ignored(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
