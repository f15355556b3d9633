// Package scope classifies changed files against a phase's include, exclude,
// and forbid glob rules.
//
// Patterns follow gitignore (gitwildmatch) conventions:
//
//	**        as a whole segment matches zero or more directories
//	*         matches within one segment and never crosses "/"
//	name      a pattern without "/" matches at any depth
//	dir/      a trailing "/" matches everything beneath dir
//	/path     a leading "/" anchors to the repository root
//
// A pattern that matches a directory also matches everything beneath it.
package scope

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a compiled gitwildmatch pattern.
type Pattern struct {
	raw      string
	variants []string
}

// Compile translates a gitwildmatch pattern into doublestar globs.
func Compile(raw string) (Pattern, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return Pattern{}, fmt.Errorf("empty glob pattern")
	}

	anchored := strings.HasPrefix(p, "/")
	p = strings.TrimPrefix(p, "/")
	dirOnly := strings.HasSuffix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return Pattern{}, fmt.Errorf("glob pattern %q matches nothing", raw)
	}

	if !anchored && !strings.Contains(p, "/") {
		p = "**/" + p
	}

	var variants []string
	switch {
	case dirOnly:
		variants = []string{p + "/**"}
	case strings.HasSuffix(p, "/**"):
		variants = []string{p}
	default:
		variants = []string{p, p + "/**"}
	}

	for _, v := range variants {
		if !doublestar.ValidatePattern(v) {
			return Pattern{}, fmt.Errorf("invalid glob pattern %q", raw)
		}
	}
	return Pattern{raw: raw, variants: variants}, nil
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// Match reports whether the repository-relative path matches the pattern.
func (p Pattern) Match(file string) bool {
	file = normalize(file)
	for _, v := range p.variants {
		if ok, err := doublestar.Match(v, file); err == nil && ok {
			return true
		}
	}
	return false
}

// Set is a compiled list of patterns.
type Set []Pattern

// CompileSet compiles every pattern, failing on the first invalid one.
func CompileSet(raw []string) (Set, error) {
	set := make(Set, 0, len(raw))
	for _, r := range raw {
		p, err := Compile(r)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// Match reports whether any pattern in the set matches file.
func (s Set) Match(file string) bool {
	for _, p := range s {
		if p.Match(file) {
			return true
		}
	}
	return false
}

// Validate returns an error naming the first invalid pattern, if any.
func Validate(patterns []string) error {
	_, err := CompileSet(patterns)
	return err
}

// Match reports whether file matches the single gitwildmatch pattern.
// Invalid patterns never match.
func Match(pattern, file string) bool {
	p, err := Compile(pattern)
	if err != nil {
		return false
	}
	return p.Match(file)
}

// MatchAny reports whether file matches any of the patterns.
func MatchAny(patterns []string, file string) bool {
	for _, p := range patterns {
		if Match(p, file) {
			return true
		}
	}
	return false
}

// Classification is the partition of a change set against include/exclude rules.
type Classification struct {
	// Declared is false when the phase has no include patterns. Callers must
	// treat that as "no scope declared", not "everything out of scope".
	Declared   bool
	InScope    []string
	OutOfScope []string
}

// Classify partitions files. A file is in scope iff it matches at least one
// include pattern and no exclude pattern. With no include patterns every file
// is reported in scope and Declared is false.
func Classify(files, include, exclude []string) (Classification, error) {
	inc, err := CompileSet(include)
	if err != nil {
		return Classification{}, err
	}
	exc, err := CompileSet(exclude)
	if err != nil {
		return Classification{}, err
	}

	c := Classification{Declared: len(inc) > 0}
	for _, f := range files {
		if !c.Declared || (inc.Match(f) && !exc.Match(f)) {
			c.InScope = append(c.InScope, f)
			continue
		}
		c.OutOfScope = append(c.OutOfScope, f)
	}
	sort.Strings(c.InScope)
	sort.Strings(c.OutOfScope)
	return c, nil
}

// CheckForbidden returns the files matching any forbid pattern, independent
// of include/exclude status. The result is always a subset of files.
func CheckForbidden(files, forbid []string) ([]string, error) {
	set, err := CompileSet(forbid)
	if err != nil {
		return nil, err
	}
	var hits []string
	for _, f := range files {
		if set.Match(f) {
			hits = append(hits, f)
		}
	}
	sort.Strings(hits)
	return hits, nil
}

func normalize(file string) string {
	file = strings.ReplaceAll(file, "\\", "/")
	file = strings.TrimPrefix(file, "./")
	if file == "" {
		return file
	}
	return strings.TrimPrefix(path.Clean(file), "/")
}
