package trace

import (
	"path"
	"strings"
)

var lintableExt = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".go": true, ".rs": true, ".rb": true, ".php": true, ".swift": true,
}

// IsTestFile reports whether a repository-relative path looks like a test.
func IsTestFile(p string) bool {
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if seg == "test" || seg == "tests" {
			return true
		}
	}
	name := strings.ToLower(path.Base(p))
	return strings.HasPrefix(name, "test_") ||
		strings.HasSuffix(name, "_test.go") ||
		strings.HasSuffix(name, "_test.py") ||
		strings.HasSuffix(name, "_test.ts") ||
		strings.HasSuffix(name, "_test.tsx")
}

// IsLintable reports whether the path has a source extension linters accept.
func IsLintable(p string) bool {
	return lintableExt[strings.ToLower(path.Ext(p))]
}

// ScopedArgv narrows argv to the given in-scope files when mode is "scope".
// Files rejected by keep are dropped; if none remain, argv runs unchanged.
func ScopedArgv(argv []string, files []string, mode string, keep func(string) bool) []string {
	if mode != "scope" || len(files) == 0 {
		return argv
	}
	var selected []string
	for _, f := range files {
		if keep(f) {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		return argv
	}
	out := make([]string, 0, len(argv)+len(selected))
	out = append(out, argv...)
	return append(out, selected...)
}
