package trace

import (
	"reflect"
	"testing"
)

func TestScopedArgv(t *testing.T) {
	base := []string{"pytest", "-q"}
	files := []string{"src/app.py", "tests/test_app.py", "src/util_test.py", "README.md"}

	tests := []struct {
		name string
		mode string
		keep func(string) bool
		want []string
	}{
		{"all mode ignores files", "all", IsTestFile, base},
		{"scope keeps tests", "scope", IsTestFile, []string{"pytest", "-q", "tests/test_app.py", "src/util_test.py"}},
		{"scope keeps lintable", "scope", IsLintable, []string{"pytest", "-q", "src/app.py", "tests/test_app.py", "src/util_test.py"}},
		{"nothing selected runs unchanged", "scope", func(string) bool { return false }, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScopedArgv(base, files, tt.mode, tt.keep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ScopedArgv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTestFile(t *testing.T) {
	cases := map[string]bool{
		"tests/unit/a.py":     true,
		"pkg/scope_test.go":   true,
		"test_main.py":        true,
		"src/main.go":         false,
		"src/testing/util.go": false,
	}
	for p, want := range cases {
		if got := IsTestFile(p); got != want {
			t.Errorf("IsTestFile(%q) = %v, want %v", p, got, want)
		}
	}
}
