package scope

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		file    string
		want    bool
	}{
		{"src/**/*.py", "src/a/b/c/file.py", true},
		{"src/**/*.py", "src/file.py", true},
		{"src/*.py", "src/a/b/c/file.py", false},
		{"src/*.py", "src/file.py", true},
		{"src/**", "src/deep/nested/x.go", true},
		{"src/**", "srcx/a.go", false},
		{"*.env", "config/prod.env", true},
		{"*.env", "prod.env", true},
		{"README.md", "docs/README.md", true},
		{"/README.md", "docs/README.md", false},
		{"/README.md", "README.md", true},
		{"docs/", "docs/guide/intro.md", true},
		{"docs/", "src/docs.go", false},
		{"vendor", "vendor/pkg/a.go", true},
		{"tests/**", "src/tests.py", false},
		{"src/*.py", "./src/a.py", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.file))
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	for _, p := range []string{"", "   ", "/", "src/[a"} {
		_, err := Compile(p)
		assert.Error(t, err, "pattern %q", p)
	}
	assert.Error(t, Validate([]string{"src/**", "src/[a"}))
	assert.NoError(t, Validate([]string{"src/**", "*.md"}))
}

func TestClassify(t *testing.T) {
	files := []string{"src/a.py", "README.md", "src/gen/out.py", "tests/t.py"}

	c, err := Classify(files, []string{"src/**", "tests/**"}, []string{"src/gen/**"})
	require.NoError(t, err)
	assert.True(t, c.Declared)
	assert.Equal(t, []string{"src/a.py", "tests/t.py"}, c.InScope)
	assert.Equal(t, []string{"README.md", "src/gen/out.py"}, c.OutOfScope)
}

func TestClassify_NoIncludeMeansUndeclared(t *testing.T) {
	files := []string{"a.go", "b.go"}
	c, err := Classify(files, nil, []string{"b.go"})
	require.NoError(t, err)
	assert.False(t, c.Declared)
	assert.Equal(t, files, c.InScope)
	assert.Empty(t, c.OutOfScope)
}

func TestClassify_InvalidPattern(t *testing.T) {
	_, err := Classify([]string{"a"}, []string{"[x"}, nil)
	assert.Error(t, err)
	_, err = Classify([]string{"a"}, []string{"a"}, []string{"[x"})
	assert.Error(t, err)
}

func TestCheckForbidden(t *testing.T) {
	files := []string{"src/a.py", ".env", "config/secrets.env", "infra/main.tf"}
	hits, err := CheckForbidden(files, []string{"*.env", "infra/"})
	require.NoError(t, err)
	assert.Equal(t, []string{".env", "config/secrets.env", "infra/main.tf"}, hits)

	hits, err = CheckForbidden(files, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

var (
	pathPool = []string{
		"src/a.py", "src/b/c.py", "src/b/d/e.go", "README.md", "docs/guide.md",
		"tests/test_a.py", ".env", "config/prod.env", "Makefile", "lib/x/y/z.ts",
	}
	patternPool = []string{
		"src/**", "*.py", "docs/", "/README.md", "tests/**/*.py", "*.env",
		"lib/*", "src/*.py", "**/d/**", "Makefile",
	}
)

func pick(pool []string) gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(pool)-1)).Map(func(idx []int) []string {
		out := make([]string, len(idx))
		for i, n := range idx {
			out[i] = pool[n]
		}
		return out
	})
}

func TestClassify_PartitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("classify is an exhaustive, disjoint partition", prop.ForAll(
		func(files, include, exclude []string) bool {
			c, err := Classify(files, include, exclude)
			if err != nil {
				return false
			}
			if len(c.InScope)+len(c.OutOfScope) != len(files) {
				return false
			}
			counts := make(map[string]int)
			for _, f := range files {
				counts[f]++
			}
			for _, f := range append(append([]string{}, c.InScope...), c.OutOfScope...) {
				counts[f]--
			}
			for _, n := range counts {
				if n != 0 {
					return false
				}
			}
			in := make(map[string]bool)
			for _, f := range c.InScope {
				in[f] = true
			}
			for _, f := range c.OutOfScope {
				if in[f] {
					return false
				}
			}
			return true
		},
		pick(pathPool), pick(patternPool), pick(patternPool),
	))

	properties.Property("forbidden files are a subset of the input", prop.ForAll(
		func(files, forbid []string) bool {
			hits, err := CheckForbidden(files, forbid)
			if err != nil {
				return false
			}
			set := make(map[string]bool)
			for _, f := range files {
				set[f] = true
			}
			for _, h := range hits {
				if !set[h] {
					return false
				}
			}
			return len(hits) <= len(files)
		},
		pick(pathPool), pick(patternPool),
	))

	properties.TestingRun(t)
}
