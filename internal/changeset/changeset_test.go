package changeset

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepo is a throwaway git repository rooted in t.TempDir().
type testRepo struct {
	t   *testing.T
	dir string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := &testRepo{t: t, dir: t.TempDir()}
	r.git("init", "-q", "-b", "main")
	r.git("config", "user.email", "test@example.com")
	r.git("config", "user.name", "Test")
	r.git("config", "commit.gpgsign", "false")
	r.write("README.md", "# project\n")
	r.commit("initial")
	return r
}

func (r *testRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %v: %s", args, out)
	return string(out)
}

func (r *testRepo) write(rel, content string) {
	r.t.Helper()
	path := filepath.Join(r.dir, rel)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

func (r *testRepo) commit(msg string) {
	r.t.Helper()
	r.git("add", "-A")
	r.git("commit", "-q", "-m", msg)
}

func (r *testRepo) head() string {
	r.t.Helper()
	sha, err := Git{Dir: r.dir}.Head(context.Background())
	require.NoError(r.t, err)
	return sha
}

func TestResolve_UnionOfSources(t *testing.T) {
	r := newTestRepo(t)
	baseline := r.head()

	r.write("src/committed.py", "x = 1\n")
	r.commit("phase work")
	r.write("src/staged.py", "y = 2\n")
	r.git("add", "src/staged.py")
	r.write("README.md", "# changed\n")
	r.write("notes/untracked.md", "todo\n")

	cs := Resolve(context.Background(), Options{
		Root:             r.dir,
		Baseline:         baseline,
		IncludeUntracked: true,
	})

	assert.False(t, cs.Degraded)
	assert.Empty(t, cs.Warnings)
	assert.Equal(t, baseline, cs.Base)
	assert.Equal(t, []string{"README.md", "notes/untracked.md", "src/committed.py", "src/staged.py"}, cs.Files)
	assert.Equal(t, OriginCommitted, cs.OriginOf("src/committed.py"))
	assert.Equal(t, OriginUncommitted, cs.OriginOf("src/staged.py"))
	assert.Equal(t, OriginUncommitted, cs.OriginOf("README.md"))
	assert.Equal(t, OriginUntracked, cs.OriginOf("notes/untracked.md"))
}

func TestResolve_CommittedThenEditedKeepsCommittedOrigin(t *testing.T) {
	r := newTestRepo(t)
	baseline := r.head()
	r.write("src/a.py", "1\n")
	r.commit("add a")
	r.write("src/a.py", "2\n")

	cs := Resolve(context.Background(), Options{Root: r.dir, Baseline: baseline})
	assert.Equal(t, []string{"src/a.py"}, cs.Files)
	assert.Equal(t, OriginCommitted, cs.OriginOf("src/a.py"))
}

func TestResolve_IgnoresStateDir(t *testing.T) {
	r := newTestRepo(t)
	baseline := r.head()
	r.write(".repo/critiques/P1.fail.json", "{}\n")
	r.write("src/a.py", "1\n")

	cs := Resolve(context.Background(), Options{
		Root:             r.dir,
		Baseline:         baseline,
		IgnorePrefixes:   []string{".repo/"},
		IncludeUntracked: true,
	})
	assert.Equal(t, []string{"src/a.py"}, cs.Files)
	assert.False(t, cs.Contains(".repo/critiques/P1.fail.json"))
}

func TestResolve_PinnedBaselineIgnoresTrunkAdvance(t *testing.T) {
	r := newTestRepo(t)
	baseline := r.head()

	r.git("checkout", "-q", "-b", "phase")
	r.write("src/a.py", "phase\n")
	r.commit("phase change")

	r.git("checkout", "-q", "main")
	r.write("trunk.txt", "trunk moved on\n")
	r.commit("trunk change")
	r.git("checkout", "-q", "phase")

	cs := Resolve(context.Background(), Options{
		Root:             r.dir,
		Baseline:         baseline,
		FallbackBranches: []string{"main"},
	})
	assert.False(t, cs.Degraded)
	assert.Equal(t, baseline, cs.Base)
	assert.Equal(t, []string{"src/a.py"}, cs.Files)
}

func TestResolve_MissingBaselineDegradesToMergeBase(t *testing.T) {
	r := newTestRepo(t)
	forkPoint := r.head()
	r.git("checkout", "-q", "-b", "phase")
	r.write("src/a.py", "phase\n")
	r.commit("phase change")

	cs := Resolve(context.Background(), Options{
		Root:             r.dir,
		Baseline:         "0000000000000000000000000000000000000000",
		FallbackBranches: []string{"trunk", "main"},
	})
	assert.True(t, cs.Degraded)
	require.Len(t, cs.Warnings, 1)
	assert.Contains(t, cs.Warnings[0], "merge-base with main")
	assert.Equal(t, forkPoint, cs.Base)
	assert.Equal(t, []string{"src/a.py"}, cs.Files)
}

func TestResolve_FailsOpenOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	cs := Resolve(context.Background(), Options{Root: t.TempDir(), Baseline: "HEAD"})
	assert.Empty(t, cs.Files)
	assert.NotEmpty(t, cs.Warnings)
	assert.False(t, cs.Contains("anything"))
}

func TestResolve_Deterministic(t *testing.T) {
	r := newTestRepo(t)
	baseline := r.head()
	r.write("b.txt", "b\n")
	r.write("a.txt", "a\n")
	r.commit("two files")
	r.write("c.txt", "c\n")

	opts := Options{Root: r.dir, Baseline: baseline, IncludeUntracked: true}
	first := Resolve(context.Background(), opts)
	second := Resolve(context.Background(), opts)
	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, first.Origins, second.Origins)
}
