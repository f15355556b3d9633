package verdict

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/phasegate/internal/types"
)

func failingReports() []types.GateReport {
	return []types.GateReport{
		{Gate: types.GateArtifacts, Issues: []types.Issue{
			{Message: "missing required artifact: out.md", Hint: "create out.md", Severity: types.SeverityError},
		}},
		{Gate: types.GateTests, Skipped: true},
		{Gate: types.GateScope, Issues: []types.Issue{
			{Message: "out of scope: README.md (committed)", Hint: "git checkout abc -- README.md", Severity: types.SeverityError},
			{Message: "no scope declared", Hint: "add scope", Severity: types.SeverityWarning},
		}},
	}
}

func fixedStore(t *testing.T, ts time.Time) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	s.now = func() time.Time { return ts }
	return s
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWriteFail(t *testing.T) {
	s := fixedStore(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	rec, err := s.WriteFail("P1", failingReports())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TotalIssueCount)
	require.Len(t, rec.IssuesByGate, 2)
	assert.Equal(t, types.GateArtifacts, rec.IssuesByGate[0].Gate)
	assert.Equal(t, []string{"out of scope: README.md (committed) -> git checkout abc -- README.md"}, rec.IssuesByGate[1].Messages)
	require.Len(t, rec.Warnings, 1)

	v, err := s.Load("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusFail, v.Status)
	assert.Equal(t, rec.IssuesByGate, v.Fail.IssuesByGate)
	assert.False(t, v.Recovered)
}

func TestWriteFail_RequiresIssues(t *testing.T) {
	s := fixedStore(t, time.Now())
	_, err := s.WriteFail("P1", []types.GateReport{{Gate: types.GateTests, Skipped: true}})
	assert.Error(t, err)
	assert.False(t, exists(s.FailPath("P1")))
}

func TestMutualExclusion(t *testing.T) {
	s := fixedStore(t, time.Now())

	_, err := s.WriteFail("P1", failingReports())
	require.NoError(t, err)
	_, err = s.WritePass("P1", nil)
	require.NoError(t, err)

	assert.True(t, exists(s.PassPath("P1")))
	assert.False(t, exists(s.FailPath("P1")))
	assert.False(t, exists(s.FailPath("P1")+supersededSuffix))

	_, err = s.WriteFail("P1", failingReports())
	require.NoError(t, err)
	assert.False(t, exists(s.PassPath("P1")))
	assert.True(t, exists(s.FailPath("P1")))

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp or superseded files left behind")
}

func TestIdempotentApartFromTimestamp(t *testing.T) {
	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := fixedStore(t, ts)

	_, err := s.WriteFail("P1", failingReports())
	require.NoError(t, err)
	first, err := os.ReadFile(s.FailPath("P1"))
	require.NoError(t, err)

	_, err = s.WriteFail("P1", failingReports())
	require.NoError(t, err)
	second, err := os.ReadFile(s.FailPath("P1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	s.now = func() time.Time { return ts.Add(time.Hour) }
	_, err = s.WriteFail("P1", failingReports())
	require.NoError(t, err)
	third, err := os.ReadFile(s.FailPath("P1"))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t,
		bytes.ReplaceAll(first, []byte("2026-05-01T00:00:00Z"), nil),
		bytes.ReplaceAll(third, []byte("2026-05-01T01:00:00Z"), nil))
}

func TestLoad_RecoversInterruptedWrite(t *testing.T) {
	s := fixedStore(t, time.Now())
	_, err := s.WriteFail("P1", failingReports())
	require.NoError(t, err)

	// Crash after retiring the fail marker but before the pass rename.
	require.NoError(t, os.Rename(s.FailPath("P1"), s.FailPath("P1")+supersededSuffix))

	v, err := s.Load("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusFail, v.Status)
	assert.True(t, v.Recovered)

	_, err = s.WritePass("P1", nil)
	require.NoError(t, err)
	v, err = s.Load("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusPass, v.Status)
	assert.False(t, v.Recovered)
	assert.False(t, exists(s.FailPath("P1")+supersededSuffix))
}

func TestLoad_NoVerdict(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "critiques"))
	_, err := s.Load("P1")
	assert.True(t, errors.Is(err, ErrNoVerdict))
}

func TestClear(t *testing.T) {
	s := fixedStore(t, time.Now())
	_, err := s.WritePass("P1", nil)
	require.NoError(t, err)
	require.NoError(t, s.Clear("P1"))
	_, err = s.Load("P1")
	assert.ErrorIs(t, err, ErrNoVerdict)
}

func TestVerdictSequenceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("last write wins and never both markers", prop.ForAll(
		func(seq []bool) bool {
			dir, err := os.MkdirTemp("", "verdict-prop-")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)
			s := NewStore(dir)

			for _, pass := range seq {
				if pass {
					_, err = s.WritePass("P", nil)
				} else {
					_, err = s.WriteFail("P", failingReports())
				}
				if err != nil {
					return false
				}
				if exists(s.PassPath("P")) == exists(s.FailPath("P")) {
					return false
				}
			}
			v, err := s.Load("P")
			if err != nil {
				return false
			}
			want := StatusFail
			if seq[len(seq)-1] {
				want = StatusPass
			}
			return v.Status == want
		},
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}
