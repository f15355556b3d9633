// Package verdict persists the outcome of an evaluation. For any phase,
// exactly one of <phase>.pass.json and <phase>.fail.json is present.
//
// A write publishes in three steps:
//
//  1. write and sync the new record to a temp file;
//  2. rename the opposite verdict aside to <name>.superseded;
//  3. rename the temp file into place, then remove the superseded file.
//
// Renames are atomic, so a crash at any point leaves at most one live verdict.
// A crash between steps 2 and 3 leaves only a superseded file, which Load
// still reports as the prior verdict.
package verdict

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/types"
)

// Status is the kind of a verdict.
type Status string

const (
	StatusNone Status = ""
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

const supersededSuffix = ".superseded"

// ErrNoVerdict means the phase has never been evaluated.
var ErrNoVerdict = errors.New("no verdict recorded")

// GateIssues is the rendered issue list of one gate.
type GateIssues struct {
	Gate     string   `json:"gate"`
	Messages []string `json:"messages"`
}

// Fail is a failed evaluation.
type Fail struct {
	Status          Status       `json:"status"`
	PhaseID         string       `json:"phase_id"`
	Timestamp       time.Time    `json:"timestamp"`
	IssuesByGate    []GateIssues `json:"issues_by_gate"`
	TotalIssueCount int          `json:"total_issue_count"`
	Warnings        []GateIssues `json:"warnings,omitempty"`
}

// Pass is an approved evaluation.
type Pass struct {
	Status     Status       `json:"status"`
	PhaseID    string       `json:"phase_id"`
	Timestamp  time.Time    `json:"timestamp"`
	ApprovedAt time.Time    `json:"approved_at"`
	Warnings   []GateIssues `json:"warnings,omitempty"`
}

// Verdict is whichever record Load found.
type Verdict struct {
	Status Status
	Fail   *Fail
	Pass   *Pass
	// Recovered is set when the record came from a superseded file left by
	// an interrupted write.
	Recovered bool
}

// Store reads and writes verdicts under a critiques directory.
type Store struct {
	Dir string
	now func() time.Time
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, now: time.Now}
}

// FailPath is the fail marker for phaseID.
func (s *Store) FailPath(phaseID string) string {
	return filepath.Join(s.Dir, phaseID+".fail.json")
}

// PassPath is the pass marker for phaseID.
func (s *Store) PassPath(phaseID string) string {
	return filepath.Join(s.Dir, phaseID+".pass.json")
}

// FromReports splits gate reports into blocking issues and warnings, keeping
// gate order and omitting gates with nothing to say.
func FromReports(reports []types.GateReport) (blocking, warnings []GateIssues, total int) {
	for _, r := range reports {
		if b := r.Blocking(); len(b) > 0 {
			blocking = append(blocking, GateIssues{Gate: r.Gate, Messages: render(b)})
			total += len(b)
		}
		if w := r.Warnings(); len(w) > 0 {
			warnings = append(warnings, GateIssues{Gate: r.Gate, Messages: render(w)})
		}
	}
	return blocking, warnings, total
}

// WriteFail records a failure, replacing any pass marker.
func (s *Store) WriteFail(phaseID string, reports []types.GateReport) (Fail, error) {
	blocking, warnings, total := FromReports(reports)
	rec := Fail{
		Status:          StatusFail,
		PhaseID:         phaseID,
		Timestamp:       s.timestamp(),
		IssuesByGate:    blocking,
		TotalIssueCount: total,
		Warnings:        warnings,
	}
	if total == 0 {
		return Fail{}, fmt.Errorf("write fail verdict for %s: no blocking issues", phaseID)
	}
	return rec, s.publish(s.FailPath(phaseID), s.PassPath(phaseID), rec)
}

// WritePass records approval, replacing any fail marker. Warnings from the
// reports are kept on the record.
func (s *Store) WritePass(phaseID string, reports []types.GateReport) (Pass, error) {
	_, warnings, _ := FromReports(reports)
	ts := s.timestamp()
	rec := Pass{
		Status:     StatusPass,
		PhaseID:    phaseID,
		Timestamp:  ts,
		ApprovedAt: ts,
		Warnings:   warnings,
	}
	return rec, s.publish(s.PassPath(phaseID), s.FailPath(phaseID), rec)
}

// Load returns the current verdict for phaseID, or ErrNoVerdict.
func (s *Store) Load(phaseID string) (Verdict, error) {
	for _, recovered := range []bool{false, true} {
		suffix := ""
		if recovered {
			suffix = supersededSuffix
		}
		v, err := s.loadPair(s.PassPath(phaseID)+suffix, s.FailPath(phaseID)+suffix)
		if err == nil {
			v.Recovered = recovered
			return v, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Verdict{}, err
		}
	}
	return Verdict{}, ErrNoVerdict
}

// Clear removes every verdict file for phaseID.
func (s *Store) Clear(phaseID string) error {
	var errs []error
	for _, p := range []string{s.PassPath(phaseID), s.FailPath(phaseID)} {
		for _, path := range []string{p, p + supersededSuffix} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Store) loadPair(passPath, failPath string) (Verdict, error) {
	var p Pass
	err := storage.ReadJSON(passPath, &p)
	if err == nil {
		return Verdict{Status: StatusPass, Pass: &p}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Verdict{}, err
	}
	var f Fail
	if err := storage.ReadJSON(failPath, &f); err != nil {
		return Verdict{}, err
	}
	return Verdict{Status: StatusFail, Fail: &f}, nil
}

func (s *Store) publish(path, opposite string, rec any) error {
	data, err := storage.Canonical(rec)
	if err != nil {
		return err
	}
	tmp, err := storage.WriteTemp(path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
	if err != nil {
		return err
	}

	retired := opposite + supersededSuffix
	if err := os.Rename(opposite, retired); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmp) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("retire %s: %w", filepath.Base(opposite), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	for _, stale := range []string{retired, path + supersededSuffix} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(stale), err)
		}
	}
	return nil
}

func (s *Store) timestamp() time.Time {
	now := s.now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Truncate(time.Millisecond)
}

func render(issues []types.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}
