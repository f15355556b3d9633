// Package trace records the outcome of externally-run commands (test runner,
// linter) and reads those records back for the gates that interpret them.
package trace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boshu2/phasegate/internal/storage"
)

// Record is one command run. Timestamp is unix seconds.
type Record struct {
	Name        string   `json:"name"`
	Command     []string `json:"command,omitempty"`
	ExitCode    int      `json:"exit_code"`
	Timestamp   float64  `json:"timestamp"`
	DurationS   float64  `json:"duration_s"`
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr"`
	ToolMissing bool     `json:"tool_missing,omitempty"`
	TimedOut    bool     `json:"timed_out,omitempty"`
}

// Status is the interpreted state of a trace.
type Status int

const (
	// StatusMissing means the command never ran.
	StatusMissing Status = iota
	// StatusToolUnavailable means the command's binary was not found.
	StatusToolUnavailable
	// StatusPassed means the command exited 0.
	StatusPassed
	// StatusFailed means the command exited non-zero or timed out.
	StatusFailed
	// StatusUnparseable means a trace exists but cannot be read.
	StatusUnparseable
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusToolUnavailable:
		return "tool-unavailable"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "unparseable"
	}
}

// Result is a trace read back from disk.
type Result struct {
	Status Status
	Record Record
	// Path is the trace file, relative to the repository root when possible.
	Path string
	Err  error
}

// FileName is the trace file for name.
func FileName(name string) string {
	return "last_" + name + ".json"
}

// Path returns the trace path for name under dir.
func Path(dir, name string) string {
	return filepath.Join(dir, FileName(name))
}

// Write persists rec atomically.
func Write(dir string, rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("trace record has no name")
	}
	return storage.WriteJSON(Path(dir, rec.Name), rec)
}

// Read loads and classifies the trace for name.
func Read(dir, name string) Result {
	path := Path(dir, name)
	var rec Record
	err := storage.ReadJSON(path, &rec)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Result{Status: StatusMissing, Path: path}
	case err != nil:
		return Result{Status: StatusUnparseable, Path: path, Err: err}
	case rec.ToolMissing:
		return Result{Status: StatusToolUnavailable, Record: rec, Path: path}
	case rec.ExitCode == 0 && !rec.TimedOut:
		return Result{Status: StatusPassed, Record: rec, Path: path}
	default:
		return Result{Status: StatusFailed, Record: rec, Path: path}
	}
}
