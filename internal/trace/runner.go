package trace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single traced command.
const DefaultTimeout = 10 * time.Minute

// maxOutput caps each captured stream; the tail is kept since test runners
// print their summary last.
const maxOutput = 256 * 1024

// waitDelay bounds how long output pipes may stay open after a timeout kill.
const waitDelay = 2 * time.Second

// exitToolMissing is the conventional shell status for "command not found".
const exitToolMissing = 127

// Runner executes commands in a working tree and writes their traces.
type Runner struct {
	Dir       string
	TracesDir string
	Timeout   time.Duration
	Logger    *slog.Logger

	now func() time.Time
}

// Run executes argv and records the outcome under name. The returned error
// is only for persistence failures; command failures live in the record.
func (r *Runner) Run(ctx context.Context, name string, argv []string) (Record, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := r.now
	if now == nil {
		now = time.Now
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rec := Record{Name: name, Command: argv}
	if len(argv) == 0 {
		rec.ToolMissing = true
		rec.ExitCode = exitToolMissing
		rec.Stderr = "no command configured"
		rec.Timestamp = unixSeconds(now())
		return rec, Write(r.TracesDir, rec)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := now()
	err := cmd.Run()
	rec.DurationS = time.Since(start).Seconds()
	rec.Timestamp = unixSeconds(now())
	rec.Stdout = tail(stdout.Bytes())
	rec.Stderr = tail(stderr.Bytes())

	classify(&rec, ctx.Err(), err, timeout)
	logger.DebugContext(ctx, "traced command", "name", name, "exit_code", rec.ExitCode,
		"tool_missing", rec.ToolMissing, "duration_s", rec.DurationS)

	return rec, Write(r.TracesDir, rec)
}

// classify maps the process outcome onto the record.
func classify(rec *Record, ctxErr, runErr error, timeout time.Duration) {
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		rec.TimedOut = true
		rec.ExitCode = -1
		rec.Stderr += fmt.Sprintf("\ncommand timed out after %s", timeout)
	case errors.Is(runErr, exec.ErrNotFound):
		rec.ToolMissing = true
		rec.ExitCode = exitToolMissing
		rec.Stderr = runErr.Error()
	case errors.As(runErr, &exitErr):
		rec.ExitCode = exitErr.ExitCode()
	case runErr != nil:
		rec.ToolMissing = true
		rec.ExitCode = exitToolMissing
		rec.Stderr = runErr.Error()
	default:
		rec.ExitCode = 0
	}
}

func tail(b []byte) string {
	if len(b) > maxOutput {
		b = b[len(b)-maxOutput:]
	}
	return string(b)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
