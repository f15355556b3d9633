package trace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunner_Pass(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	r := &Runner{Dir: dir, TracesDir: filepath.Join(dir, "traces")}

	rec, err := r.Run(context.Background(), "tests", []string{"sh", "-c", "echo ok; echo warn >&2"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.ExitCode != 0 || rec.ToolMissing || rec.TimedOut {
		t.Errorf("rec = %+v, want clean pass", rec)
	}
	if strings.TrimSpace(rec.Stdout) != "ok" || strings.TrimSpace(rec.Stderr) != "warn" {
		t.Errorf("stdout=%q stderr=%q", rec.Stdout, rec.Stderr)
	}

	got := Read(r.TracesDir, "tests")
	if got.Status != StatusPassed {
		t.Errorf("Read().Status = %v, want passed", got.Status)
	}
	if got.Record.Timestamp <= 0 {
		t.Errorf("Timestamp = %v, want > 0", got.Record.Timestamp)
	}
}

func TestRunner_Fail(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	r := &Runner{Dir: dir, TracesDir: dir}

	rec, err := r.Run(context.Background(), "lint", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", rec.ExitCode)
	}
	if got := Read(dir, "lint").Status; got != StatusFailed {
		t.Errorf("Status = %v, want failed", got)
	}
}

func TestRunner_ToolMissing(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{Dir: dir, TracesDir: dir}

	rec, err := r.Run(context.Background(), "tests", []string{"definitely-not-a-real-binary-xyz"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rec.ToolMissing {
		t.Errorf("ToolMissing = false, want true: %+v", rec)
	}
	if got := Read(dir, "tests").Status; got != StatusToolUnavailable {
		t.Errorf("Status = %v, want tool-unavailable", got)
	}
}

func TestRunner_NoCommand(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{Dir: dir, TracesDir: dir}
	rec, err := r.Run(context.Background(), "tests", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.ToolMissing {
		t.Error("empty argv should be recorded as tool missing")
	}
}

func TestRunner_Timeout(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	r := &Runner{Dir: dir, TracesDir: dir, Timeout: 100 * time.Millisecond}

	rec, err := r.Run(context.Background(), "tests", []string{"sh", "-c", "exec sleep 5"})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.TimedOut {
		t.Errorf("TimedOut = false: %+v", rec)
	}
	if got := Read(dir, "tests").Status; got != StatusFailed {
		t.Errorf("Status = %v, want failed", got)
	}
}

func TestRead_MissingAndUnparseable(t *testing.T) {
	dir := t.TempDir()
	if got := Read(dir, "tests").Status; got != StatusMissing {
		t.Errorf("Status = %v, want missing", got)
	}

	if err := os.WriteFile(Path(dir, "lint"), []byte("Exit code: ???"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := Read(dir, "lint")
	if got.Status != StatusUnparseable || got.Err == nil {
		t.Errorf("Read() = %+v, want unparseable with error", got)
	}
}

func TestTail(t *testing.T) {
	big := strings.Repeat("a", maxOutput) + "SUMMARY"
	out := tail([]byte(big))
	if len(out) != maxOutput || !strings.HasSuffix(out, "SUMMARY") {
		t.Errorf("tail kept %d bytes, suffix ok=%v", len(out), strings.HasSuffix(out, "SUMMARY"))
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusMissing:         "missing",
		StatusToolUnavailable: "tool-unavailable",
		StatusPassed:          "passed",
		StatusFailed:          "failed",
		StatusUnparseable:     "unparseable",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
