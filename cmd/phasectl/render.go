package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/boshu2/phasegate/internal/engine"
	"github.com/boshu2/phasegate/internal/formatter"
	"github.com/boshu2/phasegate/internal/trace"
	"github.com/boshu2/phasegate/internal/types"
	"github.com/boshu2/phasegate/internal/verdict"
)

// Gate statuses shown in evaluation output.
const (
	gatePass    = "pass"
	gateFail    = "fail"
	gateWarn    = "warn"
	gateSkipped = "skipped"
)

type gateView struct {
	Gate     string   `json:"gate" yaml:"gate"`
	Status   string   `json:"status" yaml:"status"`
	Issues   []string `json:"issues,omitempty" yaml:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type traceView struct {
	Name        string   `json:"name" yaml:"name"`
	Command     []string `json:"command,omitempty" yaml:"command,omitempty"`
	ExitCode    int      `json:"exit_code" yaml:"exit_code"`
	DurationS   float64  `json:"duration_s" yaml:"duration_s"`
	ToolMissing bool     `json:"tool_missing,omitempty" yaml:"tool_missing,omitempty"`
	TimedOut    bool     `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
}

type outcomeView struct {
	Phase        string      `json:"phase" yaml:"phase"`
	Status       string      `json:"status" yaml:"status"`
	TotalIssues  int         `json:"total_issue_count" yaml:"total_issue_count"`
	ChangedFiles []string    `json:"changed_files" yaml:"changed_files"`
	Degraded     bool        `json:"degraded_baseline,omitempty" yaml:"degraded_baseline,omitempty"`
	Warnings     []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Gates        []gateView  `json:"gates" yaml:"gates"`
	Traces       []traceView `json:"traces,omitempty" yaml:"traces,omitempty"`
}

func newOutcomeView(out engine.Outcome, records []trace.Record) outcomeView {
	v := outcomeView{
		Phase:        out.PhaseID,
		Status:       string(out.Status),
		ChangedFiles: out.Changes.Files,
		Degraded:     out.Changes.Degraded,
		Warnings:     out.Changes.Warnings,
	}
	if v.ChangedFiles == nil {
		v.ChangedFiles = []string{}
	}
	for _, r := range out.Reports {
		v.Gates = append(v.Gates, newGateView(r))
		v.TotalIssues += len(r.Blocking())
	}
	v.Traces = newTraceViews(records)
	return v
}

func newTraceViews(records []trace.Record) []traceView {
	var out []traceView
	for _, rec := range records {
		out = append(out, traceView{
			Name:        rec.Name,
			Command:     rec.Command,
			ExitCode:    rec.ExitCode,
			DurationS:   rec.DurationS,
			ToolMissing: rec.ToolMissing,
			TimedOut:    rec.TimedOut,
		})
	}
	return out
}

func renderTraces(w io.Writer, traces []traceView) error {
	tbl := formatter.NewTable(w, "TRACE", "EXIT", "DURATION", "NOTE")
	for _, t := range traces {
		note := ""
		switch {
		case t.ToolMissing:
			note = "tool missing"
		case t.TimedOut:
			note = "timed out"
		}
		tbl.AddRow(t.Name, strconv.Itoa(t.ExitCode), fmt.Sprintf("%.1fs", t.DurationS), note)
	}
	return tbl.Render()
}

func newGateView(r types.GateReport) gateView {
	g := gateView{Gate: r.Gate}
	for _, i := range r.Blocking() {
		g.Issues = append(g.Issues, i.String())
	}
	for _, i := range r.Warnings() {
		g.Warnings = append(g.Warnings, i.String())
	}
	switch {
	case r.Skipped:
		g.Status = gateSkipped
	case len(g.Issues) > 0:
		g.Status = gateFail
	case len(g.Warnings) > 0:
		g.Status = gateWarn
	default:
		g.Status = gatePass
	}
	return g
}

// renderOutcome writes an evaluation in the selected format.
func renderOutcome(w io.Writer, f formatter.Format, v outcomeView) error {
	if f != formatter.FormatTable {
		return formatter.Encode(w, f, v)
	}

	for _, warning := range v.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if len(v.Traces) > 0 {
		if err := renderTraces(w, v.Traces); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	tbl := formatter.NewTable(w, "GATE", "STATUS", "ISSUES")
	for _, g := range v.Gates {
		tbl.AddRow(g.Gate, g.Status, strconv.Itoa(len(g.Issues)))
	}
	if err := tbl.Render(); err != nil {
		return err
	}

	for _, g := range v.Gates {
		if len(g.Issues) == 0 && len(g.Warnings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", g.Gate)
		for _, msg := range g.Issues {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
		for _, msg := range g.Warnings {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}

	fmt.Fprintln(w)
	if v.Status == string(verdict.StatusPass) {
		fmt.Fprintf(w, "Phase %s: PASS (%d files changed)\n", v.Phase, len(v.ChangedFiles))
		fmt.Fprintln(w, "Next: phasectl next")
		return nil
	}
	fmt.Fprintf(w, "Phase %s: FAIL (%d issues)\n", v.Phase, v.TotalIssues)
	fmt.Fprintf(w, "Next: fix the issues above, then phasectl review %s\n", v.Phase)
	return nil
}
