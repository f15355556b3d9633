package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/formatter"
	"github.com/boshu2/phasegate/internal/state"
	"github.com/boshu2/phasegate/internal/types"
)

var startCmd = &cobra.Command{
	Use:   "start <phase>",
	Short: "Make a phase current and pin its baseline",
	Long: `Start a phase: record it as current, pin HEAD as the change-set baseline,
and bind the current roadmap and manifest hashes.

Allowed only when no phase is active or the roadmap is complete.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Advance past the approved current phase",
	Long: `Advance to the next roadmap phase, or mark the roadmap complete when the
approved phase was the last one. Fails with exit code 1 if the current phase
has no pass verdict.`,
	Args: cobra.NoArgs,
	RunE: runNext,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current phase and its state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var justifyCmd = &cobra.Command{
	Use:   "justify-scope <phase>",
	Short: "Record why out-of-scope changes are needed",
	Long: `Read a justification from stdin and record it for the phase together with
the current out-of-scope files. A recorded justification turns drift over the
allowance into a warning; forbidden files still fail.

Example:
  echo "shared config gained a key" | phasectl justify-scope P1`,
	Args: cobra.ExactArgs(1),
	RunE: runJustify,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(justifyCmd)
}

type statusView struct {
	State       string     `json:"state" yaml:"state"`
	Phase       string     `json:"phase,omitempty" yaml:"phase,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Brief       string     `json:"brief,omitempty" yaml:"brief,omitempty"`
	Baseline    string     `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Mode        string     `json:"baseline_mode,omitempty" yaml:"baseline_mode,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Verdict     string     `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Recovered   bool       `json:"verdict_recovered,omitempty" yaml:"verdict_recovered,omitempty"`
}

func newStatusView(st state.Status) statusView {
	v := statusView{State: string(st.State), Verdict: string(st.Verdict.Status), Recovered: st.Verdict.Recovered}
	if st.Pointer != nil && st.State != state.Complete {
		ts := st.Pointer.StartedAt
		v.Phase = st.Pointer.PhaseID
		v.Brief = st.Pointer.BriefPath
		v.Baseline = st.Pointer.BaselineRef
		v.Mode = string(st.Pointer.BaselineMode)
		v.StartedAt = &ts
	}
	if st.Phase != nil {
		v.Description = st.Phase.Description
	}
	return v
}

func renderStatus(w io.Writer, f formatter.Format, v statusView) error {
	if f != formatter.FormatTable {
		return formatter.Encode(w, f, v)
	}
	fmt.Fprintf(w, "State:    %s\n", v.State)
	if v.Phase == "" {
		switch v.State {
		case string(state.Complete):
			fmt.Fprintln(w, "The roadmap is complete. Restart with: phasectl start <phase>")
		default:
			fmt.Fprintln(w, "No phase is active. Start one with: phasectl start <phase>")
		}
		return nil
	}
	fmt.Fprintf(w, "Phase:    %s", v.Phase)
	if v.Description != "" {
		fmt.Fprintf(w, " (%s)", v.Description)
	}
	fmt.Fprintln(w)
	if v.Brief != "" {
		fmt.Fprintf(w, "Brief:    %s\n", v.Brief)
	}
	baseline := v.Baseline
	if baseline == "" {
		baseline = "<unknown>"
	}
	fmt.Fprintf(w, "Baseline: %s (%s)\n", baseline, v.Mode)
	if v.StartedAt != nil {
		fmt.Fprintf(w, "Started:  %s\n", v.StartedAt.Format(time.RFC3339))
	}
	if v.Verdict != "" {
		note := ""
		if v.Recovered {
			note = " (recovered from an interrupted write)"
		}
		fmt.Fprintf(w, "Verdict:  %s%s\n", v.Verdict, note)
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	ptr, err := rt.engine.Start(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	st, err := rt.engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), newStatusView(st))
	}
	w := cmd.OutOrStdout()
	if ptr.BaselineMode == types.BaselineUnknown {
		fmt.Fprintln(w, "warning: HEAD could not be resolved; change detection will fall back to the merge-base")
	}
	fmt.Fprintf(w, "Started %s at %s\n", ptr.PhaseID, shortRef(ptr.BaselineRef))
	fmt.Fprintf(w, "Brief: %s\n", ptr.BriefPath)
	fmt.Fprintf(w, "When ready: phasectl review %s\n", ptr.PhaseID)
	return nil
}

func runNext(cmd *cobra.Command, args []string) error {
	st, err := rt.engine.Advance(cmd.Context())
	if err != nil {
		return err
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), newStatusView(st))
	}
	w := cmd.OutOrStdout()
	if st.State == state.Complete {
		fmt.Fprintln(w, "All phases approved. The roadmap is complete.")
		return nil
	}
	fmt.Fprintf(w, "Advanced to %s at %s\n", st.Pointer.PhaseID, shortRef(st.Pointer.BaselineRef))
	fmt.Fprintf(w, "Brief: %s\n", st.Pointer.BriefPath)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := rt.engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	return renderStatus(cmd.OutOrStdout(), GetOutput(), newStatusView(st))
}

func runJustify(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read justification: %w", err)
	}
	rel, files, err := rt.engine.Justify(cmd.Context(), args[0], string(data))
	if err != nil {
		return err
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), map[string]any{
			"phase": args[0], "path": rel, "out_of_scope": files,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded justification for %d out-of-scope files in %s\n", len(files), rel)
	if len(files) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", strings.Join(files, "\n  "))
	}
	return nil
}

func shortRef(ref string) string {
	if ref == "" {
		return "<unknown baseline>"
	}
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
