package main

import (
	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/engine"
	"github.com/boshu2/phasegate/internal/trace"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <phase>",
	Short: "Evaluate the current phase against its gates",
	Long: `Verify integrity, compute the change set, run every enabled gate, and
record exactly one verdict for the phase.

evaluate reads the test and lint traces already on disk; use review to
run them first.

Examples:
  phasectl evaluate P1
  phasectl evaluate P1 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

var reviewCmd = &cobra.Command{
	Use:   "review <phase>",
	Short: "Run tests and lint for the phase, then evaluate it",
	Long: `Run the test and lint commands the phase's enabled gates consume, record
their traces, then evaluate.

Commands run outside the evaluation lock and are bounded by
command_timeout (default 10m).

Examples:
  phasectl review P1`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(reviewCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	out, err := rt.engine.Evaluate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return reportOutcome(cmd, out, nil)
}

func runReview(cmd *cobra.Command, args []string) error {
	out, records, err := rt.engine.Review(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return reportOutcome(cmd, out, records)
}

func reportOutcome(cmd *cobra.Command, out engine.Outcome, records []trace.Record) error {
	if err := renderOutcome(cmd.OutOrStdout(), GetOutput(), newOutcomeView(out, records)); err != nil {
		return err
	}
	if code := out.ExitCode(); code != engine.ExitPass {
		return &exitError{code: code}
	}
	return nil
}
