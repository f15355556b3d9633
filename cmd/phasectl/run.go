package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/engine"
	"github.com/boshu2/phasegate/internal/formatter"
	"github.com/boshu2/phasegate/internal/types"
)

var runPhase string

var runCmd = &cobra.Command{
	Use:   "run <tests|lint>",
	Short: "Run the test or lint command and record its trace",
	Long: `Run the commands a gate consumes and write their traces under traces/.
Scoped requirements receive only the in-scope changed files.

The phase defaults to the current one.

Examples:
  phasectl run tests
  phasectl run lint --phase P2`,
	ValidArgs: []string{engine.RunTests, engine.RunLint},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runPhase, "phase", "", "Phase id (default: the current phase)")
}

func runRun(cmd *cobra.Command, args []string) error {
	phaseID := runPhase
	if phaseID == "" {
		st, err := rt.engine.Status(cmd.Context())
		if err != nil {
			return err
		}
		if st.Pointer == nil || st.Pointer.Completed {
			return types.Errorf(types.KindConfiguration, "no phase is active").
				WithHint("start one with phasectl start <phase>")
		}
		phaseID = st.Pointer.PhaseID
	}

	records, err := rt.engine.RunTraces(cmd.Context(), phaseID, args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "nothing to run")
		return nil
	}
	views := newTraceViews(records)
	if GetOutput() != formatter.FormatTable {
		if err := formatter.Encode(cmd.OutOrStdout(), GetOutput(), views); err != nil {
			return err
		}
	} else if err := renderTraces(cmd.OutOrStdout(), views); err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ExitCode != 0 || rec.ToolMissing || rec.TimedOut {
			return &exitError{code: engine.ExitFail}
		}
	}
	return nil
}
