package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/formatter"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the roadmap for errors",
	Long: `Load the roadmap and report every problem at once: schema violations,
duplicate phase ids, invalid globs, gates without a command, and an engine
version outside the roadmap's requires constraint.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := rt.engine.LoadPlan()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(p.Phases))
	for _, ph := range p.Phases {
		ids = append(ids, ph.ID)
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), map[string]any{
			"ok": true, "plan": p.ID, "phases": ids,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "plan OK: %d phases\n", len(ids))
	VerbosePrintf("phases: %v\n", ids)
	return nil
}
