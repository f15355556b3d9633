package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/formatter"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove a stale evaluation lock",
	Long: `Remove the evaluation lock left behind by a crashed or killed process.

Only run this when no evaluation is in progress. The removed owner is
printed and logged to history.`,
	Args: cobra.NoArgs,
	RunE: runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

func runUnlock(cmd *cobra.Command, args []string) error {
	owner, err := rt.engine.Unlock(cmd.Context())
	if err != nil {
		return err
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), owner)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Removed evaluation lock")
	if owner.PID != 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "  held by pid %d on %s (%s) since %s\n",
			owner.PID, owner.Host, owner.Command, owner.AcquiredAt.Local().Format(time.DateTime))
	}
	return nil
}
