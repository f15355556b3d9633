package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/formatter"
	"github.com/boshu2/phasegate/internal/history"
)

var (
	historyPhase string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the phase transition and evaluation log",
	Long: `Print the append-only history of starts, advances, evaluations, manifest
writes, and lock removals, newest last.

Examples:
  phasectl history
  phasectl history --phase P1 --limit 5 -o json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyPhase, "phase", "", "Only show events for this phase")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show at most the last N events (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	events, err := rt.engine.History(historyPhase, historyLimit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []history.Event{}
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), events)
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No history recorded.")
		return nil
	}
	tbl := formatter.NewTable(cmd.OutOrStdout(), "TIME", "EVENT", "PHASE", "DETAIL")
	tbl.SetMaxWidth(3, 60)
	for _, ev := range events {
		tbl.AddRow(ev.Timestamp.Local().Format(time.DateTime), string(ev.Kind), ev.PhaseID, formatDetail(ev.Detail))
	}
	return tbl.Render()
}

func formatDetail(detail map[string]string) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+detail[k])
	}
	return strings.Join(parts, " ")
}
