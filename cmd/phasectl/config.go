package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/config"
	"github.com/boshu2/phasegate/internal/formatter"
)

var configShow bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `View phasectl configuration.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (PHASEGATE_*)
  3. Project config (.phasegate/config.yaml)
  4. Home config (~/.phasegate/config.yaml)
  5. Defaults

Environment variables:
  PHASEGATE_CONFIG           - Explicit config file path
  PHASEGATE_OUTPUT           - Default output format (table, json, yaml)
  PHASEGATE_STATE_DIR        - State directory relative to the repository root
  PHASEGATE_VERBOSE          - Enable debug logging (true/1)
  PHASEGATE_BASE_BRANCH      - Fallback branch for change detection
  PHASEGATE_COMMAND_TIMEOUT  - Test and lint command timeout (e.g. 10m)
  PHASEGATE_LOCK_TIMEOUT     - How long to wait for the evaluation lock
  PHASEGATE_REVIEW_ENDPOINT  - Messages API endpoint for the review gate
  PHASEGATE_OTLP_ENDPOINT    - OTLP gRPC endpoint; telemetry is off when unset

Examples:
  phasectl config --show
  phasectl config --show -o json`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration with sources")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		return cmd.Help()
	}

	flags := config.Flags{Verbose: verbose}
	if cmd.Flags().Changed("output") {
		flags.Output = output
	}
	resolved := config.Resolve(flags)
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), resolved)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Config files:")
	home := filepath.Join(os.Getenv("HOME"), ".phasegate", "config.yaml")
	fmt.Fprintf(w, "  home:    %s%s\n", home, missing(home))
	project := os.Getenv("PHASEGATE_CONFIG")
	if project == "" {
		project = filepath.Join(rt.root, ".phasegate", "config.yaml")
	}
	fmt.Fprintf(w, "  project: %s%s\n", project, missing(project))

	fmt.Fprintln(w)
	tbl := formatter.NewTable(w, "KEY", "VALUE", "SOURCE")
	rows := []struct {
		key string
		val interface{}
		src config.Source
	}{
		{"output", resolved.Output.Value, resolved.Output.Source},
		{"verbose", resolved.Verbose.Value, resolved.Verbose.Source},
		{"state_dir", resolved.StateDir.Value, resolved.StateDir.Source},
		{"base_branch", resolved.BaseBranch.Value, resolved.BaseBranch.Source},
		{"command_timeout", resolved.CommandTimeout.Value, resolved.CommandTimeout.Source},
		{"lock.timeout", resolved.LockTimeout.Value, resolved.LockTimeout.Source},
		{"review.endpoint", resolved.ReviewEndpoint.Value, resolved.ReviewEndpoint.Source},
		{"telemetry.otlp_endpoint", resolved.OTLPEndpoint.Value, resolved.OTLPEndpoint.Source},
		{"manifest.entrypoint", resolved.Entrypoint.Value, resolved.Entrypoint.Source},
	}
	for _, r := range rows {
		tbl.AddRow(r.key, fmt.Sprint(r.val), string(r.src))
	}
	return tbl.Render()
}

func missing(path string) string {
	if fileExists(path) {
		return ""
	}
	return " (not found)"
}
