package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/engine"
	"github.com/boshu2/phasegate/internal/formatter"
	"github.com/boshu2/phasegate/internal/types"
)

var manifestEntrypoint string

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Generate or verify the integrity manifest",
}

var manifestGenerateCmd = &cobra.Command{
	Use:   "generate [paths or globs...]",
	Short: "Hash the protected files into the integrity manifest",
	Long: `Hash the engine entry point, the roadmap's protected globs, the configured
manifest.files, and any paths given as arguments, then write the manifest.

Refused while a non-maintenance phase is active.

Examples:
  phasectl manifest generate --entrypoint cmd/phasectl/main.go
  phasectl manifest generate 'internal/**/*.go'`,
	RunE: runManifestGenerate,
}

var manifestVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the engine entry point and every manifest entry",
	Args:  cobra.NoArgs,
	RunE:  runManifestVerify,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestGenerateCmd)
	manifestCmd.AddCommand(manifestVerifyCmd)
	manifestGenerateCmd.Flags().StringVar(&manifestEntrypoint, "entrypoint", "", "Engine entry point (default: manifest.entrypoint or the existing manifest)")
}

func runManifestGenerate(cmd *cobra.Command, args []string) error {
	entry := manifestEntrypoint
	if entry == "" {
		entry = rt.cfg.Manifest.Entrypoint
	}
	patterns := append(append([]string{}, rt.cfg.Manifest.Files...), args...)
	m, err := rt.engine.GenerateManifest(cmd.Context(), engine.ManifestRequest{Entrypoint: entry, Patterns: patterns})
	if err != nil {
		return err
	}
	if GetOutput() != formatter.FormatTable {
		return formatter.Encode(cmd.OutOrStdout(), GetOutput(), m)
	}
	tbl := formatter.NewTable(cmd.OutOrStdout(), "FILE", "SHA256")
	tbl.SetMaxWidth(1, 15)
	for _, p := range m.Paths() {
		tbl.AddRow(p, m.Files[p])
	}
	if err := tbl.Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %s (%d files, entry point %s)\n",
		rt.engine.Layout().Rel(rt.engine.Layout().ManifestPath()), len(m.Files), m.Entrypoint)
	return nil
}

func runManifestVerify(cmd *cobra.Command, args []string) error {
	issues, err := rt.engine.VerifyManifest(cmd.Context())
	if err != nil {
		return err
	}
	if issues == nil {
		issues = []types.Issue{}
	}
	if GetOutput() != formatter.FormatTable {
		if err := formatter.Encode(cmd.OutOrStdout(), GetOutput(), map[string]any{"ok": len(issues) == 0, "issues": issues}); err != nil {
			return err
		}
	} else if len(issues) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Integrity manifest verified")
	} else {
		for _, i := range issues {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", i)
		}
	}
	if len(issues) > 0 {
		return &exitError{code: engine.ExitFail}
	}
	return nil
}
