package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/phasegate/internal/changeset"
	"github.com/boshu2/phasegate/internal/config"
	"github.com/boshu2/phasegate/internal/engine"
	"github.com/boshu2/phasegate/internal/formatter"
	"github.com/boshu2/phasegate/internal/review"
	"github.com/boshu2/phasegate/internal/telemetry"
)

var (
	// Global flags
	verbose bool
	output  string
	cfgFile string
	repoDir string
)

// rt is the per-invocation runtime built by the root pre-run hook.
var rt *runtimeState

type runtimeState struct {
	cfg       *config.Config
	format    formatter.Format
	root      string
	logger    *slog.Logger
	telemetry *telemetry.Provider
	engine    *engine.Engine
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "phasectl",
	Short: "Phase gate evaluation engine",
	Long: `phasectl gates a repository's progress through the phases of a roadmap.

Each phase declares a scope, required artifacts, and checks. An evaluation
verifies the engine's own integrity, computes the files changed since the
phase started, runs every enabled gate, and records exactly one verdict.

Workflow:
  start <phase>     Make a phase current and pin its baseline
  review <phase>    Run tests and lint, then evaluate
  next              Advance past an approved phase

Exit codes:
  0  pass
  1  fail (the verdict lists every issue with a fix)
  2  error (configuration, lock, or persistence)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		syncConfigFlagToEnv()
		return initRuntime(cmd)
	},
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if rt != nil && rt.telemetry != nil {
		if serr := rt.telemetry.Shutdown(context.Background()); serr != nil {
			slog.Warn("telemetry shutdown failed", "error", serr)
		}
	}
	return exitCode(os.Stderr, err)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .phasegate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", "", "Repository root (default: the git toplevel of the working directory)")
}

// GetOutput returns the resolved output format for use by subcommands.
func GetOutput() formatter.Format {
	if rt != nil {
		return rt.format
	}
	return formatter.FormatTable
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("PHASEGATE_CONFIG", path) //nolint:errcheck // best-effort
}

func initRuntime(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	root, err := resolveRoot(ctx, repoDir)
	if err != nil {
		return err
	}
	if strings.TrimSpace(os.Getenv("PHASEGATE_CONFIG")) == "" {
		if p := filepath.Join(root, ".phasegate", "config.yaml"); fileExists(p) {
			_ = os.Setenv("PHASEGATE_CONFIG", p) //nolint:errcheck // best-effort
		}
	}

	overrides := &config.Config{Verbose: verbose}
	if cmd.Flags().Changed("output") {
		overrides.Output = output
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return &exitError{code: engine.ExitError, err: fmt.Errorf("load config: %w", err)}
	}
	format, err := formatter.ParseFormat(cfg.Output)
	if err != nil {
		return &exitError{code: engine.ExitError, err: err}
	}

	logger := newLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	tp, err := telemetry.New(ctx, telemetry.Config{
		ServiceVersion: engine.Version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		tp = nil
	}

	reviewer := review.NewAnthropicReviewer(cfg.APIKey())
	if cfg.Review.Endpoint != "" {
		reviewer.Endpoint = cfg.Review.Endpoint
	}

	rt = &runtimeState{
		cfg:       cfg,
		format:    format,
		root:      root,
		logger:    logger,
		telemetry: tp,
		engine: engine.New(engine.Options{
			Root:             root,
			StateDir:         cfg.StateDir,
			BaseBranch:       cfg.BaseBranch,
			LockTimeout:      cfg.LockTimeout(),
			LockPollInterval: cfg.LockPollInterval(),
			CommandTimeout:   cfg.CommandTimeoutDuration(),
			Concurrency:      cfg.Concurrency,
			Reviewer:         reviewer,
			Telemetry:        tp,
			Logger:           logger,
		}),
	}
	return nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// resolveRoot returns the git toplevel of dir (or the working directory),
// falling back to dir itself outside a repository.
func resolveRoot(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", &exitError{code: engine.ExitError, err: err}
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &exitError{code: engine.ExitError, err: err}
	}
	if top, err := changeset.Toplevel(ctx, abs); err == nil && top != "" {
		return top, nil
	}
	return abs, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// exitError carries an explicit exit code. A nil err means the command has
// already reported the outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(w io.Writer, err error) int {
	if err == nil {
		return engine.ExitPass
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(w, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(w, "Error:", err)
	return engine.ExitCodeFor(err)
}
