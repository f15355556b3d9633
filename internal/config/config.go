// Package config provides configuration management for phasegate.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (PHASEGATE_*)
// 3. Project config (.phasegate/config.yaml in cwd)
// 4. Home config (~/.phasegate/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all phasegate configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// StateDir is the engine's data directory, relative to the repository
	// root (default: .repo).
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// BaseBranch is the merge-base fallback when a phase has no pinned
	// baseline. Overrides the plan's base_branch when set.
	BaseBranch string `yaml:"base_branch" json:"base_branch"`

	// CommandTimeout bounds each test or lint run (duration string).
	CommandTimeout string `yaml:"command_timeout" json:"command_timeout"`

	// Concurrency is the worker count for manifest hashing.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	Lock      LockConfig      `yaml:"lock" json:"lock"`
	Review    ReviewConfig    `yaml:"review" json:"review"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Manifest  ManifestConfig  `yaml:"manifest" json:"manifest"`
}

// LockConfig bounds the wait for the evaluation lock.
type LockConfig struct {
	// Timeout is the longest an evaluation waits for the lock. Default: 30s
	Timeout string `yaml:"timeout" json:"timeout"`
	// PollInterval paces acquisition retries. Default: 100ms
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// ReviewConfig holds semantic review transport settings.
type ReviewConfig struct {
	// Endpoint overrides the messages API URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// APIKeyEnv names the environment variable holding the API key.
	// Default: ANTHROPIC_API_KEY
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
}

// TelemetryConfig holds OTLP export settings.
type TelemetryConfig struct {
	// OTLPEndpoint enables export when set, e.g. localhost:4317.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
}

// ManifestConfig names the files covered by the integrity manifest.
type ManifestConfig struct {
	// Entrypoint is the engine's primary source file, checked first.
	Entrypoint string `yaml:"entrypoint" json:"entrypoint"`
	// Files are extra protected files or globs, added to the plan's
	// protected_globs when generating.
	Files []string `yaml:"files" json:"files"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput         = "table"
	defaultStateDir       = ".repo"
	defaultCommandTimeout = "10m"
	defaultConcurrency    = 4
	defaultLockTimeout    = "30s"
	defaultPollInterval   = "100ms"
	defaultAPIKeyEnv      = "ANTHROPIC_API_KEY"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:         defaultOutput,
		StateDir:       defaultStateDir,
		CommandTimeout: defaultCommandTimeout,
		Concurrency:    defaultConcurrency,
		Lock: LockConfig{
			Timeout:      defaultLockTimeout,
			PollInterval: defaultPollInterval,
		},
		Review: ReviewConfig{
			APIKeyEnv: defaultAPIKeyEnv,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, err := loadFromPath(homeConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, err := loadFromPath(projectConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// CommandTimeoutDuration parses CommandTimeout, falling back to the default.
func (c *Config) CommandTimeoutDuration() time.Duration {
	return parseDuration(c.CommandTimeout, defaultCommandTimeout)
}

// LockTimeout parses Lock.Timeout, falling back to the default.
func (c *Config) LockTimeout() time.Duration {
	return parseDuration(c.Lock.Timeout, defaultLockTimeout)
}

// LockPollInterval parses Lock.PollInterval, falling back to the default.
func (c *Config) LockPollInterval() time.Duration {
	return parseDuration(c.Lock.PollInterval, defaultPollInterval)
}

// APIKey reads the review API key from the configured variable.
func (c *Config) APIKey() string {
	name := c.Review.APIKeyEnv
	if name == "" {
		name = defaultAPIKeyEnv
	}
	return os.Getenv(name)
}

func parseDuration(v, def string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".phasegate", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("PHASEGATE_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".phasegate", "config.yaml")
}

// loadFromPath loads config from a YAML file. A missing file returns an
// os.IsNotExist error.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("PHASEGATE_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v, ok := getEnvBool("PHASEGATE_VERBOSE"); ok {
		cfg.Verbose = v
	}
	if v := os.Getenv("PHASEGATE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("PHASEGATE_BASE_BRANCH"); v != "" {
		cfg.BaseBranch = v
	}
	if v := os.Getenv("PHASEGATE_COMMAND_TIMEOUT"); v != "" {
		cfg.CommandTimeout = v
	}
	if v := os.Getenv("PHASEGATE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("PHASEGATE_LOCK_TIMEOUT"); v != "" {
		cfg.Lock.Timeout = v
	}
	if v := os.Getenv("PHASEGATE_LOCK_POLL_INTERVAL"); v != "" {
		cfg.Lock.PollInterval = v
	}
	if v := os.Getenv("PHASEGATE_REVIEW_ENDPOINT"); v != "" {
		cfg.Review.Endpoint = v
	}
	if v := os.Getenv("PHASEGATE_REVIEW_API_KEY_ENV"); v != "" {
		cfg.Review.APIKeyEnv = v
	}
	if v := os.Getenv("PHASEGATE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, ok := getEnvBool("PHASEGATE_OTLP_INSECURE"); ok {
		cfg.Telemetry.Insecure = v
	}
	if v := os.Getenv("PHASEGATE_MANIFEST_ENTRYPOINT"); v != "" {
		cfg.Manifest.Entrypoint = v
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
// Booleans only ever switch on; a later layer cannot turn them off.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Output, src.Output)
	if src.Verbose {
		dst.Verbose = true
	}
	mergeStr(&dst.StateDir, src.StateDir)
	mergeStr(&dst.BaseBranch, src.BaseBranch)
	mergeStr(&dst.CommandTimeout, src.CommandTimeout)
	mergeInt(&dst.Concurrency, src.Concurrency)

	mergeStr(&dst.Lock.Timeout, src.Lock.Timeout)
	mergeStr(&dst.Lock.PollInterval, src.Lock.PollInterval)
	mergeStr(&dst.Review.Endpoint, src.Review.Endpoint)
	mergeStr(&dst.Review.APIKeyEnv, src.Review.APIKeyEnv)
	mergeStr(&dst.Telemetry.OTLPEndpoint, src.Telemetry.OTLPEndpoint)
	if src.Telemetry.Insecure {
		dst.Telemetry.Insecure = true
	}
	mergeManifest(&dst.Manifest, &src.Manifest)

	return dst
}

// mergeManifest merges manifest settings. A non-empty file list replaces
// rather than extends.
func mergeManifest(dst, src *ManifestConfig) {
	mergeStr(&dst.Entrypoint, src.Entrypoint)
	if len(src.Files) > 0 {
		dst.Files = append([]string(nil), src.Files...)
	}
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.phasegate/config.yaml"
	SourceProject Source = ".phasegate/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// getEnvBool parses a boolean env var. The second result is false when the
// variable is unset or not a boolean.
func getEnvBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}

// resolveStringField resolves a string through the precedence chain.
func resolveStringField(home, project, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Output         resolved `json:"output" yaml:"output"`
	Verbose        resolved `json:"verbose" yaml:"verbose"`
	StateDir       resolved `json:"state_dir" yaml:"state_dir"`
	BaseBranch     resolved `json:"base_branch" yaml:"base_branch"`
	CommandTimeout resolved `json:"command_timeout" yaml:"command_timeout"`
	LockTimeout    resolved `json:"lock_timeout" yaml:"lock_timeout"`
	ReviewEndpoint resolved `json:"review_endpoint" yaml:"review_endpoint"`
	OTLPEndpoint   resolved `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	Entrypoint     resolved `json:"manifest_entrypoint" yaml:"manifest_entrypoint"`
}

type resolved struct {
	Value  interface{} `json:"value" yaml:"value"`
	Source Source      `json:"source" yaml:"source"`
}

// Flags carries the command-line values that take part in resolution.
type Flags struct {
	Output   string
	StateDir string
	Verbose  bool
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flags Flags) *ResolvedConfig {
	home, _ := loadFromPath(homeConfigPath())
	project, _ := loadFromPath(projectConfigPath())
	if home == nil {
		home = &Config{}
	}
	if project == nil {
		project = &Config{}
	}

	envOutput, _ := getEnvString("PHASEGATE_OUTPUT")
	envStateDir, _ := getEnvString("PHASEGATE_STATE_DIR")
	envBaseBranch, _ := getEnvString("PHASEGATE_BASE_BRANCH")
	envCommandTimeout, _ := getEnvString("PHASEGATE_COMMAND_TIMEOUT")
	envLockTimeout, _ := getEnvString("PHASEGATE_LOCK_TIMEOUT")
	envReviewEndpoint, _ := getEnvString("PHASEGATE_REVIEW_ENDPOINT")
	envOTLP, _ := getEnvString("PHASEGATE_OTLP_ENDPOINT")
	envEntrypoint, _ := getEnvString("PHASEGATE_MANIFEST_ENTRYPOINT")

	rc := &ResolvedConfig{
		Output:         resolveStringField(home.Output, project.Output, envOutput, flags.Output, defaultOutput),
		Verbose:        resolved{Value: false, Source: SourceDefault},
		StateDir:       resolveStringField(home.StateDir, project.StateDir, envStateDir, flags.StateDir, defaultStateDir),
		BaseBranch:     resolveStringField(home.BaseBranch, project.BaseBranch, envBaseBranch, "", ""),
		CommandTimeout: resolveStringField(home.CommandTimeout, project.CommandTimeout, envCommandTimeout, "", defaultCommandTimeout),
		LockTimeout:    resolveStringField(home.Lock.Timeout, project.Lock.Timeout, envLockTimeout, "", defaultLockTimeout),
		ReviewEndpoint: resolveStringField(home.Review.Endpoint, project.Review.Endpoint, envReviewEndpoint, "", ""),
		OTLPEndpoint:   resolveStringField(home.Telemetry.OTLPEndpoint, project.Telemetry.OTLPEndpoint, envOTLP, "", ""),
		Entrypoint:     resolveStringField(home.Manifest.Entrypoint, project.Manifest.Entrypoint, envEntrypoint, "", ""),
	}

	if home.Verbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if project.Verbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if v, ok := getEnvBool("PHASEGATE_VERBOSE"); ok && v {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flags.Verbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
