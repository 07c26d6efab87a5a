// Package config loads and validates reflection3's operator configuration:
// host connection details, candidate judge models, routing, attempt and
// timeout tuning, and logging. It also resolves the small set of
// workspace-relative override files (preferred-model file, custom prompt
// override, project instructions) that shape the self-assessment prompt.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Host     HostConfig     `yaml:"host"`
	Models   []string       `yaml:"models"`
	Routing  RoutingConfig  `yaml:"routing"`
	Attempts AttemptsConfig `yaml:"attempts"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
	Debug    bool           `yaml:"debug"`
}

// HealthConfig controls the sidecar's own liveness endpoint, separate from
// the host runtime it talks to.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// HostConfig holds connection settings for the host runtime's session API.
type HostConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	Workspace string `yaml:"workspace"`
}

// RoutingConfig enables model-per-task-type routing (spec §4.5).
type RoutingConfig struct {
	Enabled bool          `yaml:"enabled"`
	Models  RoutingModels `yaml:"models"`
}

// RoutingModels maps coarse task categories to `provider/model` strings.
type RoutingModels struct {
	Backend      string `yaml:"backend"`
	Architecture string `yaml:"architecture"`
	Frontend     string `yaml:"frontend"`
	Default      string `yaml:"default"`
}

// AttemptsConfig bounds how many reflection attempts a session may accrue.
type AttemptsConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// TimeoutsConfig tunes the self-assessment poll loop and abort cooldowns.
type TimeoutsConfig struct {
	PollIntervalSeconds        int `yaml:"poll_interval_seconds"`
	JudgeResponseTimeoutSeconds int `yaml:"judge_response_timeout_seconds"`
	AbortCooldownSeconds       int `yaml:"abort_cooldown_seconds"`
	AbortRaceDelayMS           int `yaml:"abort_race_delay_ms"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	ErrorLogDir      string `yaml:"error_log_dir"`
	ErrorLogFilename string `yaml:"error_log_filename"`
}

// Load reads the YAML file at path, expands ${ENV_VAR} references in values,
// unmarshals into Config, applies environment variable overrides, sets
// defaults for any zero-value fields, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading file %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overwrites specific Config fields when the corresponding
// environment variables are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REFLECTION3_HOST_TOKEN"); v != "" {
		cfg.Host.Token = v
	}
	if v := os.Getenv("REFLECTION3_HOST_BASE_URL"); v != "" {
		cfg.Host.BaseURL = v
	}
	if v := os.Getenv("REFLECTION3_HOST_WORKSPACE"); v != "" {
		cfg.Host.Workspace = v
	}
	if v := os.Getenv("REFLECTION3_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REFLECTION3_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Attempts.MaxAttempts = n
		}
	}
	if v := os.Getenv("REFLECTION_DEBUG"); v == "1" {
		cfg.Debug = true
	}
}

// applyDefaults sets zero-value fields to their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Host.BaseURL == "" {
		cfg.Host.BaseURL = "http://127.0.0.1:4096"
	}

	if cfg.Attempts.MaxAttempts == 0 {
		cfg.Attempts.MaxAttempts = 3
	}
	if cfg.Attempts.MaxAttempts < 1 {
		cfg.Attempts.MaxAttempts = 1
	}
	if cfg.Attempts.MaxAttempts > 10 {
		cfg.Attempts.MaxAttempts = 10
	}

	if cfg.Timeouts.PollIntervalSeconds == 0 {
		cfg.Timeouts.PollIntervalSeconds = 2
	}
	if cfg.Timeouts.JudgeResponseTimeoutSeconds == 0 {
		cfg.Timeouts.JudgeResponseTimeoutSeconds = 120
	}
	if cfg.Timeouts.AbortCooldownSeconds == 0 {
		cfg.Timeouts.AbortCooldownSeconds = 10
	}
	if cfg.Timeouts.AbortRaceDelayMS == 0 {
		cfg.Timeouts.AbortRaceDelayMS = 1500
	}

	if cfg.Routing.Models.Default == "" && len(cfg.Models) > 0 {
		cfg.Routing.Models.Default = cfg.Models[0]
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.ErrorLogDir == "" {
		cfg.Logging.ErrorLogDir = ".reflection/errors"
	}
	if cfg.Logging.ErrorLogFilename == "" {
		cfg.Logging.ErrorLogFilename = "YYYY-MM-DD-errors.md"
	}

	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":8089"
	}
}

// Validate returns an error if required fields are missing or values are out
// of range.
func (c *Config) Validate() error {
	if c.Host.BaseURL == "" {
		return fmt.Errorf("host.base_url is required")
	}
	if c.Attempts.MaxAttempts < 1 || c.Attempts.MaxAttempts > 10 {
		return fmt.Errorf("attempts.max_attempts must be in [1, 10], got %d", c.Attempts.MaxAttempts)
	}
	if c.Timeouts.PollIntervalSeconds < 1 {
		return fmt.Errorf("timeouts.poll_interval_seconds must be >= 1, got %d", c.Timeouts.PollIntervalSeconds)
	}
	if c.Timeouts.JudgeResponseTimeoutSeconds < 1 {
		return fmt.Errorf("timeouts.judge_response_timeout_seconds must be >= 1, got %d", c.Timeouts.JudgeResponseTimeoutSeconds)
	}
	if c.Routing.Enabled {
		if c.Routing.Models.Backend == "" || c.Routing.Models.Architecture == "" ||
			c.Routing.Models.Frontend == "" || c.Routing.Models.Default == "" {
			return fmt.Errorf("routing.enabled requires backend, architecture, frontend, and default models to all be set")
		}
	}
	return nil
}

// blockedJudgeSubstrings lists substrings (case-insensitive) that disqualify a
// candidate model from acting as a self-assessment judge, per spec §4.3
// step 1 — small/fast models are unreliable judges.
var blockedJudgeSubstrings = []string{
	"haiku", "mini", "nano", "flash", "gpt-3.5", "llama-3.1-8b", "mixtral-8x7b",
}

// IsBlockedJudge reports whether model (a "provider/model" string) matches
// one of the blocked-judge patterns.
func IsBlockedJudge(model string) bool {
	lower := strings.ToLower(model)
	for _, pat := range blockedJudgeSubstrings {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// CandidateModels returns the ordered list of judge model specs per spec
// §4.3 step 1: the configured model list with blocked judges filtered out,
// falling back to a single preferredModel if non-empty and not blocked, or
// finally a single empty spec meaning "host default".
func (c *Config) CandidateModels(preferredModel string) []string {
	if len(c.Models) > 0 {
		var out []string
		for _, m := range c.Models {
			if !IsBlockedJudge(m) {
				out = append(out, m)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if preferredModel != "" && !IsBlockedJudge(preferredModel) {
		return []string{preferredModel}
	}
	return []string{""}
}

// PreferredModelPaths returns the two locations checked, in order, for a
// preferred-model file: the user config dir, then the workspace.
func PreferredModelPaths(workspace string) []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reflection3", "model.jsonc"))
	}
	if workspace != "" {
		paths = append(paths, filepath.Join(workspace, ".reflection", "model.jsonc"))
	}
	return paths
}

// ReadPreferredModel checks the candidate preferred-model paths in order and
// returns the first file's trimmed contents. Absent files are not an error;
// an empty result means "no preferred model known".
func ReadPreferredModel(workspace string) (string, error) {
	for _, path := range PreferredModelPaths(workspace) {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("config: reading preferred model file %q: %w", path, err)
		}
	}
	return "", nil
}

// promptOverrideNames are the filenames checked, in order, for a custom
// self-assessment prompt override.
var promptOverrideNames = []string{"reflection.md", "reflection.MD"}

// ReadPromptOverride returns the trimmed contents of the first
// reflection.md/reflection.MD found at the workspace root, or "" if neither
// exists.
func ReadPromptOverride(workspace string) (string, error) {
	for _, name := range promptOverrideNames {
		path := filepath.Join(workspace, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("config: reading prompt override %q: %w", path, err)
		}
	}
	return "", nil
}

// projectInstructionNames are the filenames checked, in order, for project
// instructions to splice into the self-assessment prompt.
var projectInstructionNames = []string{
	"AGENTS.md",
	filepath.Join(".opencode", "AGENTS.md"),
	"agents.md",
}

// maxProjectInstructionChars is the hard cap on how much of a project
// instructions file is included in the prompt (spec §6.2).
const maxProjectInstructionChars = 800

// ReadProjectInstructions returns up to the first 800 characters of the
// first project instructions file found under workspace, or "" if none
// exist.
func ReadProjectInstructions(workspace string) (string, error) {
	for _, name := range projectInstructionNames {
		path := filepath.Join(workspace, name)
		data, err := os.ReadFile(path)
		if err == nil {
			text := string(data)
			if len(text) > maxProjectInstructionChars {
				text = text[:maxProjectInstructionChars]
			}
			return text, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("config: reading project instructions %q: %w", path, err)
		}
	}
	return "", nil
}
