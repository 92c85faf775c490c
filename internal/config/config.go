// Package config handles configuration loading and management for magentic.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// ProjectConfigName is the project-level override file.
const ProjectConfigName = ".magentic.yaml"

// Config holds all configuration for magentic.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Criterion    CriterionConfig    `mapstructure:"criterion"`
	Synthesizer  SynthesizerConfig  `mapstructure:"synthesizer"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Agents       []AgentConfig      `mapstructure:"agents"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Server       ServerConfig       `mapstructure:"server"`
}

// OrchestratorConfig holds the run loop limits.
type OrchestratorConfig struct {
	MaxRoundCount   int           `mapstructure:"max_round_count"`
	MaxStallCount   int           `mapstructure:"max_stall_count"`
	MaxResetCount   int           `mapstructure:"max_reset_count"`
	MaxStallRetries int           `mapstructure:"max_stall_retries"`
	AgentTimeout    time.Duration `mapstructure:"agent_timeout"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	EventBuffer     int           `mapstructure:"event_buffer"`
	// ContextWindow keeps the last N entries verbatim in agent views; 0 shows everything.
	ContextWindow int `mapstructure:"context_window"`
}

// PlannerConfig selects the planner.
type PlannerConfig struct {
	// Kind is "split" or "backend".
	Kind     string `mapstructure:"kind"`
	MaxGoals int    `mapstructure:"max_goals"`
}

// CriterionConfig selects the completion criterion.
type CriterionConfig struct {
	// Kind is "plan", "expr" or "judge".
	Kind       string `mapstructure:"kind"`
	Expression string `mapstructure:"expression"`
}

// SynthesizerConfig selects the result synthesizer.
type SynthesizerConfig struct {
	// Kind is "digest" or "backend".
	Kind      string `mapstructure:"kind"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// BackendConfig holds the completion backend settings.
type BackendConfig struct {
	// Provider is "anthropic" or "bedrock".
	Provider   string      `mapstructure:"provider"`
	APIKey     string      `mapstructure:"api_key"`
	Model      string      `mapstructure:"model"`
	BaseURL    string      `mapstructure:"base_url"`
	MaxTokens  int64       `mapstructure:"max_tokens"`
	AWSRegion  string      `mapstructure:"aws_region"`
	AWSProfile string      `mapstructure:"aws_profile"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig bounds backend retries.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// AgentConfig declares one specialized agent.
type AgentConfig struct {
	Name         string `mapstructure:"name"`
	Capability   string `mapstructure:"capability"`
	Kind         string `mapstructure:"kind"`
	Instructions string `mapstructure:"instructions"`
	MaxTokens    int64  `mapstructure:"max_tokens"`

	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	Env        []string `mapstructure:"env"`
	Tool       string   `mapstructure:"tool"`
	TaskArg    string   `mapstructure:"task_arg"`
	ContextArg string   `mapstructure:"context_arg"`

	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`

	Script string `mapstructure:"script"`
}

// StorageConfig holds run journal settings.
type StorageConfig struct {
	// Path is the SQLite file; empty uses the global journal.
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	// Exporter is "none" or "stdout".
	Exporter   string  `mapstructure:"exporter"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	Addr              string `mapstructure:"addr"`
	MaxConcurrentRuns int    `mapstructure:"max_concurrent_runs"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, MAGENTIC_*)
// 2. Project config (.magentic.yaml in current directory or parent)
// 3. User config (~/.config/magentic/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file over the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

// Watch reloads the file at path whenever it changes and hands the new
// configuration to fn. Invalid files are reported through onError and
// otherwise ignored. Only future runs see the reloaded configuration.
func Watch(path string, fn func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config from %s: %w", path, err)
	}

	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", path, err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAGENTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("backend.api_key", "ANTHROPIC_API_KEY", "MAGENTIC_BACKEND_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Backend.APIKey = expandEnv(cfg.Backend.APIKey)
	for i := range cfg.Agents {
		for k, h := range cfg.Agents[i].Headers {
			cfg.Agents[i].Headers[k] = expandEnv(h)
		}
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("orchestrator.max_round_count", d.Orchestrator.MaxRoundCount)
	v.SetDefault("orchestrator.max_stall_count", d.Orchestrator.MaxStallCount)
	v.SetDefault("orchestrator.max_reset_count", d.Orchestrator.MaxResetCount)
	v.SetDefault("orchestrator.max_stall_retries", d.Orchestrator.MaxStallRetries)
	v.SetDefault("orchestrator.agent_timeout", d.Orchestrator.AgentTimeout.String())
	v.SetDefault("orchestrator.max_parallel", d.Orchestrator.MaxParallel)
	v.SetDefault("orchestrator.event_buffer", d.Orchestrator.EventBuffer)
	v.SetDefault("orchestrator.context_window", d.Orchestrator.ContextWindow)

	v.SetDefault("planner.kind", d.Planner.Kind)
	v.SetDefault("planner.max_goals", d.Planner.MaxGoals)
	v.SetDefault("criterion.kind", d.Criterion.Kind)
	v.SetDefault("criterion.expression", "")
	v.SetDefault("synthesizer.kind", d.Synthesizer.Kind)
	v.SetDefault("synthesizer.max_tokens", d.Synthesizer.MaxTokens)

	v.SetDefault("backend.provider", d.Backend.Provider)
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.model", "")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.max_tokens", d.Backend.MaxTokens)
	v.SetDefault("backend.aws_region", "")
	v.SetDefault("backend.aws_profile", "")
	v.SetDefault("backend.retry.max_retries", d.Backend.Retry.MaxRetries)
	v.SetDefault("backend.retry.initial_delay", d.Backend.Retry.InitialDelay.String())
	v.SetDefault("backend.retry.max_delay", d.Backend.Retry.MaxDelay.String())
	v.SetDefault("backend.retry.requests_per_second", 0)

	v.SetDefault("storage.path", "")
	v.SetDefault("storage.disabled", false)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_concurrent_runs", d.Server.MaxConcurrentRuns)
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	r := backend.DefaultRetryConfig()
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxRoundCount:   p.Limits.MaxRounds,
			MaxStallCount:   p.Limits.MaxStalls,
			MaxResetCount:   p.Limits.MaxResets,
			MaxStallRetries: p.Limits.MaxStallRetries,
			AgentTimeout:    p.Dispatch.AgentTimeout,
			MaxParallel:     p.Dispatch.MaxParallel,
			EventBuffer:     p.Events.BufferSize,
			ContextWindow:   p.Context.Window,
		},
		Planner:     PlannerConfig{Kind: "split", MaxGoals: 8},
		Criterion:   CriterionConfig{Kind: "plan"},
		Synthesizer: SynthesizerConfig{Kind: "digest", MaxTokens: 2048},
		Backend: BackendConfig{
			Provider:  "anthropic",
			MaxTokens: 4096,
			Retry: RetryConfig{
				MaxRetries:   r.MaxRetries,
				InitialDelay: r.InitialDelay,
				MaxDelay:     r.MaxDelay,
			},
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{Exporter: "none", SampleRate: 1},
		Server:  ServerConfig{Addr: "127.0.0.1:8420", MaxConcurrentRuns: 4},
	}
}

// Validate rejects configurations a run cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, s := range c.AgentSpecs() {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate agent name %q", s.Name))
		}
		seen[key] = true
	}

	switch c.Planner.Kind {
	case "", "split", "backend":
	default:
		errs = append(errs, fmt.Errorf("unknown planner kind %q", c.Planner.Kind))
	}
	switch c.Backend.Provider {
	case "", "anthropic", "bedrock":
	default:
		errs = append(errs, fmt.Errorf("unknown backend provider %q", c.Backend.Provider))
	}
	if err := c.checkAPIKey(); err != nil {
		errs = append(errs, err)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}
	return errors.Join(errs...)
}

// Policy converts the orchestrator section to a run policy.
func (c *Config) Policy() *policy.Config {
	p := policy.Default()
	o := c.Orchestrator
	p.Limits.MaxRounds = o.MaxRoundCount
	p.Limits.MaxStalls = o.MaxStallCount
	p.Limits.MaxResets = o.MaxResetCount
	p.Limits.MaxStallRetries = o.MaxStallRetries
	p.Dispatch.AgentTimeout = o.AgentTimeout
	p.Dispatch.MaxParallel = o.MaxParallel
	p.Events.BufferSize = o.EventBuffer
	p.Context.Window = o.ContextWindow
	return p
}

// AgentSpecs converts the agents section to registry specs. Relative script
// paths stay relative to the working directory.
func (c *Config) AgentSpecs() []agent.Spec {
	specs := make([]agent.Spec, 0, len(c.Agents))
	for _, a := range c.Agents {
		kind := models.AgentKind(strings.ToLower(a.Kind))
		if kind == "" {
			kind = models.AgentKindLLM
		}
		specs = append(specs, agent.Spec{
			Name:         a.Name,
			Capability:   a.Capability,
			Kind:         kind,
			Instructions: a.Instructions,
			MaxTokens:    a.MaxTokens,
			Command:      a.Command,
			Args:         a.Args,
			Env:          a.Env,
			Tool:         a.Tool,
			TaskArg:      a.TaskArg,
			ContextArg:   a.ContextArg,
			URL:          a.URL,
			Headers:      a.Headers,
			Script:       a.Script,
		})
	}
	return specs
}

// RetryConfig converts the backend retry section.
func (c *Config) RetryConfig() backend.RetryConfig {
	r := backend.DefaultRetryConfig()
	r.MaxRetries = c.Backend.Retry.MaxRetries
	if c.Backend.Retry.InitialDelay > 0 {
		r.InitialDelay = c.Backend.Retry.InitialDelay
	}
	if c.Backend.Retry.MaxDelay > 0 {
		r.MaxDelay = c.Backend.Retry.MaxDelay
	}
	r.RequestsPerSecond = c.Backend.Retry.RequestsPerSecond
	return r
}

// NeedsBackend reports whether any configured component calls the
// completion backend.
func (c *Config) NeedsBackend() bool {
	if c.Planner.Kind == "backend" || c.Criterion.Kind == "judge" || c.Synthesizer.Kind == "backend" {
		return true
	}
	for _, a := range c.AgentSpecs() {
		if a.Kind == models.AgentKindLLM {
			return true
		}
	}
	return false
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for magentic.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "magentic")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "magentic")
	}
	return filepath.Join(home, ".config", "magentic")
}

// findProjectConfig searches for .magentic.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
