package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/colonyforge/hiveforge/pkg/ratelimit"
)

// Environment variables read once at startup.
const (
	EnvAPIKey     = "COLONYFORGE_API_KEY"
	EnvVaultPath  = "VAULT_PATH"
	EnvOllamaBase = "OLLAMA_BASE_URL"
	EnvConfigPath = "COLONYFORGE_CONFIG"
)

// DefaultConfigPath is used when COLONYFORGE_CONFIG is unset.
const DefaultConfigPath = "config/hiveforge.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the YAML file (built-in defaults when absent)
//  2. Expand {{.VAR}} environment references
//  3. Merge user values over built-in defaults
//  4. Apply environment overrides (API key, vault path, Ollama URL)
//  5. Build registries and parse durations
//  6. Validate everything
func Initialize(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}
	log := slog.With("config_path", path)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"rate_limits", stats.RateLimits,
		"tool_classes", stats.ToolClasses,
		"agents", stats.Agents)
	return cfg, nil
}

func load(_ context.Context, path string) (*Config, error) {
	merged := defaultFile()

	user, found, err := readFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	if found {
		// User values override built-ins; unset sections keep defaults.
		if err := mergo.Merge(merged, user, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	} else {
		slog.Info("Configuration file not found, using built-in defaults", "path", path)
		path = ""
	}

	cfg := &Config{path: path}
	if err := resolve(cfg, merged); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// boolPtrTransformer copies a set *bool as a pointer instead of merging
// the pointed-to values. Without it an explicit `false` in the user file
// looks like a zero value and loses to a `true` default.
type boolPtrTransformer struct{}

func (boolPtrTransformer) Transformer(t reflect.Type) func(dst, src reflect.Value) error {
	if t != reflect.TypeOf((*bool)(nil)) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}

func readFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data = ExpandEnv(data)

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &file, true, nil
}

// resolve turns the merged YAML shape into the runtime Config, parsing
// duration strings and building registries.
func resolve(cfg *Config, file *fileConfig) error {
	srv := file.Server
	cfg.Server = ServerConfig{
		Host:           srv.Host,
		Port:           srv.Port,
		APIKey:         srv.APIKey,
		AllowedOrigins: srv.AllowedOrigins,
	}
	if srv.AuthEnabled != nil {
		cfg.Server.AuthEnabled = *srv.AuthEnabled
	}

	cfg.Vault = VaultConfig{Path: file.Vault.Path}

	sched := file.Scheduler
	silence, err := parseDuration("scheduler.silence_timeout", sched.SilenceTimeout, DefaultSilenceTimeout)
	if err != nil {
		return err
	}
	budget, err := parseDuration("scheduler.shutdown_budget", sched.ShutdownBudget, DefaultShutdownBudget)
	if err != nil {
		return err
	}
	cfg.Scheduler = SchedulerConfig{
		SilenceTimeout: silence,
		MaxWorkers:     sched.MaxWorkers,
		ShutdownBudget: budget,
	}

	cfg.DefaultProvider = file.LLM.DefaultProvider
	cfg.Providers = NewProviderRegistry(file.LLM.Providers)

	cfg.RateLimits = make(map[string]ratelimit.Config, len(file.RateLimits))
	for key, rl := range file.RateLimits {
		retryAfter, err := parseDuration("rate_limits."+key+".retry_after_429", rl.RetryAfter429, 0)
		if err != nil {
			return err
		}
		cfg.RateLimits[key] = ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
			TokensPerMinute:   rl.TokensPerMinute,
			MaxConcurrent:     rl.MaxConcurrent,
			DailyLimit:        rl.DailyLimit,
			RetryAfter429:     retryAfter,
		}
	}

	if file.Policy != nil {
		cfg.Policy = PolicyConfig{
			StrictIrreversible: file.Policy.StrictIrreversible,
			ToolClasses:        file.Policy.ToolClasses,
			MatrixOverrides:    file.Policy.MatrixOverrides,
			AllowedCommands:    file.Policy.AllowedCommands,
		}
	}

	cfg.Masking = MaskingConfig{Group: file.Masking.Group}
	if file.Masking.Enabled != nil {
		cfg.Masking.Enabled = *file.Masking.Enabled
	}

	cfg.Agents = file.Agents
	for role, agent := range cfg.Agents {
		if agent.MaxIterations <= 0 {
			agent.MaxIterations = DefaultMaxIterations
			cfg.Agents[role] = agent
		}
	}

	if file.Sinks != nil {
		if file.Sinks.GitHub != nil {
			cfg.GitHubSink = *file.Sinks.GitHub
			if cfg.GitHubSink.TokenEnv == "" {
				cfg.GitHubSink.TokenEnv = "GITHUB_TOKEN"
			}
		}
		cfg.ActivityEnabled = true
		if file.Sinks.Activity != nil && file.Sinks.Activity.Enabled != nil {
			cfg.ActivityEnabled = *file.Sinks.Activity.Enabled
		}
	} else {
		cfg.ActivityEnabled = true
	}
	return nil
}

// applyEnvOverrides lets deployment environment variables win over file
// values.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Server.APIKey = key
		cfg.Server.AuthEnabled = true
	}
	if path := os.Getenv(EnvVaultPath); path != "" {
		cfg.Vault.Path = path
	}
	if base := os.Getenv(EnvOllamaBase); base != "" {
		if p, err := cfg.Providers.Get("ollama"); err == nil && p.BaseURL == "" {
			p.BaseURL = base
			cfg.Providers.providers["ollama"] = p
		}
	}
}

func parseDuration(section, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ValidationError{Section: section, Message: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}
