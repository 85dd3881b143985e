package config

import (
	"os"
	"time"

	"github.com/colonyforge/hiveforge/pkg/ratelimit"
)

// fileConfig is the complete hiveforge.yaml file structure. Duration
// fields are strings ("45s", "2m") parsed during load.
type fileConfig struct {
	Server     *serverYAML               `yaml:"server"`
	Vault      *vaultYAML                `yaml:"vault"`
	Scheduler  *schedulerYAML            `yaml:"scheduler"`
	LLM        *llmYAML                  `yaml:"llm"`
	RateLimits map[string]rateLimitYAML  `yaml:"rate_limits"`
	Policy     *policyYAML               `yaml:"policy"`
	Masking    *maskingYAML              `yaml:"masking"`
	Agents     map[string]AgentConfig    `yaml:"agents"`
	Sinks      *sinksYAML                `yaml:"sinks"`
}

type serverYAML struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AuthEnabled    *bool    `yaml:"auth_enabled"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type vaultYAML struct {
	Path string `yaml:"path"`
}

type schedulerYAML struct {
	SilenceTimeout string `yaml:"silence_timeout"`
	MaxWorkers     int    `yaml:"max_workers"`
	ShutdownBudget string `yaml:"shutdown_budget"`
}

type llmYAML struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

type rateLimitYAML struct {
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
	TokensPerMinute   int    `yaml:"tokens_per_minute"`
	MaxConcurrent     int64  `yaml:"max_concurrent"`
	DailyLimit        int    `yaml:"daily_limit"`
	RetryAfter429     string `yaml:"retry_after_429"`
}

type policyYAML struct {
	StrictIrreversible bool              `yaml:"strict_irreversible"`
	ToolClasses        map[string]string `yaml:"tool_classes"`
	MatrixOverrides    map[string]string `yaml:"matrix_overrides"`
	AllowedCommands    []string          `yaml:"allowed_commands"`
}

type maskingYAML struct {
	Enabled *bool  `yaml:"enabled"`
	Group   string `yaml:"group"`
}

type sinksYAML struct {
	GitHub   *GitHubSinkConfig   `yaml:"github"`
	Activity *ActivitySinkConfig `yaml:"activity"`
}

// ServerConfig holds the resolved REST/WebSocket server settings.
type ServerConfig struct {
	Host           string
	Port           int
	AuthEnabled    bool
	APIKey         string
	AllowedOrigins []string
}

// VaultConfig holds the resolved event store location.
type VaultConfig struct {
	Path string
}

// SchedulerConfig holds the resolved scheduler timings.
type SchedulerConfig struct {
	SilenceTimeout time.Duration
	MaxWorkers     int
	ShutdownBudget time.Duration
}

// ProviderConfig describes one LLM provider endpoint.
type ProviderConfig struct {
	// Type names the wire protocol; only "openai-compatible" ships.
	Type        string   `yaml:"type"`
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// ResolveAPIKey reads the provider's API key from its configured
// environment variable. Empty when unset.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// PolicyConfig holds the resolved trust gate settings.
type PolicyConfig struct {
	StrictIrreversible bool
	ToolClasses        map[string]string
	MatrixOverrides    map[string]string
	AllowedCommands    []string
}

// MaskingConfig holds the resolved secret masking settings.
type MaskingConfig struct {
	Enabled bool
	Group   string
}

// AgentConfig describes one agent role.
type AgentConfig struct {
	TrustLevel    string `yaml:"trust_level"`
	SystemPrompt  string `yaml:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations"`
}

// GitHubSinkConfig holds the issue-mirroring sink settings.
type GitHubSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	TokenEnv string `yaml:"token_env"`
}

// ResolveToken reads the sink token from its environment variable.
func (g GitHubSinkConfig) ResolveToken() string {
	return os.Getenv(g.TokenEnv)
}

// ActivitySinkConfig holds the WebSocket broadcast sink settings.
type ActivitySinkConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	path string

	Server    ServerConfig
	Vault     VaultConfig
	Scheduler SchedulerConfig

	DefaultProvider string
	Providers       *ProviderRegistry

	// RateLimits keys are "provider" or "provider:model"; the ratelimit
	// registry picks the most specific.
	RateLimits map[string]ratelimit.Config

	Policy  PolicyConfig
	Masking MaskingConfig
	Agents  map[string]AgentConfig

	GitHubSink      GitHubSinkConfig
	ActivityEnabled bool
}

// Path returns the file this configuration was loaded from; empty when
// running on built-in defaults.
func (c *Config) Path() string { return c.path }

// Stats summarises the loaded configuration for startup logging.
type Stats struct {
	Providers   int
	RateLimits  int
	ToolClasses int
	Agents      int
}

// Stats returns counts for startup logs.
func (c *Config) Stats() Stats {
	return Stats{
		Providers:   c.Providers.Size(),
		RateLimits:  len(c.RateLimits),
		ToolClasses: len(c.Policy.ToolClasses),
		Agents:      len(c.Agents),
	}
}
