package config

import "time"

// Built-in defaults. A missing or sparse hiveforge.yaml still yields a
// fully working local deployment against an Ollama endpoint.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8315
	DefaultVaultPath      = "vault"
	DefaultSilenceTimeout = 60 * time.Second
	DefaultMaxWorkers     = 4
	DefaultShutdownBudget = 10 * time.Second
	DefaultMaxIterations  = 10
)

// defaultFile returns the built-in configuration the user file merges
// over.
func defaultFile() *fileConfig {
	authEnabled := false
	maskingEnabled := true
	return &fileConfig{
		Server: &serverYAML{
			Host:        DefaultHost,
			Port:        DefaultPort,
			AuthEnabled: &authEnabled,
		},
		Vault: &vaultYAML{Path: DefaultVaultPath},
		Scheduler: &schedulerYAML{
			SilenceTimeout: DefaultSilenceTimeout.String(),
			MaxWorkers:     DefaultMaxWorkers,
			ShutdownBudget: DefaultShutdownBudget.String(),
		},
		LLM: &llmYAML{
			DefaultProvider: "ollama",
			Providers: map[string]ProviderConfig{
				"ollama": {
					Type:  "openai-compatible",
					Model: "llama3.1",
				},
				"openai": {
					Type:      "openai-compatible",
					BaseURL:   "https://api.openai.com/v1",
					APIKeyEnv: "OPENAI_API_KEY",
					Model:     "gpt-4o-mini",
				},
				"anthropic": {
					Type:      "openai-compatible",
					BaseURL:   "https://api.anthropic.com/v1",
					APIKeyEnv: "ANTHROPIC_API_KEY",
					Model:     "claude-sonnet-4-5",
				},
			},
		},
		Masking: &maskingYAML{Enabled: &maskingEnabled, Group: "secrets"},
		Agents: map[string]AgentConfig{
			"queen": {
				TrustLevel:    "propose_confirm",
				SystemPrompt:  "You are the queen agent. Decompose the goal into tasks and coordinate workers.",
				MaxIterations: DefaultMaxIterations,
			},
			"worker": {
				TrustLevel:    "propose_confirm",
				SystemPrompt:  "You are a worker agent. Complete your assigned task using the available tools.",
				MaxIterations: DefaultMaxIterations,
			},
			"sentinel": {
				TrustLevel:    "report_only",
				SystemPrompt:  "You are the sentinel agent. Observe and report; never modify state.",
				MaxIterations: DefaultMaxIterations,
			},
		},
		Sinks: &sinksYAML{
			GitHub: &GitHubSinkConfig{TokenEnv: "GITHUB_TOKEN"},
		},
	}
}
