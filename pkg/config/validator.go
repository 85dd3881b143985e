package config

import (
	"strings"

	"github.com/colonyforge/hiveforge/pkg/policy"
)

// validate performs comprehensive validation on loaded configuration,
// reporting every problem in one pass.
func validate(cfg *Config) error {
	errs := &ValidationErrors{}

	validateServer(cfg, errs)
	validateScheduler(cfg, errs)
	validateLLM(cfg, errs)
	validateRateLimits(cfg, errs)
	validatePolicy(cfg, errs)
	validateAgents(cfg, errs)
	validateSinks(cfg, errs)

	return errs.orNil()
}

func validateServer(cfg *Config, errs *ValidationErrors) {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs.add("server.port", "must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host == "" {
		errs.add("server.host", "required")
	}
}

func validateScheduler(cfg *Config, errs *ValidationErrors) {
	if cfg.Scheduler.SilenceTimeout <= 0 {
		errs.add("scheduler.silence_timeout", "must be positive")
	}
	if cfg.Scheduler.MaxWorkers <= 0 {
		errs.add("scheduler.max_workers", "must be positive, got %d", cfg.Scheduler.MaxWorkers)
	}
	if cfg.Scheduler.ShutdownBudget <= 0 {
		errs.add("scheduler.shutdown_budget", "must be positive")
	}
}

func validateLLM(cfg *Config, errs *ValidationErrors) {
	if cfg.DefaultProvider == "" {
		errs.add("llm.default_provider", "required")
	} else if _, err := cfg.Providers.Get(cfg.DefaultProvider); err != nil {
		errs.add("llm.default_provider", "%q is not a configured provider", cfg.DefaultProvider)
	}
	for _, name := range cfg.Providers.Names() {
		p, _ := cfg.Providers.Get(name)
		if p.Type != "" && p.Type != "openai-compatible" {
			errs.add("llm.providers."+name, "unsupported type %q", p.Type)
		}
		if p.Model == "" {
			errs.add("llm.providers."+name, "model required")
		}
	}
}

func validateRateLimits(cfg *Config, errs *ValidationErrors) {
	for key, rl := range cfg.RateLimits {
		section := "rate_limits." + key
		if rl.RequestsPerMinute < 0 {
			errs.add(section, "requests_per_minute must not be negative")
		}
		if rl.TokensPerMinute < 0 {
			errs.add(section, "tokens_per_minute must not be negative")
		}
		if rl.MaxConcurrent < 0 {
			errs.add(section, "max_concurrent must not be negative")
		}
		if rl.DailyLimit < 0 {
			errs.add(section, "daily_limit must not be negative")
		}
	}
}

func validatePolicy(cfg *Config, errs *ValidationErrors) {
	for tool, class := range cfg.Policy.ToolClasses {
		if _, err := policy.ParseActionClass(class); err != nil {
			errs.add("policy.tool_classes."+tool, "%v", err)
		}
	}
	for cell, decision := range cfg.Policy.MatrixOverrides {
		parts := strings.SplitN(cell, ":", 2)
		if len(parts) != 2 {
			errs.add("policy.matrix_overrides", "key %q must be <trust_level>:<action_class>", cell)
			continue
		}
		if _, err := policy.ParseTrustLevel(parts[0]); err != nil {
			errs.add("policy.matrix_overrides."+cell, "%v", err)
		}
		if _, err := policy.ParseActionClass(parts[1]); err != nil {
			errs.add("policy.matrix_overrides."+cell, "%v", err)
		}
		switch policy.Decision(decision) {
		case policy.Allow, policy.RequireApproval, policy.Deny:
		default:
			errs.add("policy.matrix_overrides."+cell, "unknown decision %q", decision)
		}
	}
}

func validateAgents(cfg *Config, errs *ValidationErrors) {
	if len(cfg.Agents) == 0 {
		errs.add("agents", "at least one agent role required")
	}
	for role, agent := range cfg.Agents {
		if agent.TrustLevel != "" {
			if _, err := policy.ParseTrustLevel(agent.TrustLevel); err != nil {
				errs.add("agents."+role+".trust_level", "%v", err)
			}
		}
		if agent.SystemPrompt == "" {
			errs.add("agents."+role+".system_prompt", "required")
		}
	}
}

func validateSinks(cfg *Config, errs *ValidationErrors) {
	if cfg.GitHubSink.Enabled {
		if cfg.GitHubSink.Owner == "" {
			errs.add("sinks.github.owner", "required when the sink is enabled")
		}
		if cfg.GitHubSink.Repo == "" {
			errs.add("sinks.github.repo", "required when the sink is enabled")
		}
	}
}
