package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// providerDefaults are the calibrated per-provider budgets applied when no
// deployment override exists. Keys are "provider" or "provider:model"; the
// more specific key wins.
var providerDefaults = map[string]Config{
	"openai:gpt-4": {
		RequestsPerMinute: 500,
		TokensPerMinute:   30_000,
		MaxConcurrent:     8,
		RetryAfter429:     5 * time.Second,
	},
	"anthropic": {
		// Tier-1 budgets.
		RequestsPerMinute: 50,
		TokensPerMinute:   40_000,
		MaxConcurrent:     8,
		RetryAfter429:     5 * time.Second,
	},
}

// unknownDefaults is the floor for providers the table does not know.
var unknownDefaults = Config{
	RequestsPerMinute: 60,
	TokensPerMinute:   10_000,
	MaxConcurrent:     8,
	RetryAfter429:     5 * time.Second,
}

// Registry hands out one Limiter per (provider, model). Safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	overrides map[string]Config
}

// NewRegistry builds a registry; overrides (keyed "provider:model" or
// "provider") take precedence over the shipped defaults.
func NewRegistry(overrides map[string]Config) *Registry {
	return &Registry{
		limiters:  make(map[string]*Limiter),
		overrides: overrides,
	}
}

// For returns the singleton limiter for provider:model, creating it on
// first use from the most specific configuration available.
func (r *Registry) For(provider, model string) *Limiter {
	key := strings.ToLower(provider) + ":" + strings.ToLower(model)

	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[key]; ok {
		return lim
	}
	lim := NewLimiter(strings.ToLower(provider), strings.ToLower(model), r.configFor(key, strings.ToLower(provider)))
	r.limiters[key] = lim
	return lim
}

func (r *Registry) configFor(key, provider string) Config {
	if cfg, ok := r.overrides[key]; ok {
		return cfg
	}
	if cfg, ok := r.overrides[provider]; ok {
		return cfg
	}
	if cfg, ok := providerDefaults[key]; ok {
		return cfg
	}
	if cfg, ok := providerDefaults[provider]; ok {
		return cfg
	}
	return unknownDefaults
}

// Size reports how many limiters have been created. Used by startup stats.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
