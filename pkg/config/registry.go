package config

import (
	"fmt"
	"sort"

	"github.com/colonyforge/hiveforge/pkg/masking"
	"github.com/colonyforge/hiveforge/pkg/policy"
)

// ProviderRegistry resolves LLM provider configurations by name.
type ProviderRegistry struct {
	providers map[string]ProviderConfig
}

// NewProviderRegistry builds a registry from the merged provider map.
func NewProviderRegistry(providers map[string]ProviderConfig) *ProviderRegistry {
	return &ProviderRegistry{providers: providers}
}

// Get returns the named provider configuration.
func (r *ProviderRegistry) Get(name string) (ProviderConfig, error) {
	p, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown LLM provider %q", name)
	}
	return p, nil
}

// Names lists configured providers in sorted order.
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size reports how many providers are configured.
func (r *ProviderRegistry) Size() int { return len(r.providers) }

// GateOptions converts the policy section into options for policy.New.
// Validation has already vetted every class and decision string.
func (c *Config) GateOptions() policy.Options {
	opts := policy.Options{
		StrictIrreversible: c.Policy.StrictIrreversible,
		AllowedCommands:    c.Policy.AllowedCommands,
	}
	if len(c.Policy.ToolClasses) > 0 {
		opts.ToolClasses = make(map[string]policy.ActionClass, len(c.Policy.ToolClasses))
		for tool, class := range c.Policy.ToolClasses {
			if ac, err := policy.ParseActionClass(class); err == nil {
				opts.ToolClasses[tool] = ac
			}
		}
	}
	if len(c.Policy.MatrixOverrides) > 0 {
		opts.MatrixOverrides = make(map[string]policy.Decision, len(c.Policy.MatrixOverrides))
		for cell, decision := range c.Policy.MatrixOverrides {
			opts.MatrixOverrides[cell] = policy.Decision(decision)
		}
	}
	return opts
}

// MaskingOptions converts the masking section into options for
// masking.NewService.
func (c *Config) MaskingOptions() masking.Options {
	return masking.Options{
		Enabled: c.Masking.Enabled,
		Group:   c.Masking.Group,
	}
}
