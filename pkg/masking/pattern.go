package masking

import (
	"log/slog"
	"regexp"
	"slices"
)

// PatternDef is one regex masking rule as it appears in configuration.
type PatternDef struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description"`
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns cover the secrets that routinely leak through tool
// results: provider API keys, bearer tokens, and key=value credentials.
var builtinPatterns = map[string]PatternDef{
	"api_key": {
		Pattern:     `(?i)(api[_-]?key|apikey)["'\s:=]+["']?([A-Za-z0-9_\-]{16,})["']?`,
		Replacement: `$1=***MASKED_API_KEY***`,
		Description: "Generic API key assignments",
	},
	"bearer_token": {
		Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
		Replacement: `Bearer ***MASKED_TOKEN***`,
		Description: "Authorization bearer tokens",
	},
	"password": {
		Pattern:     `(?i)(password|passwd|pwd)["'\s:=]+["']?([^\s"']{6,})["']?`,
		Replacement: `$1=***MASKED_PASSWORD***`,
		Description: "Password assignments",
	},
	"openai_key": {
		Pattern:     `sk-[A-Za-z0-9_\-]{20,}`,
		Replacement: `***MASKED_OPENAI_KEY***`,
		Description: "OpenAI-style secret keys",
	},
	"anthropic_key": {
		Pattern:     `sk-ant-[A-Za-z0-9_\-]{20,}`,
		Replacement: `***MASKED_ANTHROPIC_KEY***`,
		Description: "Anthropic API keys",
	},
	"github_token": {
		Pattern:     `gh[pousr]_[A-Za-z0-9]{36,}`,
		Replacement: `***MASKED_GITHUB_TOKEN***`,
		Description: "GitHub personal access tokens",
	},
	"aws_secret": {
		Pattern:     `(?i)(aws_secret_access_key)["'\s:=]+["']?([A-Za-z0-9/+=]{40})["']?`,
		Replacement: `$1=***MASKED_AWS_SECRET***`,
		Description: "AWS secret access keys",
	},
}

// codeMaskerNames are the code-based maskers available to groups.
var codeMaskerNames = []string{"env_file"}

// builtinGroups bundle patterns for config to reference by one name.
var builtinGroups = map[string][]string{
	"basic":   {"api_key", "password", "bearer_token"},
	"secrets": {"api_key", "password", "bearer_token", "openai_key", "anthropic_key", "github_token", "aws_secret", "env_file"},
	"all":     {"api_key", "password", "bearer_token", "openai_key", "anthropic_key", "github_token", "aws_secret", "env_file"},
}

// resolvedPatterns holds the resolved set of maskers and patterns for one
// masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// compilePatterns compiles built-in then custom definitions. Invalid
// patterns are logged and skipped; custom names shadow built-ins.
func (s *Service) compilePatterns(custom map[string]PatternDef) {
	compile := func(name string, def PatternDef) {
		compiled, err := regexp.Compile(def.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			return
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: def.Replacement,
			Description: def.Description,
		}
	}
	for name, def := range builtinPatterns {
		compile(name, def)
	}
	for name, def := range custom {
		compile(name, def)
	}
}

// resolveGroup expands a group name into deduplicated patterns and code
// maskers. Unknown group names resolve to nothing.
func (s *Service) resolveGroup(groupName string) *resolvedPatterns {
	resolved := &resolvedPatterns{}
	names, ok := s.patternGroups[groupName]
	if !ok {
		return resolved
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if slices.Contains(codeMaskerNames, name) {
			resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
			continue
		}
		if cp, ok := s.patterns[name]; ok {
			resolved.regexPatterns = append(resolved.regexPatterns, cp)
		}
	}
	return resolved
}
