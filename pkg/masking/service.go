// Package masking redacts secrets from tool results before they enter the
// agent's message history or the Akashic Record. Patterns are compiled once
// at startup; tool-result masking fails closed — if masking itself errors,
// the result is replaced by a redaction notice rather than passed through.
package masking

import (
	"fmt"
	"log/slog"
)

// Options configures a Service.
type Options struct {
	// Enabled switches tool-result masking on. Disabled returns content
	// untouched.
	Enabled bool
	// Group selects the pattern group applied to tool results; empty
	// means "secrets".
	Group string
	// CustomPatterns extend (or shadow) the built-in pattern set.
	CustomPatterns map[string]PatternDef
	// CustomGroups extend (or shadow) the built-in groups.
	CustomGroups map[string][]string
}

// Service applies data masking. Created once at startup; thread-safe and
// stateless aside from compiled patterns.
type Service struct {
	enabled       bool
	group         string
	patterns      map[string]*CompiledPattern
	patternGroups map[string][]string
	codeMaskers   map[string]Masker
}

// NewService compiles all patterns eagerly. Invalid patterns are logged
// and skipped.
func NewService(opts Options) *Service {
	group := opts.Group
	if group == "" {
		group = "secrets"
	}
	s := &Service{
		enabled:       opts.Enabled,
		group:         group,
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: make(map[string][]string, len(builtinGroups)+len(opts.CustomGroups)),
		codeMaskers:   make(map[string]Masker),
	}
	for name, names := range builtinGroups {
		s.patternGroups[name] = names
	}
	for name, names := range opts.CustomGroups {
		s.patternGroups[name] = names
	}

	s.compilePatterns(opts.CustomPatterns)
	s.registerMasker(&EnvFileMasker{})

	slog.Info("Masking service initialized",
		"enabled", s.enabled,
		"group", s.group,
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))
	return s
}

// Stats reports pattern counts for startup logging.
func (s *Service) Stats() (patterns, groups int) {
	return len(s.patterns), len(s.patternGroups)
}

// MaskToolResult applies the configured group to tool result content.
// On masking failure it returns a redaction notice (fail-closed).
func (s *Service) MaskToolResult(content string) string {
	if !s.enabled || content == "" {
		return content
	}
	resolved := s.resolveGroup(s.group)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}
	masked, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("Masking failed, redacting content (fail-closed)", "error", err)
		return "[REDACTED: data masking failure — tool result could not be safely processed]"
	}
	return masked
}

// applyMasking applies code-based maskers then regex patterns to content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (masked string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("masker panic: %v", r)
		}
	}()

	masked = content

	// Phase 1: code-based maskers (structural awareness).
	for _, maskerName := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	// Phase 2: regex patterns (general sweep).
	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked, nil
}

func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
