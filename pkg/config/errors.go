package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration loading.
var (
	// ErrConfigNotFound indicates a configuration file was not found.
	ErrConfigNotFound = errors.New("configuration file not found")
	// ErrInvalidYAML indicates a configuration file contains invalid YAML.
	ErrInvalidYAML = errors.New("invalid YAML")
)

// LoadError wraps an error that occurred while loading a specific file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a LoadError for the given file.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

// ValidationError reports one invalid configuration value.
type ValidationError struct {
	Section string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Section, e.Message)
}

// ValidationErrors aggregates every problem found in one pass, so a bad
// config reports all of its mistakes at once.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ValidationErrors) add(section, format string, args ...any) {
	e.Errors = append(e.Errors, &ValidationError{Section: section, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationErrors) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
