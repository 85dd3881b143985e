// Package waggle validates the inter-agent message protocol ("Waggle
// Dance"): every message between bee roles is checked against the JSON
// Schema for its direction, and the outcome is recorded as a compliance
// event. A violation never halts the sender — it travels to Guard as
// evidence.
package waggle

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/colonyforge/hiveforge/pkg/event"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Direction identifies the sender→receiver pair of a message.
type Direction string

const (
	BeekeeperToQueen Direction = "beekeeper_to_queen"
	QueenToBeekeeper Direction = "queen_to_beekeeper"
	QueenToWorker    Direction = "queen_to_worker"
	WorkerToQueen    Direction = "worker_to_queen"
	// GuardResult is reserved: no schema is defined yet and validation
	// rejects it as unsupported.
	GuardResult Direction = "guard_result"
)

// ErrUnsupportedDirection is returned for directions without a schema.
var ErrUnsupportedDirection = errors.New("unsupported message direction")

// schemaFiles maps each supported direction to its embedded schema.
var schemaFiles = map[Direction]string{
	BeekeeperToQueen: "schemas/beekeeper_to_queen.json",
	QueenToBeekeeper: "schemas/queen_to_beekeeper.json",
	QueenToWorker:    "schemas/queen_to_worker.json",
	WorkerToQueen:    "schemas/worker_to_queen.json",
}

// ValidationResult is the outcome of validating one message.
type ValidationResult struct {
	Valid     bool      `json:"valid"`
	Direction Direction `json:"direction"`
	Errors    []string  `json:"errors,omitempty"`
}

// Validator holds the compiled per-direction schemas. Compile once at
// startup; Validate is read-only and safe for concurrent use.
type Validator struct {
	schemas map[Direction]*jsonschema.Schema
}

// NewValidator compiles every embedded schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	for direction, file := range schemaFiles {
		raw, err := schemaFS.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open schema for %s: %w", direction, err)
		}
		doc, err := jsonschema.UnmarshalJSON(raw)
		raw.Close()
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", direction, err)
		}
		if err := compiler.AddResource(file, doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", direction, err)
		}
	}

	v := &Validator{schemas: make(map[Direction]*jsonschema.Schema, len(schemaFiles))}
	for direction, file := range schemaFiles {
		schema, err := compiler.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", direction, err)
		}
		v.schemas[direction] = schema
	}
	return v, nil
}

// Validate checks payload against the direction's schema. The reserved
// guard_result direction and unknown directions return
// ErrUnsupportedDirection; schema misses return a result with Valid=false,
// never an error.
func (v *Validator) Validate(direction Direction, payload map[string]any) (ValidationResult, error) {
	schema, ok := v.schemas[direction]
	if !ok {
		return ValidationResult{}, fmt.Errorf("%w: %s", ErrUnsupportedDirection, direction)
	}

	result := ValidationResult{Valid: true, Direction: direction}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := schema.Validate(normalize(payload)); err != nil {
		result.Valid = false
		result.Errors = flattenErrors(err)
	}
	return result, nil
}

// Appender is the slice of the Akashic Record the validator writes
// compliance events through.
type Appender interface {
	Append(streamID string, e *event.Event) (*event.Event, error)
}

// Record emits waggle_dance.validated or waggle_dance.violation for a
// validation outcome. The message payload rides along on violations so
// Guard can inspect the offending message.
func (v *Validator) Record(ar Appender, streamID, runID, actor string, result ValidationResult, payload map[string]any) (*event.Event, error) {
	eventType := event.TypeWaggleDanceValidated
	body := map[string]any{
		"direction": string(result.Direction),
	}
	if !result.Valid {
		eventType = event.TypeWaggleDanceViolation
		errs := make([]any, 0, len(result.Errors))
		for _, e := range result.Errors {
			errs = append(errs, e)
		}
		body["errors"] = errs
		if payload != nil {
			body["message"] = payload
		}
	}
	e := event.New(eventType,
		event.WithRunID(runID),
		event.WithActor(actor),
		event.WithPayload(body),
	)
	return ar.Append(streamID, e)
}

// flattenErrors renders a jsonschema validation error tree as sorted,
// deterministic message strings, one per leaf cause.
func flattenErrors(err error) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			out = append(out, fmt.Sprintf("%s: %s", loc, strings.TrimSpace(e.Error())))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(out)
	return out
}

// normalize converts payload values to the shapes the schema library
// expects (json.Number and native types both pass through Validate when
// the document came from jsonschema.UnmarshalJSON; hand-built maps carry
// ints that must become float64 for numeric keywords).
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return value
	}
}
