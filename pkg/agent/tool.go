package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/colonyforge/hiveforge/pkg/llm"
)

// Tool is one capability an agent may invoke. Execute returns the textual
// result handed back to the model; errors become tool-error messages, not
// turn failures.
type Tool interface {
	// Name is the identifier the model calls and the policy gate
	// classifies.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Parameters is the JSON Schema of the arguments object.
	Parameters() json.RawMessage

	// Timeout bounds one execution; zero means DefaultToolTimeout.
	Timeout() time.Duration

	// Execute runs the tool. ctx carries the per-call timeout and the
	// run's cancellation.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// DefaultToolTimeout applies when a tool does not declare its own.
const DefaultToolTimeout = 30 * time.Second

// Registry maps tool names to tools. Built once per runner; read-only
// afterwards.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from tools. Duplicate names error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs renders the registry for the LLM request, in name order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// FuncTool adapts a plain function into a Tool. Used for tests and for
// simple built-ins.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  json.RawMessage
	ToolTimeout     time.Duration
	Fn              func(ctx context.Context, args map[string]any) (string, error)
}

func (t *FuncTool) Name() string                { return t.ToolName }
func (t *FuncTool) Description() string         { return t.ToolDescription }
func (t *FuncTool) Parameters() json.RawMessage { return t.ToolParameters }
func (t *FuncTool) Timeout() time.Duration      { return t.ToolTimeout }

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.Fn(ctx, args)
}
