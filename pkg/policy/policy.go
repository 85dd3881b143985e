// Package policy implements the trust gate between agents and tools.
//
// Decide is a pure function: the same request against the same gate always
// yields the same decision. The gate never executes anything and never
// consults external state — enforcement (tool-error messages, approval
// parking) is the agent runner's job.
package policy

import (
	"fmt"
	"strings"
)

// Decision is the gate's verdict on one tool invocation.
type Decision string

const (
	Allow           Decision = "ALLOW"
	RequireApproval Decision = "REQUIRE_APPROVAL"
	Deny            Decision = "DENY"
)

// ActionClass is the risk tier assigned to a tool.
type ActionClass string

const (
	ReadOnly     ActionClass = "read_only"
	Reversible   ActionClass = "reversible"
	Irreversible ActionClass = "irreversible"
)

// TrustLevel is the authority tier assigned to an agent.
type TrustLevel string

const (
	ReportOnly     TrustLevel = "report_only"
	ProposeConfirm TrustLevel = "propose_confirm"
	AutoNotify     TrustLevel = "auto_notify"
	FullDelegation TrustLevel = "full_delegation"
)

// ParseTrustLevel validates a configured trust level string.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch TrustLevel(s) {
	case ReportOnly, ProposeConfirm, AutoNotify, FullDelegation:
		return TrustLevel(s), nil
	}
	return "", fmt.Errorf("unknown trust level %q", s)
}

// ParseActionClass validates a configured action class string.
func ParseActionClass(s string) (ActionClass, error) {
	switch ActionClass(s) {
	case ReadOnly, Reversible, Irreversible:
		return ActionClass(s), nil
	}
	return "", fmt.Errorf("unknown action class %q", s)
}

// Scope names the hierarchy level a decision applies to.
type Scope string

const (
	ScopeHive   Scope = "hive"
	ScopeColony Scope = "colony"
	ScopeRun    Scope = "run"
	ScopeTask   Scope = "task"
)

// Request carries everything the gate evaluates for one tool invocation.
type Request struct {
	Actor       string
	ActionClass ActionClass
	TrustLevel  TrustLevel
	Scope       Scope
	ScopeID     string
	// Context carries optional per-call hints; currently unused by the
	// default matrix but passed through to deployment overrides.
	Context map[string]any
}

// Options configures a Gate.
type Options struct {
	// StrictIrreversible downgrades full_delegation to DENY for
	// irreversible actions.
	StrictIrreversible bool
	// MatrixOverrides replaces individual matrix cells, keyed
	// "<trust_level>:<action_class>".
	MatrixOverrides map[string]Decision
	// ToolClasses replaces or extends the tool→action-class table.
	ToolClasses map[string]ActionClass
	// AllowedCommands is the run_command allowlist; an allowlisted command
	// is reversible, anything else irreversible.
	AllowedCommands []string
}

// Gate maps (trust level, action class) to a decision and classifies tools.
type Gate struct {
	matrix          map[TrustLevel]map[ActionClass]Decision
	toolClasses     map[string]ActionClass
	allowedCommands map[string]struct{}
}

// defaultMatrix is the shipped trust × action table.
func defaultMatrix(strictIrreversible bool) map[TrustLevel]map[ActionClass]Decision {
	fullDelegationIrreversible := Allow
	if strictIrreversible {
		fullDelegationIrreversible = Deny
	}
	return map[TrustLevel]map[ActionClass]Decision{
		ReportOnly: {
			ReadOnly:     Allow,
			Reversible:   RequireApproval,
			Irreversible: Deny,
		},
		ProposeConfirm: {
			ReadOnly:     Allow,
			Reversible:   Allow,
			Irreversible: RequireApproval,
		},
		AutoNotify: {
			ReadOnly:     Allow,
			Reversible:   Allow,
			Irreversible: Allow,
		},
		FullDelegation: {
			ReadOnly:     Allow,
			Reversible:   Allow,
			Irreversible: fullDelegationIrreversible,
		},
	}
}

// defaultToolClasses are conservative: anything not listed is reversible,
// so an unknown tool at report_only still needs approval.
var defaultToolClasses = map[string]ActionClass{
	"read_file":      ReadOnly,
	"list_directory": ReadOnly,
	"search":         ReadOnly,
	"status":         ReadOnly,
	"create_file":    Reversible,
	"edit_file":      Reversible,
	"delete_file":    Irreversible,
	"http_request":   Irreversible,
}

// New builds a gate from options. Zero options yield the default matrix.
func New(opts Options) *Gate {
	g := &Gate{
		matrix:          defaultMatrix(opts.StrictIrreversible),
		toolClasses:     make(map[string]ActionClass, len(defaultToolClasses)+len(opts.ToolClasses)),
		allowedCommands: make(map[string]struct{}, len(opts.AllowedCommands)),
	}
	for name, class := range defaultToolClasses {
		g.toolClasses[name] = class
	}
	for name, class := range opts.ToolClasses {
		g.toolClasses[name] = class
	}
	for key, decision := range opts.MatrixOverrides {
		tl, ac, ok := splitMatrixKey(key)
		if !ok {
			continue
		}
		if row, exists := g.matrix[tl]; exists {
			row[ac] = decision
		}
	}
	for _, cmd := range opts.AllowedCommands {
		g.allowedCommands[cmd] = struct{}{}
	}
	return g
}

func splitMatrixKey(key string) (TrustLevel, ActionClass, bool) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	tl, err := ParseTrustLevel(parts[0])
	if err != nil {
		return "", "", false
	}
	ac, err := ParseActionClass(parts[1])
	if err != nil {
		return "", "", false
	}
	return tl, ac, true
}

// Decide evaluates one request against the matrix. Unknown trust levels
// fall back to report_only; unknown action classes to irreversible — the
// gate fails toward caution, never toward access.
func (g *Gate) Decide(req Request) Decision {
	row, ok := g.matrix[req.TrustLevel]
	if !ok {
		row = g.matrix[ReportOnly]
	}
	decision, ok := row[req.ActionClass]
	if !ok {
		decision = row[Irreversible]
	}
	return decision
}

// ClassifyTool returns the action class for a tool name. run_command is
// classified by its first argument against the command allowlist; unknown
// tools are reversible.
func (g *Gate) ClassifyTool(name string, args map[string]any) ActionClass {
	if name == "run_command" {
		return g.classifyCommand(args)
	}
	if class, ok := g.toolClasses[name]; ok {
		return class
	}
	return Reversible
}

func (g *Gate) classifyCommand(args map[string]any) ActionClass {
	cmd, _ := args["command"].(string)
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return Irreversible
	}
	if _, ok := g.allowedCommands[fields[0]]; ok {
		return Reversible
	}
	return Irreversible
}
