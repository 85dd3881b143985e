package scheduler

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/colonyforge/hiveforge/pkg/agent"
	"github.com/colonyforge/hiveforge/pkg/llm"
	"github.com/colonyforge/hiveforge/pkg/masking"
	"github.com/colonyforge/hiveforge/pkg/policy"
	"github.com/colonyforge/hiveforge/pkg/ratelimit"
)

// AgentExecutorConfig shapes the runner built for each dispatched task.
type AgentExecutorConfig struct {
	// Role the executing agent plays; default worker.
	Role agent.Role
	// SystemPrompt opens every task conversation. Required.
	SystemPrompt string
	// TrustLevel overrides the role default when non-empty.
	TrustLevel policy.TrustLevel
	// MaxIterations caps LLM round trips per task; zero means the
	// runner default.
	MaxIterations int
	// WorkspaceRoot is where per-run tool workspaces live.
	WorkspaceRoot string
}

// AgentExecutor executes dispatched tasks by driving a fresh agent
// runner per task: a per-run workspace, the built-in tool set, and a
// conversation opened with the rendered task context. Results feed back
// into the scheduler's settle path unchanged.
type AgentExecutor struct {
	sched   *Scheduler
	cfg     AgentExecutorConfig
	client  llm.Client
	limiter *ratelimit.Limiter
	gate    *policy.Gate
	masker  *masking.Service
}

// NewAgentExecutor wires the collaborators shared by every task runner.
func NewAgentExecutor(sched *Scheduler, cfg AgentExecutorConfig, client llm.Client, limiter *ratelimit.Limiter, gate *policy.Gate, masker *masking.Service) (*AgentExecutor, error) {
	if cfg.SystemPrompt == "" {
		return nil, fmt.Errorf("agent executor: system prompt is required")
	}
	if client == nil {
		return nil, fmt.Errorf("agent executor: llm client is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("agent executor: policy gate is required")
	}
	if cfg.Role == "" {
		cfg.Role = agent.RoleWorker
	}
	return &AgentExecutor{
		sched:   sched,
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		gate:    gate,
		masker:  masker,
	}, nil
}

// ExecuteTask implements TaskExecutor.
func (x *AgentExecutor) ExecuteTask(ctx context.Context, tc *agent.TaskContext) (map[string]any, error) {
	ws, err := agent.NewWorkspace(filepath.Join(x.cfg.WorkspaceRoot, tc.RunID))
	if err != nil {
		return nil, fmt.Errorf("task workspace: %w", err)
	}
	tools, err := agent.NewRegistry(agent.BuiltinTools(ws)...)
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	actor := fmt.Sprintf("%s:%s", x.cfg.Role, tc.TaskID)
	runner, err := agent.NewRunner(agent.Config{
		Actor:         actor,
		Role:          x.cfg.Role,
		SystemPrompt:  x.cfg.SystemPrompt,
		TrustLevel:    x.cfg.TrustLevel,
		Scope:         policy.ScopeRun,
		ScopeID:       tc.RunID,
		MaxIterations: x.cfg.MaxIterations,
	}, agent.Deps{
		Client:    x.client,
		Limiter:   x.limiter,
		Gate:      x.gate,
		Tools:     tools,
		Masker:    x.masker,
		Events:    x.sched.RunEmitter(tc.RunID, tc.TaskID, actor),
		Approvals: x.sched.Approvals(),
	})
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	res, err := runner.Run(ctx, tc.Render())
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case agent.StatusCompleted:
		return map[string]any{
			"output":     res.Output,
			"iterations": res.Iterations,
			"tokens":     res.Usage.Total(),
		}, nil
	case agent.StatusCancelled:
		return nil, context.Canceled
	default:
		return nil, fmt.Errorf("agent turn ended with status %s: %s", res.Status, res.Output)
	}
}
